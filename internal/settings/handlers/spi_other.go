//go:build !windows

package handlers

// NewSystemParameters returns the system parameters broadcaster of this
// platform. Outside Windows every broadcast fails.
func NewSystemParameters() SystemParameters { return unsupported{} }
