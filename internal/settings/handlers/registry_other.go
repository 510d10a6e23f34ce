//go:build !windows

package handlers

// NewSystemRegistry returns the registry store of this platform. There is no
// registry outside Windows, so every key fails to open.
func NewSystemRegistry() RegistryStore { return unsupported{} }
