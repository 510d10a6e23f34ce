package config

import (
	"errors"
	"fmt"
)

var (
	// ErrFileNotFound is returned when a file named explicitly does not exist.
	ErrFileNotFound = errors.New("config file not found")

	ErrValidationFailed = errors.New("invalid configuration")
)

// ParseError locates a decoding failure in a configuration file.
type ParseError struct {
	File string
	// Line and Column are 1-based, or zero when the decoder did not
	// report a position.
	Line, Column int
	Err          error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.File, e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError names the setting that failed Validate. It matches
// ErrValidationFailed with errors.Is.
type ValidationError struct {
	// Key is the dotted TOML key, e.g. "logging.level".
	Key    string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Key, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
