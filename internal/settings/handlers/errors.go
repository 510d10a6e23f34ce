package handlers

import "github.com/pkg/errors"

// Errors returned when building handlers.
var (
	// ErrUnknownKind indicates an unrecognised "type" discriminator.
	ErrUnknownKind = errors.New("unknown handler type")

	// ErrInvalidDescription indicates missing or unexpected description fields.
	ErrInvalidDescription = errors.New("invalid handler description")

	// ErrFinalizerOnly indicates a finalizer kind was used as a group handler.
	ErrFinalizerOnly = errors.New("handler type can only be used as a finalizer")

	// ErrNotFinalizer indicates a handler kind was used as a finalizer.
	ErrNotFinalizer = errors.New("handler type cannot be used as a finalizer")

	// ErrUnknownAction indicates an unrecognised system parameters action.
	ErrUnknownAction = errors.New("unknown system parameters action")

	// ErrUnsupported indicates the capability is not available on this
	// platform or was not configured.
	ErrUnsupported = errors.New("not supported")

	// ErrValueNotFound indicates the store has no value for the setting.
	ErrValueNotFound = errors.New("value not found")
)
