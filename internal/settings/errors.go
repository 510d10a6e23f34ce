package settings

import (
	"errors"
	"fmt"
)

// Errors returned by settings operations.
var (
	// ErrSolutionNotFound indicates the solution id is not in the registry.
	ErrSolutionNotFound = errors.New("solution not found")

	// ErrSettingNotFound indicates the setting id is not in the solution.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrDuplicateSetting indicates two settings of one solution share an id.
	ErrDuplicateSetting = errors.New("duplicate setting id")

	// ErrMalformedLimit indicates a range limit expression could not be parsed.
	ErrMalformedLimit = errors.New("malformed limit expression")

	// ErrInvalidSettingID indicates a compound setting id is not "solution/setting".
	ErrInvalidSettingID = errors.New("invalid setting id")

	// ErrInvalidDataType indicates an unrecognised data type name.
	ErrInvalidDataType = errors.New("invalid data type")

	// ErrInvalidDefinition indicates a structurally invalid solution definition.
	ErrInvalidDefinition = errors.New("invalid solution definition")

	// ErrUnsupportedMonitor indicates a changes descriptor names a monitor type
	// the configured Monitor cannot watch.
	ErrUnsupportedMonitor = errors.New("unsupported monitor type")

	// ErrAlreadyBound indicates a setting was bound to a group twice.
	ErrAlreadyBound = errors.New("setting already bound")
)

// LoadError describes a failure while loading solution definitions.
type LoadError struct {
	// Solution is the solution id being loaded (may be empty).
	Solution string
	// Setting is the setting id being loaded (may be empty).
	Setting string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	switch {
	case e.Solution != "" && e.Setting != "":
		return fmt.Sprintf("load solution %q setting %q: %v", e.Solution, e.Setting, e.Err)
	case e.Solution != "":
		return fmt.Sprintf("load solution %q: %v", e.Solution, e.Err)
	default:
		return fmt.Sprintf("load solutions: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
