package settings

import "context"

// Handler reads and writes settings in one backing store.
//
// Handlers report I/O failures as false rather than as errors; they are
// expected to log the cause themselves.
type Handler interface {
	// Capture reads the raw value of a setting.
	Capture(ctx context.Context, s *Setting) (any, bool)

	// Apply writes the value of a setting.
	Apply(ctx context.Context, s *Setting, value any) bool
}

// BatchHandler is a Handler that can read or write several settings of a
// group in one store session (one opened key, one parsed file).
type BatchHandler interface {
	Handler

	// CaptureAll reads the given settings. Settings whose capture failed
	// are omitted from the result.
	CaptureAll(ctx context.Context, settings []*Setting) Values

	// ApplyAll writes all values, reporting false if any write failed.
	ApplyAll(ctx context.Context, values Values) bool
}

// Finalizer runs after a group has been written, for example to broadcast
// a settings-changed notification to the system.
type Finalizer interface {
	Finalize(ctx context.Context) bool
}

// Monitor detects external changes to settings. Monitors call
// Setting.CheckForChange when their source changes.
type Monitor interface {
	// Supports reports whether the monitor can watch the given monitor type.
	Supports(monitorType string) bool

	// StartMonitoring begins watching the setting's Changes descriptor.
	StartMonitoring(s *Setting) error

	// StopMonitoring stops watching the setting.
	StopMonitoring(s *Setting) error
}

// ChangesChecker is implemented by monitors that validate the target of a
// Changes descriptor. Load rejects settings the checker refuses.
type ChangesChecker interface {
	CheckChanges(c Changes) error
}

// HandlerFactory builds handlers and finalizers from declarative
// descriptions. Each description carries a "type" discriminator and
// adapter-specific fields.
type HandlerFactory interface {
	NewHandler(desc map[string]any) (Handler, error)
	NewFinalizer(desc map[string]any) (Finalizer, error)
}

// Value pairs a setting with a value.
type Value struct {
	Setting *Setting
	Value   any
}

// Values is an ordered list of setting values.
type Values []Value

// Get returns the value for a setting id.
func (vs Values) Get(id string) (any, bool) {
	for _, v := range vs {
		if v.Setting.id == id {
			return v.Value, true
		}
	}
	return nil, false
}

// Settings returns the settings in order.
func (vs Values) Settings() []*Setting {
	out := make([]*Setting, len(vs))
	for i, v := range vs {
		out[i] = v.Setting
	}
	return out
}
