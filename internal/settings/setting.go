package settings

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Setting is a single named, typed value exposed by a solution.
//
// A Setting holds no authoritative state: every read goes through the
// handler of its Group. CurrentValue is only the last value seen or written.
type Setting struct {
	id       string
	name     string
	dataType DataType
	local    bool
	rng      *Range
	changes  *Changes
	group    *Group

	// watchMu orders monitor start and stop with the listener count
	// transitions that trigger them.
	watchMu sync.Mutex

	mu        sync.Mutex
	current   any
	listeners []listenerEntry
	nextID    uint64
}

// Listener receives setting change notifications.
type Listener func(event ChangeEvent)

// ChangeEvent describes a detected change of a setting value.
type ChangeEvent struct {
	// Setting is the setting that changed.
	Setting *Setting
	// OldValue is the previously cached value.
	OldValue any
	// NewValue is the freshly captured value.
	NewValue any
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Changes describes how external changes to a setting are detected.
type Changes struct {
	// MonitorType selects the monitor (e.g. "file", "poll").
	MonitorType string
	// Path is the monitor-specific target (a file path, an interval).
	Path string
}

// String returns the compact "monitorType:path" form.
func (c Changes) String() string {
	return c.MonitorType + ":" + c.Path
}

// ParseChanges parses the compact "monitorType:path" form.
func ParseChanges(s string) (*Changes, error) {
	monitorType, path, ok := strings.Cut(s, ":")
	if !ok || monitorType == "" || path == "" {
		return nil, fmt.Errorf("%w: changes %q is not monitorType:path", ErrInvalidDefinition, s)
	}
	return &Changes{MonitorType: monitorType, Path: path}, nil
}

// SettingOptions configures a new Setting.
type SettingOptions struct {
	// Name is the handler-facing name; it defaults to the setting id.
	Name     string
	DataType DataType
	// Local keeps the setting out of cross-device preference sync.
	Local   bool
	Range   *Range
	Changes *Changes
}

// NewSetting creates an unbound setting. It becomes usable once added to a
// Group with NewGroup.
func NewSetting(opts SettingOptions) *Setting {
	return &Setting{
		name:     opts.Name,
		dataType: opts.DataType,
		local:    opts.Local,
		rng:      opts.Range,
		changes:  opts.Changes,
	}
}

// ParseCompactSetting parses the compact "name[:dataType]" form.
func ParseCompactSetting(compact string) (*Setting, error) {
	name, typeName, _ := strings.Cut(compact, ":")
	dataType, err := ParseDataType(typeName)
	if err != nil {
		return nil, err
	}
	return NewSetting(SettingOptions{Name: name, DataType: dataType}), nil
}

// bind attaches the setting to its group. It may only happen once.
func (s *Setting) bind(group *Group, id string) error {
	if s.group != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, id)
	}
	s.group = group
	s.id = id
	if s.name == "" {
		s.name = id
	}
	if s.rng != nil {
		s.rng.bind(s)
	}
	return nil
}

// ID returns the setting id, unique within its solution.
func (s *Setting) ID() string { return s.id }

// Name returns the name used by the handler (a registry value, an ini key).
func (s *Setting) Name() string { return s.name }

// DataType returns the declared value type.
func (s *Setting) DataType() DataType { return s.dataType }

// Local reports whether the setting is excluded from preference sync.
func (s *Setting) Local() bool { return s.local }

// Range returns the value range, or nil.
func (s *Setting) Range() *Range { return s.rng }

// Changes returns the change monitor descriptor, or nil.
func (s *Setting) Changes() *Changes { return s.changes }

// Group returns the owning group.
func (s *Setting) Group() *Group { return s.group }

// Solution returns the owning solution.
func (s *Setting) Solution() *Solution {
	if s.group == nil {
		return nil
	}
	return s.group.solution
}

// SettingID returns the compound id of the setting.
func (s *Setting) SettingID() SettingID {
	var solution string
	if sol := s.Solution(); sol != nil {
		solution = sol.id
	}
	return SettingID{Solution: solution, Setting: s.id}
}

// CurrentValue returns the last value captured or written.
func (s *Setting) CurrentValue() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Setting) setCurrent(v any) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}

// Lookup captures the value from the store and converts it to the setting's
// data type. It reports false when the capture failed or the value could not
// be converted.
func (s *Setting) Lookup(ctx context.Context) (any, bool) {
	raw, ok := s.group.capture(ctx, s)
	if !ok {
		return nil, false
	}
	v, ok := s.dataType.Coerce(raw)
	if !ok {
		s.group.log.Debug().
			Str("setting", s.id).
			Str("type", s.dataType.String()).
			Interface("raw", raw).
			Msg("captured value does not match data type")
		return nil, false
	}
	s.setCurrent(v)
	return v, true
}

// GetValue captures the value of the setting. If the capture fails the zero
// value of the data type is returned.
func (s *Setting) GetValue(ctx context.Context) any {
	v, ok := s.Lookup(ctx)
	if !ok {
		v = s.dataType.Zero()
		s.setCurrent(v)
	}
	return v
}

// GetValueAs captures the value of a setting as a T, returning def when the
// capture fails or the value is not a T.
func GetValueAs[T any](ctx context.Context, s *Setting, def T) T {
	v, ok := s.Lookup(ctx)
	if ok {
		if t, ok := v.(T); ok {
			return t
		}
	}
	s.setCurrent(def)
	return def
}

// IntValue captures the value of the setting as an integer.
func (s *Setting) IntValue(ctx context.Context) (int, bool) {
	v, ok := s.Lookup(ctx)
	if !ok {
		return 0, false
	}
	return asInt(v)
}

// SetValue writes a value through the handler. The cached value is updated
// before the write and is not rolled back if the write fails; re-read with
// GetValue when the authoritative state matters.
func (s *Setting) SetValue(ctx context.Context, v any) bool {
	s.setCurrent(v)
	return s.group.apply(ctx, s, v)
}

// Increment moves the value one step of the range increment in the
// direction of the sign of direction. The new value is written only if it
// lies strictly between the range minimum and maximum.
func (s *Setting) Increment(ctx context.Context, direction int) bool {
	if s.rng == nil {
		return false
	}

	var sign int
	switch {
	case direction > 0:
		sign = 1
	case direction < 0:
		sign = -1
	default:
		return false
	}

	current, ok := s.IntValue(ctx)
	if !ok {
		current = 0
	}
	next := current + sign*s.rng.Inc()

	if next > s.rng.Min(ctx, 0) && next < s.rng.Max(ctx, 0) {
		return s.SetValue(ctx, next)
	}
	return false
}

// CheckForChange captures the value and notifies listeners if it differs
// from the cached value.
func (s *Setting) CheckForChange(ctx context.Context) bool {
	old := s.CurrentValue()
	v := s.GetValue(ctx)
	if reflect.DeepEqual(old, v) {
		return false
	}
	s.notify(ChangeEvent{Setting: s, OldValue: old, NewValue: v})
	return true
}

func (s *Setting) notify(event ChangeEvent) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	for i, l := range s.listeners {
		listeners[i] = l.fn
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// OnChanged subscribes a listener to value changes. The first subscription
// starts monitoring the setting through its group; if that fails the
// listener is not registered.
func (s *Setting) OnChanged(fn Listener) (*Subscription, error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.ListenerCount() == 0 {
		if err := s.group.StartWatching(s); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return &Subscription{setting: s, id: id}, nil
}

// ListenerCount returns the number of active subscriptions.
func (s *Setting) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// removeListener removes a listener and reports whether it was the last.
func (s *Setting) removeListener(id uint64) (removed, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return true, len(s.listeners) == 0
		}
	}
	return false, false
}

// Subscription is an active change listener.
type Subscription struct {
	setting *Setting
	id      uint64
	once    sync.Once
}

// Stop removes the listener. Stopping the last subscription of a setting
// stops its monitor. Stop is idempotent.
func (sub *Subscription) Stop() error {
	var err error
	sub.once.Do(func() {
		sub.setting.watchMu.Lock()
		defer sub.setting.watchMu.Unlock()

		removed, last := sub.setting.removeListener(sub.id)
		if removed && last {
			err = sub.setting.group.StopWatching(sub.setting)
		}
	})
	return err
}
