package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Group is a set of settings sharing one handler.
type Group struct {
	solution  *Solution
	kind      string
	handler   Handler
	finalizer Finalizer
	monitor   Monitor
	settings  []*Setting
	byID      map[string]*Setting
	log       zerolog.Logger

	mu       sync.Mutex
	watching map[string]int
}

// GroupOptions configures a new Group.
type GroupOptions struct {
	// Kind is the handler discriminator, used for logging.
	Kind      string
	Handler   Handler
	Finalizer Finalizer
	Monitor   Monitor
	Logger    zerolog.Logger
}

// SettingEntry names a setting within a group definition.
type SettingEntry struct {
	ID      string
	Setting *Setting
}

// NewGroup creates a group and binds its settings. Setting ids must be
// unique within the group.
func NewGroup(opts GroupOptions, entries []SettingEntry) (*Group, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("%w: group has no handler", ErrInvalidDefinition)
	}

	g := &Group{
		kind:      opts.Kind,
		handler:   opts.Handler,
		finalizer: opts.Finalizer,
		monitor:   opts.Monitor,
		settings:  make([]*Setting, 0, len(entries)),
		byID:      make(map[string]*Setting, len(entries)),
		log:       opts.Logger,
		watching:  make(map[string]int),
	}

	for _, e := range entries {
		if _, exists := g.byID[e.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSetting, e.ID)
		}
		if err := e.Setting.bind(g, e.ID); err != nil {
			return nil, err
		}
		g.settings = append(g.settings, e.Setting)
		g.byID[e.ID] = e.Setting
	}

	return g, nil
}

// Solution returns the owning solution.
func (g *Group) Solution() *Solution { return g.solution }

// Kind returns the handler discriminator.
func (g *Group) Kind() string { return g.kind }

// Handler returns the group's handler.
func (g *Group) Handler() Handler { return g.handler }

// Settings returns the settings of the group in declaration order.
func (g *Group) Settings() []*Setting {
	out := make([]*Setting, len(g.settings))
	copy(out, g.settings)
	return out
}

// TryGetSetting looks up a setting of this group by id.
func (g *Group) TryGetSetting(id string) (*Setting, bool) {
	s, ok := g.byID[id]
	return s, ok
}

func (g *Group) capture(ctx context.Context, s *Setting) (any, bool) {
	return g.handler.Capture(ctx, s)
}

func (g *Group) apply(ctx context.Context, s *Setting, v any) bool {
	if !g.handler.Apply(ctx, s, v) {
		return false
	}
	return g.finalize(ctx)
}

func (g *Group) finalize(ctx context.Context) bool {
	if g.finalizer == nil {
		return true
	}
	if !g.finalizer.Finalize(ctx) {
		g.log.Error().Str("kind", g.kind).Msg("finalizer failed")
		return false
	}
	return true
}

// GetAll captures every setting of the group.
func (g *Group) GetAll(ctx context.Context) Values {
	return g.Get(ctx, g.settings)
}

// Get captures the given settings in one batch where the handler supports
// it. Values are converted to each setting's data type and cached; settings
// that failed to capture are omitted.
func (g *Group) Get(ctx context.Context, settings []*Setting) Values {
	if len(settings) == 0 {
		return nil
	}

	var raw Values
	if bh, ok := g.handler.(BatchHandler); ok {
		raw = bh.CaptureAll(ctx, settings)
	} else {
		raw = make(Values, 0, len(settings))
		for _, s := range settings {
			if v, ok := g.handler.Capture(ctx, s); ok {
				raw = append(raw, Value{Setting: s, Value: v})
			}
		}
	}

	out := make(Values, 0, len(raw))
	for _, v := range raw {
		typed, ok := v.Setting.dataType.Coerce(v.Value)
		if !ok {
			g.log.Debug().Str("setting", v.Setting.id).Interface("raw", v.Value).
				Msg("captured value does not match data type")
			continue
		}
		v.Setting.setCurrent(typed)
		out = append(out, Value{Setting: v.Setting, Value: typed})
	}
	return out
}

// SetAll writes the values in one batch where the handler supports it. The
// finalizer runs once if anything was written. A failed write does not stop
// the remaining writes; the result is false if any write failed.
func (g *Group) SetAll(ctx context.Context, values Values) bool {
	if len(values) == 0 {
		return true
	}

	for _, v := range values {
		v.Setting.setCurrent(v.Value)
	}

	ok := true
	wrote := false
	if bh, isBatch := g.handler.(BatchHandler); isBatch {
		ok = bh.ApplyAll(ctx, values)
		wrote = ok
	} else {
		for _, v := range values {
			if g.handler.Apply(ctx, v.Setting, v.Value) {
				wrote = true
			} else {
				ok = false
			}
		}
	}

	if wrote && !g.finalize(ctx) {
		ok = false
	}
	return ok
}

// StartWatching counts a watcher of the setting. The first watcher starts
// the group's monitor for settings with a Changes descriptor.
func (g *Group) StartWatching(s *Setting) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.watching[s.id] == 0 && g.monitor != nil && s.changes != nil {
		if err := g.monitor.StartMonitoring(s); err != nil {
			return fmt.Errorf("start monitoring %s: %w", s.id, err)
		}
	}
	g.watching[s.id]++
	return nil
}

// StopWatching releases a watcher of the setting. Releasing the last
// watcher stops the monitor.
func (g *Group) StopWatching(s *Setting) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := g.watching[s.id]
	if count == 0 {
		return nil
	}
	if count > 1 {
		g.watching[s.id] = count - 1
		return nil
	}

	delete(g.watching, s.id)
	if g.monitor != nil && s.changes != nil {
		if err := g.monitor.StopMonitoring(s); err != nil {
			return fmt.Errorf("stop monitoring %s: %w", s.id, err)
		}
	}
	return nil
}

// WatchCount returns the number of watchers of a setting.
func (g *Group) WatchCount(s *Setting) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.watching[s.id]
}
