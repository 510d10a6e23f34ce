package settings

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory backing store keyed by setting name.
type memStore struct {
	mu          sync.Mutex
	values      map[string]any
	failCapture bool
	failApply   bool
	captures    int
	applies     int
}

func newMemStore(values map[string]any) *memStore {
	if values == nil {
		values = make(map[string]any)
	}
	return &memStore{values: values}
}

func (m *memStore) get(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures++
	if m.failCapture {
		return nil, false
	}
	v, ok := m.values[name]
	return v, ok
}

func (m *memStore) set(name string, v any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	if m.failApply {
		return false
	}
	m.values[name] = v
	return true
}

func (m *memStore) value(name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}

// memHandler is a Handler over a memStore.
type memHandler struct {
	store *memStore
}

func (h *memHandler) Capture(_ context.Context, s *Setting) (any, bool) {
	return h.store.get(s.Name())
}

func (h *memHandler) Apply(_ context.Context, s *Setting, v any) bool {
	return h.store.set(s.Name(), v)
}

// batchHandler is a BatchHandler over a memStore that records each batch.
type batchHandler struct {
	memHandler
	mu         sync.Mutex
	captureSet [][]string
	applySet   [][]string
}

func (h *batchHandler) CaptureAll(ctx context.Context, list []*Setting) Values {
	names := make([]string, 0, len(list))
	var out Values
	for _, s := range list {
		names = append(names, s.ID())
		if v, ok := h.Capture(ctx, s); ok {
			out = append(out, Value{Setting: s, Value: v})
		}
	}
	h.mu.Lock()
	h.captureSet = append(h.captureSet, names)
	h.mu.Unlock()
	return out
}

func (h *batchHandler) ApplyAll(ctx context.Context, values Values) bool {
	names := make([]string, 0, len(values))
	ok := true
	for _, v := range values {
		names = append(names, v.Setting.ID())
		if !h.Apply(ctx, v.Setting, v.Value) {
			ok = false
		}
	}
	h.mu.Lock()
	h.applySet = append(h.applySet, names)
	h.mu.Unlock()
	return ok
}

// mockFinalizer records Finalize calls.
type mockFinalizer struct {
	mock.Mock
}

func (m *mockFinalizer) Finalize(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

// mockMonitor records monitor lifecycle calls.
type mockMonitor struct {
	mock.Mock
}

func (m *mockMonitor) Supports(monitorType string) bool {
	return m.Called(monitorType).Bool(0)
}

func (m *mockMonitor) StartMonitoring(s *Setting) error {
	return m.Called(s).Error(0)
}

func (m *mockMonitor) StopMonitoring(s *Setting) error {
	return m.Called(s).Error(0)
}

// newTestGroup builds a group over handler with the given settings.
func newTestGroup(t *testing.T, handler Handler, entries ...SettingEntry) *Group {
	t.Helper()
	g, err := NewGroup(GroupOptions{Kind: "test", Handler: handler, Logger: zerolog.Nop()}, entries)
	require.NoError(t, err)
	return g
}

// newTestSolution builds a solution with one group over store and
// registers it in a registry.
func newTestSolution(t *testing.T, id string, store *memStore, entries ...SettingEntry) *Solution {
	t.Helper()
	g := newTestGroup(t, &memHandler{store: store}, entries...)
	sol, err := NewSolution(id, []*Group{g})
	require.NoError(t, err)
	_, err = NewSolutions(zerolog.Nop(), sol)
	require.NoError(t, err)
	return sol
}

func intSetting(name string) *Setting {
	return NewSetting(SettingOptions{Name: name, DataType: TypeInt})
}

func rangedSetting(name string, lower, upper *Limit, inc int) *Setting {
	return NewSetting(SettingOptions{
		Name:     name,
		DataType: TypeInt,
		Range:    NewRange(lower, upper, inc, false),
	})
}

func mustLimit(t *testing.T, expr string) *Limit {
	t.Helper()
	l, err := ParseLimit(expr)
	require.NoError(t, err)
	return l
}
