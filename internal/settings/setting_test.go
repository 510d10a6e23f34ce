package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSetting_Bind(t *testing.T) {
	s := NewSetting(SettingOptions{DataType: TypeInt})
	g := newTestGroup(t, &memHandler{store: newMemStore(nil)}, SettingEntry{ID: "volume", Setting: s})

	assert.Equal(t, "volume", s.ID())
	assert.Equal(t, "volume", s.Name(), "name defaults to id")
	assert.Same(t, g, s.Group())

	_, err := NewGroup(GroupOptions{Handler: &memHandler{}}, []SettingEntry{{ID: "again", Setting: s}})
	assert.ErrorIs(t, err, ErrAlreadyBound)
}

func TestParseCompactSetting(t *testing.T) {
	tests := []struct {
		in       string
		name     string
		dataType DataType
		wantErr  bool
	}{
		{"Level", "Level", TypeUnknown, false},
		{"Level:int", "Level", TypeInt, false},
		{"Theme:String", "Theme", TypeString, false},
		{"Level:wide", "", TypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseCompactSetting(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDataType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, s.Name())
			assert.Equal(t, tt.dataType, s.DataType())
		})
	}
}

func TestParseChanges(t *testing.T) {
	c, err := ParseChanges(`file:C:\Users\me\a.ini`)
	require.NoError(t, err)
	assert.Equal(t, "file", c.MonitorType)
	assert.Equal(t, `C:\Users\me\a.ini`, c.Path)
	assert.Equal(t, `file:C:\Users\me\a.ini`, c.String())

	for _, bad := range []string{"file", ":x", "file:"} {
		_, err := ParseChanges(bad)
		assert.ErrorIs(t, err, ErrInvalidDefinition, bad)
	}
}

func TestSetting_GetValue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[string]any{"Level": "50"})
	s := NewSetting(SettingOptions{Name: "Level", DataType: TypeInt})
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

	assert.Equal(t, 50, s.GetValue(ctx), "ini strings are coerced to the data type")
	assert.Equal(t, 50, s.CurrentValue())

	store.failCapture = true
	assert.Equal(t, 0, s.GetValue(ctx), "failed capture yields the zero value")
	assert.Equal(t, 7, GetValueAs(ctx, s, 7))

	store.failCapture = false
	assert.Equal(t, 50, GetValueAs(ctx, s, 7))
	assert.Equal(t, "x", GetValueAs(ctx, s, "x"), "wrong type yields the default")
}

func TestSetting_SetValueIsOptimistic(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[string]any{"Level": 10})
	s := NewSetting(SettingOptions{Name: "Level", DataType: TypeInt})
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

	require.True(t, s.SetValue(ctx, 20))
	assert.Equal(t, 20, store.value("Level"))

	store.failApply = true
	assert.False(t, s.SetValue(ctx, 30))
	assert.Equal(t, 30, s.CurrentValue(), "cache is not rolled back")
	assert.Equal(t, 20, s.GetValue(ctx), "re-capture returns the authoritative value")
}

func TestSetting_RoundTripAndIdempotentCapture(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		dataType DataType
		value    any
	}{
		{"int", TypeInt, 42},
		{"real", TypeReal, 1.25},
		{"bool", TypeBool, true},
		{"string", TypeString, "dark"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(nil)
			s := NewSetting(SettingOptions{Name: "v", DataType: tt.dataType})
			newTestSolution(t, "sol", store, SettingEntry{ID: "v", Setting: s})

			require.True(t, s.SetValue(ctx, tt.value))
			assert.Equal(t, tt.value, s.GetValue(ctx))
			assert.Equal(t, s.GetValue(ctx), s.GetValue(ctx))
		})
	}
}

func TestSetting_Increment(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		start     any
		direction int
		want      any
		wantOK    bool
	}{
		{"up", 50, 1, 55, true},
		{"down", 50, -3, 45, true},
		{"zero direction", 50, 0, 50, false},
		{"would reach max", 95, 1, 95, false},
		{"would reach min", 5, -1, 5, false},
		{"unset starts at zero", nil, 1, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]any{}
			if tt.start != nil {
				values["Level"] = tt.start
			}
			store := newMemStore(values)
			s := rangedSetting("Level", LiteralLimit(0), LiteralLimit(100), 5)
			newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

			applies := store.applies
			assert.Equal(t, tt.wantOK, s.Increment(ctx, tt.direction))
			assert.Equal(t, tt.want, store.value("Level"))
			if !tt.wantOK {
				assert.Equal(t, applies, store.applies, "rejected increments do not write")
			}
		})
	}
}

func TestSetting_IncrementNeverLeavesOpenInterval(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[string]any{"Level": 50})
	s := rangedSetting("Level", LiteralLimit(0), LiteralLimit(100), 7)
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

	for i := 0; i < 30; i++ {
		s.Increment(ctx, 1)
		v := store.value("Level").(int)
		assert.Greater(t, v, 0)
		assert.Less(t, v, 100)
	}
	assert.Equal(t, 99, store.value("Level"))

	for i := 0; i < 30; i++ {
		s.Increment(ctx, -1)
	}
	assert.Equal(t, 1, store.value("Level"))
}

func TestSetting_IncrementWithoutRange(t *testing.T) {
	store := newMemStore(map[string]any{"Level": 1})
	s := intSetting("Level")
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

	assert.False(t, s.Increment(context.Background(), 1))
}

func TestSetting_CheckForChange(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[string]any{"Level": 1})
	s := intSetting("Level")
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})
	s.GetValue(ctx)

	var events []ChangeEvent
	sub, err := s.OnChanged(func(ev ChangeEvent) { events = append(events, ev) })
	require.NoError(t, err)
	defer sub.Stop()

	assert.False(t, s.CheckForChange(ctx))
	store.set("Level", 2)
	assert.True(t, s.CheckForChange(ctx))
	assert.False(t, s.CheckForChange(ctx))

	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].OldValue)
	assert.Equal(t, 2, events[0].NewValue)
	assert.Same(t, s, events[0].Setting)
}

func TestSetting_ListenersDriveMonitor(t *testing.T) {
	mon := &mockMonitor{}
	s := NewSetting(SettingOptions{
		Name:     "Level",
		DataType: TypeInt,
		Changes:  &Changes{MonitorType: "file", Path: "/tmp/x.ini"},
	})
	g, err := NewGroup(GroupOptions{
		Handler: &memHandler{store: newMemStore(nil)},
		Monitor: mon,
		Logger:  zerolog.Nop(),
	}, []SettingEntry{{ID: "volume", Setting: s}})
	require.NoError(t, err)

	mon.On("StartMonitoring", s).Return(nil).Once()
	mon.On("StopMonitoring", s).Return(nil).Once()

	first, err := s.OnChanged(func(ChangeEvent) {})
	require.NoError(t, err)
	second, err := s.OnChanged(func(ChangeEvent) {})
	require.NoError(t, err)

	assert.Equal(t, 2, s.ListenerCount())
	assert.Equal(t, 1, g.WatchCount(s))
	mon.AssertNumberOfCalls(t, "StartMonitoring", 1)

	require.NoError(t, first.Stop())
	require.NoError(t, first.Stop(), "stop is idempotent")
	mon.AssertNotCalled(t, "StopMonitoring", mock.Anything)

	require.NoError(t, second.Stop())
	assert.Zero(t, s.ListenerCount())
	assert.Zero(t, g.WatchCount(s))
	mon.AssertExpectations(t)
}

func TestSetting_OnChangedMonitorFailure(t *testing.T) {
	mon := &mockMonitor{}
	s := NewSetting(SettingOptions{Name: "x", Changes: &Changes{MonitorType: "file", Path: "/nope"}})
	_, err := NewGroup(GroupOptions{
		Handler: &memHandler{store: newMemStore(nil)},
		Monitor: mon,
		Logger:  zerolog.Nop(),
	}, []SettingEntry{{ID: "x", Setting: s}})
	require.NoError(t, err)

	boom := errors.New("boom")
	mon.On("StartMonitoring", s).Return(boom)

	sub, err := s.OnChanged(func(ChangeEvent) {})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, sub)
	assert.Zero(t, s.ListenerCount())
}

func TestSetting_SubscribeWhileMonitorStarting(t *testing.T) {
	mon := &mockMonitor{}
	s := NewSetting(SettingOptions{Name: "x", Changes: &Changes{MonitorType: "file", Path: "/tmp/x.ini"}})
	g, err := NewGroup(GroupOptions{
		Handler: &memHandler{store: newMemStore(nil)},
		Monitor: mon,
		Logger:  zerolog.Nop(),
	}, []SettingEntry{{ID: "x", Setting: s}})
	require.NoError(t, err)

	starting := make(chan struct{})
	release := make(chan struct{})
	boom := errors.New("boom")
	mon.On("StartMonitoring", s).Run(func(mock.Arguments) {
		close(starting)
		<-release
	}).Return(boom).Once()
	mon.On("StartMonitoring", s).Return(nil).Once()

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.OnChanged(func(ChangeEvent) {})
		firstErr <- err
	}()
	<-starting

	type result struct {
		sub *Subscription
		err error
	}
	second := make(chan result, 1)
	go func() {
		sub, err := s.OnChanged(func(ChangeEvent) {})
		second <- result{sub, err}
	}()

	select {
	case <-second:
		t.Fatal("second subscriber returned before the monitor started")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.ErrorIs(t, <-firstErr, boom)
	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.sub)

	mon.AssertNumberOfCalls(t, "StartMonitoring", 2)
	assert.Equal(t, 1, s.ListenerCount())
	assert.Equal(t, 1, g.WatchCount(s))
}

func TestSetting_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[string]any{"Level": 50})
	s := rangedSetting("Level", LiteralLimit(0), LiteralLimit(100), 1)
	newTestSolution(t, "sol", store, SettingEntry{ID: "volume", Setting: s})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch j % 3 {
				case 0:
					s.GetValue(ctx)
				case 1:
					s.Increment(ctx, i%2*2-1)
				default:
					s.CurrentValue()
				}
			}
		}(i)
	}
	wg.Wait()

	v := store.value("Level").(int)
	assert.Greater(t, v, 0)
	assert.Less(t, v, 100)
}
