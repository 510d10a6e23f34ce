// Package monitor detects external changes to settings.
//
// Two monitor types are supported. "file:<path>" re-checks a setting when
// the file changes on disk; events are debounced per file. "poll:<interval>"
// re-checks a setting on a fixed interval (for example "poll:5s"); an empty
// interval uses the monitor's default.
package monitor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
	"github.com/stegru/morphic-windows/internal/watcher"
)

// Monitor types.
const (
	TypeFile = "file"
	TypePoll = "poll"
)

// DefaultPollInterval is the poll interval used when none is given.
const DefaultPollInterval = 5 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("monitor is closed")

// Options configures a Monitor.
type Options struct {
	Logger zerolog.Logger

	// DebounceDelay is the window for coalescing file events.
	DebounceDelay time.Duration

	// PollInterval is the default poll interval.
	PollInterval time.Duration

	// NewWatcher creates the file watcher. Nil uses fsnotify.
	NewWatcher func() (watcher.Watcher, error)
}

// Monitor implements settings.Monitor.
type Monitor struct {
	log          zerolog.Logger
	delay        time.Duration
	pollInterval time.Duration
	newWatcher   func() (watcher.Watcher, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	fw     watcher.Watcher
	dirs   map[string]int
	files  map[string][]*settings.Setting
	polls  map[*settings.Setting]context.CancelFunc
}

var (
	_ settings.Monitor        = (*Monitor)(nil)
	_ settings.ChangesChecker = (*Monitor)(nil)
)

// New creates a monitor. Close releases its watchers and pollers.
func New(opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.NewWatcher == nil {
		opts.NewWatcher = func() (watcher.Watcher, error) {
			return watcher.NewFSNotifyWatcher()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		log:          opts.Logger.With().Str("component", "monitor").Logger(),
		delay:        opts.DebounceDelay,
		pollInterval: opts.PollInterval,
		newWatcher:   opts.NewWatcher,
		ctx:          ctx,
		cancel:       cancel,
		dirs:         make(map[string]int),
		files:        make(map[string][]*settings.Setting),
		polls:        make(map[*settings.Setting]context.CancelFunc),
	}
}

// Supports implements settings.Monitor.
func (m *Monitor) Supports(monitorType string) bool {
	switch strings.ToLower(monitorType) {
	case TypeFile, TypePoll:
		return true
	default:
		return false
	}
}

// CheckChanges implements settings.ChangesChecker. Poll intervals must
// parse as positive durations.
func (m *Monitor) CheckChanges(c settings.Changes) error {
	if strings.ToLower(c.MonitorType) != TypePoll {
		return nil
	}
	_, err := m.interval(c.Path)
	return err
}

// StartMonitoring implements settings.Monitor.
func (m *Monitor) StartMonitoring(s *settings.Setting) error {
	changes := s.Changes()
	if changes == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var err error
	switch strings.ToLower(changes.MonitorType) {
	case TypeFile:
		err = m.startFile(s, changes.Path)
	case TypePoll:
		err = m.startPoll(s, changes.Path)
	default:
		err = errors.Wrapf(settings.ErrUnsupportedMonitor, "%q", changes.MonitorType)
	}
	if err != nil {
		return err
	}

	// Prime the cache so the first check compares against a real value.
	if s.CurrentValue() == nil {
		s.Lookup(m.ctx)
	}
	m.log.Debug().Str("setting", s.ID()).Stringer("changes", changes).Msg("monitoring")
	return nil
}

// StopMonitoring implements settings.Monitor.
func (m *Monitor) StopMonitoring(s *settings.Setting) error {
	changes := s.Changes()
	if changes == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	switch strings.ToLower(changes.MonitorType) {
	case TypeFile:
		return m.stopFile(s, changes.Path)
	case TypePoll:
		if stop, ok := m.polls[s]; ok {
			stop()
			delete(m.polls, s)
		}
	}
	return nil
}

// Close stops all monitoring.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	fw := m.fw
	m.fw = nil
	m.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Close()
	}
	m.wg.Wait()
	return err
}

// Watching returns the number of settings being monitored.
func (m *Monitor) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.polls)
	for _, list := range m.files {
		n += len(list)
	}
	return n
}

func (m *Monitor) startFile(s *settings.Setting, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "monitor %s", path)
	}

	if m.fw == nil {
		inner, err := m.newWatcher()
		if err != nil {
			return errors.Wrap(err, "create file watcher")
		}
		m.fw = watcher.NewDebouncedWatcher(inner, m.delay)
		m.wg.Add(1)
		go func(fw watcher.Watcher) {
			defer m.wg.Done()
			watcher.Run(m.ctx, fw, m.fileChanged, func(err error) {
				m.log.Warn().Err(err).Msg("file watcher error")
			})
		}(m.fw)
	}

	// The directory is watched so that files replaced by rename are seen.
	dir := filepath.Dir(abs)
	if m.dirs[dir] == 0 {
		if err := m.fw.Watch(dir); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
			return errors.Wrapf(err, "watch %s", dir)
		}
	}
	m.dirs[dir]++
	m.files[abs] = append(m.files[abs], s)
	return nil
}

func (m *Monitor) stopFile(s *settings.Setting, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "monitor %s", path)
	}

	list := m.files[abs]
	found := false
	for i, other := range list {
		if other == s {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	if len(list) == 0 {
		delete(m.files, abs)
	} else {
		m.files[abs] = list
	}

	dir := filepath.Dir(abs)
	m.dirs[dir]--
	if m.dirs[dir] > 0 {
		return nil
	}
	delete(m.dirs, dir)
	if m.fw != nil {
		if err := m.fw.Unwatch(dir); err != nil && !errors.Is(err, watcher.ErrNotWatching) {
			return errors.Wrapf(err, "unwatch %s", dir)
		}
	}
	return nil
}

func (m *Monitor) fileChanged(ev watcher.Event) {
	m.mu.Lock()
	list := append([]*settings.Setting(nil), m.files[filepath.Clean(ev.Path)]...)
	m.mu.Unlock()

	for _, s := range list {
		if s.CheckForChange(m.ctx) {
			m.log.Debug().Str("setting", s.ID()).Str("file", ev.Path).Msg("setting changed")
		}
	}
}

// interval parses a poll target; an empty one means the default interval.
func (m *Monitor) interval(spec string) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return m.pollInterval, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil || d <= 0 {
		return 0, errors.Errorf("invalid poll interval %q", spec)
	}
	return d, nil
}

func (m *Monitor) startPoll(s *settings.Setting, spec string) error {
	if _, ok := m.polls[s]; ok {
		return nil
	}

	interval, err := m.interval(spec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.polls[s] = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.CheckForChange(ctx) {
					m.log.Debug().Str("setting", s.ID()).Msg("setting changed")
				}
			}
		}
	}()
	return nil
}
