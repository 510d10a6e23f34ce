package bar

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager holds the current bar, replaces it on load, and reloads it when
// its source changes.
type Manager struct {
	opts LoadOptions
	log  zerolog.Logger

	// loadMu serializes loads so only one bar is ever watching.
	loadMu sync.Mutex

	mu         sync.Mutex
	current    *Data
	onLoaded   []func(*Data)
	onUnloaded []func(*Data)
	wg         sync.WaitGroup
}

// NewManager creates a manager loading bars with opts.
func NewManager(opts LoadOptions) *Manager {
	return &Manager{
		opts: opts,
		log:  opts.Logger.With().Str("component", "bar-manager").Logger(),
	}
}

// OnLoaded registers fn to run after a bar is loaded.
func (m *Manager) OnLoaded(fn func(*Data)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLoaded = append(m.onLoaded, fn)
}

// OnUnloaded registers fn to run after a bar is closed.
func (m *Manager) OnUnloaded(fn func(*Data)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnloaded = append(m.onUnloaded, fn)
}

// Current returns the loaded bar, or nil.
func (m *Manager) Current() *Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Load loads the bar at path in place of the current one. If the new bar
// cannot be loaded the error is logged, the current bar is still closed,
// and no bar is shown.
func (m *Manager) Load(path string) (*Data, error) {
	return m.replace(LoadFile(path, m.opts))
}

// LoadContent loads a bar from content, such as a community bar fetched
// from the server, in place of the current one.
func (m *Manager) LoadContent(source, communityID string, content []byte) (*Data, error) {
	d, err := LoadContent(source, content, m.opts)
	if d != nil {
		d.CommunityID = communityID
	}
	return m.replace(d, err)
}

func (m *Manager) replace(d *Data, err error) (*Data, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if err != nil {
		m.log.Error().Err(err).Msg("failed to load bar")
	}
	m.Close()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = d
	loaded := append([]func(*Data){}, m.onLoaded...)
	m.mu.Unlock()

	if d.Watching() {
		m.wg.Add(1)
		go m.follow(d)
	}

	m.log.Info().Stringer("bar", d).Str("source", d.Source).Msg("bar loaded")
	for _, fn := range loaded {
		fn(d)
	}
	return d, nil
}

// follow reloads d each time its source changes, until d is closed.
func (m *Manager) follow(d *Data) {
	defer m.wg.Done()
	for {
		select {
		case <-d.Done():
			return
		case <-d.ReloadRequired():
			if m.Current() != d {
				return
			}
			// Load closes d, which ends this loop.
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				if _, err := m.Load(d.Source); err != nil {
					m.log.Warn().Err(err).Str("source", d.Source).Msg("bar reload failed")
				}
			}()
			<-d.Done()
			return
		}
	}
}

// Close closes the current bar, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	d := m.current
	m.current = nil
	unloaded := append([]func(*Data){}, m.onUnloaded...)
	m.mu.Unlock()

	if d == nil {
		return
	}
	if err := d.Close(); err != nil {
		m.log.Warn().Err(err).Msg("closing bar watcher")
	}
	m.log.Info().Str("source", d.Source).Msg("bar closed")
	for _, fn := range unloaded {
		fn(d)
	}
}

// Shutdown closes the current bar and waits for reload goroutines.
func (m *Manager) Shutdown() {
	m.Close()
	m.wg.Wait()
}
