package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period used when none is configured.
const DefaultDebounceDelay = time.Second

// Debouncer runs a function once after a burst of triggers has gone quiet.
//
// Each Trigger restarts the quiet period, so the function runs one delay
// after the last trigger. Stop cancels a scheduled run and disables the
// debouncer for good.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer; delay <= 0 means DefaultDebounceDelay.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Trigger schedules a run, replacing any run already scheduled.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels a scheduled run. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// Timer.Stop does not wait for a callback that already started.
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// DebouncedWatcher merges the events another Watcher reports for a path
// within the delay into one event carrying every operation seen.
type DebouncedWatcher struct {
	inner Watcher
	delay time.Duration

	events chan Event
	errs   chan error
	done   chan struct{}
	loop   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingPath
	closed  bool
}

type pendingPath struct {
	event Event
	d     *Debouncer
}

// NewDebouncedWatcher takes ownership of inner; closing the debounced
// watcher closes it.
func NewDebouncedWatcher(inner Watcher, delay time.Duration) *DebouncedWatcher {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	dw := &DebouncedWatcher{
		inner:   inner,
		delay:   delay,
		events:  make(chan Event, 64),
		errs:    make(chan error, 64),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingPath),
	}
	dw.loop.Add(1)
	go dw.collect()
	return dw
}

// Watch adds path to the inner watcher.
func (dw *DebouncedWatcher) Watch(path string) error { return dw.inner.Watch(path) }

// Unwatch removes path from the inner watcher. Events already pending for
// it are still delivered.
func (dw *DebouncedWatcher) Unwatch(path string) error { return dw.inner.Unwatch(path) }

// Events delivers one merged event per path per quiet period.
func (dw *DebouncedWatcher) Events() <-chan Event { return dw.events }

// Errors delivers the inner watcher's errors as they arrive.
func (dw *DebouncedWatcher) Errors() <-chan error { return dw.errs }

// PendingCount returns the number of paths waiting for their quiet period.
func (dw *DebouncedWatcher) PendingCount() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return len(dw.pending)
}

// Close discards pending events and closes the inner watcher.
func (dw *DebouncedWatcher) Close() error {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil
	}
	dw.closed = true
	for path, p := range dw.pending {
		p.d.Stop()
		delete(dw.pending, path)
	}
	dw.mu.Unlock()

	close(dw.done)
	err := dw.inner.Close()
	dw.loop.Wait()

	// Debouncer callbacks check closed under mu before sending.
	dw.mu.Lock()
	close(dw.events)
	close(dw.errs)
	dw.mu.Unlock()
	return err
}

func (dw *DebouncedWatcher) collect() {
	defer dw.loop.Done()
	events, errs := dw.inner.Events(), dw.inner.Errors()
	for {
		select {
		case <-dw.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			dw.add(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			select {
			case dw.errs <- err:
			case <-dw.done:
			default:
			}
		}
	}
}

func (dw *DebouncedWatcher) add(ev Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return
	}

	p, ok := dw.pending[ev.Path]
	if !ok {
		path := ev.Path
		p = &pendingPath{event: Event{Path: path}}
		p.d = NewDebouncer(dw.delay, func() { dw.flush(path) })
		dw.pending[path] = p
	}
	p.event.Op |= ev.Op
	p.event.Time = ev.Time
	p.d.Trigger()
}

func (dw *DebouncedWatcher) flush(path string) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	p, ok := dw.pending[path]
	if !ok || dw.closed {
		return
	}
	delete(dw.pending, path)
	select {
	case dw.events <- p.event:
	default:
	}
}

var _ Watcher = (*DebouncedWatcher)(nil)
