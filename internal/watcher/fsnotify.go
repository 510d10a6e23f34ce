package watcher

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// FSNotifyWatcher is a Watcher backed by the operating system's change
// notifications.
type FSNotifyWatcher struct {
	fs     *fsnotify.Watcher
	filter EventFilter

	events chan Event
	errs   chan error
	done   chan struct{}
	loop   sync.WaitGroup

	mu     sync.Mutex
	paths  map[string]struct{}
	closed bool
}

// NewFSNotifyWatcher starts a watcher with no paths.
func NewFSNotifyWatcher(opts ...Option) (*FSNotifyWatcher, error) {
	o := buildOptions(opts)

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	w := &FSNotifyWatcher{
		fs:     fs,
		filter: o.filter,
		events: make(chan Event, o.buffer),
		errs:   make(chan error, o.buffer),
		done:   make(chan struct{}),
		paths:  make(map[string]struct{}),
	}
	w.loop.Add(1)
	go w.forward()
	return w, nil
}

// Watch adds an existing file or directory. A directory watch reports
// changes to its direct children.
func (w *FSNotifyWatcher) Watch(path string) error {
	abs := absPath(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.paths[abs]; ok {
		return ErrAlreadyWatching
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return errors.Wrapf(err, "watch %s", abs)
	}
	if err := w.fs.Add(abs); err != nil {
		return errors.Wrapf(err, "watch %s", abs)
	}
	w.paths[abs] = struct{}{}
	return nil
}

// Unwatch removes a path added by Watch.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	abs := absPath(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.paths[abs]; !ok {
		return ErrNotWatching
	}
	delete(w.paths, abs)
	// The path may already be gone, which removes the OS watch with it.
	if err := w.fs.Remove(abs); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return errors.Wrapf(err, "unwatch %s", abs)
	}
	return nil
}

// IsWatching reports whether path was added with Watch.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.paths[absPath(path)]
	return ok
}

// Events delivers the changes that pass the filter.
func (w *FSNotifyWatcher) Events() <-chan Event { return w.events }

// Errors delivers errors reported by the operating system.
func (w *FSNotifyWatcher) Errors() <-chan error { return w.errs }

// Close stops delivery and closes both channels. It is safe to call more
// than once.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.loop.Wait()
	close(w.events)
	close(w.errs)
	return w.fs.Close()
}

func (w *FSNotifyWatcher) forward() {
	defer w.loop.Done()
	for {
		select {
		case <-w.done:
			return
		case fe, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.deliver(fe)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *FSNotifyWatcher) deliver(fe fsnotify.Event) {
	ev := Event{Path: absPath(fe.Name), Op: translateOp(fe.Op), Time: time.Now()}
	if ev.Op == 0 {
		return
	}
	if w.filter != nil && !w.filter(ev) {
		return
	}
	// Dropped when the consumer is behind.
	select {
	case w.events <- ev:
	case <-w.done:
	default:
	}
}

var fsnotifyOps = map[fsnotify.Op]Op{
	fsnotify.Create: OpCreate,
	fsnotify.Write:  OpWrite,
	fsnotify.Remove: OpRemove,
	fsnotify.Rename: OpRename,
	fsnotify.Chmod:  OpChmod,
}

func translateOp(in fsnotify.Op) Op {
	var op Op
	for from, to := range fsnotifyOps {
		if in.Has(from) {
			op |= to
		}
	}
	return op
}

var _ Watcher = (*FSNotifyWatcher)(nil)
