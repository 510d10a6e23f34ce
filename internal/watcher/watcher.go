// Package watcher reports file system changes to settings sources.
//
// Files are watched through their parent directory: editors and the
// settings handlers replace files by renaming a temporary copy over them,
// and a watch on the file itself would be lost at the first save. A
// FileFilter narrows a directory watch back down to one file.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrWatcherClosed is returned by operations on a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")
	// ErrAlreadyWatching is returned when a path is watched twice.
	ErrAlreadyWatching = errors.New("path is already being watched")
	// ErrNotWatching is returned when unwatching a path that was never added.
	ErrNotWatching = errors.New("path is not being watched")
	// ErrPathNotExist is returned when watching a missing path.
	ErrPathNotExist = errors.New("path does not exist")
)

// Op is a set of file operations.
type Op uint32

const (
	// OpCreate is a new file or directory.
	OpCreate Op = 1 << iota
	// OpWrite is a change to file contents.
	OpWrite
	// OpRemove is a deletion.
	OpRemove
	// OpRename is a path moved away; the new name arrives as OpCreate.
	OpRename
	// OpChmod is a change to permissions or other attributes.
	OpChmod
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
	{OpChmod, "CHMOD"},
}

// String lists the operations in the set, joined by "|".
func (op Op) String() string {
	var names []string
	for _, n := range opNames {
		if op&n.op != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ContentChanged reports whether the set includes anything beyond a
// permission change.
func (op Op) ContentChanged() bool {
	return op&^OpChmod != 0
}

// Event is a change to one path.
type Event struct {
	// Path is absolute.
	Path string
	Op   Op
	Time time.Time
}

// Watcher delivers change events for watched directories and files.
type Watcher interface {
	// Watch adds a path. Watching a path twice is ErrAlreadyWatching.
	Watch(path string) error
	// Unwatch removes a path added by Watch.
	Unwatch(path string) error
	// Events and Errors are closed by Close.
	Events() <-chan Event
	Errors() <-chan error
	// Close releases the watch and ends delivery.
	Close() error
}

// EventFilter reports whether an event should be delivered.
type EventFilter func(Event) bool

type options struct {
	buffer int
	filter EventFilter
}

// Option configures a watcher.
type Option func(*options)

// WithBufferSize sets the capacity of the event and error channels.
func WithBufferSize(n int) Option {
	return func(o *options) { o.buffer = n }
}

// WithEventFilter drops events the filter rejects.
func WithEventFilter(f EventFilter) Option {
	return func(o *options) { o.filter = f }
}

func buildOptions(opts []Option) options {
	o := options{buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer <= 0 {
		o.buffer = 64
	}
	return o
}

// FileFilter keeps only the events for path.
func FileFilter(path string) EventFilter {
	want := absPath(path)
	return func(ev Event) bool {
		return filepath.Clean(ev.Path) == want
	}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Run hands events and errors from w to the callbacks until ctx is done or
// w is closed. onError may be nil.
func Run(ctx context.Context, w Watcher, onEvent func(Event), onError func(error)) {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			onEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
