// Package bar loads bar definitions and keeps them in step with their
// source file.
//
// A bar is a list of items. Items from the default bar are merged in front
// of the user's items and flagged IsDefault. A loaded bar watches its source
// and signals ReloadRequired, after a debounce window, when the file changes.
package bar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stegru/morphic-windows/internal/watcher"
)

// DefaultTitle is the title of a bar that does not set one.
const DefaultTitle = "Morphic Community Bar"

// ErrInvalidBar indicates a bar definition that cannot be used.
var ErrInvalidBar = errors.New("invalid bar definition")

// Overflow is what the bar does when its items do not fit.
type Overflow string

// Overflow policies.
const (
	OverflowResize    Overflow = "resize"
	OverflowWrap      Overflow = "wrap"
	OverflowHide      Overflow = "hide"
	OverflowSecondary Overflow = "secondary"
)

func (o Overflow) valid() bool {
	switch o {
	case OverflowResize, OverflowWrap, OverflowHide, OverflowSecondary:
		return true
	}
	return false
}

// Item is one bar item.
type Item struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"`
	Label string `yaml:"label"`

	// Setting is the compound id of the setting the item controls, if any.
	Setting string `yaml:"setting"`

	// Priority orders items; higher first.
	Priority int  `yaml:"priority"`
	Hidden   bool `yaml:"hidden"`

	// Primary as written in the definition. Items are primary unless they
	// say otherwise.
	Primary *bool `yaml:"isPrimary"`

	Configuration map[string]any `yaml:"configuration"`

	// IsPrimary is whether the item is shown on the main bar.
	IsPrimary bool `yaml:"-"`
	// IsPrimaryOriginal is IsPrimary as loaded, before overflow rules.
	IsPrimaryOriginal bool `yaml:"-"`
	// IsDefault marks items that came from the default bar.
	IsDefault bool `yaml:"-"`
}

func (it *Item) normalize() {
	it.IsPrimary = it.Primary == nil || *it.Primary
	it.IsPrimaryOriginal = it.IsPrimary
}

// Data is a loaded bar.
type Data struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Title    string   `yaml:"title"`
	Scale    float64  `yaml:"scale"`
	Overflow Overflow `yaml:"overflow"`
	Items    []*Item  `yaml:"items"`

	// Source is the path or id the bar was loaded from.
	Source string `yaml:"-"`

	// CommunityID is the community the bar belongs to, if any.
	CommunityID string `yaml:"-"`

	log    zerolog.Logger
	reload chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	fw        watcher.Watcher
	debouncer *watcher.Debouncer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newData() *Data {
	return &Data{
		Title:    DefaultTitle,
		Scale:    1,
		Overflow: OverflowResize,
		log:      zerolog.Nop(),
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Parse reads a bar definition (YAML or JSON). When def is not nil its
// settings are the starting point and its items are placed before the
// bar's own items.
func Parse(r io.Reader, def *Data) (*Data, error) {
	d := newData()
	if def != nil {
		d.ID, d.Name, d.Title, d.Scale, d.Overflow = def.ID, def.Name, def.Title, def.Scale, def.Overflow
	}

	if err := yaml.NewDecoder(r).Decode(d); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrInvalidBar, "decode: %v", err)
	}

	d.Overflow = Overflow(strings.ToLower(string(d.Overflow)))
	if !d.Overflow.valid() {
		return nil, errors.Wrapf(ErrInvalidBar, "overflow %q", d.Overflow)
	}
	if d.Scale <= 0 {
		return nil, errors.Wrapf(ErrInvalidBar, "scale %v", d.Scale)
	}

	for _, it := range d.Items {
		if it == nil {
			return nil, errors.Wrap(ErrInvalidBar, "empty item")
		}
		it.normalize()
	}

	if def != nil {
		merged := make([]*Item, 0, len(def.Items)+len(d.Items))
		for _, it := range def.Items {
			cp := *it
			cp.IsDefault = true
			merged = append(merged, &cp)
		}
		d.Items = append(merged, d.Items...)
		d.promoteIfNoPrimary()
	}

	return d, nil
}

// promoteIfNoPrimary makes every item primary, overflowing to the secondary
// bar, when the bar's own items are all secondary.
func (d *Data) promoteIfNoPrimary() {
	for _, it := range d.PrimaryItems() {
		if !it.IsDefault {
			return
		}
	}
	for _, it := range d.SecondaryItems() {
		it.IsPrimary = true
	}
	d.Overflow = OverflowSecondary
}

// PrimaryItems returns the visible items of the main bar, highest priority
// first.
func (d *Data) PrimaryItems() []*Item {
	var out []*Item
	for _, it := range d.Items {
		if !it.Hidden && it.IsPrimary {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// SecondaryItems returns the visible items of the secondary bar. Items that
// were primary before overflow rules come first, then by priority.
func (d *Data) SecondaryItems() []*Item {
	var out []*Item
	for _, it := range d.Items {
		if !it.Hidden && !it.IsPrimary {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPrimaryOriginal != out[j].IsPrimaryOriginal {
			return out[i].IsPrimaryOriginal
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// LoadOptions configures LoadFile.
type LoadOptions struct {
	Logger zerolog.Logger

	// DefaultPath is the default bar merged into every bar. Empty skips it.
	DefaultPath string

	// DebounceDelay is the window between the last change to the source
	// file and ReloadRequired. Zero uses one second.
	DebounceDelay time.Duration

	// NoWatch disables watching the source file.
	NoWatch bool

	// NewWatcher creates the file watcher. Nil uses fsnotify.
	NewWatcher func(opts ...watcher.Option) (watcher.Watcher, error)
}

// LoadFile loads a bar from a file, merges the default bar, and starts
// watching the file.
func LoadFile(path string, opts LoadOptions) (*Data, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read bar %s", path)
	}
	return load(path, content, opts, true)
}

// LoadContent loads a bar from content that did not come from a watched
// file, such as a community bar fetched from a server.
func LoadContent(source string, content []byte, opts LoadOptions) (*Data, error) {
	return load(source, content, opts, false)
}

func load(source string, content []byte, opts LoadOptions, watch bool) (*Data, error) {
	log := opts.Logger.With().Str("component", "bar").Logger()

	var def *Data
	if opts.DefaultPath != "" {
		raw, err := os.ReadFile(opts.DefaultPath)
		if err != nil {
			return nil, errors.Wrapf(err, "read default bar %s", opts.DefaultPath)
		}
		if def, err = Parse(bytes.NewReader(raw), nil); err != nil {
			return nil, errors.Wrapf(err, "default bar %s", opts.DefaultPath)
		}
	}

	log.Info().Str("source", source).Msg("loading bar")
	d, err := Parse(bytes.NewReader(content), def)
	if err != nil {
		return nil, errors.Wrapf(err, "bar %s", source)
	}
	d.Source = source
	d.log = log.With().Str("source", source).Logger()

	if watch && !opts.NoWatch {
		if _, statErr := os.Stat(source); statErr == nil {
			if err := d.watch(opts); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// String describes the bar for logs.
func (d *Data) String() string {
	return fmt.Sprintf("%s (%d items)", d.Title, len(d.Items))
}

func (d *Data) watch(opts LoadOptions) error {
	abs, err := filepath.Abs(d.Source)
	if err != nil {
		return errors.Wrapf(err, "watch %s", d.Source)
	}

	newWatcher := opts.NewWatcher
	if newWatcher == nil {
		newWatcher = func(o ...watcher.Option) (watcher.Watcher, error) {
			return watcher.NewFSNotifyWatcher(o...)
		}
	}
	fw, err := newWatcher(watcher.WithEventFilter(watcher.FileFilter(abs)))
	if err != nil {
		return errors.Wrap(err, "create bar watcher")
	}
	// Editors often replace the file, so the directory is watched.
	if err := fw.Watch(filepath.Dir(abs)); err != nil {
		fw.Close()
		return errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	debouncer := watcher.NewDebouncer(opts.DebounceDelay, d.signalReload)

	d.mu.Lock()
	d.fw, d.debouncer, d.cancel = fw, debouncer, cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		watcher.Run(ctx, fw, func(ev watcher.Event) {
			if !ev.Op.ContentChanged() {
				return
			}
			d.log.Debug().Stringer("op", ev.Op).Msg("bar file changed")
			debouncer.Trigger()
		}, func(err error) {
			d.log.Warn().Err(err).Msg("bar watcher error")
		})
	}()
	return nil
}

func (d *Data) signalReload() {
	d.log.Info().Msg("bar reload required")
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// ReloadRequired delivers a value each time the source file changed and
// the debounce window has elapsed.
func (d *Data) ReloadRequired() <-chan struct{} {
	return d.reload
}

// Done is closed when the bar is closed.
func (d *Data) Done() <-chan struct{} {
	return d.done
}

// Watching reports whether the bar is watching its source file.
func (d *Data) Watching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fw != nil
}

// Close releases the bar's watcher. Pending reloads are cancelled.
func (d *Data) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	fw, debouncer, cancel := d.fw, d.debouncer, d.cancel
	d.fw, d.debouncer, d.cancel = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if debouncer != nil {
		debouncer.Stop()
	}
	var err error
	if fw != nil {
		err = fw.Close()
	}
	d.wg.Wait()
	return err
}
