package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"

	"github.com/stegru/morphic-windows/internal/settings"
)

// expandableVariables are the environment variables that may appear as
// $(NAME) in ini filenames. Matching is case-insensitive.
var expandableVariables = []string{"APPDATA"}

var variablePatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(expandableVariables))
	for _, name := range expandableVariables {
		m[name] = regexp.MustCompile(`(?i)\$\(` + regexp.QuoteMeta(name) + `\)`)
	}
	return m
}()

// ExpandPath replaces $(APPDATA) in a filename template. Other variables
// are left untouched.
func ExpandPath(template string, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	out := template
	for _, name := range expandableVariables {
		out = variablePatterns[name].ReplaceAllLiteralString(out, getenv(name))
	}
	return out
}

// IniHandler stores settings as keys of one section of an ini file. The key
// is the setting name unless the description names a key.
type IniHandler struct {
	cfg  IniConfig
	path string
	log  zerolog.Logger

	// mu serialises read-modify-write cycles on the file.
	mu sync.Mutex
}

// NewIniHandler creates an ini handler.
func NewIniHandler(cfg IniConfig, getenv func(string) string, log zerolog.Logger) *IniHandler {
	path := ExpandPath(cfg.Filename, getenv)
	return &IniHandler{
		cfg:  cfg,
		path: path,
		log:  log.With().Str("file", path).Logger(),
	}
}

// Path returns the expanded filename.
func (h *IniHandler) Path() string { return h.path }

func (h *IniHandler) key(s *settings.Setting) string {
	if h.cfg.Key != "" {
		return h.cfg.Key
	}
	return s.Name()
}

// Capture implements settings.Handler.
func (h *IniHandler) Capture(ctx context.Context, s *settings.Setting) (any, bool) {
	vals := h.CaptureAll(ctx, []*settings.Setting{s})
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0].Value, true
}

// Apply implements settings.Handler.
func (h *IniHandler) Apply(ctx context.Context, s *settings.Setting, value any) bool {
	return h.ApplyAll(ctx, settings.Values{{Setting: s, Value: value}})
}

// CaptureAll reads the file once and returns the keys that exist. Values are
// the raw strings of the file; callers convert them to the data type.
func (h *IniHandler) CaptureAll(_ context.Context, list []*settings.Setting) settings.Values {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		h.log.Error().Err(err).Msg("cannot read ini file")
		return nil
	}

	sec := f.Section(h.cfg.Section)
	out := make(settings.Values, 0, len(list))
	for _, s := range list {
		key := h.key(s)
		if !sec.HasKey(key) {
			h.log.Debug().Str("setting", s.ID()).Str("key", key).Msg("key not present")
			continue
		}
		out = append(out, settings.Value{Setting: s, Value: sec.Key(key).String()})
	}
	return out
}

// ApplyAll writes all values and saves the file once. A nil value fails the
// whole write.
func (h *IniHandler) ApplyAll(_ context.Context, values settings.Values) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		h.log.Error().Err(err).Msg("cannot read ini file")
		return false
	}

	sec := f.Section(h.cfg.Section)
	for _, v := range values {
		if v.Value == nil {
			h.log.Error().Str("setting", v.Setting.ID()).Msg("refusing to write a nil value")
			return false
		}
		key := h.key(v.Setting)
		value := fmt.Sprint(v.Value)
		h.log.Debug().
			Str("setting", v.Setting.ID()).
			Str("key", h.cfg.Section+"."+key).
			Str("value", value).
			Msg("writing ini key")
		sec.Key(key).SetValue(value)
	}

	if err := h.save(f); err != nil {
		h.log.Error().Err(err).Msg("cannot write ini file")
		return false
	}
	return true
}

// load parses the file. A missing file reads as empty.
func (h *IniHandler) load() (*ini.File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, h.path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", h.path)
	}
	return f, nil
}

// save writes a temporary copy and renames it over the file.
func (h *IniHandler) save(f *ini.File) error {
	if dir := filepath.Dir(h.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	tmp := h.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := f.WriteTo(out); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", h.path)
	}
	return nil
}
