// Package logging builds the zerolog logger shared by the engine.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Formats understood by New.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	Level  string
	Format string

	// File, when set, is appended to instead of writing to Output.
	File string

	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel parses a level name, ignoring case. An empty name is info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", s)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger. The returned closer releases the log file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), closer, errors.Wrap(err, "create log dir")
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, errors.Wrapf(err, "open log file %s", opts.File)
		}
		out, closer = f, f
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatAuto:
		if isTerminal(out) {
			out = consoleWriter(out)
		}
	case FormatConsole:
		out = consoleWriter(out)
	case FormatJSON:
	default:
		closer.Close()
		return zerolog.Nop(), nopCloser{}, errors.Errorf("unknown log format %q", opts.Format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), closer, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WithComponent tags a logger with the component it belongs to.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
