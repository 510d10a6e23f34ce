package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MORPHIC_"

// Log formats.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Duration is a time.Duration written as a string ("1s", "250ms") in files
// and environment variables.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the engine configuration.
type Config struct {
	Paths   PathsConfig   `toml:"paths" envPrefix:"PATHS_"`
	Logging LoggingConfig `toml:"logging" envPrefix:"LOG_"`
	Watch   WatchConfig   `toml:"watch" envPrefix:"WATCH_"`
	Remote  RemoteConfig  `toml:"remote" envPrefix:"REMOTE_"`
}

// PathsConfig locates the engine's files.
type PathsConfig struct {
	// Solutions is the solution definition file.
	Solutions string `toml:"solutions" env:"SOLUTIONS"`
	// Bar is the user's bar definition.
	Bar string `toml:"bar" env:"BAR"`
	// DefaultBar is merged into every bar. Empty disables it.
	DefaultBar string `toml:"defaultBar" env:"DEFAULT_BAR"`
	// Snapshots is the snapshot directory.
	Snapshots string `toml:"snapshots" env:"SNAPSHOTS"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
	// File, when set, receives the log instead of stderr.
	File string `toml:"file" env:"FILE"`
}

// WatchConfig controls change detection.
type WatchConfig struct {
	// Debounce is the quiet period after a file change before it is acted on.
	Debounce Duration `toml:"debounce" env:"DEBOUNCE"`
	// PollInterval is used by poll monitors that do not name one.
	PollInterval Duration `toml:"pollInterval" env:"POLL_INTERVAL"`
}

// RemoteConfig addresses the preference server.
type RemoteConfig struct {
	BaseURL     string  `toml:"baseUrl" env:"BASE_URL"`
	CommunityID string  `toml:"communityId" env:"COMMUNITY_ID"`
	Token       string  `toml:"token" env:"TOKEN"`
	RetryMax    int     `toml:"retryMax" env:"RETRY_MAX"`
	Rate        float64 `toml:"rate" env:"RATE"`
}

// Enabled reports whether a preference server is configured.
func (r RemoteConfig) Enabled() bool {
	return r.BaseURL != ""
}

// Dir returns the directory holding the engine's files.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "morphic")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := Dir()
	return Config{
		Paths: PathsConfig{
			Solutions: filepath.Join(dir, "solutions.yaml"),
			Bar:       filepath.Join(dir, "bar.yaml"),
			Snapshots: filepath.Join(dir, "snapshots"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatAuto,
		},
		Watch: WatchConfig{
			Debounce:     Duration{time.Second},
			PollInterval: Duration{5 * time.Second},
		},
		Remote: RemoteConfig{
			RetryMax: 3,
			Rate:     10,
		},
	}
}

// Load builds the configuration from defaults, the file at path and the
// process environment. A missing file is not an error.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, envMap(os.Environ()))
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := decode(path, bytes.NewReader(data), &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads only the given file over the defaults. Unlike Load the
// file must exist.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg := Default()
	if err := decode(path, bytes.NewReader(data), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(source string, r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		pe := &ParseError{File: source, Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

// Validate checks values that have a fixed allowed set.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || c.Logging.Level == "" {
		return &ValidationError{Key: "logging.level", Value: c.Logging.Level, Reason: "unknown log level"}
	}
	switch strings.ToLower(c.Logging.Format) {
	case FormatAuto, FormatConsole, FormatJSON:
	default:
		return &ValidationError{Key: "logging.format", Value: c.Logging.Format, Reason: "must be auto, console or json"}
	}
	if c.Paths.Solutions == "" {
		return &ValidationError{Key: "paths.solutions", Value: "", Reason: "required"}
	}
	if c.Watch.Debounce.Duration <= 0 {
		return &ValidationError{Key: "watch.debounce", Value: c.Watch.Debounce, Reason: "must be positive"}
	}
	if c.Watch.PollInterval.Duration <= 0 {
		return &ValidationError{Key: "watch.pollInterval", Value: c.Watch.PollInterval, Reason: "must be positive"}
	}
	if c.Remote.RetryMax < 0 {
		return &ValidationError{Key: "remote.retryMax", Value: c.Remote.RetryMax, Reason: "must not be negative"}
	}
	if c.Remote.Rate < 0 {
		return &ValidationError{Key: "remote.rate", Value: c.Remote.Rate, Reason: "must not be negative"}
	}
	if c.Remote.Enabled() && c.Remote.CommunityID == "" {
		return &ValidationError{Key: "remote.communityId", Value: "", Reason: "required with remote.baseUrl"}
	}
	return nil
}

// Save writes the configuration as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}
