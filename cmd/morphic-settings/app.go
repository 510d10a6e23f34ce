package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/bar"
	"github.com/stegru/morphic-windows/internal/config"
	"github.com/stegru/morphic-windows/internal/logging"
	"github.com/stegru/morphic-windows/internal/prefclient"
	"github.com/stegru/morphic-windows/internal/settings"
	"github.com/stegru/morphic-windows/internal/settings/handlers"
	"github.com/stegru/morphic-windows/internal/settings/monitor"
	"github.com/stegru/morphic-windows/internal/snapshot"
)

// app holds the collaborators shared by the commands. Everything is built
// on first use so that commands only pay for what they touch.
type app struct {
	configPath string
	logLevel   string

	cfg       config.Config
	log       zerolog.Logger
	logCloser io.Closer

	solutions *settings.Solutions
	monitor   *monitor.Monitor
	remote    *prefclient.Client
	bars      *bar.Manager
}

// init loads the configuration and sets up logging.
func (a *app) init() error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}

	a.cfg, a.log, a.logCloser = cfg, log, closer
	a.log.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}

// remoteClient returns the preference server client, or nil when no server
// is configured.
func (a *app) remoteClient() (*prefclient.Client, error) {
	if a.remote != nil || !a.cfg.Remote.Enabled() {
		return a.remote, nil
	}
	client, err := prefclient.New(prefclient.Options{
		BaseURL:     a.cfg.Remote.BaseURL,
		CommunityID: a.cfg.Remote.CommunityID,
		Token:       a.cfg.Remote.Token,
		RetryMax:    a.cfg.Remote.RetryMax,
		Rate:        a.cfg.Remote.Rate,
		Logger:      a.log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "preference server")
	}
	a.remote = client
	return client, nil
}

// loadSolutions loads the solution definitions. With watch set, settings
// that declare changes can be monitored.
func (a *app) loadSolutions(watch bool) (*settings.Solutions, error) {
	if a.solutions != nil {
		return a.solutions, nil
	}

	factory := handlers.NewFactory(logging.WithComponent(a.log, "handlers"))
	remote, err := a.remoteClient()
	if err != nil {
		return nil, err
	}
	if remote != nil {
		factory.Preferences = remote
	}

	deps := settings.Deps{Logger: a.log, Handlers: factory}
	if watch {
		a.monitor = monitor.New(monitor.Options{
			Logger:        a.log,
			DebounceDelay: a.cfg.Watch.Debounce.Duration,
			PollInterval:  a.cfg.Watch.PollInterval.Duration,
		})
		deps.Monitor = a.monitor
	}

	reg, err := settings.LoadFile(a.cfg.Paths.Solutions, deps)
	if err != nil {
		return nil, err
	}
	a.solutions = reg
	return reg, nil
}

func (a *app) snapshots() (*snapshot.Store, error) {
	return snapshot.NewStore(a.cfg.Paths.Snapshots, a.log)
}

func (a *app) barManager() *bar.Manager {
	if a.bars == nil {
		a.bars = bar.NewManager(bar.LoadOptions{
			Logger:        a.log,
			DefaultPath:   a.cfg.Paths.DefaultBar,
			DebounceDelay: a.cfg.Watch.Debounce.Duration,
		})
	}
	return a.bars
}

func (a *app) close() {
	if a.bars != nil {
		a.bars.Shutdown()
	}
	if a.monitor != nil {
		if err := a.monitor.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing monitor")
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
