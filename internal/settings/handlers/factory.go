package handlers

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
)

// Factory builds handlers and finalizers from descriptions. Capabilities
// left nil are replaced by stand-ins that fail every operation, so solution
// files load on any platform and only the reads and writes fail.
type Factory struct {
	Logger zerolog.Logger

	Registry    RegistryStore
	Parameters  SystemParameters
	Preferences PreferenceStore
	System      SystemSettings

	// Getenv expands $(APPDATA) in ini filenames. Nil uses os.Getenv.
	Getenv func(string) string
}

// NewFactory returns a factory wired to the stores of this platform. The
// remote preference and OS setting stores are left for the caller.
func NewFactory(log zerolog.Logger) *Factory {
	return &Factory{
		Logger:     log,
		Registry:   NewSystemRegistry(),
		Parameters: NewSystemParameters(),
	}
}

var _ settings.HandlerFactory = (*Factory)(nil)

// NewHandler implements settings.HandlerFactory.
func (f *Factory) NewHandler(desc map[string]any) (settings.Handler, error) {
	d, err := Decode(desc)
	if err != nil {
		return nil, err
	}

	log := f.Logger.With().Str("handler", d.Kind.String()).Logger()
	switch d.Kind {
	case KindRegistry:
		h, err := NewRegistryHandler(*d.Registry, f.registry(), log)
		if err != nil {
			return nil, err
		}
		return h, nil
	case KindIni:
		return NewIniHandler(*d.Ini, f.Getenv, log), nil
	case KindClient:
		return NewClientHandler(*d.Client, f.preferences(), log), nil
	case KindSystem:
		return NewSystemHandler(*d.System, f.system(), log), nil
	case KindSystemParametersInfo:
		return nil, errors.Wrapf(ErrFinalizerOnly, "%s", d.Kind)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind %d", d.Kind)
	}
}

// NewFinalizer implements settings.HandlerFactory.
func (f *Factory) NewFinalizer(desc map[string]any) (settings.Finalizer, error) {
	d, err := Decode(desc)
	if err != nil {
		return nil, err
	}
	if !d.Kind.IsFinalizerOnly() {
		return nil, errors.Wrapf(ErrNotFinalizer, "%s", d.Kind)
	}
	log := f.Logger.With().Str("finalizer", d.Kind.String()).Logger()
	fin, err := NewSPIFinalizer(*d.SystemParametersInfo, f.parameters(), log)
	if err != nil {
		return nil, err
	}
	return fin, nil
}

func (f *Factory) registry() RegistryStore {
	if f.Registry == nil {
		return unsupported{what: "registry"}
	}
	return f.Registry
}

func (f *Factory) parameters() SystemParameters {
	if f.Parameters == nil {
		return unsupported{what: "system parameters"}
	}
	return f.Parameters
}

func (f *Factory) preferences() PreferenceStore {
	if f.Preferences == nil {
		return unsupported{what: "preference store"}
	}
	return f.Preferences
}

func (f *Factory) system() SystemSettings {
	if f.System == nil {
		return unsupported{what: "system settings"}
	}
	return f.System
}
