package handlers

import (
	"context"

	"github.com/pkg/errors"
)

// unsupported stands in for every capability that is unavailable on this
// platform or was not configured. All operations fail with ErrUnsupported.
type unsupported struct {
	what string
}

func (u unsupported) err() error {
	if u.what == "" {
		return ErrUnsupported
	}
	return errors.Wrap(ErrUnsupported, u.what)
}

func (u unsupported) OpenKey(path string, _ bool) (RegistryKey, error) {
	return nil, errors.Wrapf(u.err(), "registry key %s", path)
}

func (u unsupported) Broadcast(action Action) error {
	return errors.Wrapf(u.err(), "system parameters %s", action)
}

func (u unsupported) GetPreference(_ context.Context, solution, preference string) (any, error) {
	return nil, errors.Wrapf(u.err(), "preference %s/%s", solution, preference)
}

func (u unsupported) SetPreference(_ context.Context, solution, preference string, _ any) error {
	return errors.Wrapf(u.err(), "preference %s/%s", solution, preference)
}

func (u unsupported) GetSetting(_ context.Context, id string) (any, error) {
	return nil, errors.Wrapf(u.err(), "system setting %s", id)
}

func (u unsupported) SetSetting(_ context.Context, id string, _ any) error {
	return errors.Wrapf(u.err(), "system setting %s", id)
}
