//go:build windows

package handlers

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows/registry"
)

var registryRoots = map[string]registry.Key{
	"HKEY_CURRENT_USER":   registry.CURRENT_USER,
	"HKCU":                registry.CURRENT_USER,
	"HKEY_LOCAL_MACHINE":  registry.LOCAL_MACHINE,
	"HKLM":                registry.LOCAL_MACHINE,
	"HKEY_CLASSES_ROOT":   registry.CLASSES_ROOT,
	"HKCR":                registry.CLASSES_ROOT,
	"HKEY_USERS":          registry.USERS,
	"HKU":                 registry.USERS,
	"HKEY_CURRENT_CONFIG": registry.CURRENT_CONFIG,
}

// SystemRegistry is the Windows registry.
type SystemRegistry struct{}

// NewSystemRegistry returns the registry store of this platform.
func NewSystemRegistry() RegistryStore { return SystemRegistry{} }

// OpenKey implements RegistryStore.
func (SystemRegistry) OpenKey(path string, write bool) (RegistryKey, error) {
	rootName, sub, _ := strings.Cut(path, `\`)
	root, ok := registryRoots[strings.ToUpper(rootName)]
	if !ok {
		return nil, errors.Errorf("unknown registry root in %q", path)
	}

	if write {
		k, _, err := registry.CreateKey(root, sub, registry.QUERY_VALUE|registry.SET_VALUE)
		if err != nil {
			return nil, errors.Wrapf(err, "create key %s", path)
		}
		return windowsKey{k}, nil
	}

	k, err := registry.OpenKey(root, sub, registry.QUERY_VALUE)
	if err != nil {
		return nil, errors.Wrapf(err, "open key %s", path)
	}
	return windowsKey{k}, nil
}

type windowsKey struct {
	key registry.Key
}

func (k windowsKey) GetValue(name string) (any, error) {
	_, typ, err := k.key.GetValue(name, nil)
	if err == registry.ErrNotExist {
		return nil, errors.Wrap(ErrValueNotFound, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", name)
	}

	switch typ {
	case registry.SZ, registry.EXPAND_SZ:
		v, _, err := k.key.GetStringValue(name)
		return v, errors.Wrapf(err, "read %s", name)
	case registry.DWORD, registry.QWORD:
		v, _, err := k.key.GetIntegerValue(name)
		return v, errors.Wrapf(err, "read %s", name)
	case registry.MULTI_SZ:
		v, _, err := k.key.GetStringsValue(name)
		return v, errors.Wrapf(err, "read %s", name)
	default:
		v, _, err := k.key.GetBinaryValue(name)
		return v, errors.Wrapf(err, "read %s", name)
	}
}

func (k windowsKey) SetValue(name string, kind ValueKind, value any) error {
	var err error
	switch kind {
	case ValueString:
		err = k.key.SetStringValue(name, value.(string))
	case ValueExpandString:
		err = k.key.SetExpandStringValue(name, value.(string))
	case ValueDWord:
		err = k.key.SetDWordValue(name, uint32(value.(uint64)))
	case ValueQWord:
		err = k.key.SetQWordValue(name, value.(uint64))
	case ValueMultiString:
		err = k.key.SetStringsValue(name, value.([]string))
	case ValueBinary:
		err = k.key.SetBinaryValue(name, value.([]byte))
	default:
		return errors.Errorf("unsupported value kind %d", kind)
	}
	return errors.Wrapf(err, "write %s", name)
}

func (k windowsKey) Close() error {
	return k.key.Close()
}
