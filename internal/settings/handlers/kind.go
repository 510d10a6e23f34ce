// Package handlers implements the backing-store adapters of settings groups.
//
// A handler description is a map with a "type" discriminator. ParseKind maps
// the discriminator onto the closed set of Kinds, Decode turns the remaining
// fields into the typed configuration of that kind, and Factory builds the
// adapter, wiring in the platform capability it talks to.
package handlers

import (
	"github.com/pkg/errors"
)

// Kind is a handler or finalizer adapter kind.
type Kind uint8

const (
	// KindUnknown is the zero Kind; it is never valid in a description.
	KindUnknown Kind = iota
	// KindRegistry reads and writes registry values.
	KindRegistry
	// KindIni reads and writes ini file keys.
	KindIni
	// KindSystemParametersInfo broadcasts a system parameter change. It is a
	// finalizer only.
	KindSystemParametersInfo
	// KindClient reads and writes preferences in the remote community store.
	KindClient
	// KindSystem reads and writes OS settings by setting id.
	KindSystem
)

// Discriminators of the handler kinds.
const (
	TypeRegistry             = "com.microsoft.windows.registry"
	TypeIni                  = "com.microsoft.windows.ini"
	TypeSystemParametersInfo = "com.microsoft.windows.systemParametersInfo"
	TypeClient               = "org.raisingthefloor.morphic.client"
	TypeSystem               = "com.microsoft.windows.system"
)

// ParseKind maps a "type" discriminator to its Kind.
func ParseKind(discriminator string) (Kind, error) {
	switch discriminator {
	case TypeRegistry:
		return KindRegistry, nil
	case TypeIni:
		return KindIni, nil
	case TypeSystemParametersInfo:
		return KindSystemParametersInfo, nil
	case TypeClient:
		return KindClient, nil
	case TypeSystem:
		return KindSystem, nil
	default:
		return KindUnknown, errors.Wrapf(ErrUnknownKind, "type %q", discriminator)
	}
}

// String returns the discriminator of the kind.
func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return TypeRegistry
	case KindIni:
		return TypeIni
	case KindSystemParametersInfo:
		return TypeSystemParametersInfo
	case KindClient:
		return TypeClient
	case KindSystem:
		return TypeSystem
	default:
		return "unknown"
	}
}

// IsFinalizerOnly reports whether the kind may only be used as a finalizer.
func (k Kind) IsFinalizerOnly() bool {
	return k == KindSystemParametersInfo
}
