package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
)

// ValueKind is the registry type of a value.
type ValueKind uint8

const (
	// ValueAuto picks the type from the Go value: integers and booleans are
	// written as DWORD, everything else as a string.
	ValueAuto ValueKind = iota
	ValueString
	ValueExpandString
	ValueDWord
	ValueQWord
	ValueMultiString
	ValueBinary
)

var valueKindNames = map[string]ValueKind{
	"":             ValueAuto,
	"string":       ValueString,
	"sz":           ValueString,
	"expandstring": ValueExpandString,
	"expandsz":     ValueExpandString,
	"dword":        ValueDWord,
	"qword":        ValueQWord,
	"multistring":  ValueMultiString,
	"multisz":      ValueMultiString,
	"binary":       ValueBinary,
}

// ParseValueKind parses a value_type name, ignoring case.
func ParseValueKind(name string) (ValueKind, error) {
	if k, ok := valueKindNames[strings.ToLower(name)]; ok {
		return k, nil
	}
	return ValueAuto, errors.Wrapf(ErrInvalidDescription, "unknown registry value type %q", name)
}

// RegistryStore opens registry keys.
type RegistryStore interface {
	// OpenKey opens a key by its full path, creating it when write is set.
	OpenKey(path string, write bool) (RegistryKey, error)
}

// RegistryKey is an open registry key.
type RegistryKey interface {
	// GetValue returns the value as a string, uint64, []string or []byte.
	// A missing value is ErrValueNotFound.
	GetValue(name string) (any, error)
	SetValue(name string, kind ValueKind, value any) error
	Close() error
}

// RegistryHandler stores settings as values of one registry key. The value
// name is the setting name unless the description names one.
type RegistryHandler struct {
	cfg   RegistryConfig
	kind  ValueKind
	store RegistryStore
	log   zerolog.Logger
}

// NewRegistryHandler creates a registry handler.
func NewRegistryHandler(cfg RegistryConfig, store RegistryStore, log zerolog.Logger) (*RegistryHandler, error) {
	kind, err := ParseValueKind(cfg.ValueType)
	if err != nil {
		return nil, err
	}
	return &RegistryHandler{
		cfg:   cfg,
		kind:  kind,
		store: store,
		log:   log.With().Str("key", cfg.KeyName).Logger(),
	}, nil
}

func (h *RegistryHandler) valueName(s *settings.Setting) string {
	if h.cfg.ValueName != "" {
		return h.cfg.ValueName
	}
	return s.Name()
}

// Capture implements settings.Handler.
func (h *RegistryHandler) Capture(ctx context.Context, s *settings.Setting) (any, bool) {
	vals := h.CaptureAll(ctx, []*settings.Setting{s})
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0].Value, true
}

// Apply implements settings.Handler.
func (h *RegistryHandler) Apply(ctx context.Context, s *settings.Setting, value any) bool {
	return h.ApplyAll(ctx, settings.Values{{Setting: s, Value: value}})
}

// CaptureAll reads the values from one opened key.
func (h *RegistryHandler) CaptureAll(_ context.Context, list []*settings.Setting) settings.Values {
	key, err := h.store.OpenKey(h.cfg.KeyName, false)
	if err != nil {
		h.log.Error().Err(err).Msg("cannot open registry key")
		return nil
	}
	defer key.Close()

	out := make(settings.Values, 0, len(list))
	for _, s := range list {
		name := h.valueName(s)
		v, err := key.GetValue(name)
		if err != nil {
			h.log.Debug().Err(err).Str("setting", s.ID()).Str("value", name).Msg("cannot read registry value")
			continue
		}
		out = append(out, settings.Value{Setting: s, Value: v})
	}
	return out
}

// ApplyAll writes the values to one opened key. Every value is attempted.
func (h *RegistryHandler) ApplyAll(_ context.Context, values settings.Values) bool {
	key, err := h.store.OpenKey(h.cfg.KeyName, true)
	if err != nil {
		h.log.Error().Err(err).Msg("cannot open registry key")
		return false
	}
	defer key.Close()

	ok := true
	for _, v := range values {
		name := h.valueName(v.Setting)
		kind, data, err := registryValue(h.kind, v.Value)
		if err == nil {
			err = key.SetValue(name, kind, data)
		}
		if err != nil {
			h.log.Error().Err(err).Str("setting", v.Setting.ID()).Str("value", name).Msg("cannot write registry value")
			ok = false
		}
	}
	return ok
}

// registryValue converts a setting value to the Go type written for kind.
func registryValue(kind ValueKind, v any) (ValueKind, any, error) {
	if v == nil {
		return kind, nil, errors.New("nil value")
	}
	if kind == ValueAuto {
		switch v.(type) {
		case bool, int, int32, int64, uint32:
			kind = ValueDWord
		case uint64:
			kind = ValueQWord
		case []string:
			kind = ValueMultiString
		case []byte:
			kind = ValueBinary
		default:
			kind = ValueString
		}
	}

	switch kind {
	case ValueString, ValueExpandString:
		return kind, stringOf(v), nil
	case ValueDWord:
		n, err := unsignedOf(v)
		if err != nil {
			return kind, nil, err
		}
		return kind, uint64(uint32(n)), nil
	case ValueQWord:
		n, err := unsignedOf(v)
		return kind, n, err
	case ValueMultiString:
		if ss, ok := v.([]string); ok {
			return kind, ss, nil
		}
		return kind, []string{stringOf(v)}, nil
	case ValueBinary:
		switch b := v.(type) {
		case []byte:
			return kind, b, nil
		case string:
			return kind, []byte(b), nil
		}
		return kind, nil, errors.Errorf("cannot write %T as binary", v)
	default:
		return kind, nil, errors.Errorf("unknown value kind %d", kind)
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func unsignedOf(v any) (uint64, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case int:
		return uint64(t), nil
	case int32:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case uint32:
		return uint64(t), nil
	case uint64:
		return t, nil
	case float64:
		return uint64(int64(t)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 0, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", t)
		}
		return uint64(n), nil
	default:
		return 0, errors.Errorf("cannot write %T as a number", v)
	}
}
