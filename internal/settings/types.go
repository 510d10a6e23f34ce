package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType is the declared type of a setting value.
type DataType uint8

const (
	// TypeUnknown leaves captured values as the handler returned them.
	TypeUnknown DataType = iota
	// TypeInt represents an integer value.
	TypeInt
	// TypeReal represents a floating-point value.
	TypeReal
	// TypeBool represents a boolean value.
	TypeBool
	// TypeString represents a string value.
	TypeString
)

// String returns the string representation of the type.
func (t DataType) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeInt:
		return "int"
	case TypeReal:
		return "real"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ParseDataType parses a data type name. Matching is case-insensitive and
// an empty name is TypeUnknown.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return TypeUnknown, nil
	case "int", "integer":
		return TypeInt, nil
	case "real", "double", "float":
		return TypeReal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "string":
		return TypeString, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", ErrInvalidDataType, s)
	}
}

// Zero returns the value reported for a setting of this type when its
// handler fails to capture one.
func (t DataType) Zero() any {
	switch t {
	case TypeInt:
		return 0
	case TypeReal:
		return 0.0
	case TypeBool:
		return false
	case TypeString:
		return ""
	default:
		return nil
	}
}

// Coerce converts a raw handler value into this type. Handlers return what
// the store holds (ini and registry values are frequently strings), so the
// conversion happens here rather than in each handler.
func (t DataType) Coerce(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch t {
	case TypeInt:
		return toInt(v)
	case TypeReal:
		return toFloat(v)
	case TypeBool:
		return toBool(v)
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, true
		case []byte:
			return string(s), true
		default:
			return fmt.Sprint(v), true
		}
	default:
		return v, true
	}
}

func toInt(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, false
		}
		return i, true
	default:
		return nil, false
	}
}

func toFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		i, ok := toInt(v)
		if !ok {
			return nil, false
		}
		return float64(i.(int)), true
	}
}

func toBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		// Registry DWORD flags.
		i, ok := toInt(v)
		if !ok {
			return nil, false
		}
		return i.(int) != 0, true
	}
}

// asInt converts a value of any type into an int.
func asInt(v any) (int, bool) {
	i, ok := toInt(v)
	if !ok {
		return 0, false
	}
	return i.(int), true
}
