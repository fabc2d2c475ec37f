package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the cast applied to a raw JSON value of a signal.
type ValueType int

const (
	TypeUnknown ValueType = iota
	TypeInt32
	TypeFloat32
	TypeFloat64
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseValueType maps a device type string to a ValueType, ignoring case.
// "uint" maps to TypeInt32 like "integer" does; the recorder never emits
// values that need the unsigned range.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "uint":
		return TypeInt32, nil
	case "float":
		return TypeFloat32, nil
	case "double":
		return TypeFloat64, nil
	case "string":
		return TypeString, nil
	default:
		return TypeUnknown, &UnsupportedTypeError{Type: s}
	}
}

// Cast converts a decoded JSON value (json.Number, float64, string, bool or
// nil) to the Go type of t. A nil input stays nil.
func (t ValueType) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInt32:
		return castInt32(v)
	case TypeFloat32:
		f, err := castFloat(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case TypeFloat64:
		return castFloat(v)
	case TypeString:
		return castString(v), nil
	default:
		return nil, &UnsupportedTypeError{Type: t.String()}
	}
}

func castInt32(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return toInt32(n)
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("cast %q to int32: %w", x, err)
		}
		return truncInt32(f)
	case float64:
		return truncInt32(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cast %q to int32: %w", x, err)
		}
		return toInt32(n)
	case bool:
		if x {
			return int32(1), nil
		}
		return int32(0), nil
	default:
		return nil, fmt.Errorf("cast %T to int32", v)
	}
}

func truncInt32(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cast %v to int32", f)
	}
	f = math.Trunc(f)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil, fmt.Errorf("cast %v to int32: out of range", f)
	}
	return int32(f), nil
}

func toInt32(n int64) (any, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("cast %d to int32: out of range", n)
	}
	return int32(n), nil
}

func castFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cast %T to float", v)
	}
}

func castString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// normalizeJSON turns json.Number leaves into int64 or float64 so passthrough
// records hold plain Go scalars.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, child := range x {
			x[k] = normalizeJSON(child)
		}
		return x
	case []any:
		for i, child := range x {
			x[i] = normalizeJSON(child)
		}
		return x
	default:
		return v
	}
}
