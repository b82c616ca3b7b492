package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// FieldKind determines how a field value is normalized before comparison
// and before it is written.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
	KindJSON   FieldKind = "json"
)

// timeLayouts are tried in order when parsing time strings. The second is
// what SQLite's CURRENT_TIMESTAMP produces.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

// IsValid reports whether k is a known kind.
func (k FieldKind) IsValid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindTime, KindJSON:
		return true
	}
	return false
}

// Coerce converts v to the canonical Go form for the kind: string, int64,
// float64, bool, UTC time.Time or decoded JSON. nil stays nil.
func (k FieldKind) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString:
		return coerceString(v), nil
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindBool:
		return coerceBool(v)
	case KindTime:
		return coerceTime(v)
	case KindJSON:
		return coerceJSON(v)
	default:
		return nil, fmt.Errorf("%w: unknown field kind %q", ErrInvalidArgument, k)
	}
}

// Equal compares two values after coercion. Values that cannot be coerced
// are compared as given.
func (k FieldKind) Equal(a, b any) bool {
	ca, errA := k.Coerce(a)
	cb, errB := k.Coerce(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	if ta, ok := ca.(time.Time); ok {
		tb, ok := cb.(time.Time)
		return ok && ta.Equal(tb)
	}
	if k == KindJSON {
		ja, errA := json.Marshal(ca)
		jb, errB := json.Marshal(cb)
		return errA == nil && errB == nil && bytes.Equal(ja, jb)
	}
	return reflect.DeepEqual(ca, cb)
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int", ErrInvalidArgument, n)
		}
		return int64(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrInvalidArgument, n)
		}
		return floatToInt(f)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrInvalidArgument, n)
		}
		return i, nil
	case []byte:
		return coerceInt(string(n))
	default:
		return nil, fmt.Errorf("%w: %T is not an int", ErrInvalidArgument, v)
	}
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: %v is not a whole number", ErrInvalidArgument, f)
	}
	if f >= 1<<63 || f < -1<<63 {
		return nil, fmt.Errorf("%w: %v overflows int", ErrInvalidArgument, f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrInvalidArgument, n)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrInvalidArgument, n)
		}
		return f, nil
	case []byte:
		return coerceFloat(string(n))
	default:
		i, err := coerceInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %T is not a float", ErrInvalidArgument, v)
		}
		return float64(i.(int64)), nil
	}
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidArgument, b)
		}
		return parsed, nil
	case []byte:
		return coerceBool(string(b))
	default:
		i, err := coerceInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %T is not a bool", ErrInvalidArgument, v)
		}
		switch i.(int64) {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("%w: %v is not a bool", ErrInvalidArgument, v)
	}
}

func coerceTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC(), nil
	case []byte:
		return coerceTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a time", ErrInvalidArgument, t)
	default:
		return nil, fmt.Errorf("%w: %T is not a time", ErrInvalidArgument, v)
	}
}

func coerceJSON(v any) (any, error) {
	var raw []byte
	switch j := v.(type) {
	case json.RawMessage:
		raw = j
	case []byte:
		raw = j
	case string:
		if !json.Valid([]byte(j)) {
			return j, nil
		}
		raw = []byte(j)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding json value: %v", ErrInvalidArgument, err)
		}
		raw = encoded
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding json value: %v", ErrInvalidArgument, err)
	}
	return out, nil
}
