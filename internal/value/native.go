package value

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"
)

// ConversionError reports a Go value that has no SQLite representation.
type ConversionError struct {
	Input  any
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %T to a SQLite value: %s", e.Input, e.Reason)
}

// FromNative converts a Go value into a Value.
//
// The accepted set is closed:
//   - nil and nil pointers become Null
//   - Value passes through unchanged
//   - bool becomes Integer 0 or 1
//   - every signed and unsigned integer width becomes Integer
//   - float32 and float64 become Real
//   - string becomes Text, []byte becomes Blob
//   - time.Time becomes Real seconds since the Unix epoch
//   - url.URL becomes Text of its string form
//   - json.Number becomes Integer when it parses as one, otherwise Real
//   - pointers to any of the above are dereferenced, a nil pointer is Null
//
// Unsigned values above math.MaxInt64 and every other type fail with
// *ConversionError.
func FromNative(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		if val {
			return Integer(1), nil
		}
		return Integer(0), nil
	case int:
		return Integer(val), nil
	case int8:
		return Integer(val), nil
	case int16:
		return Integer(val), nil
	case int32:
		return Integer(val), nil
	case int64:
		return Integer(val), nil
	case uint:
		return fromUnsigned(v, uint64(val))
	case uint8:
		return Integer(val), nil
	case uint16:
		return Integer(val), nil
	case uint32:
		return Integer(val), nil
	case uint64:
		return fromUnsigned(v, val)
	case float32:
		return Real(val), nil
	case float64:
		return Real(val), nil
	case string:
		return Text(val), nil
	case []byte:
		if val == nil {
			return Null{}, nil
		}
		return NewBlob(val), nil
	case time.Time:
		return Real(float64(val.UnixNano()) / 1e9), nil
	case url.URL:
		return Text(val.String()), nil
	case *url.URL:
		if val == nil {
			return Null{}, nil
		}
		return Text(val.String()), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Integer(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, &ConversionError{Input: v, Reason: err.Error()}
		}
		return Real(f), nil
	case *bool:
		return deref(val)
	case *int:
		return deref(val)
	case *int8:
		return deref(val)
	case *int16:
		return deref(val)
	case *int32:
		return deref(val)
	case *int64:
		return deref(val)
	case *uint:
		return deref(val)
	case *uint8:
		return deref(val)
	case *uint16:
		return deref(val)
	case *uint32:
		return deref(val)
	case *uint64:
		return deref(val)
	case *float32:
		return deref(val)
	case *float64:
		return deref(val)
	case *string:
		return deref(val)
	case *[]byte:
		return deref(val)
	case *time.Time:
		return deref(val)
	case *json.Number:
		return deref(val)
	default:
		return nil, &ConversionError{Input: v, Reason: "unsupported type"}
	}
}

// MustFromNative is FromNative for values known to be convertible,
// typically literals in tests and fixtures. It panics on failure.
func MustFromNative(v any) Value {
	out, err := FromNative(v)
	if err != nil {
		panic(err)
	}
	return out
}

// FromNativeSlice converts each element with FromNative.
func FromNativeSlice(vs []any) ([]Value, error) {
	out := make([]Value, len(vs))
	for i, v := range vs {
		conv, err := FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = conv
	}
	return out, nil
}

func fromUnsigned(orig any, n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return nil, &ConversionError{Input: orig, Reason: fmt.Sprintf("%d overflows int64", n)}
	}
	return Integer(int64(n)), nil
}

func deref[T any](p *T) (Value, error) {
	if p == nil {
		return Null{}, nil
	}
	return FromNative(*p)
}
