package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coerce converts a raw value (a query-string token, a decoded JSON value, or
// a database driver value) into the canonical Go type of the field:
// string, int64, float64, bool, time.Time (UTC) or a canonical UUID string.
//
// nil is never coerced; callers decide whether null is acceptable.
func (f *Field) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, fmt.Errorf("%s expects a %s, got null", f.Name, f.Type)
	}

	switch f.Type {
	case TypeString:
		return coerceString(v)
	case TypeInt:
		return coerceInt(v)
	case TypeFloat:
		return coerceFloat(v)
	case TypeBool:
		return coerceBool(v)
	case TypeTimestamp:
		return coerceTimestamp(v)
	case TypeUUID:
		return coerceUUID(v)
	default:
		return nil, fmt.Errorf("unsupported field type %s", f.Type)
	}
}

func coerceString(v interface{}) (interface{}, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return nil, fmt.Errorf("expected a string, got %T", v)
	}
}

func coerceInt(v interface{}) (interface{}, error) {
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
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("expected an integer, got %v", n)
		}
		// float64(math.MaxInt64) rounds up to 2^63
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return nil, fmt.Errorf("integer %v overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return coerceInt(float64(n))
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", n.String())
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", n)
		}
		return i, nil
	case []byte:
		return coerceInt(string(n))
	default:
		return nil, fmt.Errorf("expected an integer, got %T", v)
	}
}

func coerceFloat(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", n)
		}
		return f, nil
	case []byte:
		return coerceFloat(string(n))
	default:
		i, err := coerceInt(v)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %T", v)
		}
		return float64(i.(int64)), nil
	}
}

func coerceBool(v interface{}) (interface{}, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", b)
		}
		return parsed, nil
	case []byte:
		return coerceBool(string(b))
	case int64:
		// SQLite stores booleans as integers
		return b != 0, nil
	default:
		return nil, fmt.Errorf("expected a boolean, got %T", v)
	}
}

// timestampLayouts are tried in order when parsing string timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func coerceTimestamp(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return nil, fmt.Errorf("expected a timestamp, got null")
		}
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, fmt.Errorf("expected an RFC 3339 timestamp, got %q", t)
	case []byte:
		return coerceTimestamp(string(t))
	default:
		return nil, fmt.Errorf("expected a timestamp, got %T", v)
	}
}

func coerceUUID(v interface{}) (interface{}, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u.String(), nil
	case [16]byte:
		return uuid.UUID(u).String(), nil
	case string:
		parsed, err := uuid.Parse(strings.TrimSpace(u))
		if err != nil {
			return nil, fmt.Errorf("expected a UUID, got %q", u)
		}
		return parsed.String(), nil
	case []byte:
		if len(u) == 16 {
			parsed, err := uuid.FromBytes(u)
			if err == nil {
				return parsed.String(), nil
			}
		}
		return coerceUUID(string(u))
	default:
		return nil, fmt.Errorf("expected a UUID, got %T", v)
	}
}

// Compare orders two canonical values of the same field type. It returns
// -1, 0 or +1. Values must already be coerced with Coerce.
func Compare(a, b interface{}) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return cmpOrdered(av, bv)
	case float64:
		bv, _ := b.(float64)
		return cmpOrdered(av, bv)
	case string:
		bv, _ := b.(string)
		return cmpOrdered(av, bv)
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Compare(bv)
	default:
		return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Equal reports whether two canonical values are equal
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Compare(a, b) == 0
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
