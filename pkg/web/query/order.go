package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is a sort direction
type Direction string

const (
	ASC  Direction = "ASC"
	DESC Direction = "DESC"
)

// ParseDirection converts a case-insensitive direction name
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASC", "ASCENDING", "1":
		return ASC, nil
	case "DESC", "DESCENDING", "-1":
		return DESC, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", s)
	}
}

// OrderItem is a single field of an OrderSpec
type OrderItem struct {
	Field     string    `msgpack:"f"`
	Direction Direction `msgpack:"d"`
}

// OrderSpec is an ordered list of sort keys. Earlier items take precedence.
type OrderSpec []OrderItem

// Has reports whether the order includes the field
func (o OrderSpec) Has(field string) bool {
	for _, item := range o {
		if item.Field == field {
			return true
		}
	}
	return false
}

// Fields returns the ordered field names
func (o OrderSpec) Fields() []string {
	fields := make([]string, len(o))
	for i, item := range o {
		fields[i] = item.Field
	}
	return fields
}

// Equal reports whether two specs are identical, including precedence
func (o OrderSpec) Equal(other OrderSpec) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// With returns a copy of the order with the given fields appended in the given
// direction when they are not already present.
func (o OrderSpec) With(direction Direction, fields ...string) OrderSpec {
	out := append(OrderSpec(nil), o...)
	for _, f := range fields {
		if !out.Has(f) {
			out = append(out, OrderItem{Field: f, Direction: direction})
		}
	}
	return out
}

// String renders the order in query-string form, e.g. "-id,name"
func (o OrderSpec) String() string {
	parts := make([]string, len(o))
	for i, item := range o {
		if item.Direction == DESC {
			parts[i] = "-" + item.Field
		} else {
			parts[i] = item.Field
		}
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the order as an object whose key order is the precedence
func (o OrderSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%q", string(item.Direction))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes either an object ({"id":"DESC","name":"ASC"}), whose
// key order is kept, or an array of single-key objects.
func (o *OrderSpec) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch tok {
	case json.Delim('{'):
		spec, err := decodeOrderObject(dec)
		if err != nil {
			return err
		}
		*o = spec
		return nil
	case json.Delim('['):
		var spec OrderSpec
		for dec.More() {
			var item OrderSpec
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return err
			}
			if err := item.UnmarshalJSON(raw); err != nil {
				return err
			}
			if len(item) != 1 {
				return fmt.Errorf("order array elements must have exactly one key")
			}
			spec = append(spec, item[0])
		}
		*o = spec
		return nil
	default:
		return fmt.Errorf("order must be an object or an array")
	}
}

func decodeOrderObject(dec *json.Decoder) (OrderSpec, error) {
	var spec OrderSpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("order key must be a string")
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("order direction for %s: %w", key, err)
		}
		dir, err := ParseDirection(value)
		if err != nil {
			return nil, err
		}
		spec = append(spec, OrderItem{Field: key, Direction: dir})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return spec, nil
}
