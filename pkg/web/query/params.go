package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// Reserved query-string keys. They control selection, ordering and
// pagination and are never treated as filters.
const (
	KeyLimit       = "limit"
	KeyOffset      = "offset"
	KeyQuery       = "query"
	KeyNextCursor  = "nextCursor"
	KeyFields      = "fields"
	KeySort        = "sort"
	KeyWithDeleted = "withDeleted"
)

var reservedKeys = map[string]bool{
	KeyLimit:       true,
	KeyOffset:      true,
	KeyQuery:       true,
	KeyNextCursor:  true,
	KeyFields:      true,
	KeySort:        true,
	KeyWithDeleted: true,
}

// IsReserved reports whether a query-string key (with any bracket suffix) is
// a reserved control key
func IsReserved(key string) bool {
	base, _, _ := splitKey(key)
	return reservedKeys[base]
}

// keySegments is the decoded bracket suffix of a query-string key
type keySegments struct {
	negate   bool
	operator Operator
	index    int // -1 when the value is appended
}

// splitKey separates "name[not][gte]" into the base and its bracket segments.
// The third result is false when the brackets are unbalanced.
func splitKey(key string) (string, []string, bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, true
	}

	base := key[:open]
	var segments []string
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return base, segments, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return base, segments, false
		}
		segments = append(segments, rest[1:end])
		rest = rest[end+1:]
	}
	return base, segments, true
}

func decodeSegments(field string, segments []string) (keySegments, error) {
	ks := keySegments{index: -1}
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		switch {
		case seg == "":
			// name[] appends
		case strings.EqualFold(seg, "not"):
			ks.negate = !ks.negate
		case isIndex(seg):
			n, _ := strconv.Atoi(seg)
			ks.index = n
		default:
			op, err := ParseOperator(seg)
			if err != nil {
				return ks, &weberrors.ValidationError{Kind: weberrors.InvalidOperator, Field: field, Operator: seg, Message: err.Error()}
			}
			if ks.operator != "" && ks.operator != op {
				return ks, &weberrors.ValidationError{Kind: weberrors.InvalidOperator, Field: field, Operator: seg, Message: "more than one operator"}
			}
			ks.operator = op
		}
	}
	return ks, nil
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// listCollector gathers the values of one logical list across every
// encoding: repeated keys, name[]=, name[0]= and comma-separated values.
type listCollector struct {
	indexed map[int][]string
	listed  []string
}

func (c *listCollector) add(index int, raw []string) {
	var values []string
	for _, r := range raw {
		values = append(values, splitList(r)...)
	}
	if index < 0 {
		c.listed = append(c.listed, values...)
		return
	}
	if c.indexed == nil {
		c.indexed = make(map[int][]string)
	}
	c.indexed[index] = append(c.indexed[index], values...)
}

// values returns indexed entries in index order followed by appended entries
func (c *listCollector) values() []string {
	indexes := make([]int, 0, len(c.indexed))
	for i := range c.indexed {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var out []string
	for _, i := range indexes {
		out = append(out, c.indexed[i]...)
	}
	return append(out, c.listed...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// collectList merges every encoding of a reserved list key (fields, sort)
func collectList(values url.Values, name string) ([]string, bool) {
	var c listCollector
	found := false
	for _, key := range sortedKeys(values) {
		base, segments, ok := splitKey(key)
		if !ok || base != name {
			continue
		}
		index := -1
		if len(segments) == 1 && isIndex(segments[0]) {
			index, _ = strconv.Atoi(segments[0])
		}
		found = true
		c.add(index, values[key])
	}
	return c.values(), found
}

// filterKey identifies one condition built from possibly several keys
type filterKey struct {
	field    string
	operator Operator
	negate   bool
}

// collectFilters groups filter keys by (field, operator, negate) and returns
// one condition per group in key order.
func collectFilters(values url.Values) ([]Condition, error) {
	collectors := make(map[filterKey]*listCollector)
	var order []filterKey

	for _, key := range sortedKeys(values) {
		base, segments, ok := splitKey(key)
		if reservedKeys[base] {
			continue
		}
		if !ok || base == "" {
			return nil, &weberrors.ValidationError{Kind: weberrors.InvalidField, Field: key, Message: "malformed filter key"}
		}

		ks, err := decodeSegments(base, segments)
		if err != nil {
			return nil, err
		}

		fk := filterKey{field: base, operator: ks.operator, negate: ks.negate}
		c, exists := collectors[fk]
		if !exists {
			c = &listCollector{}
			collectors[fk] = c
			order = append(order, fk)
		}
		c.add(ks.index, values[key])
	}

	conditions := make([]Condition, 0, len(order))
	for _, fk := range order {
		vals := collectors[fk].values()
		cond := Condition{Field: fk.field, Operator: fk.operator, Negate: fk.negate}

		if cond.Operator == "" {
			switch len(vals) {
			case 0:
				return nil, &weberrors.ValidationError{Kind: weberrors.InvalidOperand, Field: fk.field, Message: "missing value"}
			case 1:
				cond.Operator = OpEQ
			default:
				cond.Operator = OpIn
			}
		}

		if cond.Operator.IsList() {
			list := make([]interface{}, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			cond.Operand = list
		} else if len(vals) == 1 {
			cond.Operand = vals[0]
		} else if len(vals) > 1 {
			list := make([]interface{}, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			cond.Operand = list
		}

		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}
