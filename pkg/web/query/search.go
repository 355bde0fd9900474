package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// Search is a validated search request body
type Search struct {
	Select      []string
	Where       Tree
	Order       OrderSpec
	Take        *int
	Offset      *int
	Query       string
	NextCursor  string
	WithDeleted *bool
}

// searchBody is the wire form of a search request
type searchBody struct {
	Select      []string        `json:"select"`
	Where       json.RawMessage `json:"where"`
	Order       *OrderSpec      `json:"order"`
	Take        *int            `json:"take"`
	Offset      *int            `json:"offset"`
	Query       string          `json:"query"`
	NextCursor  string          `json:"nextCursor"`
	WithDeleted *bool           `json:"withDeleted"`
}

// conditionBody is the explicit form of one condition in a where group
type conditionBody struct {
	Operator string      `json:"operator"`
	Operand  interface{} `json:"operand"`
	Not      bool        `json:"not"`
}

// ParseSearch decodes and validates a search body. Unknown keys are rejected.
//
// Example:
//
//	{"where":[{"type":{"operator":"IN","operand":[1,2]}},{"name":"a"}],
//	 "order":{"id":"DESC"},"take":20}
func (p *Parser) ParseSearch(body []byte) (*Search, error) {
	search := &Search{}
	if len(bytes.TrimSpace(body)) == 0 {
		return search, nil
	}

	var raw searchBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, weberrors.Validation(weberrors.InvalidBody, "", "invalid search body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, weberrors.Validation(weberrors.InvalidBody, "", "unexpected data after search body")
	}

	tree, err := decodeWhere(raw.Where)
	if err != nil {
		return nil, err
	}
	if search.Where, err = p.Validate(tree); err != nil {
		return nil, err
	}

	if raw.Order != nil {
		if err := p.ValidateOrder(*raw.Order); err != nil {
			return nil, err
		}
		search.Order = *raw.Order
	}

	if raw.Select != nil {
		if err := p.ValidateFields(raw.Select); err != nil {
			return nil, err
		}
		search.Select = raw.Select
	}

	search.Take = raw.Take
	search.Offset = raw.Offset
	search.Query = raw.Query
	search.NextCursor = raw.NextCursor
	search.WithDeleted = raw.WithDeleted
	return search, nil
}

// decodeWhere accepts an array of groups or a single group object
func decodeWhere(raw json.RawMessage) (Tree, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var groups []map[string]json.RawMessage
	if trimmed[0] == '{' {
		var single map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, weberrors.Validation(weberrors.InvalidBody, "where", "%v", err)
		}
		groups = append(groups, single)
	} else if err := json.Unmarshal(trimmed, &groups); err != nil {
		return nil, weberrors.Validation(weberrors.InvalidBody, "where", "expected an array of objects: %v", err)
	}

	tree := make(Tree, 0, len(groups))
	for _, group := range groups {
		g := make(Group, 0, len(group))
		for _, field := range sortedRawKeys(group) {
			cond, err := decodeCondition(field, group[field])
			if err != nil {
				return nil, err
			}
			g = append(g, cond)
		}
		tree = append(tree, g)
	}
	return tree, nil
}

// decodeCondition accepts the explicit {operator, operand, not} form, an
// array (shorthand for IN), null (shorthand for NULL) or a scalar (EQ).
func decodeCondition(field string, raw json.RawMessage) (Condition, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return Condition{Field: field, Operator: OpNull}, nil

	case len(trimmed) > 0 && trimmed[0] == '{':
		var cb conditionBody
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		dec.UseNumber()
		if err := dec.Decode(&cb); err != nil {
			return Condition{}, weberrors.Validation(weberrors.InvalidBody, field, "invalid condition: %v", err)
		}
		op := Operator(cb.Operator)
		if cb.Operator == "" {
			op = OpEQ
			if _, isList := cb.Operand.([]interface{}); isList {
				op = OpIn
			}
		}
		return Condition{Field: field, Operator: op, Operand: cb.Operand, Negate: cb.Not}, nil

	default:
		v, err := decodeValue(trimmed)
		if err != nil {
			return Condition{}, weberrors.Validation(weberrors.InvalidBody, field, "%v", err)
		}
		if _, isList := v.([]interface{}); isList {
			return Condition{Field: field, Operator: OpIn, Operand: v}, nil
		}
		return Condition{Field: field, Operator: OpEQ, Operand: v}, nil
	}
}

func decodeValue(raw []byte) (interface{}, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid operand: %w", err)
	}
	return v, nil
}

func sortedRawKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}
