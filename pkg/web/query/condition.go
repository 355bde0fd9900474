// Package query implements the filter and sort grammar of the generated
// endpoints. Query strings and search bodies are parsed into a normalized
// Tree (an OR of AND-groups of field/operator/operand conditions) and an
// ordered OrderSpec, validated against the entity's field metadata.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// Operator represents a comparison operator
type Operator string

const (
	OpEQ      Operator = "EQ"
	OpNEQ     Operator = "NEQ"
	OpGT      Operator = "GT"
	OpGTE     Operator = "GTE"
	OpLT      Operator = "LT"
	OpLTE     Operator = "LTE"
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpNull    Operator = "NULL"
	OpBetween Operator = "BETWEEN"
)

// operatorAliases maps every accepted spelling to its operator
var operatorAliases = map[string]Operator{
	"eq": OpEQ, "=": OpEQ, "==": OpEQ,
	"neq": OpNEQ, "ne": OpNEQ, "!=": OpNEQ, "<>": OpNEQ,
	"gt": OpGT, ">": OpGT,
	"gte": OpGTE, ">=": OpGTE,
	"lt": OpLT, "<": OpLT,
	"lte": OpLTE, "<=": OpLTE,
	"like":    OpLike,
	"in":      OpIn,
	"null":    OpNull,
	"between": OpBetween,
}

// ParseOperator converts a case-insensitive name or symbol to an Operator
func ParseOperator(s string) (Operator, error) {
	if op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Arity returns the minimum and maximum number of operands. A maximum of -1
// means unbounded.
func (o Operator) Arity() (min, max int) {
	switch o {
	case OpNull:
		return 0, 0
	case OpIn:
		return 1, -1
	case OpBetween:
		return 2, 2
	default:
		return 1, 1
	}
}

// IsList reports whether the operand is an ordered sequence
func (o Operator) IsList() bool {
	return o == OpIn || o == OpBetween
}

// Condition is a single field/operator/operand triple
type Condition struct {
	Field    string      `msgpack:"f" json:"field"`
	Operator Operator    `msgpack:"o" json:"operator"`
	Operand  interface{} `msgpack:"v,omitempty" json:"operand,omitempty"`
	Negate   bool        `msgpack:"n,omitempty" json:"not,omitempty"`
}

// Group is a set of conditions combined with AND
type Group []Condition

// Tree is a sequence of groups combined with OR. An empty tree matches every row.
type Tree []Group

// Empty reports whether the tree applies no filtering
func (t Tree) Empty() bool {
	return len(t) == 0
}

// And combines two trees so that a row must satisfy both. The result is the
// cross product of their groups.
func (t Tree) And(other Tree) Tree {
	if t.Empty() {
		return other
	}
	if other.Empty() {
		return t
	}

	result := make(Tree, 0, len(t)*len(other))
	for _, left := range t {
		for _, right := range other {
			group := make(Group, 0, len(left)+len(right))
			group = append(group, left...)
			group = append(group, right...)
			result = append(result, group)
		}
	}
	return result
}

// Fields returns the distinct field names referenced by the tree, sorted
func (t Tree) Fields() []string {
	seen := make(map[string]bool)
	for _, group := range t {
		for _, cond := range group {
			seen[cond.Field] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Equal reports whether two trees are structurally identical
func (t Tree) Equal(other Tree) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if len(t[i]) != len(other[i]) {
			return false
		}
		for j := range t[i] {
			if !t[i][j].Equal(other[i][j]) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether two conditions are identical
func (c Condition) Equal(other Condition) bool {
	return c.Field == other.Field &&
		c.Operator == other.Operator &&
		c.Negate == other.Negate &&
		operandEqual(c.Operand, other.Operand)
}

func operandEqual(a, b interface{}) bool {
	al, aList := a.([]interface{})
	bl, bList := b.([]interface{})
	if aList || bList {
		if len(al) != len(bl) || aList != bList {
			return false
		}
		for i := range al {
			if !operandEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

// normalize sorts the conditions of every group and collapses the tree when a
// group is empty, since an empty AND-group matches every row.
func (t Tree) normalize() Tree {
	if len(t) == 0 {
		return nil
	}
	out := make(Tree, 0, len(t))
	for _, group := range t {
		if len(group) == 0 {
			return nil
		}
		g := append(Group(nil), group...)
		sort.SliceStable(g, func(i, j int) bool {
			return conditionLess(g[i], g[j])
		})
		out = append(out, g)
	}
	return out
}

func conditionLess(a, b Condition) bool {
	if a.Field != b.Field {
		return a.Field < b.Field
	}
	if a.Operator != b.Operator {
		return a.Operator < b.Operator
	}
	if a.Negate != b.Negate {
		return !a.Negate
	}
	return fmt.Sprint(a.Operand) < fmt.Sprint(b.Operand)
}

// canonicalCondition validates a condition against field metadata and coerces
// its operand to the field type.
func canonicalCondition(entity *schema.Entity, cond Condition) (Condition, error) {
	field, err := filterableField(entity, cond.Field)
	if err != nil {
		return Condition{}, err
	}

	op, err := ParseOperator(string(cond.Operator))
	if err != nil {
		return Condition{}, &weberrors.ValidationError{Kind: weberrors.InvalidOperator, Field: cond.Field, Operator: string(cond.Operator), Message: err.Error()}
	}
	cond.Operator = op

	if op == OpLike && field.Type != schema.TypeString {
		return Condition{}, &weberrors.ValidationError{Kind: weberrors.InvalidOperator, Field: cond.Field, Operator: string(op), Message: "LIKE requires a string field"}
	}

	if op == OpNull {
		cond.Operand = nil
		return cond, nil
	}

	operands := operandList(op, cond.Operand)
	min, max := op.Arity()
	if len(operands) < min || (max >= 0 && len(operands) > max) {
		return Condition{}, &weberrors.ValidationError{
			Kind:     weberrors.InvalidOperand,
			Field:    cond.Field,
			Operator: string(op),
			Message:  arityMessage(min, max, len(operands)),
		}
	}

	coerced := make([]interface{}, len(operands))
	for i, raw := range operands {
		v, err := field.Coerce(raw)
		if err != nil {
			return Condition{}, &weberrors.ValidationError{Kind: weberrors.InvalidField, Field: cond.Field, Operator: string(op), Message: err.Error()}
		}
		coerced[i] = v
	}

	if op.IsList() {
		cond.Operand = coerced
	} else {
		cond.Operand = coerced[0]
	}
	return cond, nil
}

func operandList(op Operator, operand interface{}) []interface{} {
	switch v := operand.(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}

func arityMessage(min, max, got int) string {
	switch {
	case min == max:
		return fmt.Sprintf("expected %d operand(s), got %d", min, got)
	case max < 0:
		return fmt.Sprintf("expected at least %d operand(s), got %d", min, got)
	default:
		return fmt.Sprintf("expected %d to %d operands, got %d", min, max, got)
	}
}

func filterableField(entity *schema.Entity, name string) (*schema.Field, error) {
	field, ok := entity.Field(name)
	if !ok {
		return nil, &weberrors.ValidationError{Kind: weberrors.InvalidField, Field: name, Message: "unknown field"}
	}
	if !field.Filterable {
		return nil, &weberrors.ValidationError{Kind: weberrors.InvalidField, Field: name, Message: "field is not filterable"}
	}
	return field, nil
}
