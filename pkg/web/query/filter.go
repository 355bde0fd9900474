package query

import (
	"fmt"
	"strings"
)

// Placeholder selects the bind parameter syntax of a SQL dialect
type Placeholder int

const (
	// Dollar renders $1, $2, ... (PostgreSQL)
	Dollar Placeholder = iota
	// Question renders ? (SQLite, MySQL)
	Question
)

// Params accumulates bind arguments while a statement is rendered
type Params struct {
	style Placeholder
	args  []interface{}
}

// NewParams creates an empty argument list for the given placeholder style
func NewParams(style Placeholder) *Params {
	return &Params{style: style}
}

// Add appends an argument and returns its placeholder
func (p *Params) Add(v interface{}) string {
	p.args = append(p.args, v)
	if p.style == Question {
		return "?"
	}
	return fmt.Sprintf("$%d", len(p.args))
}

// Args returns the accumulated arguments in placeholder order
func (p *Params) Args() []interface{} {
	return p.args
}

// BuildFilterClause generates a SQL WHERE clause from a filter tree.
// Groups are OR'd and conditions within a group AND'd. Columns are
// prefixed with the table name and values are parameterized.
//
// SECURITY NOTE: tableName MUST be a trusted value from the entity
// definition, never from user input. Field names are validated against the
// validFields whitelist before they are rendered as identifiers.
//
// Example:
//
//	tree := Tree{{{Field: "type", Operator: OpIn, Operand: []interface{}{1, 2}}}}
//	clause, err := BuildFilterClause(tree, "posts", []string{"type"}, NewParams(Dollar))
//	// Returns: "WHERE (posts.type IN ($1, $2))"
func BuildFilterClause(tree Tree, tableName string, validFields []string, params *Params) (string, error) {
	if tree.Empty() {
		return "", nil
	}

	if err := ValidateFilterFields(tree, validFields); err != nil {
		return "", err
	}

	groups := make([]string, 0, len(tree))
	for _, group := range tree {
		conditions := make([]string, 0, len(group))
		for _, cond := range group {
			expr, err := renderCondition(cond, column(tableName, cond.Field), params)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, expr)
		}
		groups = append(groups, "("+strings.Join(conditions, " AND ")+")")
	}

	return "WHERE " + strings.Join(groups, " OR "), nil
}

func renderCondition(cond Condition, col string, params *Params) (string, error) {
	var expr string
	switch cond.Operator {
	case OpEQ:
		expr = col + " = " + params.Add(cond.Operand)
	case OpNEQ:
		expr = col + " <> " + params.Add(cond.Operand)
	case OpGT:
		expr = col + " > " + params.Add(cond.Operand)
	case OpGTE:
		expr = col + " >= " + params.Add(cond.Operand)
	case OpLT:
		expr = col + " < " + params.Add(cond.Operand)
	case OpLTE:
		expr = col + " <= " + params.Add(cond.Operand)
	case OpLike:
		expr = col + " LIKE " + params.Add(cond.Operand)
	case OpNull:
		if cond.Negate {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	case OpIn:
		list, ok := cond.Operand.([]interface{})
		if !ok || len(list) == 0 {
			return "", fmt.Errorf("IN on %s requires a non-empty list", cond.Field)
		}
		placeholders := make([]string, len(list))
		for i, v := range list {
			placeholders[i] = params.Add(v)
		}
		expr = col + " IN (" + strings.Join(placeholders, ", ") + ")"
	case OpBetween:
		list, ok := cond.Operand.([]interface{})
		if !ok || len(list) != 2 {
			return "", fmt.Errorf("BETWEEN on %s requires two operands", cond.Field)
		}
		expr = col + " BETWEEN " + params.Add(list[0]) + " AND " + params.Add(list[1])
	default:
		return "", fmt.Errorf("unsupported operator %s", cond.Operator)
	}

	if cond.Negate {
		return "NOT (" + expr + ")", nil
	}
	return expr, nil
}

// ValidateFilterFields checks if all filter fields are in the validFields whitelist.
// Returns an error listing any invalid fields found.
func ValidateFilterFields(tree Tree, validFields []string) error {
	if tree.Empty() {
		return nil
	}

	validSet := make(map[string]bool, len(validFields))
	for _, field := range validFields {
		validSet[field] = true
	}

	var invalidFields []string
	for _, field := range tree.Fields() {
		if !validSet[field] {
			invalidFields = append(invalidFields, field)
		}
	}

	if len(invalidFields) > 0 {
		return fmt.Errorf("invalid filter fields: %s", strings.Join(invalidFields, ", "))
	}

	return nil
}
