package memory

import (
	"regexp"
	"strings"
	"sync"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Matches reports whether a row satisfies a filter tree. Comparisons
// against a null value are false, negated or not, as in SQL.
func Matches(tree query.Tree, row schema.Row) bool {
	if tree.Empty() {
		return true
	}
	for _, group := range tree {
		if matchesGroup(group, row) {
			return true
		}
	}
	return false
}

func matchesGroup(group query.Group, row schema.Row) bool {
	for _, cond := range group {
		if !matchesCondition(cond, row[cond.Field]) {
			return false
		}
	}
	return true
}

func matchesCondition(cond query.Condition, value interface{}) bool {
	if cond.Operator == query.OpNull {
		return (value == nil) != cond.Negate
	}
	if value == nil {
		return false
	}

	var ok bool
	switch cond.Operator {
	case query.OpEQ:
		ok = schema.Equal(value, cond.Operand)
	case query.OpNEQ:
		ok = !schema.Equal(value, cond.Operand)
	case query.OpGT:
		ok = schema.Compare(value, cond.Operand) > 0
	case query.OpGTE:
		ok = schema.Compare(value, cond.Operand) >= 0
	case query.OpLT:
		ok = schema.Compare(value, cond.Operand) < 0
	case query.OpLTE:
		ok = schema.Compare(value, cond.Operand) <= 0
	case query.OpLike:
		s, isString := value.(string)
		pattern, isPattern := cond.Operand.(string)
		ok = isString && isPattern && likePattern(pattern).MatchString(s)
	case query.OpIn:
		list, _ := cond.Operand.([]interface{})
		for _, v := range list {
			if schema.Equal(value, v) {
				ok = true
				break
			}
		}
	case query.OpBetween:
		list, _ := cond.Operand.([]interface{})
		ok = len(list) == 2 &&
			schema.Compare(value, list[0]) >= 0 &&
			schema.Compare(value, list[1]) <= 0
	}
	return ok != cond.Negate
}

var likeCache sync.Map

// likePattern compiles a SQL LIKE pattern (% and _ wildcards) to an
// anchored regular expression
func likePattern(pattern string) *regexp.Regexp {
	if re, ok := likeCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}

	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re := regexp.MustCompile(sb.String())
	likeCache.Store(pattern, re)
	return re
}
