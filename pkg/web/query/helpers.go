package query

import (
	"sort"
	"strings"
)

// ToSnakeCase maps a field name to its column name: createdAt -> created_at.
// Only ASCII capitals start a new word, so acronyms split per letter.
func ToSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// column renders a table-qualified column name for a field
func column(tableName, field string) string {
	if tableName == "" {
		return ToSnakeCase(field)
	}
	return tableName + "." + ToSnakeCase(field)
}

func sortKeys(keys []string) {
	sort.Strings(keys)
}
