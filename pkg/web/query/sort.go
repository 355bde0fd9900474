package query

import (
	"fmt"
	"strings"
)

// BuildSortClause generates an SQL ORDER BY clause from an OrderSpec.
// All field names are prefixed with the table name.
// Returns empty string if the order is empty.
//
// SECURITY NOTE: tableName MUST be a trusted value from the entity
// definition, never from user input. Field names are validated against
// validFields.
//
// Example: OrderSpec{{"created_at", DESC}, {"title", ASC}} -> "ORDER BY posts.created_at DESC, posts.title ASC"
func BuildSortClause(order OrderSpec, tableName string, validFields []string) (string, error) {
	if len(order) == 0 {
		return "", nil
	}

	if err := ValidateSortFields(order, validFields); err != nil {
		return "", err
	}

	sortExpressions := make([]string, 0, len(order))
	for _, item := range order {
		direction := "ASC"
		if item.Direction == DESC {
			direction = "DESC"
		}
		sortExpressions = append(sortExpressions, fmt.Sprintf("%s %s", column(tableName, item.Field), direction))
	}

	return "ORDER BY " + strings.Join(sortExpressions, ", "), nil
}

// ValidateSortFields checks that all sort fields exist in the validFields list.
// Returns an error listing any invalid fields.
func ValidateSortFields(order OrderSpec, validFields []string) error {
	validFieldsMap := make(map[string]bool, len(validFields))
	for _, field := range validFields {
		validFieldsMap[field] = true
	}

	var invalidFields []string
	for _, item := range order {
		if !validFieldsMap[item.Field] {
			invalidFields = append(invalidFields, item.Field)
		}
	}

	if len(invalidFields) > 0 {
		return fmt.Errorf("invalid sort fields: %s", strings.Join(invalidFields, ", "))
	}

	return nil
}
