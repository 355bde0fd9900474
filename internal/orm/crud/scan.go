package crud

import (
	"database/sql"
	"fmt"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
)

// scanRows scans result rows whose columns follow the entity field order
// and normalizes driver values to the canonical field types
func scanRows(rows *sql.Rows, entity *schema.Entity) ([]schema.Row, error) {
	var results []schema.Row
	for rows.Next() {
		values := make([]interface{}, len(entity.Fields))
		valuePtrs := make([]interface{}, len(entity.Fields))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(schema.Row, len(entity.Fields))
		for i, f := range entity.Fields {
			record[f.Name] = values[i]
		}

		normalized, err := entity.Normalize(record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", entity.Name, err)
		}
		results = append(results, normalized)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// scanOne returns the single row of a RETURNING statement, or
// sql.ErrNoRows when the statement matched nothing
func scanOne(rows *sql.Rows, entity *schema.Entity) (schema.Row, error) {
	defer rows.Close()

	results, err := scanRows(rows, entity)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, sql.ErrNoRows
	}
	return results[0], nil
}
