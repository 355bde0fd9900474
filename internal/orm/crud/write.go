package crud

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Create inserts a row and returns it as stored
func (r *Repository) Create(ctx context.Context, row schema.Row) (schema.Row, error) {
	return r.insert(ctx, r.db, row)
}

// CreateMany inserts every row in one transaction. Either all rows are
// created or none are.
func (r *Repository) CreateMany(ctx context.Context, rows []schema.Row) ([]schema.Row, error) {
	created := make([]schema.Row, 0, len(rows))
	err := r.withTransaction(ctx, func(tx *sql.Tx) error {
		for i, row := range rows {
			inserted, err := r.insert(ctx, tx, row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			created = append(created, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// insert writes one row through q
func (r *Repository) insert(ctx context.Context, q queryer, data schema.Row) (schema.Row, error) {
	record, err := r.entity.Normalize(data)
	if err != nil {
		return nil, err
	}

	// 1. Auto-populate generated UUIDs and audit timestamps
	now := r.Now()
	for _, f := range r.entity.Fields {
		if _, ok := record[f.Name]; ok {
			continue
		}
		if f.Generated && f.Type == schema.TypeUUID {
			record[f.Name] = uuid.NewString()
		}
	}
	for _, name := range []string{r.entity.CreatedAtField, r.entity.UpdatedAtField} {
		if name == "" {
			continue
		}
		if _, ok := r.entity.Field(name); ok {
			record[name] = now
		}
	}

	// 2. Build INSERT in field declaration order
	params := query.NewParams(r.dialect.Placeholder())
	var columns, placeholders []string
	for _, f := range r.entity.Fields {
		v, ok := record[f.Name]
		if !ok {
			continue
		}
		columns = append(columns, columnName(f.Name))
		placeholders = append(placeholders, params.Add(v))
	}

	var stmt string
	if len(columns) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", r.table(), r.returningList())
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			r.table(), strings.Join(columns, ", "), strings.Join(placeholders, ", "), r.returningList())
	}

	rows, err := q.QueryContext(ctx, stmt, params.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", ConvertDBError(err))
	}
	inserted, err := scanOne(rows, r.entity)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", ConvertDBError(err))
	}
	return inserted, nil
}

// Update applies a partial update to the row identified by key
func (r *Repository) Update(ctx context.Context, key schema.Key, patch schema.Row) (schema.Row, error) {
	record, err := r.entity.Normalize(patch)
	if err != nil {
		return nil, err
	}
	if name := r.entity.UpdatedAtField; name != "" {
		if _, ok := r.entity.Field(name); ok {
			record[name] = r.Now()
		}
	}
	return r.set(ctx, key, record, nil)
}

// SoftDelete stamps the deletion timestamp of a live row
func (r *Repository) SoftDelete(ctx context.Context, key schema.Key) (schema.Row, error) {
	if !r.entity.SupportsSoftDelete() {
		return nil, fmt.Errorf("%s does not support soft delete", r.entity.Name)
	}
	live := query.Group{{Field: r.entity.DeletedAtField, Operator: query.OpNull}}
	return r.set(ctx, key, schema.Row{r.entity.DeletedAtField: r.Now()}, live)
}

// Restore clears the deletion timestamp of a soft-deleted row
func (r *Repository) Restore(ctx context.Context, key schema.Key) (schema.Row, error) {
	if !r.entity.SupportsSoftDelete() {
		return nil, fmt.Errorf("%s does not support soft delete", r.entity.Name)
	}
	deleted := query.Group{{Field: r.entity.DeletedAtField, Operator: query.OpNull, Negate: true}}
	return r.set(ctx, key, schema.Row{r.entity.DeletedAtField: nil}, deleted)
}

// set runs UPDATE ... RETURNING for one row. An empty assignment list
// reads the row instead.
func (r *Repository) set(ctx context.Context, key schema.Key, record schema.Row, extra query.Group) (schema.Row, error) {
	params := query.NewParams(r.dialect.Placeholder())

	var assignments []string
	for _, f := range r.entity.Fields {
		v, ok := record[f.Name]
		if !ok {
			continue
		}
		assignments = append(assignments, columnName(f.Name)+" = "+params.Add(v))
	}

	if len(assignments) == 0 {
		return r.findByKey(ctx, key)
	}

	where, err := r.keyWhere(key, extra, params)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s %s RETURNING %s",
		r.table(), strings.Join(assignments, ", "), where, r.returningList())

	rows, err := r.db.QueryContext(ctx, stmt, params.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", ConvertDBError(err))
	}
	updated, err := scanOne(rows, r.entity)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", ConvertDBError(err))
	}
	return updated, nil
}

// HardDelete removes the row identified by key
func (r *Repository) HardDelete(ctx context.Context, key schema.Key) error {
	params := query.NewParams(r.dialect.Placeholder())
	where, err := r.keyWhere(key, nil, params)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", r.table(), where), params.Args()...)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", ConvertDBError(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to delete record: %w", ConvertDBError(sql.ErrNoRows))
	}
	return nil
}

// findByKey reads one row regardless of its deletion state
func (r *Repository) findByKey(ctx context.Context, key schema.Key) (schema.Row, error) {
	params := query.NewParams(r.dialect.Placeholder())
	where, err := r.keyWhere(key, nil, params)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s %s", r.selectList(), r.table(), where)
	rows, err := r.db.QueryContext(ctx, stmt, params.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", ConvertDBError(err))
	}
	row, err := scanOne(rows, r.entity)
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", ConvertDBError(err))
	}
	return row, nil
}
