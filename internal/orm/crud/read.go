package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Find returns the rows matching q.Where() in q.Order
func (r *Repository) Find(ctx context.Context, q pagination.Query) ([]schema.Row, error) {
	params := query.NewParams(r.dialect.Placeholder())

	// 1. Filter, including the keyset predicate of cursor pages
	where, err := r.where(q.Where(), q.WithDeleted, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	// 2. Order
	orderBy, err := query.BuildSortClause(q.Order, r.table(), r.entity.Columns())
	if err != nil {
		return nil, fmt.Errorf("failed to build order: %w", err)
	}

	// 3. Assemble
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", r.selectList(), r.table())
	for _, clause := range []string{where, orderBy} {
		if clause != "" {
			sb.WriteString(" ")
			sb.WriteString(clause)
		}
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + params.Add(q.Limit))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && r.dialect == SQLite {
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET " + params.Add(q.Offset))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), params.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table(), ConvertDBError(err))
	}
	defer rows.Close()

	results, err := scanRows(rows, r.entity)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.table(), err)
	}
	return results, nil
}

// Count returns the number of rows matching the filter
func (r *Repository) Count(ctx context.Context, filter query.Tree, withDeleted bool) (int64, error) {
	params := query.NewParams(r.dialect.Placeholder())

	where, err := r.where(filter, withDeleted, params)
	if err != nil {
		return 0, fmt.Errorf("failed to build filter: %w", err)
	}

	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table())
	if where != "" {
		stmt += " " + where
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, stmt, params.Args()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.table(), ConvertDBError(err))
	}
	return n, nil
}
