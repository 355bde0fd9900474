// Package crud implements the generated endpoints' repository boundary on
// top of database/sql. Statements are built from the normalized filter and
// order structures and always use bound parameters.
package crud

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Dialect selects placeholder style and driver-specific behaviour
type Dialect int

const (
	// Postgres uses $n placeholders
	Postgres Dialect = iota
	// SQLite uses ? placeholders
	SQLite
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// DialectFor maps a database/sql driver name onto its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Placeholder returns the bind parameter style of the dialect
func (d Dialect) Placeholder() query.Placeholder {
	if d == SQLite {
		return query.Question
	}
	return query.Dollar
}

// TransactionManager runs a function inside a transaction
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository stores the rows of one entity in a SQL table
type Repository struct {
	entity    *schema.Entity
	db        *sql.DB
	dialect   Dialect
	txManager TransactionManager

	// Now supplies timestamps for soft deletes and audit fields
	Now func() time.Time
}

// NewRepository creates a repository for the entity. txManager may be nil,
// in which case multi-row writes use a plain database transaction.
func NewRepository(entity *schema.Entity, db *sql.DB, dialect Dialect, txManager TransactionManager) *Repository {
	return &Repository{
		entity:    entity,
		db:        db,
		dialect:   dialect,
		txManager: txManager,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Entity returns the entity stored by the repository
func (r *Repository) Entity() *schema.Entity {
	return r.entity
}

// DB returns the database connection
func (r *Repository) DB() *sql.DB {
	return r.db
}

// withTransaction runs fn in a transaction through the manager when one is
// configured
func (r *Repository) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.txManager != nil {
		return r.txManager.WithTransaction(ctx, fn)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) table() string {
	return r.entity.Table
}

// columnName is the column storing a field
func columnName(field string) string {
	return query.ToSnakeCase(field)
}

// selectList renders every entity column, qualified by the table
func (r *Repository) selectList() string {
	cols := make([]string, len(r.entity.Fields))
	for i, f := range r.entity.Fields {
		cols[i] = r.table() + "." + columnName(f.Name)
	}
	return strings.Join(cols, ", ")
}

// returningList renders every entity column for RETURNING clauses
func (r *Repository) returningList() string {
	cols := make([]string, len(r.entity.Fields))
	for i, f := range r.entity.Fields {
		cols[i] = columnName(f.Name)
	}
	return strings.Join(cols, ", ")
}

// where renders the filter, excluding soft-deleted rows unless asked
func (r *Repository) where(filter query.Tree, withDeleted bool, params *query.Params) (string, error) {
	if !withDeleted && r.entity.SupportsSoftDelete() {
		filter = filter.And(query.Tree{{{Field: r.entity.DeletedAtField, Operator: query.OpNull}}})
	}
	return query.BuildFilterClause(filter, r.table(), r.entity.Columns(), params)
}

// keyWhere renders the predicate addressing one row
func (r *Repository) keyWhere(key schema.Key, extra query.Group, params *query.Params) (string, error) {
	group := make(query.Group, 0, len(key)+len(extra))
	for _, name := range r.entity.Identity() {
		v, ok := key[name]
		if !ok || v == nil {
			return "", fmt.Errorf("key is missing %s", name)
		}
		group = append(group, query.Condition{Field: name, Operator: query.OpEQ, Operand: v})
	}
	group = append(group, extra...)
	return query.BuildFilterClause(query.Tree{group}, r.table(), r.entity.Columns(), params)
}
