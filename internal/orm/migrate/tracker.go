package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// TrackingTable stores the applied migrations
const TrackingTable = "crudgen_migrations"

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Tracker manages migration history in the database
type Tracker struct {
	db      *sql.DB
	dialect crud.Dialect
}

// NewTracker creates a new migration tracker
func NewTracker(db *sql.DB, dialect crud.Dialect) *Tracker {
	return &Tracker{db: db, dialect: dialect}
}

// Initialize ensures the tracking table exists
func (t *Tracker) Initialize(ctx context.Context) error {
	timestamp := "TIMESTAMPTZ"
	if t.dialect == crud.SQLite {
		timestamp = "TIMESTAMP"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	down_sql TEXT,
	applied_at %s NOT NULL
)`, TrackingTable, timestamp)

	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	return nil
}

// GetApplied returns all applied migrations in the order they were applied
func (t *Tracker) GetApplied(ctx context.Context) ([]*Migration, error) {
	stmt := fmt.Sprintf("SELECT name, checksum, down_sql, applied_at FROM %s ORDER BY applied_at ASC, name ASC", TrackingTable)
	rows, err := t.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*Migration
	for rows.Next() {
		m := &Migration{Applied: true}
		var down sql.NullString
		if err := rows.Scan(&m.Name, &m.Checksum, &down, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		m.Down = down.String
		migrations = append(migrations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return migrations, nil
}

// Record marks a migration as applied
func (t *Tracker) Record(ctx context.Context, q execer, m *Migration, at time.Time) error {
	params := query.NewParams(t.dialect.Placeholder())
	stmt := fmt.Sprintf("INSERT INTO %s (name, checksum, down_sql, applied_at) VALUES (%s, %s, %s, %s)",
		TrackingTable, params.Add(m.Name), params.Add(m.Checksum), params.Add(m.Down), params.Add(at.UTC()))

	if _, err := q.ExecContext(ctx, stmt, params.Args()...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// Remove deletes a migration record
func (t *Tracker) Remove(ctx context.Context, q execer, name string) error {
	params := query.NewParams(t.dialect.Placeholder())
	stmt := fmt.Sprintf("DELETE FROM %s WHERE name = %s", TrackingTable, params.Add(name))

	result, err := q.ExecContext(ctx, stmt, params.Args()...)
	if err != nil {
		return fmt.Errorf("failed to remove migration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove migration: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("migration %s is not applied", name)
	}
	return nil
}
