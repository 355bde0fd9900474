// Package transaction runs repository work inside database transactions,
// retrying transient conflicts when configured to.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrDeadlock is returned when a transaction keeps failing with a
	// transient conflict after every retry
	ErrDeadlock = errors.New("deadlock detected")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted IsolationLevel = iota
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ParseIsolationLevel parses "read committed", "repeatable read" or
// "serializable"
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "", "read committed", "read_committed":
		return ReadCommitted, nil
	case "repeatable read", "repeatable_read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return 0, fmt.Errorf("unknown isolation level: %s", s)
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions. Read committed
// returns nil so that drivers without isolation support keep their default.
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// Manager manages database transactions
type Manager struct {
	db    *sql.DB
	level IsolationLevel
	retry *RetryConfig
}

// Option configures a Manager
type Option func(*Manager)

// WithIsolation sets the isolation level of every transaction
func WithIsolation(level IsolationLevel) Option {
	return func(m *Manager) { m.level = level }
}

// WithRetryConfig retries transactions that fail with a deadlock or a
// serialization failure
func WithRetryConfig(config *RetryConfig) Option {
	return func(m *Manager) { m.retry = config }
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, level: ReadCommitted}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTransaction executes a function within a transaction.
// Automatically commits on success or rolls back on error.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if m.retry != nil {
		return m.withRetry(ctx, fn)
	}
	return m.run(ctx, fn)
}

func (m *Manager) run(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := m.db.BeginTx(ctx, m.level.ToSQLOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
