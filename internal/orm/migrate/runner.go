package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/transaction"
)

// Runner executes migrations with transaction support
type Runner struct {
	db      *sql.DB
	tracker *Tracker
	tx      crud.TransactionManager
	logger  *zap.Logger

	// Now stamps applied migrations
	Now func() time.Time
}

// NewRunner creates a new migration runner. txManager and logger may be nil.
func NewRunner(db *sql.DB, dialect crud.Dialect, txManager crud.TransactionManager, logger *zap.Logger) *Runner {
	if txManager == nil {
		txManager = transaction.NewManager(db)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:      db,
		tracker: NewTracker(db, dialect),
		tx:      txManager,
		logger:  logger,
		Now:     time.Now,
	}
}

// Status represents the current state of migrations
type Status struct {
	Applied []*Migration
	Pending []*Migration
	// Changed lists applied migrations whose SQL no longer matches
	Changed []*Migration
}

// Summary returns a human-readable summary
func (s *Status) Summary() string {
	return fmt.Sprintf("%d applied, %d pending, %d changed", len(s.Applied), len(s.Pending), len(s.Changed))
}

// Status compares the planned migrations with the tracking table
func (r *Runner) Status(ctx context.Context, planned []*Migration) (*Status, error) {
	if err := r.tracker.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := r.tracker.GetApplied(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Migration, len(applied))
	for _, m := range applied {
		byName[m.Name] = m
	}

	status := &Status{Applied: applied}
	for _, m := range planned {
		done, ok := byName[m.Name]
		switch {
		case !ok:
			status.Pending = append(status.Pending, m)
		case done.Checksum != m.Checksum:
			status.Changed = append(status.Changed, m)
		}
	}
	return status, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns the applied names. Changed migrations are reported and skipped.
func (r *Runner) Up(ctx context.Context, planned []*Migration) ([]string, error) {
	status, err := r.Status(ctx, planned)
	if err != nil {
		return nil, err
	}
	for _, m := range status.Changed {
		r.logger.Warn("Migration changed after it was applied", zap.String("migration", m.Name))
	}
	if len(status.Pending) == 0 {
		r.logger.Info("No pending migrations")
		return nil, nil
	}

	var names []string
	for _, m := range status.Pending {
		start := time.Now()
		err := r.tx.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			return r.tracker.Record(ctx, tx, m, r.Now())
		})
		if err != nil {
			return names, fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		names = append(names, m.Name)
		r.logger.Info("Applied migration",
			zap.String("migration", m.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return names, nil
}

// Down rolls back one applied migration using the SQL recorded with it
func (r *Runner) Down(ctx context.Context, name string) error {
	if err := r.tracker.Initialize(ctx); err != nil {
		return err
	}
	applied, err := r.tracker.GetApplied(ctx)
	if err != nil {
		return err
	}

	var target *Migration
	for _, m := range applied {
		if m.Name == name {
			target = m
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s is not applied", name)
	}
	if target.Down == "" {
		return fmt.Errorf("migration %s has no down migration", name)
	}

	err = r.tx.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, target.Down); err != nil {
			return fmt.Errorf("failed to execute rollback SQL: %w", err)
		}
		return r.tracker.Remove(ctx, tx, name)
	})
	if err != nil {
		return fmt.Errorf("rollback of %s failed: %w", name, err)
	}

	r.logger.Info("Rolled back migration", zap.String("migration", name))
	return nil
}
