package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	// DefaultMaxRetries is the default number of attempts for transient conflicts
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// withRetry runs the transaction until it succeeds, fails with a
// non-retryable error, or runs out of attempts
func (m *Manager) withRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < m.retry.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.run(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		// Exponential backoff: baseBackoff * 2^attempt
		backoff := m.retry.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, m.retry.MaxRetries, lastErr)
}

// PostgreSQL SQLSTATE codes for transient conflicts
const (
	codeDeadlock      = "40P01"
	codeSerialization = "40001"
)

// IsRetryableError checks if an error is a deadlock or a serialization
// failure
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeDeadlock || pgErr.Code == codeSerialization
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == codeDeadlock || string(pqErr.Code) == codeSerialization
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"deadlock detected", "database is locked", "could not serialize access"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
