package crud

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// Constraint violations other than duplicates. Duplicates and missing rows
// map onto the shared errors.ErrDuplicate and errors.ErrNoRows sentinels.
var (
	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// PostgreSQL SQLSTATE codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// ConvertDBError converts driver-specific errors to repository errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return weberrors.ErrNoRows
	}

	// pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if converted := convertCode(pgErr.Code, pgErr.Detail, pgErr.ColumnName); converted != nil {
			return converted
		}
		return err
	}

	// lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if converted := convertCode(string(pqErr.Code), pqErr.Detail, pqErr.Column); converted != nil {
			return converted
		}
		return err
	}

	// mattn/go-sqlite3
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", weberrors.ErrDuplicate, liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, liteErr.Error())
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", ErrCheckViolation, liteErr.Error())
		case sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %s", ErrNotNullViolation, liteErr.Error())
		}
	}

	return err
}

func convertCode(code, detail, column string) error {
	switch code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", weberrors.ErrDuplicate, detail)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", ErrCheckViolation, detail)
	case codeNotNullViolation:
		return fmt.Errorf("%w: column %s", ErrNotNullViolation, column)
	default:
		return nil
	}
}

// IsUniqueViolation returns true if the error is a duplicate key
func IsUniqueViolation(err error) bool {
	return errors.Is(err, weberrors.ErrDuplicate)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
