// Package errors defines the error taxonomy shared by the condition parser,
// the pagination engine, the route descriptor builder and the generated
// handlers, plus the mapping from each error type to an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Repository sentinels. Storage adapters wrap these so the handlers can
// classify failures without knowing the driver.
var (
	// ErrDuplicate is returned when a create collides with an existing row
	ErrDuplicate = errors.New("duplicate entry")

	// ErrNoRows is returned when a keyed mutation matched no row
	ErrNoRows = errors.New("no rows affected")
)

// ValidationKind classifies request validation failures
type ValidationKind string

const (
	InvalidField      ValidationKind = "INVALID_FIELD"
	MissingField      ValidationKind = "MISSING_FIELD"
	InvalidOperator   ValidationKind = "INVALID_OPERATOR"
	InvalidOperand    ValidationKind = "INVALID_OPERAND"
	InvalidOrder      ValidationKind = "INVALID_ORDER"
	InvalidPagination ValidationKind = "INVALID_PAGINATION"
	InvalidToken      ValidationKind = "INVALID_TOKEN"
	InvalidBody       ValidationKind = "INVALID_BODY"
)

// ValidationError is a recoverable request-time error surfaced as 422
type ValidationError struct {
	Kind     ValidationKind
	Field    string
	Operator string
	Message  string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(e.Kind)))
	if e.Field != "" {
		fmt.Fprintf(&sb, " %q", e.Field)
	}
	if e.Operator != "" {
		fmt.Fprintf(&sb, " (operator %s)", e.Operator)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Validation creates a ValidationError with a formatted message
func Validation(kind ValidationKind, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError is a build-time error that prevents startup
type ConfigurationError struct {
	Entity  string
	Method  string
	Option  string
	Message string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	var parts []string
	if e.Entity != "" {
		parts = append(parts, e.Entity)
	}
	if e.Method != "" {
		parts = append(parts, e.Method)
	}
	if e.Option != "" {
		parts = append(parts, e.Option)
	}
	if len(parts) == 0 {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error [%s]: %s", strings.Join(parts, "."), e.Message)
}

// NotFoundError reports a row that could not be addressed. Malformed
// identifiers surface as 404; rows that are absent or soft-deleted surface
// as 400.
type NotFoundError struct {
	Entity    string
	Key       map[string]interface{}
	Malformed bool
	Reason    string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("%s not found: malformed identifier: %s", e.Entity, e.Reason)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s %v not found: %s", e.Entity, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

// ConflictError reports a duplicate create or a write against a soft-deleted row
type ConflictError struct {
	Entity string
	Key    map[string]interface{}
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("%s %v conflict: %s", e.Entity, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

// Unwrap returns the underlying storage error, if any
func (e *ConflictError) Unwrap() error { return e.Err }

// StatusCode maps an error to the HTTP status the transport should emit
func StatusCode(err error) int {
	var (
		valErr      *ValidationError
		notFoundErr *NotFoundError
		conflictErr *ConflictError
		configErr   *ConfigurationError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFoundErr):
		if notFoundErr.Malformed {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for an error
func Code(err error) string {
	var (
		valErr      *ValidationError
		notFoundErr *NotFoundError
		conflictErr *ConflictError
	)

	switch {
	case errors.As(err, &valErr):
		return string(valErr.Kind)
	case errors.As(err, &notFoundErr):
		return "NOT_FOUND"
	case errors.As(err, &conflictErr):
		return "CONFLICT"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// IsValidation returns true if the error is a ValidationError
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsNotFound returns true if the error is a NotFoundError
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// IsConflict returns true if the error is a ConflictError
func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// IsConfiguration returns true if the error is a ConfigurationError
func IsConfiguration(err error) bool {
	var configErr *ConfigurationError
	return errors.As(err, &configErr)
}
