package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by lookups when no record matches.
var ErrNotFound = errors.New("store: not found")

// ConflictError reports that a concurrent writer won the race for the same
// tax ID. The upsert is retried against the now-existing row.
type ConflictError struct {
	TaxID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: concurrent upsert for tax id %s", e.TaxID)
}

// ConstraintError reports a database constraint violation other than the
// tax-id uniqueness race. It is not retryable.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("store: constraint %s violated: %v", e.Constraint, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a retryable upsert collision.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// classifyPgError maps a PostgreSQL error to the store error taxonomy. A
// unique violation on the companies tax-id index means a concurrent insert
// won; any other integrity violation (class 23) is a hard constraint error.
func classifyPgError(err error, taxID string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Code == uniqueViolation && pgErr.ConstraintName == "companies_tax_id_key" {
		return &ConflictError{TaxID: taxID}
	}
	if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
		return &ConstraintError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}
