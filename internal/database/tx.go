package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dukerupert/chorebank/internal/apperr"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so stores can run inside or
// outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrConflict signals that an optimistic guard matched no rows because a
// concurrent writer changed the row first. WithTx retries it.
var ErrConflict = errors.New("write conflict")

const (
	txMaxRetries = 5
	txRetryBase  = 10 * time.Millisecond
)

// WithTx runs fn inside a transaction, committing on success. Busy-database
// and conflict errors roll back and retry with exponential backoff; once the
// retries are spent the error is reported as a concurrency conflict. Any other
// error rolls back and is returned unchanged.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	backoff := retry.WithMaxRetries(txMaxRetries, retry.WithJitterPercent(20, retry.NewExponential(txRetryBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := runTx(ctx, db, fn)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && retryable(err) {
		return apperr.Wrap(apperr.KindConcurrencyConflict, err, "transaction retries exhausted")
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	if apperr.KindOf(err) != "" {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint
// failure.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "FOREIGN KEY")
	}
	return false
}
