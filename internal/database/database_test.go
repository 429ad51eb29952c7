package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dukerupert/chorebank/internal/apperr"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{
		"families", "children", "chores", "chore_assignments", "points_ledger",
		"rewards", "reward_eligibility", "pending_rewards", "coupons", "coupon_usages",
		"subscription_events",
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenFileEnablesForeignKeys(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	_, err = db.Exec(`INSERT INTO children (family_id, name) VALUES (12345, 'orphan')`)
	if !IsForeignKeyViolation(err) {
		t.Errorf("orphan insert err = %v, want foreign key violation", err)
	}
}

func TestWithTxCommitAndRollback(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO families (name) VALUES ('kept')`)
		return err
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO families (name) VALUES ('dropped')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM families`).Scan(&n)
	if n != 1 {
		t.Errorf("families = %d, want 1", n)
	}
}

func TestWithTxRetriesConflicts(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	calls := 0
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want success on third attempt", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithTxExhaustedIsConcurrencyConflict(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	calls := 0
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		calls++
		return ErrConflict
	})
	if !errors.Is(err, apperr.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want concurrency conflict", err)
	}
	if calls != txMaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, txMaxRetries+1)
	}
}

func TestWithTxDoesNotRetryDomainErrors(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	calls := 0
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		calls++
		return apperr.InsufficientBalance("balance 5, cost 10")
	})
	if apperr.KindOf(err) != apperr.KindInsufficientBalance {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
