package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

// LedgerStore reads and appends points ledger rows. There is no update or
// delete: the table's triggers reject both.
type LedgerStore struct {
	db database.DBTX
}

func NewLedgerStore(db database.DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) WithTx(tx *sql.Tx) *LedgerStore {
	return &LedgerStore{db: tx}
}

func scanEntry(sc scanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var typ string
	var choreID, rewardID, redemptionID sql.NullInt64

	err := sc.Scan(
		&e.ID, &e.FamilyID, &e.ChildID, &typ, &e.Amount, &e.Reason,
		&choreID, &rewardID, &redemptionID,
		&e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = model.EntryType(typ)
	e.ChoreID = int64Ptr(choreID)
	e.RewardID = int64Ptr(rewardID)
	e.RedemptionID = int64Ptr(redemptionID)
	return &e, nil
}

const entryCols = `id, family_id, child_id, type, amount, reason, chore_id, reward_id, redemption_id,
	balance_before, balance_after, created_at`

// Insert writes e and returns it with its id set.
func (s *LedgerStore) Insert(ctx context.Context, e model.LedgerEntry) (*model.LedgerEntry, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO points_ledger
			(family_id, child_id, type, amount, reason, chore_id, reward_id, redemption_id,
			 balance_before, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FamilyID, e.ChildID, string(e.Type), e.Amount, e.Reason,
		nullInt64(e.ChoreID), nullInt64(e.RewardID), nullInt64(e.RedemptionID),
		e.BalanceBefore, e.BalanceAfter, e.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return &e, nil
}

func (s *LedgerStore) GetByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM points_ledger WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// ListByChild returns the child's entries, newest first. limit <= 0 returns
// every entry.
func (s *LedgerStore) ListByChild(ctx context.Context, childID int64, limit int) ([]model.LedgerEntry, error) {
	query := `SELECT ` + entryCols + ` FROM points_ledger WHERE child_id = ? ORDER BY id DESC`
	args := []any{childID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Sum returns the signed total of every entry for the child.
func (s *LedgerStore) Sum(ctx context.Context, childID int64) (int, error) {
	var sum int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM points_ledger WHERE child_id = ?`,
		childID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// Drift lists children in the family whose cached balance disagrees with
// the sum of their ledger entries.
func (s *LedgerStore) Drift(ctx context.Context, familyID int64) ([]model.BalanceDrift, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.balance, COALESCE(SUM(l.amount), 0) AS ledger_sum
		 FROM children c
		 LEFT JOIN points_ledger l ON l.child_id = c.id
		 WHERE c.family_id = ?
		 GROUP BY c.id, c.name, c.balance
		 HAVING c.balance != ledger_sum
		 ORDER BY c.id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger drift: %w", err)
	}
	defer rows.Close()

	var drifts []model.BalanceDrift
	for rows.Next() {
		var d model.BalanceDrift
		if err := rows.Scan(&d.ChildID, &d.ChildName, &d.Cached, &d.Ledger); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}
