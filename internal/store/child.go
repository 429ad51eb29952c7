package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

type ChildStore struct {
	db database.DBTX
}

func NewChildStore(db database.DBTX) *ChildStore {
	return &ChildStore{db: db}
}

func (s *ChildStore) WithTx(tx *sql.Tx) *ChildStore {
	return &ChildStore{db: tx}
}

func scanChild(sc scanner) (*model.Child, error) {
	var c model.Child
	err := sc.Scan(
		&c.ID, &c.FamilyID, &c.Name, &c.HasPIN, &c.Balance,
		&c.LifetimePoints, &c.XP, &c.LifetimeXP, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const childCols = `id, family_id, name, pin IS NOT NULL, balance, lifetime_points, xp, lifetime_xp, created_at, updated_at`

func (s *ChildStore) Create(ctx context.Context, familyID int64, name string) (*model.Child, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO children (family_id, name) VALUES (?, ?)`,
		familyID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ChildStore) GetByID(ctx context.Context, id int64) (*model.Child, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+childCols+` FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

// GetInFamily returns the child only if it belongs to familyID.
func (s *ChildStore) GetInFamily(ctx context.Context, familyID, id int64) (*model.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+childCols+` FROM children WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child in family: %w", err)
	}
	return c, nil
}

func (s *ChildStore) ListByFamily(ctx context.Context, familyID int64) ([]model.Child, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+childCols+` FROM children WHERE family_id = ? ORDER BY name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []model.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

// CountInFamily returns how many of ids belong to familyID.
func (s *ChildStore) CountInFamily(ctx context.Context, familyID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, familyID)
	for _, id := range ids {
		args = append(args, id)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT id) FROM children WHERE family_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count children in family: %w", err)
	}
	return n, nil
}

func (s *ChildStore) NameExists(ctx context.Context, familyID int64, name string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM children WHERE family_id = ? AND name = ? COLLATE NOCASE AND id != ?`,
		familyID, name, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check child name: %w", err)
	}
	return n > 0, nil
}

func (s *ChildStore) Rename(ctx context.Context, id int64, name string) (*model.Child, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE children SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename child: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes the child. Ledger rows, assignments and pending rewards
// cascade.
func (s *ChildStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM children WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	return nil
}

func (s *ChildStore) SetPIN(ctx context.Context, id int64, hashedPIN string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE children SET pin = ? WHERE id = ?`, hashedPIN, id)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

func (s *ChildStore) ClearPIN(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE children SET pin = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	return nil
}

// GetPINHash returns the stored bcrypt hash, or "" when no PIN is set.
func (s *ChildStore) GetPINHash(ctx context.Context, id int64) (string, error) {
	var pin sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT pin FROM children WHERE id = ?`, id).Scan(&pin)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pin: %w", err)
	}
	return pin.String, nil
}

// Balance reads the cached balance. It returns sql.ErrNoRows when the child
// does not exist.
func (s *ChildStore) Balance(ctx context.Context, id int64) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM children WHERE id = ?`, id).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ApplyBalance moves the cached balance from before to after and grows the
// lifetime counters by lifetimeDelta. The update only matches when the stored
// balance still equals before; otherwise database.ErrConflict is returned.
// Only the ledger may call this.
func (s *ChildStore) ApplyBalance(ctx context.Context, id int64, before, after, lifetimeDelta int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE children
		 SET balance = ?,
		     lifetime_points = lifetime_points + ?,
		     xp = xp + ?,
		     lifetime_xp = lifetime_xp + ?,
		     updated_at = ?
		 WHERE id = ? AND balance = ?`,
		after, lifetimeDelta, lifetimeDelta, lifetimeDelta, time.Now().UTC(), id, before,
	)
	if err != nil {
		return fmt.Errorf("apply balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrConflict
	}
	return nil
}
