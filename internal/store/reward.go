package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

type RewardStore struct {
	db database.DBTX
}

func NewRewardStore(db database.DBTX) *RewardStore {
	return &RewardStore{db: db}
}

func (s *RewardStore) WithTx(tx *sql.Tx) *RewardStore {
	return &RewardStore{db: tx}
}

// --- Reward methods ---

func scanReward(sc scanner) (*model.Reward, error) {
	var r model.Reward
	var category string
	var active int

	err := sc.Scan(&r.ID, &r.FamilyID, &r.Name, &r.Description, &r.Cost, &category, &active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Category = model.RewardCategory(category)
	r.Active = active != 0
	return &r, nil
}

const rewardCols = `id, family_id, name, description, cost, category, active, created_at, updated_at`

func (s *RewardStore) Create(ctx context.Context, r model.Reward) (*model.Reward, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (family_id, name, description, cost, category, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FamilyID, r.Name, r.Description, r.Cost, string(r.Category), boolInt(r.Active), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := s.setEligibility(ctx, id, r.EligibleChildren); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *RewardStore) GetByID(ctx context.Context, id int64) (*model.Reward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	if r.EligibleChildren, err = s.eligibility(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// GetInFamily returns the reward only if it belongs to familyID.
func (s *RewardStore) GetInFamily(ctx context.Context, familyID, id int64) (*model.Reward, error) {
	r, err := s.GetByID(ctx, id)
	if err != nil || r == nil {
		return nil, err
	}
	if r.FamilyID != familyID {
		return nil, nil
	}
	return r, nil
}

// List returns the family's rewards, active first, then by name.
func (s *RewardStore) List(ctx context.Context, familyID int64, activeOnly bool) ([]model.Reward, error) {
	query := `SELECT ` + rewardCols + ` FROM rewards WHERE family_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY active DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rewards: %w", err)
	}

	for i := range rewards {
		if rewards[i].EligibleChildren, err = s.eligibility(ctx, rewards[i].ID); err != nil {
			return nil, err
		}
	}
	return rewards, nil
}

func (s *RewardStore) Update(ctx context.Context, r model.Reward) (*model.Reward, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET name = ?, description = ?, cost = ?, category = ?, active = ?, updated_at = ? WHERE id = ?`,
		r.Name, r.Description, r.Cost, string(r.Category), boolInt(r.Active), time.Now().UTC(), r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	if err := s.setEligibility(ctx, r.ID, r.EligibleChildren); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, r.ID)
}

func (s *RewardStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}

func (s *RewardStore) setEligibility(ctx context.Context, rewardID int64, childIDs []int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reward_eligibility WHERE reward_id = ?`, rewardID); err != nil {
		return fmt.Errorf("clear eligibility: %w", err)
	}
	for _, childID := range childIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO reward_eligibility (reward_id, child_id) VALUES (?, ?)`,
			rewardID, childID,
		); err != nil {
			return fmt.Errorf("insert eligibility: %w", err)
		}
	}
	return nil
}

func (s *RewardStore) eligibility(ctx context.Context, rewardID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_id FROM reward_eligibility WHERE reward_id = ? ORDER BY child_id`,
		rewardID,
	)
	if err != nil {
		return nil, fmt.Errorf("list eligibility: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligibility: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Pending reward methods ---

func scanPending(sc scanner) (*model.PendingReward, error) {
	var p model.PendingReward
	var status string
	var rewardID, refundID sql.NullInt64
	var resolvedAt sql.NullTime

	err := sc.Scan(
		&p.ID, &p.FamilyID, &p.ChildID, &rewardID, &p.RewardName, &p.Cost, &status,
		&p.LedgerEntryID, &refundID, &p.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = model.RedemptionStatus(status)
	p.RewardID = int64Ptr(rewardID)
	p.RefundEntryID = int64Ptr(refundID)
	p.ResolvedAt = timePtr(resolvedAt)
	return &p, nil
}

const pendingCols = `id, family_id, child_id, reward_id, reward_name, cost, status, ledger_entry_id,
	refund_entry_id, created_at, resolved_at`

func (s *RewardStore) CreatePending(ctx context.Context, p model.PendingReward) (*model.PendingReward, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_rewards (family_id, child_id, reward_id, reward_name, cost, status, ledger_entry_id, created_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		p.FamilyID, p.ChildID, nullInt64(p.RewardID), p.RewardName, p.Cost, p.LedgerEntryID, p.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert pending reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPending(ctx, id)
}

func (s *RewardStore) GetPending(ctx context.Context, id int64) (*model.PendingReward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingCols+` FROM pending_rewards WHERE id = ?`, id)
	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending reward: %w", err)
	}
	return p, nil
}

// ListPending returns the family's redemptions with the given status, oldest
// first. An empty status returns all of them.
func (s *RewardStore) ListPending(ctx context.Context, familyID int64, status model.RedemptionStatus) ([]model.PendingReward, error) {
	query := `SELECT ` + pendingCols + ` FROM pending_rewards WHERE family_id = ?`
	args := []any{familyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending rewards: %w", err)
	}
	defer rows.Close()

	var list []model.PendingReward
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending reward: %w", err)
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Resolve moves a pending redemption to status. It reports false when the
// redemption was no longer pending.
func (s *RewardStore) Resolve(ctx context.Context, id int64, status model.RedemptionStatus, refundEntryID *int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_rewards SET status = ?, refund_entry_id = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), nullInt64(refundEntryID), at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("resolve pending reward: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
