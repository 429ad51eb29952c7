package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

// SubscriptionStore reads and writes the subscription columns embedded in the
// families table plus the subscription_events audit trail.
type SubscriptionStore struct {
	db database.DBTX
}

func NewSubscriptionStore(db database.DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) WithTx(tx *sql.Tx) *SubscriptionStore {
	return &SubscriptionStore{db: tx}
}

// Get returns the family's subscription, or nil when the family does not
// exist.
func (s *SubscriptionStore) Get(ctx context.Context, familyID int64) (*model.Subscription, error) {
	f, err := NewFamilyStore(s.db).GetByID(ctx, familyID)
	if err != nil || f == nil {
		return nil, err
	}
	return &f.Subscription, nil
}

// Save overwrites the family's subscription columns. The Stripe customer id
// is managed separately and left untouched.
func (s *SubscriptionStore) Save(ctx context.Context, familyID int64, sub model.Subscription) error {
	var interval, pending sql.NullString
	if sub.Interval != nil {
		interval = sql.NullString{String: string(*sub.Interval), Valid: true}
	}
	if sub.PendingPlan != nil {
		pending = sql.NullString{String: string(*sub.PendingPlan), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE families
		 SET plan = ?, subscription_status = ?, billing_interval = ?, renewal_date = ?,
		     last_payment_at = ?, order_ref = ?, pending_plan = ?, updated_at = ?
		 WHERE id = ?`,
		string(sub.Plan), string(sub.Status), interval, nullTime(sub.RenewalDate),
		nullTime(sub.LastPaymentAt), nullString(sub.OrderRef), pending, time.Now().UTC(), familyID,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDueForRenewal returns ids of families whose renewal date is at or
// before now and whose subscription still needs end-of-period handling.
// Inactive subscriptions have already lapsed.
func (s *SubscriptionStore) ListDueForRenewal(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM families
		 WHERE renewal_date IS NOT NULL AND renewal_date <= ?
		   AND (pending_plan IS NOT NULL OR subscription_status IN ('active', 'canceled', 'past_due'))
		 ORDER BY renewal_date ASC, id ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due renewals: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan family id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Event methods ---

func (s *SubscriptionStore) RecordEvent(ctx context.Context, e model.SubscriptionEvent) (*model.SubscriptionEvent, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_events (family_id, action, from_plan, to_plan, from_status, to_status, order_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FamilyID, e.Action, string(e.FromPlan), string(e.ToPlan), string(e.FromStatus), string(e.ToStatus),
		nullString(e.OrderRef), e.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return &e, nil
}

// UpgradeOrderExists reports whether an upgrade with orderRef was already
// recorded for the family.
func (s *SubscriptionStore) UpgradeOrderExists(ctx context.Context, familyID int64, orderRef string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_events
		 WHERE family_id = ? AND action = 'upgrade' AND order_ref = ?`,
		familyID, orderRef,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check upgrade order: %w", err)
	}
	return n > 0, nil
}

// ListEvents returns the family's subscription history, newest first.
func (s *SubscriptionStore) ListEvents(ctx context.Context, familyID int64, limit int) ([]model.SubscriptionEvent, error) {
	query := `SELECT id, family_id, action, from_plan, to_plan, from_status, to_status, order_ref, created_at
		 FROM subscription_events WHERE family_id = ? ORDER BY id DESC`
	args := []any{familyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscription events: %w", err)
	}
	defer rows.Close()

	var events []model.SubscriptionEvent
	for rows.Next() {
		var e model.SubscriptionEvent
		var fromPlan, toPlan, fromStatus, toStatus string
		var orderRef sql.NullString
		if err := rows.Scan(&e.ID, &e.FamilyID, &e.Action, &fromPlan, &toPlan, &fromStatus, &toStatus, &orderRef, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription event: %w", err)
		}
		e.FromPlan = model.Plan(fromPlan)
		e.ToPlan = model.Plan(toPlan)
		e.FromStatus = model.SubscriptionStatus(fromStatus)
		e.ToStatus = model.SubscriptionStatus(toStatus)
		e.OrderRef = stringPtr(orderRef)
		events = append(events, e)
	}
	return events, rows.Err()
}
