package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

type FamilyStore struct {
	db database.DBTX
}

func NewFamilyStore(db database.DBTX) *FamilyStore {
	return &FamilyStore{db: db}
}

func (s *FamilyStore) WithTx(tx *sql.Tx) *FamilyStore {
	return &FamilyStore{db: tx}
}

func scanFamily(sc scanner) (*model.Family, error) {
	var f model.Family
	var plan, status string
	var interval, orderRef, pendingPlan, stripeID sql.NullString
	var renewal, lastPayment sql.NullTime

	err := sc.Scan(
		&f.ID, &f.Name, &f.ParentEmail,
		&plan, &status, &interval, &renewal, &lastPayment, &orderRef, &pendingPlan, &stripeID,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Subscription = model.Subscription{
		Plan:             model.Plan(plan),
		Status:           model.SubscriptionStatus(status),
		RenewalDate:      timePtr(renewal),
		LastPaymentAt:    timePtr(lastPayment),
		OrderRef:         stringPtr(orderRef),
		StripeCustomerID: stringPtr(stripeID),
	}
	if interval.Valid {
		i := model.BillingInterval(interval.String)
		f.Subscription.Interval = &i
	}
	if pendingPlan.Valid {
		p := model.Plan(pendingPlan.String)
		f.Subscription.PendingPlan = &p
	}
	return &f, nil
}

const familyCols = `id, name, parent_email, plan, subscription_status, billing_interval, renewal_date,
	last_payment_at, order_ref, pending_plan, stripe_customer_id, created_at, updated_at`

func (s *FamilyStore) Create(ctx context.Context, name, parentEmail string) (*model.Family, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO families (name, parent_email) VALUES (?, ?)`,
		name, parentEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FamilyStore) GetByID(ctx context.Context, id int64) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE stripe_customer_id = ?`, customerID)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family by stripe customer: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) Update(ctx context.Context, id int64, name, parentEmail string) (*model.Family, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE families SET name = ?, parent_email = ?, updated_at = ? WHERE id = ?`,
		name, parentEmail, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update family: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FamilyStore) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE families SET stripe_customer_id = ? WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("set stripe customer id: %w", err)
	}
	return nil
}

// Delete removes the family; children, chores, rewards and ledger rows
// cascade.
func (s *FamilyStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	return nil
}

// Snapshot assembles the derived family view served by the snapshot cache.
func (s *FamilyStore) Snapshot(ctx context.Context, id int64, now time.Time) (*model.FamilySnapshot, error) {
	f, err := s.GetByID(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}

	children, err := NewChildStore(s.db).ListByFamily(ctx, id)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []model.Child{}
	}

	snap := &model.FamilySnapshot{Family: *f, Children: children, GeneratedAt: now}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'submitted' THEN 1 ELSE 0 END), 0)
		 FROM chores WHERE family_id = ? AND is_template = 0`,
		id,
	).Scan(&snap.AvailableChores, &snap.SubmittedChores)
	if err != nil {
		return nil, fmt.Errorf("count chores: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_rewards WHERE family_id = ? AND status = 'pending'`,
		id,
	).Scan(&snap.PendingRewards)
	if err != nil {
		return nil, fmt.Errorf("count pending rewards: %w", err)
	}

	return snap, nil
}
