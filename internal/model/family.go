package model

import "time"

type Family struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	ParentEmail  string       `json:"parent_email"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Subscription is embedded in the family row. It is only changed through the
// subscription manager's transitions.
type Subscription struct {
	Plan             Plan               `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	Interval         *BillingInterval   `json:"interval"`
	RenewalDate      *time.Time         `json:"renewal_date"`
	LastPaymentAt    *time.Time         `json:"last_payment_at"`
	OrderRef         *string            `json:"order_ref"`
	PendingPlan      *Plan              `json:"pending_plan"`
	StripeCustomerID *string            `json:"-"`
}

type SubscriptionEvent struct {
	ID         int64              `json:"id"`
	FamilyID   int64              `json:"family_id"`
	Action     string             `json:"action"`
	FromPlan   Plan               `json:"from_plan"`
	ToPlan     Plan               `json:"to_plan"`
	FromStatus SubscriptionStatus `json:"from_status"`
	ToStatus   SubscriptionStatus `json:"to_status"`
	OrderRef   *string            `json:"order_ref"`
	CreatedAt  time.Time          `json:"created_at"`
}

// FamilySnapshot is a derived, read-only view of a family. It may be served
// from cache and must never drive balance-affecting decisions.
type FamilySnapshot struct {
	Family          Family    `json:"family"`
	Children        []Child   `json:"children"`
	AvailableChores int       `json:"available_chores"`
	SubmittedChores int       `json:"submitted_chores"`
	PendingRewards  int       `json:"pending_rewards"`
	GeneratedAt     time.Time `json:"generated_at"`
}
