package model

import (
	"fmt"
	"strings"
)

// ChoreStatus is the lifecycle state of a live chore instance.
type ChoreStatus string

const (
	ChoreAvailable ChoreStatus = "available"
	ChoreSubmitted ChoreStatus = "submitted"
	ChoreApproved  ChoreStatus = "approved"
)

func ParseChoreStatus(s string) (ChoreStatus, error) {
	switch st := ChoreStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ChoreAvailable, ChoreSubmitted, ChoreApproved:
		return st, nil
	}
	return "", fmt.Errorf("unknown chore status %q", s)
}

// EntryType classifies a points ledger entry.
type EntryType string

const (
	EntryEarned   EntryType = "earned"
	EntrySpent    EntryType = "spent"
	EntryRefunded EntryType = "refunded"
	EntryBonus    EntryType = "bonus"
	EntryPenalty  EntryType = "penalty"
)

func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntryEarned, EntrySpent, EntryRefunded, EntryBonus, EntryPenalty:
		return t, nil
	}
	return "", fmt.Errorf("unknown ledger entry type %q", s)
}

// Credit reports whether entries of this type add points.
func (t EntryType) Credit() bool {
	return t == EntryEarned || t == EntryRefunded || t == EntryBonus
}

// CountsTowardLifetime reports whether entries of this type grow lifetime
// points and XP. Refunds only restore what was spent.
func (t EntryType) CountsTowardLifetime() bool {
	return t == EntryEarned || t == EntryBonus
}

// RecurrenceType selects how a template computes its next due date.
type RecurrenceType string

const (
	RecurrenceNone   RecurrenceType = "none"
	RecurrenceDaily  RecurrenceType = "daily"
	RecurrenceWeekly RecurrenceType = "weekly"
	RecurrenceCustom RecurrenceType = "custom"
)

func ParseRecurrenceType(s string) (RecurrenceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RecurrenceNone, nil
	}
	switch t := RecurrenceType(s); t {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown recurrence type %q", s)
}

type RewardCategory string

const (
	CategoryTreat      RewardCategory = "treat"
	CategoryScreenTime RewardCategory = "screen_time"
	CategoryOuting     RewardCategory = "outing"
	CategoryMoney      RewardCategory = "money"
	CategoryPrivilege  RewardCategory = "privilege"
	CategoryOther      RewardCategory = "other"
)

func ParseRewardCategory(s string) (RewardCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	switch c := RewardCategory(s); c {
	case CategoryTreat, CategoryScreenTime, CategoryOuting, CategoryMoney, CategoryPrivilege, CategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("unknown reward category %q", s)
}

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionCompleted RedemptionStatus = "completed"
	RedemptionCanceled  RedemptionStatus = "canceled"
)

func ParseRedemptionStatus(s string) (RedemptionStatus, error) {
	switch st := RedemptionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case RedemptionPending, RedemptionCompleted, RedemptionCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown redemption status %q", s)
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(strings.ToLower(strings.TrimSpace(s))); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	}
	return "", fmt.Errorf("unknown discount type %q", s)
}

// Plan is a subscription tier. Tiers are ordered: none < starter < premium.
type Plan string

const (
	PlanNone    Plan = "none"
	PlanStarter Plan = "starter"
	PlanPremium Plan = "premium"
)

func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanNone, PlanStarter, PlanPremium:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

// Rank orders plans for upgrade/downgrade checks.
func (p Plan) Rank() int {
	switch p {
	case PlanStarter:
		return 1
	case PlanPremium:
		return 2
	}
	return 0
}

type SubscriptionStatus string

const (
	StatusInactive SubscriptionStatus = "inactive"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusInactive, StatusActive, StatusPastDue, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

func ParseBillingInterval(s string) (BillingInterval, error) {
	switch i := BillingInterval(strings.ToLower(strings.TrimSpace(s))); i {
	case IntervalMonthly, IntervalYearly:
		return i, nil
	case "annual", "annually":
		return IntervalYearly, nil
	}
	return "", fmt.Errorf("unknown billing interval %q", s)
}

// Months is the length of one billing period.
func (i BillingInterval) Months() int {
	if i == IntervalYearly {
		return 12
	}
	return 1
}
