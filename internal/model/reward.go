package model

import "time"

type Reward struct {
	ID               int64          `json:"id"`
	FamilyID         int64          `json:"family_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Cost             int            `json:"cost"`
	Category         RewardCategory `json:"category"`
	Active           bool           `json:"active"`
	EligibleChildren []int64        `json:"eligible_children"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// EligibleFor reports whether childID may redeem the reward. An empty set
// means every child in the family.
func (r Reward) EligibleFor(childID int64) bool {
	if len(r.EligibleChildren) == 0 {
		return true
	}
	for _, id := range r.EligibleChildren {
		if id == childID {
			return true
		}
	}
	return false
}

// PendingReward is a redemption that has already been debited and is
// waiting for a parent to hand it over.
type PendingReward struct {
	ID            int64            `json:"id"`
	FamilyID      int64            `json:"family_id"`
	ChildID       int64            `json:"child_id"`
	RewardID      *int64           `json:"reward_id"`
	RewardName    string           `json:"reward_name"`
	Cost          int              `json:"cost"`
	Status        RedemptionStatus `json:"status"`
	LedgerEntryID int64            `json:"ledger_entry_id"`
	RefundEntryID *int64           `json:"refund_entry_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at"`
}
