package model

import "time"

// LedgerEntry is one immutable, signed point movement for a child.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	FamilyID      int64     `json:"family_id"`
	ChildID       int64     `json:"child_id"`
	Type          EntryType `json:"type"`
	Amount        int       `json:"amount"`
	Reason        string    `json:"reason"`
	ChoreID       *int64    `json:"chore_id,omitempty"`
	RewardID      *int64    `json:"reward_id,omitempty"`
	RedemptionID  *int64    `json:"redemption_id,omitempty"`
	BalanceBefore int       `json:"balance_before"`
	BalanceAfter  int       `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Related links a ledger entry to the entity that caused it.
type Related struct {
	ChoreID      *int64
	RewardID     *int64
	RedemptionID *int64
}

// BalanceDrift reports a child whose cached balance disagrees with the ledger.
type BalanceDrift struct {
	ChildID   int64  `json:"child_id"`
	ChildName string `json:"child_name"`
	Cached    int    `json:"cached"`
	Ledger    int    `json:"ledger"`
}
