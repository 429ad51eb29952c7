// Package reward manages a family's reward catalog and the redemptions
// children make against it. Redeeming debits points immediately; a parent
// later clears the redemption once the reward is handed over, or cancels it
// for a refund.
package reward

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type Service struct {
	db     *sql.DB
	ledger *ledger.Service
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, led *ledger.Service, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{db: db, ledger: led, pub: pub, logger: logger, now: time.Now}
}

type Input struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	Cost             int     `json:"cost"`
	Category         string  `json:"category"`
	Active           *bool   `json:"active"`
	EligibleChildren []int64 `json:"eligible_children"`
}

func (s *Service) Create(ctx context.Context, familyID int64, in Input) (*model.Reward, error) {
	r := model.Reward{FamilyID: familyID, Active: true}
	var created *model.Reward
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := apply(ctx, tx, &r, in); err != nil {
			return err
		}
		var err error
		created, err = store.NewRewardStore(tx).Create(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EntityReward, "created", familyID, created.ID, nil)
	return created, nil
}

func (s *Service) Update(ctx context.Context, familyID, rewardID int64, in Input) (*model.Reward, error) {
	var updated *model.Reward
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		r, err := rewards.GetInFamily(ctx, familyID, rewardID)
		if err != nil {
			return err
		}
		if r == nil {
			return apperr.NotFound("reward %d", rewardID)
		}
		if err := apply(ctx, tx, r, in); err != nil {
			return err
		}
		updated, err = rewards.Update(ctx, *r)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EntityReward, "updated", familyID, updated.ID, nil)
	return updated, nil
}

func apply(ctx context.Context, tx *sql.Tx, r *model.Reward, in Input) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Invalid("name is required")
	}
	if in.Cost <= 0 {
		return apperr.Invalid("cost must be positive")
	}
	category, err := model.ParseRewardCategory(in.Category)
	if err != nil {
		return apperr.Invalid("%v", err)
	}

	eligible := unique(in.EligibleChildren)
	if len(eligible) > 0 {
		n, err := store.NewChildStore(tx).CountInFamily(ctx, r.FamilyID, eligible)
		if err != nil {
			return err
		}
		if n != len(eligible) {
			return apperr.Invalid("eligible children must belong to the family")
		}
	}

	r.Name = name
	r.Description = strings.TrimSpace(in.Description)
	r.Cost = in.Cost
	r.Category = category
	r.EligibleChildren = eligible
	if in.Active != nil {
		r.Active = *in.Active
	}
	return nil
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Delete removes the reward. Redemptions already made keep their name and
// cost.
func (s *Service) Delete(ctx context.Context, familyID, rewardID int64) error {
	rewards := store.NewRewardStore(s.db)
	r, err := rewards.GetInFamily(ctx, familyID, rewardID)
	if err != nil {
		return err
	}
	if r == nil {
		return apperr.NotFound("reward %d", rewardID)
	}
	if err := rewards.Delete(ctx, r.ID); err != nil {
		return err
	}
	s.publish(events.EntityReward, "deleted", familyID, r.ID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, familyID, rewardID int64) (*model.Reward, error) {
	r, err := store.NewRewardStore(s.db).GetInFamily(ctx, familyID, rewardID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperr.NotFound("reward %d", rewardID)
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, familyID int64, activeOnly bool) ([]model.Reward, error) {
	rewards, err := store.NewRewardStore(s.db).List(ctx, familyID, activeOnly)
	if err != nil {
		return nil, err
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	return rewards, nil
}

// Redeem debits the reward's cost from the child and records a pending
// redemption, both in one transaction. The balance check happens inside the
// transaction, so two redemptions racing for the same points cannot both
// succeed.
func (s *Service) Redeem(ctx context.Context, familyID, childID, rewardID int64) (*model.PendingReward, error) {
	var pending *model.PendingReward
	var entry *model.LedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		entry = nil
		rewards := store.NewRewardStore(tx)
		r, err := rewards.GetInFamily(ctx, familyID, rewardID)
		if err != nil {
			return err
		}
		if r == nil {
			return apperr.NotFound("reward %d", rewardID)
		}
		if !r.Active {
			return apperr.Invalid("reward %q is not active", r.Name)
		}

		child, err := store.NewChildStore(tx).GetInFamily(ctx, familyID, childID)
		if err != nil {
			return err
		}
		if child == nil {
			return apperr.NotFound("child %d", childID)
		}
		if !r.EligibleFor(childID) {
			return apperr.Forbidden("child %d is not eligible for reward %d", childID, r.ID)
		}

		rid := r.ID
		entry, err = s.ledger.AppendTx(ctx, tx, familyID, childID, model.EntrySpent, -r.Cost,
			"Reward: "+r.Name, model.Related{RewardID: &rid})
		if err != nil {
			return err
		}

		pending, err = rewards.CreatePending(ctx, model.PendingReward{
			FamilyID:      familyID,
			ChildID:       childID,
			RewardID:      &rid,
			RewardName:    r.Name,
			Cost:          r.Cost,
			LedgerEntryID: entry.ID,
			CreatedAt:     s.now(),
		})
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInsufficientBalance {
			metrics.RecordRedemption("insufficient_balance")
		}
		return nil, err
	}

	s.ledger.Committed(entry)
	metrics.RecordRedemption("redeemed")
	s.publish(events.EntityRedemption, "created", familyID, pending.ID, map[string]any{
		"child_id": childID, "reward_name": pending.RewardName, "cost": pending.Cost,
	})
	s.logger.Info("reward redeemed", "family_id", familyID, "child_id", childID,
		"reward_id", rewardID, "cost", pending.Cost, "balance_after", entry.BalanceAfter)
	return pending, nil
}

// ClearPending marks a redemption as fulfilled. No points move.
func (s *Service) ClearPending(ctx context.Context, familyID, pendingID int64) (*model.PendingReward, error) {
	var cleared *model.PendingReward
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		p, err := pendingInFamily(ctx, rewards, familyID, pendingID)
		if err != nil {
			return err
		}
		ok, err := rewards.Resolve(ctx, p.ID, model.RedemptionCompleted, nil, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("redemption %d is %s", p.ID, p.Status)
		}
		cleared, err = rewards.GetPending(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRedemption("cleared")
	s.publish(events.EntityRedemption, "cleared", familyID, cleared.ID, nil)
	return cleared, nil
}

// CancelPending voids a redemption and refunds its cost in the same
// transaction.
func (s *Service) CancelPending(ctx context.Context, familyID, pendingID int64, reason string) (*model.PendingReward, error) {
	var canceled *model.PendingReward
	var refund *model.LedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		refund = nil
		rewards := store.NewRewardStore(tx)
		p, err := pendingInFamily(ctx, rewards, familyID, pendingID)
		if err != nil {
			return err
		}
		if p.Status != model.RedemptionPending {
			return apperr.InvalidTransition("redemption %d is %s", p.ID, p.Status)
		}

		text := "Refund: " + p.RewardName
		if r := strings.TrimSpace(reason); r != "" {
			text += " (" + r + ")"
		}
		pid := p.ID
		refund, err = s.ledger.AppendTx(ctx, tx, familyID, p.ChildID, model.EntryRefunded, p.Cost, text,
			model.Related{RewardID: p.RewardID, RedemptionID: &pid})
		if err != nil {
			return err
		}

		ok, err := rewards.Resolve(ctx, p.ID, model.RedemptionCanceled, &refund.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("redemption %d is no longer pending", p.ID)
		}
		canceled, err = rewards.GetPending(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Committed(refund)
	metrics.RecordRedemption("canceled")
	s.publish(events.EntityRedemption, "canceled", familyID, canceled.ID, map[string]any{"child_id": canceled.ChildID})
	return canceled, nil
}

// ListPending returns the family's redemptions with the given status; an
// empty status lists every redemption.
func (s *Service) ListPending(ctx context.Context, familyID int64, status model.RedemptionStatus) ([]model.PendingReward, error) {
	list, err := store.NewRewardStore(s.db).ListPending(ctx, familyID, status)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.PendingReward{}
	}
	return list, nil
}

func pendingInFamily(ctx context.Context, rewards *store.RewardStore, familyID, pendingID int64) (*model.PendingReward, error) {
	p, err := rewards.GetPending(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.FamilyID != familyID {
		return nil, apperr.NotFound("redemption %d", pendingID)
	}
	return p, nil
}

func (s *Service) publish(entity, action string, familyID, id int64, extra map[string]any) {
	s.pub.Publish(events.Event{FamilyID: familyID, Entity: entity, Action: action, ID: id, Extra: extra})
}
