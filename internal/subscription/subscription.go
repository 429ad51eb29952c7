// Package subscription owns a family's paid plan. The subscription is only
// changed through the named transitions below; each one is recorded in the
// subscription event log and none of them touch the points ledger.
package subscription

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type Manager struct {
	db     *sql.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(db *sql.DB, pub events.Publisher, logger *slog.Logger) *Manager {
	if pub == nil {
		pub = events.Discard
	}
	return &Manager{db: db, pub: pub, logger: logger, now: time.Now}
}

type UpgradeParams struct {
	Plan     model.Plan
	Interval model.BillingInterval
	// DurationMonths overrides the interval length for fixed-term
	// promotional upgrades.
	DurationMonths int
	OrderRef       string
}

type DowngradeParams struct {
	Plan      model.Plan
	Immediate bool
	OrderRef  string
}

type ExtendParams struct {
	Months   int
	OrderRef string
}

type CancelParams struct {
	OrderRef string
}

// change mutates sub in place and returns the action name recorded in the
// event log. An empty action means nothing changed.
type change func(sub *model.Subscription, now time.Time) (string, error)

func (m *Manager) Get(ctx context.Context, familyID int64) (*model.Subscription, error) {
	sub, err := store.NewSubscriptionStore(m.db).Get(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperr.NotFound("family %d", familyID)
	}
	return sub, nil
}

// History returns the family's subscription transitions, newest first.
func (m *Manager) History(ctx context.Context, familyID int64, limit int) ([]model.SubscriptionEvent, error) {
	list, err := store.NewSubscriptionStore(m.db).ListEvents(ctx, familyID, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.SubscriptionEvent{}
	}
	return list, nil
}

// CanUpgrade reports whether sub may move to plan through an upgrade. An
// active subscription can renew or move up, never down.
func CanUpgrade(sub model.Subscription, plan model.Plan) error {
	if plan.Rank() == 0 {
		return apperr.Invalid("upgrade needs a paid plan")
	}
	if sub.Status == model.StatusActive && plan.Rank() < sub.Plan.Rank() {
		return apperr.InvalidTransition("%s is lower than the current %s plan; downgrade instead", plan, sub.Plan)
	}
	return nil
}

// Upgrade activates plan for one billing interval from now, or for
// DurationMonths when set. It also renews or changes the interval of an
// existing subscription and clears any pending downgrade.
func (m *Manager) Upgrade(ctx context.Context, familyID int64, p UpgradeParams) (*model.Subscription, error) {
	fn, err := upgrade(p)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, familyID, p.OrderRef, fn)
}

// UpgradeTx runs Upgrade inside the caller's transaction. The caller passes
// the returned event to Committed once tx commits.
func (m *Manager) UpgradeTx(ctx context.Context, tx *sql.Tx, familyID int64, p UpgradeParams) (*model.Subscription, *model.SubscriptionEvent, error) {
	fn, err := upgrade(p)
	if err != nil {
		return nil, nil, err
	}
	return m.applyTx(ctx, tx, familyID, p.OrderRef, fn)
}

func upgrade(p UpgradeParams) (change, error) {
	if p.Plan.Rank() == 0 {
		return nil, apperr.Invalid("upgrade needs a paid plan")
	}
	if p.Interval != model.IntervalMonthly && p.Interval != model.IntervalYearly {
		return nil, apperr.Invalid("unknown billing interval %q", p.Interval)
	}
	if p.DurationMonths < 0 {
		return nil, apperr.Invalid("duration must not be negative")
	}

	return func(sub *model.Subscription, now time.Time) (string, error) {
		if err := CanUpgrade(*sub, p.Plan); err != nil {
			return "", err
		}
		months := p.Interval.Months()
		if p.DurationMonths > 0 {
			months = p.DurationMonths
		}
		renewal := now.AddDate(0, months, 0)
		interval := p.Interval

		sub.Plan = p.Plan
		sub.Status = model.StatusActive
		sub.Interval = &interval
		sub.RenewalDate = &renewal
		sub.PendingPlan = nil
		if p.OrderRef != "" {
			paid := now
			sub.LastPaymentAt = &paid
		}
		return "upgrade", nil
	}, nil
}

// Downgrade moves to a lower plan, either now or at the renewal date.
func (m *Manager) Downgrade(ctx context.Context, familyID int64, p DowngradeParams) (*model.Subscription, error) {
	return m.transition(ctx, familyID, p.OrderRef, func(sub *model.Subscription, now time.Time) (string, error) {
		if p.Plan.Rank() >= sub.Plan.Rank() {
			return "", apperr.InvalidTransition("cannot downgrade from %s to %s", sub.Plan, p.Plan)
		}

		if p.Immediate {
			sub.Plan = p.Plan
			sub.Status = model.StatusInactive
			sub.PendingPlan = nil
			if p.Plan == model.PlanNone {
				sub.Interval = nil
				sub.RenewalDate = nil
			}
			return "downgrade", nil
		}

		if sub.Status != model.StatusActive || sub.RenewalDate == nil {
			return "", apperr.InvalidTransition("only an active subscription can schedule a downgrade")
		}
		target := p.Plan
		sub.PendingPlan = &target
		return "downgrade_scheduled", nil
	})
}

// Extend pushes the renewal date forward without changing plan or status.
// The extension starts from the later of now and the current renewal date.
func (m *Manager) Extend(ctx context.Context, familyID int64, p ExtendParams) (*model.Subscription, error) {
	if p.Months < 1 {
		return nil, apperr.Invalid("months must be positive")
	}
	return m.transition(ctx, familyID, p.OrderRef, func(sub *model.Subscription, now time.Time) (string, error) {
		if sub.Plan == model.PlanNone {
			return "", apperr.InvalidTransition("no plan to extend")
		}
		base := now
		if sub.RenewalDate != nil && sub.RenewalDate.After(now) {
			base = *sub.RenewalDate
		}
		renewal := base.AddDate(0, p.Months, 0)
		sub.RenewalDate = &renewal
		return "extend", nil
	})
}

// Cancel stops renewal. The plan stays usable until the renewal date, when
// ProcessRenewals lapses it.
func (m *Manager) Cancel(ctx context.Context, familyID int64, p CancelParams) (*model.Subscription, error) {
	return m.transition(ctx, familyID, p.OrderRef, func(sub *model.Subscription, now time.Time) (string, error) {
		switch {
		case sub.Status == model.StatusCanceled:
			return "", apperr.InvalidTransition("subscription is already canceled")
		case sub.Plan == model.PlanNone || sub.Status == model.StatusInactive:
			return "", apperr.InvalidTransition("no active subscription to cancel")
		}
		sub.Status = model.StatusCanceled
		sub.PendingPlan = nil
		if sub.RenewalDate == nil {
			renewal := now
			sub.RenewalDate = &renewal
		}
		return "cancel", nil
	})
}

// MarkPastDue records a failed renewal payment.
func (m *Manager) MarkPastDue(ctx context.Context, familyID int64, orderRef string) (*model.Subscription, error) {
	return m.transition(ctx, familyID, orderRef, func(sub *model.Subscription, now time.Time) (string, error) {
		if sub.Status == model.StatusPastDue {
			return "", nil
		}
		if sub.Status != model.StatusActive {
			return "", apperr.InvalidTransition("subscription is %s", sub.Status)
		}
		sub.Status = model.StatusPastDue
		return "past_due", nil
	})
}

// RecordPayment records a successful renewal payment: the subscription
// becomes active again and renews for one more interval.
func (m *Manager) RecordPayment(ctx context.Context, familyID int64, orderRef string) (*model.Subscription, error) {
	return m.transition(ctx, familyID, orderRef, func(sub *model.Subscription, now time.Time) (string, error) {
		if sub.Status != model.StatusActive && sub.Status != model.StatusPastDue {
			return "", apperr.InvalidTransition("subscription is %s", sub.Status)
		}
		interval := model.IntervalMonthly
		if sub.Interval != nil {
			interval = *sub.Interval
		}
		base := now
		if sub.RenewalDate != nil && sub.RenewalDate.After(now) {
			base = *sub.RenewalDate
		}
		renewal := base.AddDate(0, interval.Months(), 0)
		paid := now

		sub.Status = model.StatusActive
		sub.Interval = &interval
		sub.RenewalDate = &renewal
		sub.LastPaymentAt = &paid
		return "payment", nil
	})
}

// ProcessRenewals applies end-of-period changes for every family whose
// renewal date is at or before now: a scheduled downgrade takes effect, a
// canceled subscription lapses to no plan, and an active or unpaid one that
// was not renewed goes inactive. It returns how many families changed.
func (m *Manager) ProcessRenewals(ctx context.Context, now time.Time) (int, error) {
	ids, err := store.NewSubscriptionStore(m.db).ListDueForRenewal(ctx, now)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, id := range ids {
		_, applied, err := m.apply(ctx, id, "", func(sub *model.Subscription, _ time.Time) (string, error) {
			return renew(sub, now), nil
		})
		if err != nil {
			m.logger.Error("process renewal", "family_id", id, "error", err)
			continue
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

// renew applies one end-of-period step. A downgraded plan keeps the old
// renewal date, so the following pass lapses it unless a payment arrived.
func renew(sub *model.Subscription, now time.Time) string {
	if sub.RenewalDate == nil || sub.RenewalDate.After(now) {
		return ""
	}

	switch {
	case sub.PendingPlan != nil:
		sub.Plan = *sub.PendingPlan
		sub.PendingPlan = nil
		if sub.Plan == model.PlanNone {
			sub.Status = model.StatusInactive
			sub.Interval = nil
			sub.RenewalDate = nil
		}
		return "downgrade_applied"

	case sub.Status == model.StatusCanceled:
		sub.Plan = model.PlanNone
		sub.Status = model.StatusInactive
		sub.Interval = nil
		sub.RenewalDate = nil
		return "lapse"

	case sub.Status == model.StatusActive, sub.Status == model.StatusPastDue:
		sub.Status = model.StatusInactive
		return "lapse"
	}
	return ""
}

func (m *Manager) transition(ctx context.Context, familyID int64, orderRef string, fn change) (*model.Subscription, error) {
	sub, _, err := m.apply(ctx, familyID, orderRef, fn)
	return sub, err
}

// apply runs fn against the family's subscription in its own transaction. It
// reports whether anything changed.
func (m *Manager) apply(ctx context.Context, familyID int64, orderRef string, fn change) (*model.Subscription, bool, error) {
	var result *model.Subscription
	var event *model.SubscriptionEvent

	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		result, event, err = m.applyTx(ctx, tx, familyID, orderRef, fn)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if event == nil {
		return result, false, nil
	}
	m.Committed(result, event)
	return result, true, nil
}

// applyTx runs fn against the family's subscription and records the
// resulting event in tx. The event is nil when nothing changed.
func (m *Manager) applyTx(ctx context.Context, tx *sql.Tx, familyID int64, orderRef string, fn change) (*model.Subscription, *model.SubscriptionEvent, error) {
	orderRef = strings.TrimSpace(orderRef)
	subs := store.NewSubscriptionStore(tx)
	sub, err := subs.Get(ctx, familyID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, apperr.NotFound("family %d", familyID)
	}
	before := *sub
	now := m.now().UTC()

	action, err := fn(sub, now)
	if err != nil {
		return nil, nil, err
	}
	if action == "" {
		return sub, nil, nil
	}

	var ref *string
	if orderRef != "" {
		ref = &orderRef
		sub.OrderRef = ref
	}
	if err := subs.Save(ctx, familyID, *sub); err != nil {
		return nil, nil, err
	}
	event, err := subs.RecordEvent(ctx, model.SubscriptionEvent{
		FamilyID:   familyID,
		Action:     action,
		FromPlan:   before.Plan,
		ToPlan:     sub.Plan,
		FromStatus: before.Status,
		ToStatus:   sub.Status,
		OrderRef:   ref,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, nil, err
	}
	return sub, event, nil
}

// Committed publishes a transition recorded by a transaction that has
// committed. A nil event is ignored.
func (m *Manager) Committed(sub *model.Subscription, event *model.SubscriptionEvent) {
	if event == nil {
		return
	}
	metrics.RecordSubscriptionTransition(event.Action)
	m.pub.Publish(events.Event{
		FamilyID: event.FamilyID,
		Entity:   events.EntitySubscription,
		Action:   event.Action,
		ID:       event.ID,
		Extra: map[string]any{
			"plan":   string(sub.Plan),
			"status": string(sub.Status),
		},
	})
	orderRef := ""
	if event.OrderRef != nil {
		orderRef = *event.OrderRef
	}
	m.logger.Info("subscription changed", "family_id", event.FamilyID, "action", event.Action,
		"from_plan", event.FromPlan, "to_plan", event.ToPlan,
		"from_status", event.FromStatus, "to_status", event.ToStatus, "order_ref", orderRef)
}
