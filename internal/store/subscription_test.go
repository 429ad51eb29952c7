package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
)

func TestSubscriptionSaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ss := NewSubscriptionStore(db)
	f := seedFamily(t, db, "Baggins")

	interval := model.IntervalMonthly
	renewal := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ref := "ord_1"
	pending := model.PlanStarter
	err := ss.Save(ctx, f.ID, model.Subscription{
		Plan: model.PlanPremium, Status: model.StatusActive, Interval: &interval,
		RenewalDate: &renewal, OrderRef: &ref, PendingPlan: &pending,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ss.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Plan != model.PlanPremium || got.Status != model.StatusActive {
		t.Errorf("plan/status = %s/%s", got.Plan, got.Status)
	}
	if got.Interval == nil || *got.Interval != model.IntervalMonthly {
		t.Errorf("interval = %v", got.Interval)
	}
	if got.RenewalDate == nil || !got.RenewalDate.Equal(renewal) {
		t.Errorf("renewal = %v, want %v", got.RenewalDate, renewal)
	}
	if got.PendingPlan == nil || *got.PendingPlan != model.PlanStarter {
		t.Errorf("pending plan = %v", got.PendingPlan)
	}

	if err := ss.Save(ctx, 9999, *got); err == nil {
		t.Error("save for a missing family should fail")
	}
}

func TestSubscriptionListDueForRenewal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ss := NewSubscriptionStore(db)
	renewal := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	active := seedFamily(t, db, "Active")
	ss.Save(ctx, active.ID, model.Subscription{Plan: model.PlanPremium, Status: model.StatusActive, RenewalDate: &renewal})

	canceled := seedFamily(t, db, "Canceled")
	ss.Save(ctx, canceled.ID, model.Subscription{Plan: model.PlanPremium, Status: model.StatusCanceled, RenewalDate: &renewal})

	ids, err := ss.ListDueForRenewal(ctx, renewal.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("before renewal = %v, want none", ids)
	}

	ids, _ = ss.ListDueForRenewal(ctx, renewal)
	if len(ids) != 1 || ids[0] != canceled.ID {
		t.Errorf("due = %v, want [%d]", ids, canceled.ID)
	}
}

func TestSubscriptionEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ss := NewSubscriptionStore(db)
	f := seedFamily(t, db, "Baggins")

	for _, action := range []string{"upgrade", "cancel"} {
		if _, err := ss.RecordEvent(ctx, model.SubscriptionEvent{
			FamilyID: f.ID, Action: action,
			FromPlan: model.PlanNone, ToPlan: model.PlanPremium,
			FromStatus: model.StatusInactive, ToStatus: model.StatusActive,
		}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	events, err := ss.ListEvents(ctx, f.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Action != "cancel" {
		t.Errorf("events = %+v, want newest first", events)
	}
}
