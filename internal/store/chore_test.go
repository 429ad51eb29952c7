package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
)

func TestChoreCreateWithAssignments(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := seedFamily(t, db, "Baggins")
	frodo := seedChild(t, db, f.ID, "Frodo")
	sam := seedChild(t, db, f.ID, "Sam")

	c, err := NewChoreStore(db).Create(ctx, model.Chore{
		FamilyID:   f.ID,
		Name:       "Dishes",
		Points:     10,
		AssignedTo: []int64{sam.ID, frodo.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != model.ChoreAvailable {
		t.Errorf("status = %q, want available", c.Status)
	}
	if c.Recurrence.Type != model.RecurrenceNone {
		t.Errorf("recurrence = %q, want none", c.Recurrence.Type)
	}
	if len(c.AssignedTo) != 2 {
		t.Fatalf("assigned = %v, want 2 children", c.AssignedTo)
	}
	if !c.AssignedToChild(frodo.ID) || !c.AssignedToChild(sam.ID) {
		t.Error("both children should be assigned")
	}
}

func TestChoreListFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cs := NewChoreStore(db)
	f := seedFamily(t, db, "Baggins")
	frodo := seedChild(t, db, f.ID, "Frodo")
	sam := seedChild(t, db, f.ID, "Sam")

	mustCreate := func(c model.Chore) *model.Chore {
		t.Helper()
		c.FamilyID = f.ID
		got, err := cs.Create(ctx, c)
		if err != nil {
			t.Fatalf("create %q: %v", c.Name, err)
		}
		return got
	}
	mustCreate(model.Chore{Name: "Open"})
	mustCreate(model.Chore{Name: "Frodo only", AssignedTo: []int64{frodo.ID}})
	mustCreate(model.Chore{Name: "Sam only", AssignedTo: []int64{sam.ID}})
	mustCreate(model.Chore{Name: "Template", IsTemplate: true})

	no := false
	got, err := cs.List(ctx, f.ID, ListFilter{ChildID: &frodo.ID, Templates: &no})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("frodo sees %d chores, want 2", len(got))
	}
	if got[0].Name != "Open" || got[1].Name != "Frodo only" {
		t.Errorf("names = %q, %q", got[0].Name, got[1].Name)
	}

	all, err := cs.List(ctx, f.ID, ListFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all = %d, want 4", len(all))
	}
}

func TestChoreGuardedTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cs := NewChoreStore(db)
	f := seedFamily(t, db, "Baggins")
	frodo := seedChild(t, db, f.ID, "Frodo")
	c, _ := cs.Create(ctx, model.Chore{FamilyID: f.ID, Name: "Dishes", Points: 10})
	now := time.Now().UTC()

	// approve before submit does nothing
	ok, err := cs.MarkApproved(ctx, c.ID, now)
	if err != nil || ok {
		t.Fatalf("approve available = %v, %v; want false", ok, err)
	}

	ok, err = cs.MarkSubmitted(ctx, c.ID, frodo.ID, now, "happy", "https://x/p.jpg")
	if err != nil || !ok {
		t.Fatalf("submit = %v, %v", ok, err)
	}
	ok, _ = cs.MarkSubmitted(ctx, c.ID, frodo.ID, now, "", "")
	if ok {
		t.Error("second submit should not match")
	}

	ok, err = cs.ResetSubmission(ctx, c.ID, now)
	if err != nil || !ok {
		t.Fatalf("reset = %v, %v", ok, err)
	}
	got, _ := cs.GetByID(ctx, c.ID)
	if got.Status != model.ChoreAvailable || got.SubmittedBy != nil || got.Emotion != "" || got.PhotoURL != "" {
		t.Errorf("after reset = %+v, want clean available chore", got)
	}

	cs.MarkSubmitted(ctx, c.ID, frodo.ID, now, "", "")
	ok, err = cs.MarkApproved(ctx, c.ID, now)
	if err != nil || !ok {
		t.Fatalf("approve = %v, %v", ok, err)
	}
	ok, _ = cs.ResetSubmission(ctx, c.ID, now)
	if ok {
		t.Error("approved chore must not reset")
	}
}

func TestChoreTemplatesNeverSubmit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cs := NewChoreStore(db)
	f := seedFamily(t, db, "Baggins")
	frodo := seedChild(t, db, f.ID, "Frodo")
	tmpl, _ := cs.Create(ctx, model.Chore{FamilyID: f.ID, Name: "Daily", IsTemplate: true})

	ok, err := cs.MarkSubmitted(ctx, tmpl.ID, frodo.ID, time.Now(), "", "")
	if err != nil {
		t.Fatalf("submit template: %v", err)
	}
	if ok {
		t.Error("templates must never be submitted")
	}
}

func TestChoreAdvanceTemplate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cs := NewChoreStore(db)
	f := seedFamily(t, db, "Baggins")

	due := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tmpl, err := cs.Create(ctx, model.Chore{
		FamilyID:   f.ID,
		Name:       "Daily",
		IsTemplate: true,
		Recurrence: model.Recurrence{Type: model.RecurrenceDaily},
		NextDueAt:  &due,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	due2 := due.AddDate(0, 0, 1)
	ok, err := cs.AdvanceTemplate(ctx, tmpl.ID, due, &due2)
	if err != nil || !ok {
		t.Fatalf("advance = %v, %v", ok, err)
	}
	ok, _ = cs.AdvanceTemplate(ctx, tmpl.ID, due, &due2)
	if ok {
		t.Error("stale advance should not match")
	}

	list, err := cs.ListDueTemplates(ctx, due)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("due templates at %v = %d, want 0", due, len(list))
	}
	list, _ = cs.ListDueTemplates(ctx, due2)
	if len(list) != 1 {
		t.Errorf("due templates at %v = %d, want 1", due2, len(list))
	}
}

func TestChoreSpawnUniquePerOccurrence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cs := NewChoreStore(db)
	f := seedFamily(t, db, "Baggins")
	tmpl, _ := cs.Create(ctx, model.Chore{FamilyID: f.ID, Name: "Daily", IsTemplate: true})

	due := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	inst := model.Chore{FamilyID: f.ID, Name: "Daily", TemplateID: &tmpl.ID, DueAt: &due}
	if _, err := cs.Create(ctx, inst); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := cs.Create(ctx, inst); err == nil {
		t.Error("second spawn for the same occurrence should violate the unique index")
	}
}
