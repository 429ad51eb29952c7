package chore

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type signals struct {
	mu        sync.Mutex
	templates []int64
}

func (s *signals) ChoreApproved(_ context.Context, _ int64, templateID int64) {
	s.mu.Lock()
	s.templates = append(s.templates, templateID)
	s.mu.Unlock()
}

type outbox struct {
	mu       sync.Mutex
	subjects []string
}

func (o *outbox) Notify(_ int64, subject, _ string) {
	o.mu.Lock()
	o.subjects = append(o.subjects, subject)
	o.mu.Unlock()
}

type fixture struct {
	svc    *Service
	db     *sql.DB
	ledger *ledger.Service
	sig    *signals
	out    *outbox
	family int64
	child  int64
	other  int64
}

var fixedNow = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	f, err := store.NewFamilyStore(db).Create(ctx, "Took", "parent@example.com")
	require.NoError(t, err)
	c1, err := store.NewChildStore(db).Create(ctx, f.ID, "Pippin")
	require.NoError(t, err)
	c2, err := store.NewChildStore(db).Create(ctx, f.ID, "Merry")
	require.NoError(t, err)

	led := ledger.NewService(db, events.Discard, slog.Default())
	svc := NewService(db, led, events.Discard, slog.Default())
	svc.now = func() time.Time { return fixedNow }
	fx := &fixture{svc: svc, db: db, ledger: led, sig: &signals{}, out: &outbox{}, family: f.ID, child: c1.ID, other: c2.ID}
	svc.SetSignaler(fx.sig)
	svc.SetNotifier(fx.out)
	return fx
}

func TestSubmitApproveCreditsSubmitter(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: " Feed the cat ", Points: 15})
	require.NoError(t, err)
	require.Equal(t, "Feed the cat", c.Name)
	require.Equal(t, model.ChoreAvailable, c.Status)
	require.False(t, c.IsTemplate)

	c, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{Emotion: "happy"})
	require.NoError(t, err)
	require.Equal(t, model.ChoreSubmitted, c.Status)
	require.Equal(t, fx.child, *c.SubmittedBy)
	require.Equal(t, "happy", c.Emotion)

	c, err = fx.svc.Approve(ctx, fx.family, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChoreApproved, c.Status)
	require.NotNil(t, c.ApprovedAt)

	balance, err := fx.ledger.Balance(ctx, fx.family, fx.child)
	require.NoError(t, err)
	require.Equal(t, 15, balance)

	history, err := fx.ledger.History(ctx, fx.family, fx.child, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.EntryEarned, history[0].Type)
	require.Equal(t, c.ID, *history[0].ChoreID)

	require.Equal(t, []string{"Chore submitted", "Points earned"}, fx.out.subjects)
	require.Empty(t, fx.sig.templates)
}

func TestApprovedChoreIsTerminal(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Dishes", Points: 10})
	require.NoError(t, err)
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{})
	require.NoError(t, err)
	_, err = fx.svc.Approve(ctx, fx.family, c.ID)
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, fx.family, c.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = fx.svc.Reject(ctx, fx.family, c.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = fx.svc.Update(ctx, fx.family, c.ID, Input{Name: "Dishes", Points: 100})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	balance, err := fx.ledger.Balance(ctx, fx.family, fx.child)
	require.NoError(t, err)
	require.Equal(t, 10, balance, "approval credits exactly once")
}

func TestSubmittedChoreCannotBeEdited(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Vacuum", Points: 8})
	require.NoError(t, err)
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{})
	require.NoError(t, err)

	_, err = fx.svc.Update(ctx, fx.family, c.ID, Input{Name: "Vacuum", Points: 80})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := fx.svc.Get(ctx, fx.family, c.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.Points)
	require.Equal(t, model.ChoreSubmitted, got.Status)

	// Approval pays the points the child saw when submitting.
	_, err = fx.svc.Approve(ctx, fx.family, c.ID)
	require.NoError(t, err)
	balance, err := fx.ledger.Balance(ctx, fx.family, fx.child)
	require.NoError(t, err)
	require.Equal(t, 8, balance)
}

func TestApproveRequiresSubmission(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Dishes", Points: 10})
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, fx.family, c.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = fx.svc.Reject(ctx, fx.family, c.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestRejectClearsSubmission(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Laundry", Points: 5})
	require.NoError(t, err)
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{Emotion: "tired", PhotoURL: "https://img/1"})
	require.NoError(t, err)

	c, err = fx.svc.Reject(ctx, fx.family, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChoreAvailable, c.Status)
	require.Nil(t, c.SubmittedBy)
	require.Nil(t, c.SubmittedAt)
	require.Empty(t, c.Emotion)
	require.Empty(t, c.PhotoURL)

	balance, err := fx.ledger.Balance(ctx, fx.family, fx.child)
	require.NoError(t, err)
	require.Zero(t, balance)

	// It can be submitted again, by someone else.
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.other, Submission{})
	require.NoError(t, err)
}

func TestSubmitChecksAssignment(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Mow", Points: 20, AssignedTo: []int64{fx.child, fx.child}})
	require.NoError(t, err)
	require.Equal(t, []int64{fx.child}, c.AssignedTo)

	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.other, Submission{})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = fx.svc.Submit(ctx, fx.family, c.ID, 9999, Submission{})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = fx.svc.Submit(ctx, fx.family, c.ID, fx.child, Submission{})
	require.NoError(t, err)
}

func TestFamilyIsolation(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	strangers, err := store.NewFamilyStore(fx.db).Create(ctx, "Sackville", "")
	require.NoError(t, err)
	stranger, err := store.NewChildStore(fx.db).Create(ctx, strangers.ID, "Lotho")
	require.NoError(t, err)

	c, err := fx.svc.Create(ctx, fx.family, Input{Name: "Dishes", Points: 10})
	require.NoError(t, err)

	_, err = fx.svc.Get(ctx, strangers.ID, c.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = fx.svc.Submit(ctx, strangers.ID, c.ID, stranger.ID, Submission{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = fx.svc.Submit(ctx, fx.family, c.ID, stranger.ID, Submission{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, fx.svc.Delete(ctx, strangers.ID, c.ID), apperr.ErrNotFound)

	_, err = fx.svc.Create(ctx, fx.family, Input{Name: "Rake", AssignedTo: []int64{stranger.ID}})
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestCreateValidates(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Input
	}{
		{"blank name", Input{Name: "  "}},
		{"negative points", Input{Name: "x", Points: -1}},
		{"weekly without days", Input{Name: "x", Recurrence: model.Recurrence{Type: model.RecurrenceWeekly}}},
		{"bad rule", Input{Name: "x", Recurrence: model.Recurrence{Type: model.RecurrenceCustom, Rule: "FREQ=SOMETIMES"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Create(ctx, fx.family, tt.in)
			require.ErrorIs(t, err, apperr.ErrInvalid)
		})
	}
}

func TestTemplateLifecycle(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	tmpl, err := fx.svc.Create(ctx, fx.family, Input{
		Name:       "Take out trash",
		Points:     5,
		Recurrence: model.Recurrence{Type: model.RecurrenceWeekly, Days: []time.Weekday{time.Thursday}},
	})
	require.NoError(t, err)
	require.True(t, tmpl.IsTemplate)
	require.NotNil(t, tmpl.NextDueAt)
	// Wednesday Mar 4 -> Thursday Mar 5.
	require.True(t, fixedNow.AddDate(0, 0, 1).Equal(*tmpl.NextDueAt), "next due %v", tmpl.NextDueAt)

	_, err = fx.svc.Submit(ctx, fx.family, tmpl.ID, fx.child, Submission{})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	tmpl, err = fx.svc.Update(ctx, fx.family, tmpl.ID, Input{
		Name:       "Take out trash",
		Points:     8,
		Recurrence: model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)
	require.Equal(t, 8, tmpl.Points)
	require.True(t, fixedNow.Equal(*tmpl.NextDueAt), "next due %v", tmpl.NextDueAt)

	_, err = fx.svc.Update(ctx, fx.family, tmpl.ID, Input{Name: "Take out trash"})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	live, err := fx.svc.List(ctx, fx.family, Filter{})
	require.NoError(t, err)
	require.Empty(t, live)
	all, err := fx.svc.List(ctx, fx.family, Filter{IncludeTemplates: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestApproveSpawnedInstanceSignalsScheduler(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	tmpl, err := fx.svc.Create(ctx, fx.family, Input{
		Name: "Water plants", Points: 3, Recurrence: model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)

	instance, err := store.NewChoreStore(fx.db).Create(ctx, model.Chore{
		FamilyID: fx.family, Name: tmpl.Name, Points: tmpl.Points, TemplateID: &tmpl.ID, DueAt: tmpl.NextDueAt,
	})
	require.NoError(t, err)

	_, err = fx.svc.Submit(ctx, fx.family, instance.ID, fx.child, Submission{})
	require.NoError(t, err)
	_, err = fx.svc.Approve(ctx, fx.family, instance.ID)
	require.NoError(t, err)

	require.Equal(t, []int64{tmpl.ID}, fx.sig.templates)
}

func TestListFiltersByChildAndStatus(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	mine, err := fx.svc.Create(ctx, fx.family, Input{Name: "Mine", AssignedTo: []int64{fx.child}})
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, fx.family, Input{Name: "Theirs", AssignedTo: []int64{fx.other}})
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, fx.family, Input{Name: "Anyone"})
	require.NoError(t, err)

	list, err := fx.svc.List(ctx, fx.family, Filter{ChildID: &fx.child})
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = fx.svc.Submit(ctx, fx.family, mine.ID, fx.child, Submission{})
	require.NoError(t, err)
	submitted := model.ChoreSubmitted
	list, err = fx.svc.List(ctx, fx.family, Filter{Status: &submitted})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, mine.ID, list[0].ID)
}
