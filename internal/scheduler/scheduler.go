// Package scheduler turns recurring chore templates into live chores.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/recurrence"
	"github.com/dukerupert/chorebank/internal/store"
)

// Scheduler spawns one live chore per due template occurrence. Ticks are
// serialized; each template is handled in its own transaction guarded on the
// template's next due date, so a repeated tick spawns nothing new.
type Scheduler struct {
	db     *sql.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func New(db *sql.DB, pub events.Publisher, logger *slog.Logger) *Scheduler {
	if pub == nil {
		pub = events.Discard
	}
	return &Scheduler{db: db, pub: pub, logger: logger, now: time.Now}
}

// Tick spawns an instance for every template due at or before now and
// returns the new chore ids. A template several periods behind advances one
// occurrence per tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	templates, err := store.NewChoreStore(s.db).ListDueTemplates(ctx, now)
	if err != nil {
		return nil, err
	}

	spawned := []int64{}
	for _, t := range templates {
		instance, err := s.spawn(ctx, t.ID, now)
		if err != nil {
			s.logger.Error("spawn chore", "template_id", t.ID, "family_id", t.FamilyID, "error", err)
			continue
		}
		if instance != nil {
			spawned = append(spawned, instance.ID)
		}
	}

	metrics.RecordSchedulerTick(len(spawned), time.Since(start))
	if len(spawned) > 0 {
		s.logger.Info("scheduler tick", "due", len(templates), "spawned", len(spawned))
	}
	return spawned, nil
}

// ChoreApproved runs the spawn for a template right away when it is already
// due, instead of waiting for the next tick.
func (s *Scheduler) ChoreApproved(ctx context.Context, familyID, templateID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := store.NewChoreStore(s.db).GetInFamily(ctx, familyID, templateID)
	if err != nil {
		s.logger.Error("load template", "template_id", templateID, "error", err)
		return
	}
	now := s.now()
	if t == nil || !t.IsTemplate || t.NextDueAt == nil || t.NextDueAt.After(now) {
		return
	}
	if _, err := s.spawn(ctx, templateID, now); err != nil {
		s.logger.Error("spawn chore", "template_id", templateID, "family_id", familyID, "error", err)
	}
}

// spawn returns nil when the template was not due or another writer already
// handled the occurrence.
func (s *Scheduler) spawn(ctx context.Context, templateID int64, now time.Time) (*model.Chore, error) {
	var instance *model.Chore
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		instance = nil
		chores := store.NewChoreStore(tx)

		t, err := chores.GetByID(ctx, templateID)
		if err != nil {
			return err
		}
		if t == nil || !t.IsTemplate || t.NextDueAt == nil || t.NextDueAt.After(now) {
			return nil
		}
		occurrence := *t.NextDueAt

		var next *time.Time
		following, err := recurrence.Following(t.Recurrence, occurrence)
		switch {
		case errors.Is(err, recurrence.ErrNoMoreOccurrences):
			s.logger.Info("template retired", "template_id", t.ID, "last_occurrence", occurrence)
		case err != nil:
			return err
		default:
			next = &following
		}

		ok, err := chores.AdvanceTemplate(ctx, t.ID, occurrence, next)
		if err != nil || !ok {
			return err
		}

		created, err := chores.Create(ctx, model.Chore{
			FamilyID:    t.FamilyID,
			Name:        t.Name,
			Description: t.Description,
			Points:      t.Points,
			Status:      model.ChoreAvailable,
			AssignedTo:  t.AssignedTo,
			TemplateID:  &t.ID,
			DueAt:       &occurrence,
		})
		if database.IsUniqueViolation(err) {
			return nil
		}
		if err != nil {
			return err
		}
		instance = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	if instance != nil {
		s.pub.Publish(events.Event{
			FamilyID: instance.FamilyID,
			Entity:   events.EntityChore,
			Action:   "spawned",
			ID:       instance.ID,
			Extra:    map[string]any{"template_id": templateID, "due_at": instance.DueAt},
		})
	}
	return instance, nil
}
