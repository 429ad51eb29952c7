// Package chore owns the lifecycle of chores: templates that recur, and the
// live instances children submit and parents approve.
package chore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/recurrence"
	"github.com/dukerupert/chorebank/internal/store"
)

// Signaler is told when a chore spawned from a template is approved.
type Signaler interface {
	ChoreApproved(ctx context.Context, familyID, templateID int64)
}

// Notifier delivers a message to the family's parent. Implementations must
// not block.
type Notifier interface {
	Notify(familyID int64, subject, body string)
}

type Service struct {
	db       *sql.DB
	ledger   *ledger.Service
	pub      events.Publisher
	signaler Signaler
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(db *sql.DB, led *ledger.Service, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{db: db, ledger: led, pub: pub, logger: logger, now: time.Now}
}

func (s *Service) SetSignaler(sig Signaler) { s.signaler = sig }

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Input is the editable part of a chore. A recurrence other than none makes
// the chore a template.
type Input struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Points      int              `json:"points"`
	AssignedTo  []int64          `json:"assigned_to"`
	Recurrence  model.Recurrence `json:"recurrence"`
	StartAt     *time.Time       `json:"start_at"`
}

type Submission struct {
	Emotion  string `json:"emotion"`
	PhotoURL string `json:"photo_url"`
}

type Filter struct {
	ChildID          *int64
	Status           *model.ChoreStatus
	IncludeTemplates bool
}

func (s *Service) Create(ctx context.Context, familyID int64, in Input) (*model.Chore, error) {
	c := model.Chore{FamilyID: familyID, Status: model.ChoreAvailable}
	var created *model.Chore
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.apply(ctx, tx, &c, in, true); err != nil {
			return err
		}
		var err error
		created, err = store.NewChoreStore(tx).Create(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(created, "created")
	s.logger.Info("chore created", "family_id", familyID, "chore_id", created.ID, "template", created.IsTemplate)
	return created, nil
}

// Update edits a chore. Live chores can only be edited while available;
// templates never enter the state machine and can always be edited.
func (s *Service) Update(ctx context.Context, familyID, choreID int64, in Input) (*model.Chore, error) {
	var updated *model.Chore
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		chores := store.NewChoreStore(tx)
		c, err := chores.GetInFamily(ctx, familyID, choreID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("chore %d", choreID)
		}
		if !c.IsTemplate && c.Status != model.ChoreAvailable {
			return apperr.InvalidTransition("chore %d is %s and can no longer be edited", c.ID, c.Status)
		}

		if err := s.apply(ctx, tx, c, in, false); err != nil {
			return err
		}
		updated, err = chores.UpdateDetails(ctx, *c)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(updated, "updated")
	return updated, nil
}

// apply validates in and copies it onto c. Templates get their next due date
// recomputed when created or when their recurrence changes.
func (s *Service) apply(ctx context.Context, tx *sql.Tx, c *model.Chore, in Input, creating bool) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Invalid("name is required")
	}
	if in.Points < 0 {
		return apperr.Invalid("points must not be negative")
	}

	rec := in.Recurrence
	if rec.Type == "" {
		rec.Type = model.RecurrenceNone
	}
	if err := recurrence.Validate(rec); err != nil {
		return apperr.Invalid("%v", err)
	}
	template := rec.Type != model.RecurrenceNone
	if !creating && template != c.IsTemplate {
		return apperr.Invalid("recurrence cannot be added to or removed from an existing chore")
	}

	assigned, err := s.checkAssignment(ctx, tx, c.FamilyID, in.AssignedTo)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	start := now
	if in.StartAt != nil {
		start = in.StartAt.UTC()
	}

	if template {
		if rec.Type == model.RecurrenceCustom && rec.Anchor == nil {
			anchor := start
			if !creating && c.Recurrence.Anchor != nil && c.Recurrence.Rule == rec.Rule {
				anchor = *c.Recurrence.Anchor
			}
			rec.Anchor = &anchor
		}
		if creating || in.StartAt != nil || !sameRecurrence(c.Recurrence, rec) {
			first, err := recurrence.First(rec, start)
			if errors.Is(err, recurrence.ErrNoMoreOccurrences) {
				return apperr.Invalid("recurrence has no occurrences after %s", start.Format(time.RFC3339))
			}
			if err != nil {
				return apperr.Invalid("%v", err)
			}
			c.NextDueAt = &first
		}
	} else {
		rec = model.Recurrence{Type: model.RecurrenceNone}
		if in.StartAt != nil {
			due := start
			c.DueAt = &due
		}
	}

	c.Name = name
	c.Description = strings.TrimSpace(in.Description)
	c.Points = in.Points
	c.AssignedTo = assigned
	c.Recurrence = rec
	c.IsTemplate = template
	return nil
}

// checkAssignment de-duplicates ids and verifies each child is in the family.
func (s *Service) checkAssignment(ctx context.Context, tx *sql.Tx, familyID int64, ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	var unique []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil, nil
	}
	n, err := store.NewChildStore(tx).CountInFamily(ctx, familyID, unique)
	if err != nil {
		return nil, err
	}
	if n != len(unique) {
		return nil, apperr.Invalid("assigned children must belong to the family")
	}
	return unique, nil
}

func sameRecurrence(a, b model.Recurrence) bool {
	if a.Type != b.Type || a.Rule != b.Rule || len(a.Days) != len(b.Days) {
		return false
	}
	for i := range a.Days {
		if a.Days[i] != b.Days[i] {
			return false
		}
	}
	if (a.Anchor == nil) != (b.Anchor == nil) {
		return false
	}
	return a.Anchor == nil || a.Anchor.Equal(*b.Anchor)
}

func (s *Service) Delete(ctx context.Context, familyID, choreID int64) error {
	var deleted *model.Chore
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		chores := store.NewChoreStore(tx)
		c, err := chores.GetInFamily(ctx, familyID, choreID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("chore %d", choreID)
		}
		deleted = c
		return chores.Delete(ctx, c.ID)
	})
	if err != nil {
		return err
	}
	s.publish(deleted, "deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, familyID, choreID int64) (*model.Chore, error) {
	c, err := store.NewChoreStore(s.db).GetInFamily(ctx, familyID, choreID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("chore %d", choreID)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, familyID int64, f Filter) ([]model.Chore, error) {
	lf := store.ListFilter{ChildID: f.ChildID, Status: f.Status}
	if !f.IncludeTemplates {
		live := false
		lf.Templates = &live
	}
	chores, err := store.NewChoreStore(s.db).List(ctx, familyID, lf)
	if err != nil {
		return nil, err
	}
	if chores == nil {
		chores = []model.Chore{}
	}
	return chores, nil
}

// Submit marks an available chore as done by childID.
func (s *Service) Submit(ctx context.Context, familyID, choreID, childID int64, sub Submission) (*model.Chore, error) {
	var submitted *model.Chore
	var childName string
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		chores := store.NewChoreStore(tx)
		c, err := chores.GetInFamily(ctx, familyID, choreID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("chore %d", choreID)
		}
		if c.IsTemplate {
			return apperr.Invalid("chore %d is a template and cannot be submitted", c.ID)
		}

		child, err := store.NewChildStore(tx).GetInFamily(ctx, familyID, childID)
		if err != nil {
			return err
		}
		if child == nil {
			return apperr.NotFound("child %d", childID)
		}
		if !c.AssignedToChild(childID) {
			return apperr.Forbidden("chore %d is not assigned to child %d", c.ID, childID)
		}
		if err := checkTransition(c, model.ChoreSubmitted); err != nil {
			return err
		}

		ok, err := chores.MarkSubmitted(ctx, c.ID, childID, s.now(), strings.TrimSpace(sub.Emotion), strings.TrimSpace(sub.PhotoURL))
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("chore %d is no longer available", c.ID)
		}
		childName = child.Name
		submitted, err = chores.GetByID(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordChoreTransition(string(model.ChoreSubmitted))
	s.publish(submitted, "submitted")
	s.notify(familyID, "Chore submitted",
		fmt.Sprintf("%s finished %q and is waiting for approval.", childName, submitted.Name))
	return submitted, nil
}

// Approve accepts a submission and credits the submitter in the same
// transaction.
func (s *Service) Approve(ctx context.Context, familyID, choreID int64) (*model.Chore, error) {
	var approved *model.Chore
	var entry *model.LedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		entry = nil
		chores := store.NewChoreStore(tx)
		c, err := chores.GetInFamily(ctx, familyID, choreID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("chore %d", choreID)
		}
		if err := checkTransition(c, model.ChoreApproved); err != nil {
			return err
		}

		ok, err := chores.MarkApproved(ctx, c.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("chore %d is no longer submitted", c.ID)
		}

		if c.SubmittedBy != nil && c.Points > 0 {
			id := c.ID
			entry, err = s.ledger.AppendTx(ctx, tx, familyID, *c.SubmittedBy, model.EntryEarned, c.Points,
				"Chore: "+c.Name, model.Related{ChoreID: &id})
			if err != nil {
				return err
			}
		}
		approved, err = chores.GetByID(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Committed(entry)
	metrics.RecordChoreTransition(string(model.ChoreApproved))
	s.publish(approved, "approved")

	if approved.TemplateID != nil && s.signaler != nil {
		s.signaler.ChoreApproved(ctx, familyID, *approved.TemplateID)
	}
	if entry != nil {
		s.notify(familyID, "Points earned",
			fmt.Sprintf("%q was approved for %d points. New balance: %d.", approved.Name, entry.Amount, entry.BalanceAfter))
	}
	return approved, nil
}

// Reject sends a submission back to available and discards its metadata.
func (s *Service) Reject(ctx context.Context, familyID, choreID int64) (*model.Chore, error) {
	var rejected *model.Chore
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		chores := store.NewChoreStore(tx)
		c, err := chores.GetInFamily(ctx, familyID, choreID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("chore %d", choreID)
		}
		if err := checkTransition(c, model.ChoreAvailable); err != nil {
			return err
		}
		ok, err := chores.ResetSubmission(ctx, c.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("chore %d is no longer submitted", c.ID)
		}
		rejected, err = chores.GetByID(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordChoreTransition(string(model.ChoreAvailable))
	s.publish(rejected, "rejected")
	return rejected, nil
}

func (s *Service) publish(c *model.Chore, action string) {
	s.pub.Publish(events.Event{
		FamilyID: c.FamilyID,
		Entity:   events.EntityChore,
		Action:   action,
		ID:       c.ID,
		Extra:    map[string]any{"status": string(c.Status)},
	})
}

func (s *Service) notify(familyID int64, subject, body string) {
	if s.notifier != nil {
		s.notifier.Notify(familyID, subject, body)
	}
}
