package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

type ChoreStore struct {
	db database.DBTX
}

func NewChoreStore(db database.DBTX) *ChoreStore {
	return &ChoreStore{db: db}
}

func (s *ChoreStore) WithTx(tx *sql.Tx) *ChoreStore {
	return &ChoreStore{db: tx}
}

func scanChore(sc scanner) (*model.Chore, error) {
	var c model.Chore
	var status, recurrenceType, recurrenceDays string
	var submittedBy, templateID sql.NullInt64
	var submittedAt, anchor, nextDue, dueAt, approvedAt sql.NullTime
	var isTemplate int

	err := sc.Scan(
		&c.ID, &c.FamilyID, &c.Name, &c.Description, &c.Points, &status,
		&submittedBy, &submittedAt, &c.Emotion, &c.PhotoURL,
		&recurrenceType, &recurrenceDays, &c.Recurrence.Rule, &anchor,
		&isTemplate, &templateID, &nextDue, &dueAt, &approvedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = model.ChoreStatus(status)
	c.SubmittedBy = int64Ptr(submittedBy)
	c.SubmittedAt = timePtr(submittedAt)
	c.Recurrence.Type = model.RecurrenceType(recurrenceType)
	c.Recurrence.Days = decodeWeekdays(recurrenceDays)
	c.Recurrence.Anchor = timePtr(anchor)
	c.IsTemplate = isTemplate != 0
	c.TemplateID = int64Ptr(templateID)
	c.NextDueAt = timePtr(nextDue)
	c.DueAt = timePtr(dueAt)
	c.ApprovedAt = timePtr(approvedAt)
	return &c, nil
}

const choreCols = `id, family_id, name, description, points, status, submitted_by, submitted_at, emotion, photo_url,
	recurrence_type, recurrence_days, recurrence_rule, recurrence_anchor, is_template, template_id, next_due_at,
	due_at, approved_at, created_at, updated_at`

// Create inserts the chore and its assignment set.
func (s *ChoreStore) Create(ctx context.Context, c model.Chore) (*model.Chore, error) {
	if c.Status == "" {
		c.Status = model.ChoreAvailable
	}
	if c.Recurrence.Type == "" {
		c.Recurrence.Type = model.RecurrenceNone
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chores
			(family_id, name, description, points, status, recurrence_type, recurrence_days, recurrence_rule,
			 recurrence_anchor, is_template, template_id, next_due_at, due_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FamilyID, c.Name, c.Description, c.Points, string(c.Status),
		string(c.Recurrence.Type), encodeWeekdays(c.Recurrence.Days), c.Recurrence.Rule, nullTime(c.Recurrence.Anchor),
		boolInt(c.IsTemplate), nullInt64(c.TemplateID), nullTime(c.NextDueAt), nullTime(c.DueAt),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := s.SetAssignments(ctx, id, c.AssignedTo); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *ChoreStore) GetByID(ctx context.Context, id int64) (*model.Chore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+choreCols+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chore: %w", err)
	}
	if c.AssignedTo, err = s.assignments(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// GetInFamily returns the chore only if it belongs to familyID.
func (s *ChoreStore) GetInFamily(ctx context.Context, familyID, id int64) (*model.Chore, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	if c.FamilyID != familyID {
		return nil, nil
	}
	return c, nil
}

// ListFilter narrows List. Nil fields are ignored.
type ListFilter struct {
	ChildID   *int64
	Status    *model.ChoreStatus
	Templates *bool
}

func (s *ChoreStore) List(ctx context.Context, familyID int64, f ListFilter) ([]model.Chore, error) {
	where := []string{"family_id = ?"}
	args := []any{familyID}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Templates != nil {
		where = append(where, "is_template = ?")
		args = append(args, boolInt(*f.Templates))
	}
	if f.ChildID != nil {
		where = append(where,
			`(NOT EXISTS (SELECT 1 FROM chore_assignments a WHERE a.chore_id = chores.id)
			  OR EXISTS (SELECT 1 FROM chore_assignments a WHERE a.chore_id = chores.id AND a.child_id = ?))`)
		args = append(args, *f.ChildID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+choreCols+` FROM chores WHERE `+strings.Join(where, " AND ")+` ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	chores, err := collectChores(rows)
	if err != nil {
		return nil, err
	}
	return chores, s.attachAssignments(ctx, chores)
}

// ListDueTemplates returns every template, across families, whose next due
// date is at or before now.
func (s *ChoreStore) ListDueTemplates(ctx context.Context, now time.Time) ([]model.Chore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+choreCols+` FROM chores
		 WHERE is_template = 1 AND next_due_at IS NOT NULL AND next_due_at <= ?
		 ORDER BY next_due_at ASC, id ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	chores, err := collectChores(rows)
	if err != nil {
		return nil, err
	}
	return chores, s.attachAssignments(ctx, chores)
}

func collectChores(rows *sql.Rows) ([]model.Chore, error) {
	defer rows.Close()

	var chores []model.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		chores = append(chores, *c)
	}
	return chores, rows.Err()
}

// UpdateDetails rewrites the editable fields of a chore and its assignment
// set. Callers enforce which states allow editing.
func (s *ChoreStore) UpdateDetails(ctx context.Context, c model.Chore) (*model.Chore, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chores
		 SET name = ?, description = ?, points = ?, recurrence_type = ?, recurrence_days = ?,
		     recurrence_rule = ?, recurrence_anchor = ?, next_due_at = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Description, c.Points, string(c.Recurrence.Type), encodeWeekdays(c.Recurrence.Days),
		c.Recurrence.Rule, nullTime(c.Recurrence.Anchor), nullTime(c.NextDueAt), time.Now().UTC(), c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update chore: %w", err)
	}
	if err := s.SetAssignments(ctx, c.ID, c.AssignedTo); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, c.ID)
}

func (s *ChoreStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	return nil
}

// MarkSubmitted moves an available chore to submitted. It reports false when
// the chore was not available.
func (s *ChoreStore) MarkSubmitted(ctx context.Context, id, childID int64, at time.Time, emotion, photoURL string) (bool, error) {
	return s.transition(ctx, "mark submitted",
		`UPDATE chores
		 SET status = 'submitted', submitted_by = ?, submitted_at = ?, emotion = ?, photo_url = ?, updated_at = ?
		 WHERE id = ? AND status = 'available' AND is_template = 0`,
		childID, at.UTC(), emotion, photoURL, at.UTC(), id,
	)
}

// MarkApproved moves a submitted chore to approved.
func (s *ChoreStore) MarkApproved(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.transition(ctx, "mark approved",
		`UPDATE chores SET status = 'approved', approved_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'submitted'`,
		at.UTC(), at.UTC(), id,
	)
}

// ResetSubmission moves a submitted chore back to available and discards the
// submission metadata.
func (s *ChoreStore) ResetSubmission(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.transition(ctx, "reset submission",
		`UPDATE chores
		 SET status = 'available', submitted_by = NULL, submitted_at = NULL, emotion = '', photo_url = '', updated_at = ?
		 WHERE id = ? AND status = 'submitted'`,
		at.UTC(), id,
	)
}

// AdvanceTemplate moves a template's next due date from expected to next.
// It reports false when another writer already advanced it.
func (s *ChoreStore) AdvanceTemplate(ctx context.Context, id int64, expected time.Time, next *time.Time) (bool, error) {
	return s.transition(ctx, "advance template",
		`UPDATE chores SET next_due_at = ?, updated_at = ?
		 WHERE id = ? AND is_template = 1 AND next_due_at = ?`,
		nullTime(next), time.Now().UTC(), id, expected.UTC(),
	)
}

func (s *ChoreStore) transition(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// --- Assignment methods ---

func (s *ChoreStore) SetAssignments(ctx context.Context, choreID int64, childIDs []int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chore_assignments WHERE chore_id = ?`, choreID); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	for _, childID := range childIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO chore_assignments (chore_id, child_id) VALUES (?, ?)`,
			choreID, childID,
		); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	return nil
}

func (s *ChoreStore) assignments(ctx context.Context, choreID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_id FROM chore_assignments WHERE chore_id = ? ORDER BY child_id`,
		choreID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ChoreStore) attachAssignments(ctx context.Context, chores []model.Chore) error {
	for i := range chores {
		ids, err := s.assignments(ctx, chores[i].ID)
		if err != nil {
			return err
		}
		chores[i].AssignedTo = ids
	}
	return nil
}
