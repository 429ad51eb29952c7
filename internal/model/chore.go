package model

import "time"

// Recurrence describes how a template chore repeats. Days is only meaningful
// for weekly recurrence; Rule holds an RRULE for custom recurrence and Anchor
// is the rule's DTSTART.
type Recurrence struct {
	Type   RecurrenceType `json:"type"`
	Days   []time.Weekday `json:"days,omitempty"`
	Rule   string         `json:"rule,omitempty"`
	Anchor *time.Time     `json:"anchor,omitempty"`
}

type Chore struct {
	ID          int64       `json:"id"`
	FamilyID    int64       `json:"family_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Points      int         `json:"points"`
	Status      ChoreStatus `json:"status"`
	AssignedTo  []int64     `json:"assigned_to"`
	SubmittedBy *int64      `json:"submitted_by"`
	SubmittedAt *time.Time  `json:"submitted_at"`
	Emotion     string      `json:"emotion,omitempty"`
	PhotoURL    string      `json:"photo_url,omitempty"`
	Recurrence  Recurrence  `json:"recurrence"`
	IsTemplate  bool        `json:"is_template"`
	TemplateID  *int64      `json:"template_id"`
	NextDueAt   *time.Time  `json:"next_due_at"`
	DueAt       *time.Time  `json:"due_at"`
	ApprovedAt  *time.Time  `json:"approved_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AssignedToChild reports whether childID may work on the chore. An empty
// assignment set means everyone in the family.
func (c Chore) AssignedToChild(childID int64) bool {
	if len(c.AssignedTo) == 0 {
		return true
	}
	for _, id := range c.AssignedTo {
		if id == childID {
			return true
		}
	}
	return false
}
