// Package recurrence computes when recurring chore templates fall due.
// Daily and weekly recurrence follow fixed rules; custom recurrence is an
// RRULE evaluated by the engine in this package.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
)

var (
	// ErrNotRecurring is returned for a descriptor of type none.
	ErrNotRecurring = errors.New("recurrence: not recurring")
	// ErrNoMoreOccurrences is returned when a custom rule's COUNT or UNTIL
	// has been reached.
	ErrNoMoreOccurrences = errors.New("recurrence: no more occurrences")
)

// Validate checks that d is complete for its type.
func Validate(d model.Recurrence) error {
	switch d.Type {
	case model.RecurrenceNone, "":
		return nil
	case model.RecurrenceDaily:
		return nil
	case model.RecurrenceWeekly:
		if len(d.Days) == 0 {
			return fmt.Errorf("weekly recurrence needs at least one day")
		}
		for _, day := range d.Days {
			if day < time.Sunday || day > time.Saturday {
				return fmt.Errorf("invalid weekday %d", day)
			}
		}
		return nil
	case model.RecurrenceCustom:
		if _, err := Parse(d.Rule); err != nil {
			return fmt.Errorf("custom recurrence: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown recurrence type %q", d.Type)
}

// NextDue computes the next due date from a reference time:
//
//	daily   from + 1 day
//	weekly  the soonest date on or after from whose weekday is in the set
//	custom  the rule's first occurrence strictly after from
//
// Time of day is taken from from (or from the rule's anchor for custom).
func NextDue(d model.Recurrence, from time.Time) (time.Time, error) {
	switch d.Type {
	case model.RecurrenceDaily:
		return from.AddDate(0, 0, 1), nil
	case model.RecurrenceWeekly:
		if len(d.Days) == 0 {
			return time.Time{}, fmt.Errorf("weekly recurrence needs at least one day")
		}
		return nextWeekday(d.Days, from), nil
	case model.RecurrenceCustom:
		rule, anchor, err := custom(d, from)
		if err != nil {
			return time.Time{}, err
		}
		next, ok := After(rule, anchor, from)
		if !ok {
			return time.Time{}, ErrNoMoreOccurrences
		}
		return next, nil
	}
	return time.Time{}, ErrNotRecurring
}

// First returns the first due date of a template that starts at start.
// Unlike NextDue it includes start itself when start is an occurrence.
func First(d model.Recurrence, start time.Time) (time.Time, error) {
	switch d.Type {
	case model.RecurrenceDaily:
		return start, nil
	case model.RecurrenceWeekly:
		return NextDue(d, start)
	case model.RecurrenceCustom:
		rule, anchor, err := custom(d, start)
		if err != nil {
			return time.Time{}, err
		}
		first, ok := AtOrAfter(rule, anchor, start)
		if !ok {
			return time.Time{}, ErrNoMoreOccurrences
		}
		return first, nil
	}
	return time.Time{}, ErrNotRecurring
}

// Following returns the occurrence after the given one. It is always
// strictly later than occurrence, which keeps spawning idempotent per due
// date.
func Following(d model.Recurrence, occurrence time.Time) (time.Time, error) {
	if d.Type == model.RecurrenceWeekly {
		return NextDue(d, occurrence.AddDate(0, 0, 1))
	}
	return NextDue(d, occurrence)
}

// Describe renders d for display.
func Describe(d model.Recurrence) string {
	switch d.Type {
	case model.RecurrenceDaily:
		return "Every day"
	case model.RecurrenceWeekly:
		r := Rule{Freq: Weekly, Interval: 1, ByDay: sortedDays(d.Days)}
		return r.Describe()
	case model.RecurrenceCustom:
		if r, err := Parse(d.Rule); err == nil {
			return r.Describe()
		}
	}
	return ""
}

func custom(d model.Recurrence, fallback time.Time) (Rule, time.Time, error) {
	rule, err := Parse(d.Rule)
	if err != nil {
		return Rule{}, time.Time{}, fmt.Errorf("custom recurrence: %w", err)
	}
	anchor := fallback
	if d.Anchor != nil {
		anchor = *d.Anchor
	}
	return rule, anchor, nil
}

func nextWeekday(days []time.Weekday, from time.Time) time.Time {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	for i := 0; i < 7; i++ {
		candidate := from.AddDate(0, 0, i)
		if set[candidate.Weekday()] {
			return candidate
		}
	}
	// Unreachable for a non-empty, valid set.
	return from.AddDate(0, 0, 7)
}

func sortedDays(days []time.Weekday) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for i := 0; i < 7; i++ {
		d := time.Weekday((i + 1) % 7)
		for _, x := range days {
			if x == d {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
