package recurrence

import "time"

// maxIterations bounds the walk from a rule's anchor.
const maxIterations = 100000

// After returns the first occurrence of rule, anchored at anchor, that is
// strictly after from. It reports false when the rule has no such
// occurrence because COUNT or UNTIL cut it off.
func After(rule Rule, anchor, from time.Time) (time.Time, bool) {
	return find(rule, anchor, func(t time.Time) bool { return t.After(from) })
}

// AtOrAfter is After with an inclusive bound.
func AtOrAfter(rule Rule, anchor, from time.Time) (time.Time, bool) {
	return find(rule, anchor, func(t time.Time) bool { return !t.Before(from) })
}

func find(rule Rule, anchor time.Time, match func(time.Time) bool) (time.Time, bool) {
	it := newIterator(rule, anchor)
	for count := 1; count <= maxIterations; count++ {
		occ := it.advance()
		if occ.IsZero() {
			return time.Time{}, false
		}
		if rule.Until != nil && occ.After(*rule.Until) {
			return time.Time{}, false
		}
		if rule.Count > 0 && count > rule.Count {
			return time.Time{}, false
		}
		if match(occ) {
			return occ, true
		}
	}
	return time.Time{}, false
}

type iterator struct {
	rule       Rule
	anchor     time.Time
	current    time.Time
	weekDayIdx int
	started    bool
}

func newIterator(rule Rule, anchor time.Time) *iterator {
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	return &iterator{rule: rule, anchor: anchor, current: anchor}
}

func (it *iterator) advance() time.Time {
	switch it.rule.Freq {
	case Daily:
		return it.step(0, 0, it.rule.Interval)
	case Weekly:
		if len(it.rule.ByDay) > 0 {
			return it.advanceWeeklyByDay()
		}
		return it.step(0, 0, 7*it.rule.Interval)
	case Monthly:
		return it.advanceMonthly()
	case Yearly:
		return it.advanceYearly()
	}
	return time.Time{}
}

// step emits the anchor first and then moves by a fixed calendar offset.
func (it *iterator) step(years, months, days int) time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	it.current = it.current.AddDate(years, months, days)
	return it.current
}

func (it *iterator) advanceWeeklyByDay() time.Time {
	if !it.started {
		it.started = true
		it.current = weekStart(it.anchor)
		it.weekDayIdx = 0
		return it.nextByDay()
	}

	it.weekDayIdx++
	if it.weekDayIdx >= len(it.rule.ByDay) {
		it.nextWeekPeriod()
	}
	return it.nextByDay()
}

func (it *iterator) nextByDay() time.Time {
	for {
		for it.weekDayIdx < len(it.rule.ByDay) {
			day := it.rule.ByDay[it.weekDayIdx]
			candidate := time.Date(
				it.current.Year(), it.current.Month(), it.current.Day()+mondayOffset(day),
				it.anchor.Hour(), it.anchor.Minute(), it.anchor.Second(), 0,
				it.anchor.Location(),
			)
			if !candidate.Before(it.anchor) {
				return candidate
			}
			it.weekDayIdx++
		}
		it.nextWeekPeriod()
	}
}

func (it *iterator) nextWeekPeriod() {
	it.current = weekStart(it.current.AddDate(0, 0, 7*it.rule.Interval))
	it.weekDayIdx = 0
}

// weekStart returns midnight on the Monday of t's week.
func weekStart(t time.Time) time.Time {
	monday := t.AddDate(0, 0, -mondayOffset(t.Weekday()))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

func (it *iterator) advanceMonthly() time.Time {
	day := it.rule.ByMonthDay
	if day == 0 {
		day = it.anchor.Day()
	}

	if !it.started {
		it.started = true
		if it.rule.ByMonthDay == 0 || it.anchor.Day() == day {
			it.current = it.anchor
			return it.current
		}
		// First occurrence is the anchor month's BYMONTHDAY if not yet
		// passed, otherwise a later month.
		if day > it.anchor.Day() && day <= daysInMonth(it.anchor.Year(), it.anchor.Month()) {
			it.current = it.monthDay(it.anchor.Year(), it.anchor.Month(), day)
			return it.current
		}
	}

	// Step by whole months from the first of the month so that AddDate never
	// normalizes the 31st into the following month.
	year, month, _ := it.current.Date()
	for {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, it.rule.Interval, 0)
		year, month = first.Year(), first.Month()
		if day <= daysInMonth(year, month) {
			break
		}
	}
	it.current = it.monthDay(year, month, day)
	return it.current
}

func (it *iterator) monthDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day,
		it.anchor.Hour(), it.anchor.Minute(), it.anchor.Second(), 0,
		it.anchor.Location())
}

func (it *iterator) advanceYearly() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}

	next := it.current.AddDate(it.rule.Interval, 0, 0)
	// A Feb 29 anchor only recurs in leap years.
	if it.anchor.Month() == time.February && it.anchor.Day() == 29 {
		year := it.current.Year() + it.rule.Interval
		for daysInMonth(year, time.February) != 29 {
			year += it.rule.Interval
		}
		next = it.monthDay(year, time.February, 29)
	}

	it.current = next
	return it.current
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
