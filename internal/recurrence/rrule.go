package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule is the subset of RFC 5545 RRULE that custom chore recurrence supports.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1; 2 = every other period
	ByDay      []time.Weekday // WEEKLY only, Monday-first order; empty = anchor's weekday
	ByMonthDay int            // MONTHLY only; 0 = anchor's day of month
	Count      int            // total occurrences counted from the anchor; 0 = unlimited
	Until      *time.Time     // last allowed occurrence; nil = open-ended
}

// Parse parses an RRULE such as "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2". Keys
// and values are case-insensitive and an "RRULE:" prefix is accepted.
func Parse(rule string) (Rule, error) {
	rule = strings.ToUpper(strings.TrimSpace(rule))
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(strings.TrimSuffix(rule, ";"), ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("invalid rule part: %q", part)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("unknown frequency: %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid interval: %q", val)
			}
			r.Interval = n

		case "BYDAY":
			seen := make(map[time.Weekday]bool)
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("unknown day: %q", d)
				}
				if !seen[wd] {
					seen[wd] = true
					r.ByDay = append(r.ByDay, wd)
				}
			}
			sort.Slice(r.ByDay, func(i, j int) bool {
				return mondayOffset(r.ByDay[i]) < mondayOffset(r.ByDay[j])
			})

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY: %q", val)
			}
			r.ByMonthDay = n

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid count: %q", val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				t, err = time.Parse("20060102", val)
				if err != nil {
					return Rule{}, fmt.Errorf("invalid UNTIL: %q", val)
				}
			}
			r.Until = &t

		default:
			return Rule{}, fmt.Errorf("unsupported rule key: %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}
	if len(r.ByDay) > 0 && r.Freq != Weekly {
		return Rule{}, fmt.Errorf("BYDAY is only supported with FREQ=WEEKLY")
	}
	if r.ByMonthDay > 0 && r.Freq != Monthly {
		return Rule{}, fmt.Errorf("BYMONTHDAY is only supported with FREQ=MONTHLY")
	}
	if r.Count > 0 && r.Until != nil {
		return Rule{}, fmt.Errorf("COUNT and UNTIL are mutually exclusive")
	}

	return r, nil
}

// String serializes the rule back to its canonical RRULE form.
func (r Rule) String() string {
	parts := []string{"FREQ=" + freqNames[r.Freq]}

	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			days[i] = dayAbbrev[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.ByMonthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.ByMonthDay))
	}
	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}

// Describe renders the rule for display next to a chore template.
func (r Rule) Describe() string {
	unit := map[Freq]string{Daily: "day", Weekly: "week", Monthly: "month", Yearly: "year"}[r.Freq]

	s := "Every " + unit
	switch {
	case r.Interval == 2:
		s = "Every other " + unit
	case r.Interval > 2:
		s = fmt.Sprintf("Every %d %ss", r.Interval, unit)
	}

	if len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			names[i] = d.String()[:3]
		}
		s += " on " + strings.Join(names, ", ")
	}
	if r.ByMonthDay > 0 {
		s += fmt.Sprintf(" on day %d", r.ByMonthDay)
	}
	if r.Count > 0 {
		s += fmt.Sprintf(", %d times", r.Count)
	}
	if r.Until != nil {
		s += ", until " + r.Until.Format("Jan 2, 2006")
	}
	return s
}

func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}
