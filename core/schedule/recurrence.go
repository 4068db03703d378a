// Package schedule holds the durable schedule store and the recurrence
// engine that feeds it.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/kmoreau/plugsched/core/model"
)

// Interval reference points. Fixed dates keep "every N days/weeks/months"
// stable across restarts instead of drifting with the first occurrence.
var (
	refDay  = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	refWeek = time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC) // a Monday
)

// ValidateRecurrence checks a rule for well-formedness. now guards against
// rules whose end date is already in the past.
func ValidateRecurrence(r model.Recurrence, now time.Time) error {
	switch r.Frequency {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly, model.FreqCustom:
	default:
		return fmt.Errorf("invalid frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("interval must be at least 1, got %d", r.Interval)
	}
	if _, _, err := parseTimeOfDay(r.TimeOfDay); err != nil {
		return err
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid day of week %d", d)
		}
	}
	for _, d := range r.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("invalid day of month %d", d)
		}
	}
	switch {
	case r.Frequency == model.FreqWeekly && len(r.DaysOfWeek) == 0:
		return fmt.Errorf("weekly frequency requires days_of_week")
	case r.Frequency == model.FreqMonthly && len(r.DaysOfMonth) == 0:
		return fmt.Errorf("monthly frequency requires days_of_month")
	case r.Frequency == model.FreqCustom && len(r.DaysOfWeek) == 0 && len(r.DaysOfMonth) == 0:
		return fmt.Errorf("custom frequency requires days_of_week or days_of_month")
	}
	if r.EndDate != nil && r.EndDate.Before(now) {
		return fmt.Errorf("end date %s is in the past", r.EndDate.Format(time.RFC3339))
	}
	return nil
}

// NextOccurrence computes the first instant satisfying the rule strictly
// after the given instant, evaluated in loc and returned in UTC. The second
// return is false when the rule has no further occurrence.
func NextOccurrence(r model.Recurrence, after time.Time, loc *time.Location) (time.Time, bool) {
	hour, minute, err := parseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	local := after.In(loc)

	var next time.Time
	var ok bool
	switch r.Frequency {
	case model.FreqDaily:
		next, ok = nextDaily(local, hour, minute, interval), true
	case model.FreqWeekly:
		next, ok = nextWeekly(local, hour, minute, r.DaysOfWeek, interval)
	case model.FreqMonthly:
		next, ok = nextMonthly(local, hour, minute, r.DaysOfMonth, interval)
	case model.FreqCustom:
		next, ok = nextCustom(local, hour, minute, r.DaysOfWeek, r.DaysOfMonth, interval)
	default:
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false
	}
	return next.UTC(), true
}

func nextDaily(after time.Time, hour, minute, interval int) time.Time {
	candidate := atTime(after, hour, minute)
	if !candidate.After(after) {
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute)
	}
	if interval > 1 {
		if rem := daysBetween(refDay, candidate) % interval; rem != 0 {
			candidate = atTime(candidate.AddDate(0, 0, interval-rem), hour, minute)
		}
	}
	return candidate
}

func nextWeekly(after time.Time, hour, minute int, daysOfWeek []int, interval int) (time.Time, bool) {
	if len(daysOfWeek) == 0 {
		return time.Time{}, false
	}
	days := make(map[int]bool, len(daysOfWeek))
	for _, d := range daysOfWeek {
		days[d] = true
	}
	candidate := atTime(after, hour, minute)
	if !candidate.After(after) {
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute)
	}
	// Week alignment is checked per candidate day. Jumping whole weeks on a
	// mismatch could skip an earlier allowed weekday inside the aligned week.
	for i := 0; i < interval*7*52; i++ {
		if days[mondayWeekday(candidate)] {
			weeks := daysBetween(refWeek, candidate) / 7
			if interval <= 1 || weeks%interval == 0 {
				return candidate, true
			}
		}
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute)
	}
	return time.Time{}, false
}

func nextMonthly(after time.Time, hour, minute int, daysOfMonth []int, interval int) (time.Time, bool) {
	if len(daysOfMonth) == 0 {
		return time.Time{}, false
	}
	doms := append([]int(nil), daysOfMonth...)
	sort.Ints(doms)

	candidate := atTime(after, hour, minute)
	if !candidate.After(after) {
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute)
	}
	for i := 0; i < interval*12+12; i++ {
		year, month, day := candidate.Date()
		last := lastDayOfMonth(year, month)
		months := (year-refDay.Year())*12 + int(month) - int(refDay.Month())
		if interval <= 1 || months%interval == 0 {
			for _, dom := range doms {
				actual := dom
				if actual > last {
					// Day does not exist this month, clamp to month end.
					actual = last
				}
				if day > actual {
					continue
				}
				test := time.Date(year, month, actual, hour, minute, 0, 0, candidate.Location())
				if test.After(after) {
					return test, true
				}
			}
		}
		candidate = time.Date(year, month, 1, hour, minute, 0, 0, candidate.Location()).AddDate(0, 1, 0)
	}
	return time.Time{}, false
}

// nextCustom returns the earliest of the weekly and monthly candidates.
func nextCustom(after time.Time, hour, minute int, daysOfWeek, daysOfMonth []int, interval int) (time.Time, bool) {
	var best time.Time
	found := false
	if w, ok := nextWeekly(after, hour, minute, daysOfWeek, interval); ok {
		best, found = w, true
	}
	if m, ok := nextMonthly(after, hour, minute, daysOfMonth, interval); ok {
		if !found || m.Before(best) {
			best, found = m, true
		}
	}
	return best, found
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	return hour, minute, nil
}

// atTime returns t's calendar day at the given wall-clock time.
func atTime(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, DST-safe.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	au := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bu := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}

// mondayWeekday maps time.Weekday to the 0=Monday..6=Sunday convention.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}
