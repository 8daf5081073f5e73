package recurrence

import "time"

// maxIterations bounds every walk over a rule so an unbounded pattern can
// never spin forever. 10000 daily steps is over 27 years of lookahead.
const maxIterations = 10000

// Expand returns the instants the rule selects inside
// [windowStart, windowEnd], in strictly increasing order, with exception
// dates removed and the result truncated at maxCount. It is pure and
// deterministic: the same inputs always produce the same sequence, which is
// what lets occurrences be rebuilt from the rule at any time.
func Expand(r *Rule, exceptions []time.Time, windowStart, windowEnd time.Time, maxCount int) []time.Time {
	if maxCount <= 0 || windowEnd.Before(windowStart) {
		return nil
	}
	excluded := make(map[string]struct{}, len(exceptions))
	for _, d := range exceptions {
		excluded[DateKey(d)] = struct{}{}
	}

	out := make([]time.Time, 0, maxCount)
	r.iterate(func(t time.Time) bool {
		if t.After(windowEnd) {
			return false
		}
		if t.Before(windowStart) {
			return true
		}
		if _, skip := excluded[DateKey(t)]; skip {
			return true
		}
		out = append(out, t)
		return len(out) < maxCount
	})
	return out
}

// iterate walks the rule's instants from the anchor in increasing order,
// applying the until/count end conditions, until fn returns false or the
// safety cap is hit. Count is consumed by every instant the rule selects,
// before any exception filtering.
func (r *Rule) iterate(fn func(t time.Time) bool) {
	emitted := 0
	emit := func(t time.Time) bool {
		if t.Before(r.Anchor) {
			// Candidates earlier in the anchor's own week/month/year.
			return true
		}
		if r.Until != nil && t.After(*r.Until) {
			return false
		}
		emitted++
		if !fn(t) {
			return false
		}
		return r.Count == 0 || emitted < r.Count
	}

	switch r.Frequency {
	case Daily:
		r.iterateDaily(emit)
	case Weekly:
		r.iterateWeekly(emit)
	case Monthly:
		r.iterateMonthly(emit)
	case Yearly:
		r.iterateYearly(emit)
	}
}

func (r *Rule) iterateDaily(emit func(time.Time) bool) {
	for i := 0; i < maxIterations; i++ {
		// AddDate keeps the wall clock stable across DST transitions.
		if !emit(r.Anchor.AddDate(0, 0, i*r.Interval)) {
			return
		}
	}
}

func (r *Rule) iterateWeekly(emit func(time.Time) bool) {
	days := r.Weekdays
	if len(days) == 0 {
		days = []time.Weekday{r.Anchor.Weekday()}
	}
	// Anchor's Monday, carrying the anchor's time of day.
	weekStart := r.Anchor.AddDate(0, 0, -mondayOffset(r.Anchor.Weekday()))
	for w := 0; w < maxIterations; w++ {
		base := weekStart.AddDate(0, 0, w*r.Interval*7)
		for _, wd := range days {
			if !emit(base.AddDate(0, 0, mondayOffset(wd))) {
				return
			}
		}
	}
}

func (r *Rule) iterateMonthly(emit func(time.Time) bool) {
	days := r.MonthDays
	if len(days) == 0 {
		days = []int{r.Anchor.Day()}
	}
	hh, mm, ss := r.Anchor.Clock()
	first := time.Date(r.Anchor.Year(), r.Anchor.Month(), 1, 0, 0, 0, 0, r.Location)
	for m := 0; m < maxIterations; m++ {
		base := first.AddDate(0, m*r.Interval, 0)
		for _, d := range days {
			t := time.Date(base.Year(), base.Month(), d, hh, mm, ss, 0, r.Location)
			if t.Day() != d {
				// Day does not exist in this month (e.g. 31 in February):
				// skipped, never rounded to a neighboring day.
				continue
			}
			if !emit(t) {
				return
			}
		}
	}
}

func (r *Rule) iterateYearly(emit func(time.Time) bool) {
	months := r.Months
	if len(months) == 0 {
		months = []time.Month{r.Anchor.Month()}
	}
	day := r.Anchor.Day()
	hh, mm, ss := r.Anchor.Clock()
	for y := 0; y < maxIterations; y++ {
		year := r.Anchor.Year() + y*r.Interval
		for _, mo := range months {
			t := time.Date(year, mo, day, hh, mm, ss, 0, r.Location)
			if t.Month() != mo || t.Day() != day {
				// Feb 29 outside a leap year.
				continue
			}
			if !emit(t) {
				return
			}
		}
	}
}
