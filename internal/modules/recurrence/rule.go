package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// wallTimeLayout is the wall-clock form used inside rule text. The zone comes
// from the schedule's timezone column, never from the rule itself.
const wallTimeLayout = "20060102T150405"

var weekdayCodes = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule is the canonical, compiled form of a repetition pattern. Weekdays,
// MonthDays and Months are sorted and deduplicated; an empty set means
// "inherit from the anchor".
type Rule struct {
	Frequency Frequency
	Interval  int
	Weekdays  []time.Weekday // weekly only
	MonthDays []int          // monthly only
	Months    []time.Month   // yearly only
	Anchor    time.Time      // first instant the rule may select, in Location
	Location  *time.Location
	Until     *time.Time // inclusive end bound
	Count     int        // total occurrence cap from the anchor; 0 = none
}

// Pattern is the user-declared repetition description before compilation.
type Pattern struct {
	Frequency string     `json:"frequency"`
	Interval  int        `json:"interval"`
	Weekdays  []int      `json:"weekdays,omitempty"`   // 0=Sunday .. 6=Saturday
	MonthDays []int      `json:"month_days,omitempty"` // 1..31
	Months    []int      `json:"months,omitempty"`     // 1..12
	Anchor    time.Time  `json:"anchor"`
	Timezone  string     `json:"timezone"`
	Until     *time.Time `json:"until,omitempty"`
	Count     int        `json:"count,omitempty"`
}

// Compile validates and canonicalizes a pattern into a Rule, and returns the
// first instant the rule selects at or after now. It fails when a field is
// outside its domain or when the rule cannot produce a single future instant.
func Compile(p Pattern, now time.Time) (*Rule, time.Time, error) {
	freq := Frequency(strings.ToUpper(strings.TrimSpace(p.Frequency)))
	switch freq {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return nil, time.Time{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidPattern, p.Frequency)
	}

	interval := p.Interval
	if interval == 0 {
		interval = 1
	}
	if interval < 1 {
		return nil, time.Time{}, fmt.Errorf("%w: interval must be >= 1", ErrInvalidPattern)
	}

	if p.Anchor.IsZero() {
		return nil, time.Time{}, fmt.Errorf("%w: anchor is required", ErrInvalidPattern)
	}

	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidPattern, p.Timezone)
	}

	if p.Count < 0 {
		return nil, time.Time{}, fmt.Errorf("%w: count must be >= 1", ErrInvalidPattern)
	}
	if p.Count > 0 && p.Until != nil {
		return nil, time.Time{}, fmt.Errorf("%w: count and until are mutually exclusive", ErrInvalidPattern)
	}

	r := &Rule{
		Frequency: freq,
		Interval:  interval,
		Anchor:    p.Anchor.In(loc),
		Location:  loc,
		Count:     p.Count,
	}
	if p.Until != nil {
		u := p.Until.In(loc)
		if u.Before(r.Anchor) {
			return nil, time.Time{}, fmt.Errorf("%w: until is before the anchor", ErrInvalidPattern)
		}
		r.Until = &u
	}

	if len(p.Weekdays) > 0 {
		if freq != Weekly {
			return nil, time.Time{}, fmt.Errorf("%w: weekdays are only valid for weekly patterns", ErrInvalidPattern)
		}
		seen := map[int]bool{}
		for _, d := range p.Weekdays {
			if d < 0 || d > 6 {
				return nil, time.Time{}, fmt.Errorf("%w: weekday %d out of range", ErrInvalidPattern, d)
			}
			if !seen[d] {
				seen[d] = true
				r.Weekdays = append(r.Weekdays, time.Weekday(d))
			}
		}
		sortWeekdays(r.Weekdays)
	}
	if len(p.MonthDays) > 0 {
		if freq != Monthly {
			return nil, time.Time{}, fmt.Errorf("%w: month days are only valid for monthly patterns", ErrInvalidPattern)
		}
		seen := map[int]bool{}
		for _, d := range p.MonthDays {
			if d < 1 || d > 31 {
				return nil, time.Time{}, fmt.Errorf("%w: month day %d out of range", ErrInvalidPattern, d)
			}
			if !seen[d] {
				seen[d] = true
				r.MonthDays = append(r.MonthDays, d)
			}
		}
		sort.Ints(r.MonthDays)
	}
	if len(p.Months) > 0 {
		if freq != Yearly {
			return nil, time.Time{}, fmt.Errorf("%w: months are only valid for yearly patterns", ErrInvalidPattern)
		}
		seen := map[int]bool{}
		for _, m := range p.Months {
			if m < 1 || m > 12 {
				return nil, time.Time{}, fmt.Errorf("%w: month %d out of range", ErrInvalidPattern, m)
			}
			if !seen[m] {
				seen[m] = true
				r.Months = append(r.Months, time.Month(m))
			}
		}
		sort.Slice(r.Months, func(i, j int) bool { return r.Months[i] < r.Months[j] })
	}

	first, ok := r.Next(now)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: rule produces no future occurrence", ErrInvalidPattern)
	}
	return r, first, nil
}

// Next returns the first instant the rule selects at or after from,
// end conditions included. Exceptions are not consulted here.
func (r *Rule) Next(from time.Time) (time.Time, bool) {
	var out time.Time
	var found bool
	r.iterate(func(t time.Time) bool {
		if t.Before(from) {
			return true
		}
		out, found = t, true
		return false
	})
	return out, found
}

// HasOccurrenceAfter reports whether the rule can still select an instant
// strictly after t. False means the end condition has been reached.
func (r *Rule) HasOccurrenceAfter(t time.Time) bool {
	_, ok := r.Next(t.Add(time.Nanosecond))
	return ok
}

// Encode serializes the rule as canonical RFC 5545-style text, with the
// anchor carried as a DTSTART component in the rule's own timezone.
func (r *Rule) Encode() string {
	parts := []string{
		"DTSTART=" + r.Anchor.Format(wallTimeLayout),
		"FREQ=" + string(r.Frequency),
		"INTERVAL=" + strconv.Itoa(r.Interval),
	}
	if len(r.Weekdays) > 0 {
		codes := make([]string, 0, len(r.Weekdays))
		for _, d := range r.Weekdays {
			codes = append(codes, weekdayCodes[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if len(r.MonthDays) > 0 {
		days := make([]string, 0, len(r.MonthDays))
		for _, d := range r.MonthDays {
			days = append(days, strconv.Itoa(d))
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}
	if len(r.Months) > 0 {
		months := make([]string, 0, len(r.Months))
		for _, m := range r.Months {
			months = append(months, strconv.Itoa(int(m)))
		}
		parts = append(parts, "BYMONTH="+strings.Join(months, ","))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.Format(wallTimeLayout))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	return strings.Join(parts, ";")
}

// Parse decodes rule text produced by Encode. Wall-clock components are
// interpreted in loc.
func Parse(text string, loc *time.Location) (*Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Rule{Interval: 1, Location: loc}
	for _, part := range strings.Split(text, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed component %q", ErrInvalidPattern, part)
		}
		switch key {
		case "DTSTART":
			t, err := time.ParseInLocation(wallTimeLayout, value, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: bad DTSTART %q", ErrInvalidPattern, value)
			}
			r.Anchor = t
		case "FREQ":
			switch Frequency(value) {
			case Daily, Weekly, Monthly, Yearly:
				r.Frequency = Frequency(value)
			default:
				return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidPattern, value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: bad interval %q", ErrInvalidPattern, value)
			}
			r.Interval = n
		case "BYDAY":
			for _, code := range strings.Split(value, ",") {
				wd, ok := weekdayFromCode(code)
				if !ok {
					return nil, fmt.Errorf("%w: bad weekday %q", ErrInvalidPattern, code)
				}
				r.Weekdays = append(r.Weekdays, wd)
			}
			sortWeekdays(r.Weekdays)
		case "BYMONTHDAY":
			for _, s := range strings.Split(value, ",") {
				d, err := strconv.Atoi(s)
				if err != nil || d < 1 || d > 31 {
					return nil, fmt.Errorf("%w: bad month day %q", ErrInvalidPattern, s)
				}
				r.MonthDays = append(r.MonthDays, d)
			}
			sort.Ints(r.MonthDays)
		case "BYMONTH":
			for _, s := range strings.Split(value, ",") {
				m, err := strconv.Atoi(s)
				if err != nil || m < 1 || m > 12 {
					return nil, fmt.Errorf("%w: bad month %q", ErrInvalidPattern, s)
				}
				r.Months = append(r.Months, time.Month(m))
			}
			sort.Slice(r.Months, func(i, j int) bool { return r.Months[i] < r.Months[j] })
		case "UNTIL":
			t, err := time.ParseInLocation(wallTimeLayout, value, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: bad UNTIL %q", ErrInvalidPattern, value)
			}
			r.Until = &t
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: bad count %q", ErrInvalidPattern, value)
			}
			r.Count = n
		default:
			return nil, fmt.Errorf("%w: unknown component %q", ErrInvalidPattern, key)
		}
	}
	if r.Frequency == "" {
		return nil, fmt.Errorf("%w: missing FREQ", ErrInvalidPattern)
	}
	if r.Anchor.IsZero() {
		return nil, fmt.Errorf("%w: missing DTSTART", ErrInvalidPattern)
	}
	return r, nil
}

// DateKey formats the calendar date of t as it reads on the wall clock.
// Exception dates and occurrence dedup both key on it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func weekdayFromCode(code string) (time.Weekday, bool) {
	for wd, c := range weekdayCodes {
		if c == code {
			return wd, true
		}
	}
	return 0, false
}

// sortWeekdays orders Monday first, matching the week layout used during
// expansion so weekly output stays strictly increasing.
func sortWeekdays(days []time.Weekday) {
	sort.Slice(days, func(i, j int) bool {
		return mondayOffset(days[i]) < mondayOffset(days[j])
	})
}

func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}
