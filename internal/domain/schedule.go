package domain

import "time"

type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	ScheduleExhausted ScheduleStatus = "exhausted"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// RecurringSchedule stamps out booking occurrences from its parent booking.
// The rule text plus the exception dates is the single source of truth;
// occurrences are a cache that can always be rebuilt from it.
type RecurringSchedule struct {
	ID              int64     `json:"id"`
	ParentBookingID int64     `json:"parent_booking_id" validate:"required"`
	RuleText        string    `json:"rule" validate:"required"`
	Timezone        string    `json:"timezone"`
	// ExceptionDates are calendar dates excluded from expansion. They are
	// stored independent of the rule so they survive rule edits.
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
	// Cursor marks the instant up to which occurrences have been generated.
	// Monotonically non-decreasing.
	Cursor              time.Time      `json:"cursor"`
	IdempotencyKey      string         `json:"-"`
	Status              ScheduleStatus `json:"status"`
	ConsecutiveFailures int            `json:"-"`
	LastError           string         `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Terminal reports whether the schedule will never generate again.
func (s *RecurringSchedule) Terminal() bool {
	return s.Status == ScheduleExhausted || s.Status == ScheduleCancelled
}
