package schedule

import (
	"context"
	"time"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

// MaterializationBatch is everything one generation pass wants to commit.
// The repository applies it in a single transaction guarded by the schedule
// row: either all occurrences land and the cursor advances, or nothing does.
type MaterializationBatch struct {
	ScheduleID int64
	// PrevCursor is the cursor the pass was computed from. The commit only
	// applies while the stored cursor still equals it.
	PrevCursor  time.Time
	NewCursor   time.Time
	Exhausted   bool
	Occurrences []*domain.Booking
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.RecurringSchedule) error
	GetByID(ctx context.Context, id int64) (*domain.RecurringSchedule, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.RecurringSchedule, error)
	Update(ctx context.Context, s *domain.RecurringSchedule) error
	// ListDue returns active schedules whose cursor is at or before dueBefore,
	// soonest cursor first, capped at limit.
	ListDue(ctx context.Context, dueBefore time.Time, limit int) ([]domain.RecurringSchedule, error)
	AddExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error
	RemoveExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error
	UpdateRetryState(ctx context.Context, scheduleID int64, failures int, lastError string) error
	CommitMaterialization(ctx context.Context, batch *MaterializationBatch) error
}

type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	// ExistingOccurrenceDates maps occurrence date key -> booking id for
	// non-cancelled occurrences of the schedule inside [from, to].
	ExistingOccurrenceDates(ctx context.Context, scheduleID int64, from, to time.Time) (map[string]int64, error)
	// ListOverlapping returns the requester's non-cancelled bookings whose
	// interval overlaps [start, end], ordered by start time.
	ListOverlapping(ctx context.Context, requesterID int64, start, end time.Time) ([]domain.Booking, error)
	CancelOccurrenceOnDate(ctx context.Context, scheduleID int64, dateKey string) error
	CancelFutureOccurrences(ctx context.Context, scheduleID int64, from time.Time) (int64, error)
	SetRecurring(ctx context.Context, bookingID int64, recurring bool) error
}

// Notifier is the engine's outbound alerting capability. Delivery guarantees
// are the implementation's concern; the engine fires and forgets.
type Notifier interface {
	SendToUser(ctx context.Context, userID int64, kind domain.NotificationKind, payload map[string]any) error
	SendToOperators(ctx context.Context, kind domain.NotificationKind, payload map[string]any) error
}
