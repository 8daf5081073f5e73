package schedule

import (
	"context"
	"log"
	"time"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

// DefaultFailureThreshold is how many consecutive failed passes a schedule
// tolerates before anyone is told about it.
const DefaultFailureThreshold = 3

// RetryTracker counts consecutive materialization failures per schedule and
// escalates once the threshold is reached. Counters live on the schedule row,
// so they survive restarts and stay correct with multiple engine instances.
type RetryTracker struct {
	schedules ScheduleRepository
	bookings  BookingRepository
	notifier  Notifier
	threshold int
}

func NewRetryTracker(schedules ScheduleRepository, bookings BookingRepository, notifier Notifier, threshold int) *RetryTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &RetryTracker{schedules: schedules, bookings: bookings, notifier: notifier, threshold: threshold}
}

// RecordSuccess resets the schedule's failure streak.
func (t *RetryTracker) RecordSuccess(ctx context.Context, scheduleID int64) {
	if err := t.schedules.UpdateRetryState(ctx, scheduleID, 0, ""); err != nil {
		log.Printf("schedule %d: resetting retry state failed: %v", scheduleID, err)
	}
}

// RecordFailure increments the streak. At the threshold it notifies the
// requester and the operators once, then resets the counter so the next
// streak of failures raises a fresh alert instead of one per pass.
func (t *RetryTracker) RecordFailure(ctx context.Context, scheduleID int64, cause error) {
	sched, err := t.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		log.Printf("schedule %d: loading retry state failed: %v", scheduleID, err)
		return
	}

	failures := sched.ConsecutiveFailures + 1
	if failures < t.threshold {
		if err := t.schedules.UpdateRetryState(ctx, scheduleID, failures, cause.Error()); err != nil {
			log.Printf("schedule %d: recording failure failed: %v", scheduleID, err)
		}
		return
	}

	t.escalate(ctx, sched, cause)
	if err := t.schedules.UpdateRetryState(ctx, scheduleID, 0, cause.Error()); err != nil {
		log.Printf("schedule %d: resetting retry state after escalation failed: %v", scheduleID, err)
	}
}

func (t *RetryTracker) escalate(ctx context.Context, sched *domain.RecurringSchedule, cause error) {
	log.Printf("schedule %d: %d consecutive failures, escalating", sched.ID, t.threshold)

	if parent, err := t.bookings.GetByID(ctx, sched.ParentBookingID); err == nil {
		_ = t.notifier.SendToUser(ctx, parent.RequesterID, domain.NotificationScheduleTrouble, map[string]any{
			"schedule_id": sched.ID,
			"booking_id":  parent.ID,
		})
	} else {
		log.Printf("schedule %d: parent booking lookup for escalation failed: %v", sched.ID, err)
	}

	_ = t.notifier.SendToOperators(ctx, domain.NotificationScheduleAlert, map[string]any{
		"schedule_id": sched.ID,
		"failures":    t.threshold,
		"error":       cause.Error(),
		"at":          time.Now().UTC().Format(time.RFC3339),
	})
}
