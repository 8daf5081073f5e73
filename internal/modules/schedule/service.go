package schedule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/recurrence"
)

// Service is the synchronous, caller-facing surface of the engine. Validation
// errors are raised directly here; background generation failures never are —
// those flow through the retry tracker instead.
type Service struct {
	schedules    ScheduleRepository
	bookings     BookingRepository
	materializer *Materializer
	retry        *RetryTracker
	notifier     Notifier
	horizon      time.Duration
	now          func() time.Time
}

func NewService(
	schedules ScheduleRepository,
	bookings BookingRepository,
	materializer *Materializer,
	retry *RetryTracker,
	notifier Notifier,
	horizon time.Duration,
) *Service {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Service{
		schedules:    schedules,
		bookings:     bookings,
		materializer: materializer,
		retry:        retry,
		notifier:     notifier,
		horizon:      horizon,
		now:          time.Now,
	}
}

type CreateScheduleRequest struct {
	ParentBookingID int64              `json:"parent_booking_id" validate:"required"`
	Pattern         recurrence.Pattern `json:"pattern" validate:"required"`
	ExceptionDates  []time.Time        `json:"exception_dates,omitempty"`
}

type UpdateScheduleRequest struct {
	Pattern        *recurrence.Pattern `json:"pattern,omitempty"`
	ExceptionDates *[]time.Time        `json:"exception_dates,omitempty"`
	// ApplyToFuture cancels not-yet-started occurrences and regenerates them
	// from the edited rule; otherwise already-materialized dates are kept.
	ApplyToFuture bool `json:"apply_to_future"`
}

// UpcomingOccurrence is one projected date; BookingID is set when the date is
// already materialized as a concrete occurrence.
type UpcomingOccurrence struct {
	Date      time.Time `json:"date"`
	BookingID *int64    `json:"booking_id,omitempty"`
}

// CreateSchedule compiles the pattern, creates the schedule idempotently by
// its deterministic key, and synchronously produces the first batch of
// occurrences so the caller sees results right away. Replayed requests with
// an identical (parent, rule, timezone, exceptions) tuple return the existing
// schedule instead of forking a second one.
func (s *Service) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*domain.RecurringSchedule, error) {
	parent, err := s.bookings.GetByID(ctx, req.ParentBookingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rule, _, err := recurrence.Compile(req.Pattern, now)
	if err != nil {
		return nil, err
	}

	ruleText := rule.Encode()
	tz := rule.Location.String()
	exceptions := normalizeDates(req.ExceptionDates, rule.Location)
	key := idempotencyKey(req.ParentBookingID, ruleText, tz, exceptions)

	if existing, err := s.schedules.GetByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrScheduleNotFound) {
		return nil, err
	}

	sched := &domain.RecurringSchedule{
		ParentBookingID: parent.ID,
		RuleText:        ruleText,
		Timezone:        tz,
		ExceptionDates:  exceptions,
		Cursor:          now,
		IdempotencyKey:  key,
		Status:          domain.ScheduleActive,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		// Two replayed requests can race past the lookup; the unique index on
		// the key decides, and the loser adopts the winner's row.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return s.schedules.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}

	if err := s.bookings.SetRecurring(ctx, parent.ID, true); err != nil {
		log.Printf("schedule %d: setting recurring flag failed: %v", sched.ID, err)
	}

	s.materializeNow(ctx, sched.ID)
	return s.schedules.GetByID(ctx, sched.ID)
}

func (s *Service) UpdateSchedule(ctx context.Context, scheduleID int64, req UpdateScheduleRequest) (*domain.RecurringSchedule, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Terminal() {
		return nil, ErrScheduleTerminal
	}

	now := s.now()
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: bad timezone %q: %w", sched.ID, sched.Timezone, err)
	}
	if req.Pattern != nil {
		rule, _, err := recurrence.Compile(*req.Pattern, now)
		if err != nil {
			return nil, err
		}
		sched.RuleText = rule.Encode()
		sched.Timezone = rule.Location.String()
		loc = rule.Location
	}
	if req.ExceptionDates != nil {
		sched.ExceptionDates = normalizeDates(*req.ExceptionDates, loc)
	}
	sched.IdempotencyKey = idempotencyKey(sched.ParentBookingID, sched.RuleText, sched.Timezone, sched.ExceptionDates)

	if req.ApplyToFuture {
		if _, err := s.bookings.CancelFutureOccurrences(ctx, sched.ID, now); err != nil {
			return nil, err
		}
		sched.Cursor = now
	}
	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, err
	}

	if req.ApplyToFuture {
		s.materializeNow(ctx, sched.ID)
	}
	return s.schedules.GetByID(ctx, sched.ID)
}

func (s *Service) DeleteSchedule(ctx context.Context, scheduleID int64, cancelFutureOccurrences bool) error {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}

	sched.Status = domain.ScheduleCancelled
	if err := s.schedules.Update(ctx, sched); err != nil {
		return err
	}

	if cancelFutureOccurrences {
		n, err := s.bookings.CancelFutureOccurrences(ctx, sched.ID, s.now())
		if err != nil {
			return err
		}
		log.Printf("schedule %d: cancelled, %d future occurrence(s) dropped", sched.ID, n)
	}

	if err := s.bookings.SetRecurring(ctx, sched.ParentBookingID, false); err != nil {
		log.Printf("schedule %d: clearing recurring flag failed: %v", sched.ID, err)
	}

	if parent, err := s.bookings.GetByID(ctx, sched.ParentBookingID); err == nil {
		_ = s.notifier.SendToUser(ctx, parent.RequesterID, domain.NotificationScheduleCancelled, map[string]any{
			"schedule_id": sched.ID,
			"booking_id":  parent.ID,
		})
	}
	return nil
}

// AddException carves a single date out of the schedule and cancels any
// occurrence already sitting on it. Idempotent end to end.
func (s *Service) AddException(ctx context.Context, scheduleID int64, date time.Time) error {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return fmt.Errorf("schedule %d: bad timezone %q: %w", sched.ID, sched.Timezone, err)
	}
	day := dateOnly(date, loc)

	if err := s.schedules.AddExceptionDate(ctx, sched.ID, day); err != nil {
		return err
	}
	if err := s.bookings.CancelOccurrenceOnDate(ctx, sched.ID, recurrence.DateKey(day)); err != nil {
		return err
	}
	return s.refreshIdempotencyKey(ctx, sched.ID)
}

// RemoveException removes the carve-out; when the rule still selects the date
// inside the live window, the occurrence is materialized immediately through
// the normal path, so it is conflict-checked, offer-copied and notified like
// any other.
func (s *Service) RemoveException(ctx context.Context, scheduleID int64, date time.Time) error {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return fmt.Errorf("schedule %d: bad timezone %q: %w", sched.ID, sched.Timezone, err)
	}
	day := dateOnly(date, loc)

	if err := s.schedules.RemoveExceptionDate(ctx, sched.ID, day); err != nil {
		return err
	}
	if err := s.refreshIdempotencyKey(ctx, sched.ID); err != nil {
		return err
	}
	if sched.Terminal() {
		return nil
	}

	rule, err := recurrence.Parse(sched.RuleText, loc)
	if err != nil {
		return fmt.Errorf("schedule %d: %w", sched.ID, err)
	}
	hits := recurrence.Expand(rule, nil, day, day.AddDate(0, 0, 1).Add(-time.Nanosecond), 1)
	if len(hits) == 0 {
		return nil
	}
	now := s.now()
	if hits[0].Before(now) || hits[0].After(now.Add(s.horizon)) {
		return nil
	}
	return s.materializer.MaterializeDate(ctx, sched.ID, hits[0])
}

// GetUpcomingOccurrences projects the next count dates from fromDate without
// materializing anything. Dates already backed by a concrete occurrence carry
// its booking id.
func (s *Service) GetUpcomingOccurrences(ctx context.Context, scheduleID int64, fromDate time.Time, count int) ([]UpcomingOccurrence, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultMaxPerPass
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: bad timezone %q: %w", sched.ID, sched.Timezone, err)
	}
	rule, err := recurrence.Parse(sched.RuleText, loc)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: %w", sched.ID, err)
	}

	// A year of lookahead is plenty for a projection capped by count.
	windowEnd := fromDate.AddDate(1, 0, 0)
	candidates := recurrence.Expand(rule, sched.ExceptionDates, fromDate, windowEnd, count)
	if len(candidates) == 0 {
		return []UpcomingOccurrence{}, nil
	}

	existing, err := s.bookings.ExistingOccurrenceDates(ctx, sched.ID, fromDate, windowEnd)
	if err != nil {
		return nil, err
	}

	out := make([]UpcomingOccurrence, 0, len(candidates))
	for _, t := range candidates {
		occ := UpcomingOccurrence{Date: t}
		if id, ok := existing[recurrence.DateKey(t)]; ok {
			bookingID := id
			occ.BookingID = &bookingID
		}
		out = append(out, occ)
	}
	return out, nil
}

// materializeNow produces the first batch synchronously for a responsive
// caller experience. Failures are absorbed and counted like a sweep pass.
func (s *Service) materializeNow(ctx context.Context, scheduleID int64) {
	if err := s.materializer.Materialize(ctx, scheduleID); err != nil {
		log.Printf("schedule %d: initial materialization failed: %v", scheduleID, err)
		s.retry.RecordFailure(ctx, scheduleID, err)
		return
	}
	s.retry.RecordSuccess(ctx, scheduleID)
}

// refreshIdempotencyKey recomputes the key after an exception edit so the
// canonical (parent, rule, timezone, exceptions) tuple stays in sync.
func (s *Service) refreshIdempotencyKey(ctx context.Context, scheduleID int64) error {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	sched.IdempotencyKey = idempotencyKey(sched.ParentBookingID, sched.RuleText, sched.Timezone, sched.ExceptionDates)
	return s.schedules.Update(ctx, sched)
}

// idempotencyKey is the deterministic hash of the schedule's canonical tuple.
func idempotencyKey(parentBookingID int64, ruleText, timezone string, exceptions []time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", parentBookingID, ruleText, timezone)
	for _, d := range exceptions {
		fmt.Fprintf(h, "|%s", recurrence.DateKey(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dateOnly treats the wall date of t as a civil date in loc, regardless of
// the zone t arrived in. Exception dates are calendar dates, not instants.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func normalizeDates(dates []time.Time, loc *time.Location) []time.Time {
	seen := map[string]bool{}
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := dateOnly(d, loc)
		key := recurrence.DateKey(day)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
