package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/recurrence"
)

const (
	DefaultHorizon    = 90 * 24 * time.Hour
	DefaultMaxPerPass = 6
)

// Materializer is the single path that turns "this schedule needs more
// occurrences" into committed storage state. Every other entry point
// (create, update, exception removal, sweep) funnels through it.
type Materializer struct {
	schedules  ScheduleRepository
	bookings   BookingRepository
	resolver   *ConflictResolver
	notifier   Notifier
	strategy   Strategy
	horizon    time.Duration
	maxPerPass int
	now        func() time.Time
}

func NewMaterializer(
	schedules ScheduleRepository,
	bookings BookingRepository,
	resolver *ConflictResolver,
	notifier Notifier,
	strategy Strategy,
	horizon time.Duration,
	maxPerPass int,
) *Materializer {
	if strategy == "" {
		strategy = StrategySkip
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if maxPerPass <= 0 {
		maxPerPass = DefaultMaxPerPass
	}
	return &Materializer{
		schedules:  schedules,
		bookings:   bookings,
		resolver:   resolver,
		notifier:   notifier,
		strategy:   strategy,
		horizon:    horizon,
		maxPerPass: maxPerPass,
		now:        time.Now,
	}
}

// Materialize runs one generation pass for the schedule: expand the rule
// inside the live window, drop dates that already have an occurrence, resolve
// conflicts per date, copy the parent's accepted offer onto new occurrences,
// commit everything atomically with the cursor advance, then notify.
func (m *Materializer) Materialize(ctx context.Context, scheduleID int64) error {
	sched, err := m.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.Terminal() {
		return nil
	}

	rule, parent, err := m.load(ctx, sched)
	if err != nil {
		return err
	}

	now := m.now()
	windowStart := now
	if sched.Cursor.After(windowStart) {
		windowStart = sched.Cursor
	}
	windowEnd := now.Add(m.horizon)

	candidates := recurrence.Expand(rule, sched.ExceptionDates, windowStart, windowEnd, m.maxPerPass)
	if len(candidates) == 0 {
		if !rule.HasOccurrenceAfter(windowStart) {
			return m.finish(ctx, sched, parent, &MaterializationBatch{
				ScheduleID: sched.ID,
				PrevCursor: sched.Cursor,
				NewCursor:  sched.Cursor,
				Exhausted:  true,
			}, nil)
		}
		// Next occurrence is beyond the horizon; nothing to do this pass.
		return nil
	}

	existing, err := m.bookings.ExistingOccurrenceDates(ctx, sched.ID, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("materialize schedule %d: %w", sched.ID, err)
	}

	var created []*domain.Booking
	for _, t := range candidates {
		key := recurrence.DateKey(t)
		if _, ok := existing[key]; ok {
			// Re-running a pass must not duplicate.
			continue
		}
		occ, err := m.buildOccurrence(ctx, sched, parent, t)
		if err != nil {
			if errors.Is(err, ErrSchedulingConflict) {
				// One conflicting date must not block its siblings.
				log.Printf("schedule %d: conflict on %s, date dropped: %v", sched.ID, key, err)
				continue
			}
			return fmt.Errorf("materialize schedule %d: %w", sched.ID, err)
		}
		if occ != nil {
			created = append(created, occ)
		}
	}

	last := candidates[len(candidates)-1]
	batch := &MaterializationBatch{
		ScheduleID:  sched.ID,
		PrevCursor:  sched.Cursor,
		NewCursor:   last,
		Exhausted:   !rule.HasOccurrenceAfter(last),
		Occurrences: created,
	}
	return m.finish(ctx, sched, parent, batch, created)
}

// MaterializeDate materializes one specific instant through the same
// conflict/offer/notification path as a full pass. The cursor stays put, so
// it can re-fill a date below the watermark after an exception is removed.
func (m *Materializer) MaterializeDate(ctx context.Context, scheduleID int64, t time.Time) error {
	sched, err := m.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.Terminal() {
		return ErrScheduleTerminal
	}
	_, parent, err := m.load(ctx, sched)
	if err != nil {
		return err
	}

	key := recurrence.DateKey(t)
	existing, err := m.bookings.ExistingOccurrenceDates(ctx, sched.ID, t.AddDate(0, 0, -1), t.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if _, ok := existing[key]; ok {
		return nil
	}

	occ, err := m.buildOccurrence(ctx, sched, parent, t)
	if err != nil || occ == nil {
		return err
	}
	batch := &MaterializationBatch{
		ScheduleID:  sched.ID,
		PrevCursor:  sched.Cursor,
		NewCursor:   sched.Cursor,
		Occurrences: []*domain.Booking{occ},
	}
	return m.finish(ctx, sched, parent, batch, []*domain.Booking{occ})
}

func (m *Materializer) load(ctx context.Context, sched *domain.RecurringSchedule) (*recurrence.Rule, *domain.Booking, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule %d: bad timezone %q: %w", sched.ID, sched.Timezone, err)
	}
	rule, err := recurrence.Parse(sched.RuleText, loc)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule %d: %w", sched.ID, err)
	}
	parent, err := m.bookings.GetByID(ctx, sched.ParentBookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule %d: parent booking: %w", sched.ID, err)
	}
	return rule, parent, nil
}

// buildOccurrence resolves conflicts for a candidate instant and assembles
// the occurrence row. A nil row with nil error means the date was skipped.
func (m *Materializer) buildOccurrence(ctx context.Context, sched *domain.RecurringSchedule, parent *domain.Booking, t time.Time) (*domain.Booking, error) {
	res, err := m.resolver.Resolve(ctx, t, t.Add(parent.Duration()), parent.RequesterID, m.strategy)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return nil, nil
	}
	return &domain.Booking{
		PropertyID:      parent.PropertyID,
		RequesterID:     parent.RequesterID,
		ServiceType:     parent.ServiceType,
		StartTime:       res.Start,
		EndTime:         res.End,
		TotalPrice:      parent.TotalPrice,
		Status:          domain.BookingScheduled,
		ScheduleID:      &sched.ID,
		ParentBookingID: &parent.ID,
		// Providers do not re-bid identical recurring work: the parent's
		// accepted offer is carried onto every occurrence.
		AcceptedOfferID: parent.AcceptedOfferID,
		OccurrenceDate:  recurrence.DateKey(t),
	}, nil
}

// finish commits the batch and, on success, performs post-commit side
// effects: recurring-flag clearing on exhaustion and upcoming-service
// notifications for every created occurrence.
func (m *Materializer) finish(ctx context.Context, sched *domain.RecurringSchedule, parent *domain.Booking, batch *MaterializationBatch, created []*domain.Booking) error {
	if err := m.schedules.CommitMaterialization(ctx, batch); err != nil {
		if errors.Is(err, ErrScheduleChanged) {
			log.Printf("schedule %d: concurrent change, pass abandoned", sched.ID)
			return nil
		}
		return fmt.Errorf("materialize schedule %d: %w", sched.ID, err)
	}

	if batch.Exhausted {
		log.Printf("schedule %d: rule exhausted, schedule terminal", sched.ID)
		if err := m.bookings.SetRecurring(ctx, parent.ID, false); err != nil {
			log.Printf("schedule %d: clearing recurring flag failed: %v", sched.ID, err)
		}
	}

	for _, occ := range created {
		_ = m.notifier.SendToUser(ctx, parent.RequesterID, domain.NotificationUpcomingService, map[string]any{
			"schedule_id": sched.ID,
			"booking_id":  occ.ID,
			"date":        occ.OccurrenceDate,
			"start_time":  occ.StartTime.Format(time.RFC3339),
		})
	}
	if len(created) > 0 {
		log.Printf("schedule %d: materialized %d occurrence(s), cursor %s", sched.ID, len(created), batch.NewCursor.Format(time.RFC3339))
	}
	return nil
}
