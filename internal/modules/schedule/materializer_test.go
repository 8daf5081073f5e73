package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/recurrence"
)

const weeklyTuesdayRule = "DTSTART=20240102T090000;FREQ=WEEKLY;INTERVAL=1;BYDAY=TU"

func fixedNow() time.Time {
	return time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
}

func testSchedule() *domain.RecurringSchedule {
	return &domain.RecurringSchedule{
		ID:              1,
		ParentBookingID: 100,
		RuleText:        weeklyTuesdayRule,
		Timezone:        "UTC",
		Cursor:          fixedNow(),
		Status:          domain.ScheduleActive,
	}
}

func testParent() *domain.Booking {
	offerID := int64(55)
	return &domain.Booking{
		ID:              100,
		PropertyID:      5,
		RequesterID:     7,
		ServiceType:     "lawn_care",
		StartTime:       time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		EndTime:         time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC),
		TotalPrice:      120,
		Status:          domain.BookingConfirmed,
		IsRecurring:     true,
		AcceptedOfferID: &offerID,
	}
}

func newTestMaterializer(schedules *MockScheduleRepository, bookings *MockBookingRepository, notifier *MockNotifier, strategy Strategy) *Materializer {
	resolver := NewConflictResolver(bookings, 30*time.Minute)
	m := NewMaterializer(schedules, bookings, resolver, notifier, strategy, 30*24*time.Hour, 2)
	m.now = fixedNow
	return m
}

func TestMaterializer_CreatesOccurrencesAndAdvancesCursor(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		return b.ScheduleID == 1 &&
			b.PrevCursor.Equal(sched.Cursor) &&
			b.NewCursor.Equal(time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)) &&
			!b.Exhausted &&
			len(b.Occurrences) == 2
	})).Return(nil)
	notifier.On("SendToUser", mock.Anything, int64(7), domain.NotificationUpcomingService, mock.Anything).
		Return(nil).Twice()

	err := m.Materialize(context.Background(), 1)

	require.NoError(t, err)
	schedules.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestMaterializer_OccurrenceInheritsParentFields(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	parent := testParent()

	var committed *MaterializationBatch
	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)
	schedules.On("CommitMaterialization", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			committed = args.Get(1).(*MaterializationBatch)
		}).Return(nil)
	notifier.On("SendToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, m.Materialize(context.Background(), 1))
	require.NotNil(t, committed)
	require.Len(t, committed.Occurrences, 2)

	occ := committed.Occurrences[0]
	assert.Equal(t, parent.PropertyID, occ.PropertyID)
	assert.Equal(t, parent.RequesterID, occ.RequesterID)
	assert.Equal(t, parent.ServiceType, occ.ServiceType)
	assert.Equal(t, parent.TotalPrice, occ.TotalPrice)
	assert.Equal(t, domain.BookingScheduled, occ.Status)
	require.NotNil(t, occ.AcceptedOfferID)
	assert.Equal(t, int64(55), *occ.AcceptedOfferID)
	require.NotNil(t, occ.ScheduleID)
	assert.Equal(t, int64(1), *occ.ScheduleID)
	require.NotNil(t, occ.ParentBookingID)
	assert.Equal(t, int64(100), *occ.ParentBookingID)
	assert.Equal(t, "2024-01-09", occ.OccurrenceDate)
	assert.Equal(t, parent.Duration(), occ.Duration())
}

func TestMaterializer_ExistingDatesAreNotDuplicated(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{"2024-01-09": 201}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		// Jan 9 already exists; only Jan 16 is new, but the cursor still
		// advances over both.
		return len(b.Occurrences) == 1 &&
			b.Occurrences[0].OccurrenceDate == "2024-01-16" &&
			b.NewCursor.Equal(time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC))
	})).Return(nil)
	notifier.On("SendToUser", mock.Anything, int64(7), domain.NotificationUpcomingService, mock.Anything).
		Return(nil).Once()

	require.NoError(t, m.Materialize(context.Background(), 1))
	schedules.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestMaterializer_ExceptionDatesAreSkipped(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	sched.ExceptionDates = []time.Time{time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)}
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		for _, occ := range b.Occurrences {
			if occ.OccurrenceDate == "2024-01-09" {
				return false
			}
		}
		return len(b.Occurrences) == 2
	})).Return(nil)
	notifier.On("SendToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, m.Materialize(context.Background(), 1))
	schedules.AssertExpectations(t)
}

func TestMaterializer_ExhaustionMarksScheduleAndClearsFlag(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	sched.RuleText = "DTSTART=20240109T090000;FREQ=WEEKLY;INTERVAL=1;BYDAY=TU;COUNT=2"
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		return b.Exhausted && len(b.Occurrences) == 2
	})).Return(nil)
	bookings.On("SetRecurring", mock.Anything, int64(100), false).Return(nil)
	notifier.On("SendToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, m.Materialize(context.Background(), 1))
	schedules.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestMaterializer_ConflictOnOneDateDoesNotBlockSiblings(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategyError)

	sched := testSchedule()
	parent := testParent()

	jan9 := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	// Jan 9 collides with an existing booking; Jan 16 is clear.
	bookings.On("ListOverlapping", mock.Anything, int64(7),
		mock.MatchedBy(func(start time.Time) bool { return start.Day() == 9 }), mock.Anything).
		Return([]domain.Booking{{ID: 42, StartTime: jan9, EndTime: jan9.Add(time.Hour)}}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7),
		mock.MatchedBy(func(start time.Time) bool { return start.Day() == 16 }), mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		return len(b.Occurrences) == 1 && b.Occurrences[0].OccurrenceDate == "2024-01-16"
	})).Return(nil)
	notifier.On("SendToUser", mock.Anything, int64(7), domain.NotificationUpcomingService, mock.Anything).
		Return(nil).Once()

	require.NoError(t, m.Materialize(context.Background(), 1))
	schedules.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestMaterializer_TerminalScheduleIsNoOp(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	sched.Status = domain.ScheduleCancelled

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)

	require.NoError(t, m.Materialize(context.Background(), 1))
	bookings.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	schedules.AssertNotCalled(t, "CommitMaterialization", mock.Anything, mock.Anything)
}

func TestMaterializer_NextOccurrenceBeyondHorizonIsNoOp(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	resolver := NewConflictResolver(bookings, 30*time.Minute)
	m := NewMaterializer(schedules, bookings, resolver, notifier, StrategySkip, 24*time.Hour, 2)
	m.now = fixedNow

	// Next Tuesday is more than a day out.
	sched := testSchedule()
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)

	require.NoError(t, m.Materialize(context.Background(), 1))
	schedules.AssertNotCalled(t, "CommitMaterialization", mock.Anything, mock.Anything)
}

func TestMaterializer_ConcurrentChangeIsAbandonedQuietly(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	parent := testParent()

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)
	schedules.On("CommitMaterialization", mock.Anything, mock.Anything).Return(ErrScheduleChanged)

	err := m.Materialize(context.Background(), 1)

	require.NoError(t, err)
	notifier.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMaterializer_MaterializeDateRefillsWithoutMovingCursor(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	sched.Cursor = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	parent := testParent()

	target := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(parent, nil)
	bookings.On("ExistingOccurrenceDates", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(map[string]int64{}, nil)
	bookings.On("ListOverlapping", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return([]domain.Booking{}, nil)

	schedules.On("CommitMaterialization", mock.Anything, mock.MatchedBy(func(b *MaterializationBatch) bool {
		// A refill below the watermark must not move the cursor.
		return b.NewCursor.Equal(sched.Cursor) &&
			b.PrevCursor.Equal(sched.Cursor) &&
			len(b.Occurrences) == 1 &&
			b.Occurrences[0].OccurrenceDate == recurrence.DateKey(target)
	})).Return(nil)
	notifier.On("SendToUser", mock.Anything, int64(7), domain.NotificationUpcomingService, mock.Anything).
		Return(nil).Once()

	require.NoError(t, m.MaterializeDate(context.Background(), 1, target))
	schedules.AssertExpectations(t)
}

func TestMaterializer_MaterializeDateOnTerminalScheduleFails(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	m := newTestMaterializer(schedules, bookings, notifier, StrategySkip)

	sched := testSchedule()
	sched.Status = domain.ScheduleExhausted

	schedules.On("GetByID", mock.Anything, int64(1)).Return(sched, nil)

	err := m.MaterializeDate(context.Background(), 1, fixedNow())
	assert.ErrorIs(t, err, ErrScheduleTerminal)
}
