package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

func newTestSweeper(schedules *MockScheduleRepository, bookings *MockBookingRepository, notifier *MockNotifier) *Sweeper {
	resolver := NewConflictResolver(bookings, 30*time.Minute)
	// A short materializer horizon keeps the happy-path schedules as clean
	// no-op passes: their next occurrence sits beyond it.
	materializer := NewMaterializer(schedules, bookings, resolver, notifier, StrategySkip, 24*time.Hour, 2)
	materializer.now = fixedNow
	retry := NewRetryTracker(schedules, bookings, notifier, 3)
	s := NewSweeper(schedules, materializer, retry, 24*time.Hour, 50, 2)
	s.now = fixedNow
	return s
}

func TestSweeper_FailingScheduleDoesNotAbortTheSweep(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	s := newTestSweeper(schedules, bookings, notifier)

	good1 := testSchedule()
	bad := testSchedule()
	bad.ID = 2
	bad.RuleText = "garbage"
	good2 := testSchedule()
	good2.ID = 3

	due := []domain.RecurringSchedule{*good1, *bad, *good2}
	schedules.On("ListDue", mock.Anything, fixedNow().Add(24*time.Hour), 50).Return(due, nil)

	schedules.On("GetByID", mock.Anything, int64(1)).Return(good1, nil)
	schedules.On("GetByID", mock.Anything, int64(2)).Return(bad, nil)
	schedules.On("GetByID", mock.Anything, int64(3)).Return(good2, nil)
	bookings.On("GetByID", mock.Anything, int64(100)).Return(testParent(), nil)

	// The broken rule feeds the retry tracker; the healthy ones reset.
	schedules.On("UpdateRetryState", mock.Anything, int64(2), 1, mock.Anything).Return(nil).Once()
	schedules.On("UpdateRetryState", mock.Anything, int64(1), 0, "").Return(nil).Once()
	schedules.On("UpdateRetryState", mock.Anything, int64(3), 0, "").Return(nil).Once()

	err := s.Sweep(context.Background())

	require.NoError(t, err)
	schedules.AssertExpectations(t)
	schedules.AssertNotCalled(t, "CommitMaterialization", mock.Anything, mock.Anything)
}

func TestSweeper_EmptyBatchIsANoOp(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	s := newTestSweeper(schedules, bookings, notifier)

	schedules.On("ListDue", mock.Anything, mock.Anything, 50).Return([]domain.RecurringSchedule{}, nil)

	require.NoError(t, s.Sweep(context.Background()))
	schedules.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestSweeper_ListDueErrorPropagates(t *testing.T) {
	schedules := new(MockScheduleRepository)
	bookings := new(MockBookingRepository)
	notifier := new(MockNotifier)
	s := newTestSweeper(schedules, bookings, notifier)

	schedules.On("ListDue", mock.Anything, mock.Anything, 50).Return(nil, errors.New("db down"))

	err := s.Sweep(context.Background())
	assert.Error(t, err)
}
