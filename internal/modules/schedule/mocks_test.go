package schedule

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

type MockScheduleRepository struct {
	mock.Mock
}

func (m *MockScheduleRepository) Create(ctx context.Context, s *domain.RecurringSchedule) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockScheduleRepository) GetByID(ctx context.Context, id int64) (*domain.RecurringSchedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RecurringSchedule), args.Error(1)
}

func (m *MockScheduleRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.RecurringSchedule, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RecurringSchedule), args.Error(1)
}

func (m *MockScheduleRepository) Update(ctx context.Context, s *domain.RecurringSchedule) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockScheduleRepository) ListDue(ctx context.Context, dueBefore time.Time, limit int) ([]domain.RecurringSchedule, error) {
	args := m.Called(ctx, dueBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RecurringSchedule), args.Error(1)
}

func (m *MockScheduleRepository) AddExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error {
	args := m.Called(ctx, scheduleID, date)
	return args.Error(0)
}

func (m *MockScheduleRepository) RemoveExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error {
	args := m.Called(ctx, scheduleID, date)
	return args.Error(0)
}

func (m *MockScheduleRepository) UpdateRetryState(ctx context.Context, scheduleID int64, failures int, lastError string) error {
	args := m.Called(ctx, scheduleID, failures, lastError)
	return args.Error(0)
}

func (m *MockScheduleRepository) CommitMaterialization(ctx context.Context, batch *MaterializationBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) ExistingOccurrenceDates(ctx context.Context, scheduleID int64, from, to time.Time) (map[string]int64, error) {
	args := m.Called(ctx, scheduleID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockBookingRepository) ListOverlapping(ctx context.Context, requesterID int64, start, end time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, requesterID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) CancelOccurrenceOnDate(ctx context.Context, scheduleID int64, dateKey string) error {
	args := m.Called(ctx, scheduleID, dateKey)
	return args.Error(0)
}

func (m *MockBookingRepository) CancelFutureOccurrences(ctx context.Context, scheduleID int64, from time.Time) (int64, error) {
	args := m.Called(ctx, scheduleID, from)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBookingRepository) SetRecurring(ctx context.Context, bookingID int64, recurring bool) error {
	args := m.Called(ctx, bookingID, recurring)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendToUser(ctx context.Context, userID int64, kind domain.NotificationKind, payload map[string]any) error {
	args := m.Called(ctx, userID, kind, payload)
	return args.Error(0)
}

func (m *MockNotifier) SendToOperators(ctx context.Context, kind domain.NotificationKind, payload map[string]any) error {
	args := m.Called(ctx, kind, payload)
	return args.Error(0)
}
