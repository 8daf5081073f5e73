package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/recurrence"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/schedule"
)

type bookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) schedule.BookingRepository {
	return &bookingRepository{db: db}
}

type bookingModel struct {
	ID              int64      `gorm:"column:id;primaryKey"`
	PropertyID      int64      `gorm:"column:property_id"`
	RequesterID     int64      `gorm:"column:requester_id;index"`
	ServiceType     string     `gorm:"column:service_type"`
	StartTime       time.Time  `gorm:"column:start_time"`
	EndTime         time.Time  `gorm:"column:end_time"`
	TotalPrice      float64    `gorm:"column:total_price"`
	Status          string     `gorm:"column:status"`
	IsRecurring     bool       `gorm:"column:is_recurring"`
	ScheduleID      *int64     `gorm:"column:schedule_id;index:idx_occurrence_schedule_date"`
	ParentBookingID *int64     `gorm:"column:parent_booking_id"`
	AcceptedOfferID *int64     `gorm:"column:accepted_offer_id"`
	OccurrenceDate  *string    `gorm:"column:occurrence_date;index:idx_occurrence_schedule_date"`
	Notes           *string    `gorm:"column:notes"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at"`
}

func (bookingModel) TableName() string { return "bookings" }

func toDomainBooking(m bookingModel) *domain.Booking {
	var notes, occDate string
	if m.Notes != nil {
		notes = *m.Notes
	}
	if m.OccurrenceDate != nil {
		occDate = *m.OccurrenceDate
	}
	return &domain.Booking{
		ID:              m.ID,
		PropertyID:      m.PropertyID,
		RequesterID:     m.RequesterID,
		ServiceType:     m.ServiceType,
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		TotalPrice:      m.TotalPrice,
		Status:          domain.BookingStatus(m.Status),
		IsRecurring:     m.IsRecurring,
		ScheduleID:      m.ScheduleID,
		ParentBookingID: m.ParentBookingID,
		AcceptedOfferID: m.AcceptedOfferID,
		OccurrenceDate:  occDate,
		Notes:           notes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		CancelledAt:     m.CancelledAt,
	}
}

func toBookingModel(b *domain.Booking) bookingModel {
	var notes, occDate *string
	if b.Notes != "" {
		v := b.Notes
		notes = &v
	}
	if b.OccurrenceDate != "" {
		v := b.OccurrenceDate
		occDate = &v
	}
	return bookingModel{
		ID:              b.ID,
		PropertyID:      b.PropertyID,
		RequesterID:     b.RequesterID,
		ServiceType:     b.ServiceType,
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		TotalPrice:      b.TotalPrice,
		Status:          string(b.Status),
		IsRecurring:     b.IsRecurring,
		ScheduleID:      b.ScheduleID,
		ParentBookingID: b.ParentBookingID,
		AcceptedOfferID: b.AcceptedOfferID,
		OccurrenceDate:  occDate,
		Notes:           notes,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		CancelledAt:     b.CancelledAt,
	}
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	var m bookingModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, schedule.ErrBookingNotFound
		}
		return nil, err
	}
	return toDomainBooking(m), nil
}

func (r *bookingRepository) ExistingOccurrenceDates(ctx context.Context, scheduleID int64, from, to time.Time) (map[string]int64, error) {
	type row struct {
		ID             int64  `gorm:"column:id"`
		OccurrenceDate string `gorm:"column:occurrence_date"`
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&bookingModel{}).
		Select("id, occurrence_date").
		Where("schedule_id = ?", scheduleID).
		Where("status <> ?", string(domain.BookingCancelled)).
		Where("occurrence_date >= ? AND occurrence_date <= ?", recurrence.DateKey(from), recurrence.DateKey(to)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.OccurrenceDate] = rw.ID
	}
	return out, nil
}

func (r *bookingRepository) ListOverlapping(ctx context.Context, requesterID int64, start, end time.Time) ([]domain.Booking, error) {
	var models []bookingModel
	// Two intervals overlap if: start1 < end2 AND end1 > start2.
	err := r.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Where("status NOT IN ?", []string{string(domain.BookingCancelled)}).
		Where("start_time < ? AND end_time > ?", end, start).
		Order("start_time").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Booking, 0, len(models))
	for _, m := range models {
		out = append(out, *toDomainBooking(m))
	}
	return out, nil
}

func (r *bookingRepository) CancelOccurrenceOnDate(ctx context.Context, scheduleID int64, dateKey string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&bookingModel{}).
		Where("schedule_id = ? AND occurrence_date = ?", scheduleID, dateKey).
		Where("status <> ?", string(domain.BookingCancelled)).
		Updates(map[string]any{
			"status":       string(domain.BookingCancelled),
			"cancelled_at": now,
			"updated_at":   now,
		}).Error
}

func (r *bookingRepository) CancelFutureOccurrences(ctx context.Context, scheduleID int64, from time.Time) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&bookingModel{}).
		Where("schedule_id = ? AND start_time >= ?", scheduleID, from).
		Where("status NOT IN ?", []string{string(domain.BookingCancelled), string(domain.BookingCompleted)}).
		Updates(map[string]any{
			"status":       string(domain.BookingCancelled),
			"cancelled_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *bookingRepository) SetRecurring(ctx context.Context, bookingID int64, recurring bool) error {
	res := r.db.WithContext(ctx).
		Model(&bookingModel{}).
		Where("id = ?", bookingID).
		Updates(map[string]any{"is_recurring": recurring, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schedule.ErrBookingNotFound
	}
	return nil
}
