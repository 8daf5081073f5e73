package domain

import "time"

type BookingStatus string

const (
	BookingScheduled BookingStatus = "scheduled"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is a single service visit at a property. A recurring parent booking
// owns the service description and the accepted offer; generated occurrences
// point back at it through ParentBookingID and ScheduleID.
type Booking struct {
	ID              int64         `json:"id"`
	PropertyID      int64         `json:"property_id" validate:"required"`
	RequesterID     int64         `json:"requester_id" validate:"required"`
	ServiceType     string        `json:"service_type"`
	StartTime       time.Time     `json:"start_time" validate:"required"`
	EndTime         time.Time     `json:"end_time" validate:"required"`
	TotalPrice      float64       `json:"total_price" validate:"gte=0"`
	Status          BookingStatus `json:"status"`
	IsRecurring     bool          `json:"is_recurring"`
	ScheduleID      *int64        `json:"schedule_id,omitempty"`
	ParentBookingID *int64        `json:"parent_booking_id,omitempty"`
	AcceptedOfferID *int64        `json:"accepted_offer_id,omitempty"`
	// OccurrenceDate is the calendar date ("2006-01-02") an occurrence was
	// generated for, in the schedule's timezone. Empty on parent bookings.
	// At most one non-cancelled occurrence exists per (schedule, date).
	OccurrenceDate string     `json:"occurrence_date,omitempty"`
	Notes          string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// IsOccurrence reports whether this booking was generated from a schedule.
func (b *Booking) IsOccurrence() bool {
	return b.ScheduleID != nil
}

// Duration of the visit; occurrences inherit it from the parent booking.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}
