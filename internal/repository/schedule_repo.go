package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/recurrence"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/schedule"
)

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) schedule.ScheduleRepository {
	return &scheduleRepository{db: db}
}

type scheduleModel struct {
	ID                  int64     `gorm:"column:id;primaryKey"`
	ParentBookingID     int64     `gorm:"column:parent_booking_id;index"`
	RuleText            string    `gorm:"column:rule_text"`
	Timezone            string    `gorm:"column:timezone"`
	Cursor              time.Time `gorm:"column:cursor;index"`
	IdempotencyKey      string    `gorm:"column:idempotency_key;uniqueIndex"`
	Status              string    `gorm:"column:status;index"`
	ConsecutiveFailures int       `gorm:"column:consecutive_failures"`
	LastError           *string   `gorm:"column:last_error"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (scheduleModel) TableName() string { return "recurring_schedules" }

type scheduleExceptionModel struct {
	ID         int64     `gorm:"column:id;primaryKey"`
	ScheduleID int64     `gorm:"column:schedule_id;uniqueIndex:idx_schedule_exception_date"`
	Date       string    `gorm:"column:date;uniqueIndex:idx_schedule_exception_date"` // 2006-01-02
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (scheduleExceptionModel) TableName() string { return "schedule_exceptions" }

func toScheduleModel(s *domain.RecurringSchedule) scheduleModel {
	var lastErr *string
	if s.LastError != "" {
		v := s.LastError
		lastErr = &v
	}
	return scheduleModel{
		ID:                  s.ID,
		ParentBookingID:     s.ParentBookingID,
		RuleText:            s.RuleText,
		Timezone:            s.Timezone,
		Cursor:              s.Cursor,
		IdempotencyKey:      s.IdempotencyKey,
		Status:              string(s.Status),
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastError:           lastErr,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func (r *scheduleRepository) toDomainSchedule(ctx context.Context, m scheduleModel) (*domain.RecurringSchedule, error) {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		loc = time.UTC
	}
	var lastErr string
	if m.LastError != nil {
		lastErr = *m.LastError
	}
	s := &domain.RecurringSchedule{
		ID:                  m.ID,
		ParentBookingID:     m.ParentBookingID,
		RuleText:            m.RuleText,
		Timezone:            m.Timezone,
		Cursor:              m.Cursor,
		IdempotencyKey:      m.IdempotencyKey,
		Status:              domain.ScheduleStatus(m.Status),
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastError:           lastErr,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}

	var rows []scheduleExceptionModel
	if err := r.db.WithContext(ctx).
		Where("schedule_id = ?", m.ID).
		Order("date").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		d, err := time.ParseInLocation("2006-01-02", row.Date, loc)
		if err != nil {
			continue
		}
		s.ExceptionDates = append(s.ExceptionDates, d)
	}
	return s, nil
}

func (r *scheduleRepository) Create(ctx context.Context, s *domain.RecurringSchedule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := toScheduleModel(s)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		s.ID = m.ID
		for _, d := range s.ExceptionDates {
			row := scheduleExceptionModel{ScheduleID: m.ID, Date: recurrence.DateKey(d)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *scheduleRepository) GetByID(ctx context.Context, id int64) (*domain.RecurringSchedule, error) {
	var m scheduleModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, schedule.ErrScheduleNotFound
		}
		return nil, err
	}
	return r.toDomainSchedule(ctx, m)
}

func (r *scheduleRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.RecurringSchedule, error) {
	var m scheduleModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, schedule.ErrScheduleNotFound
		}
		return nil, err
	}
	return r.toDomainSchedule(ctx, m)
}

// Update rewrites the schedule row and replaces its exception set.
func (r *scheduleRepository) Update(ctx context.Context, s *domain.RecurringSchedule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"rule_text":       s.RuleText,
			"timezone":        s.Timezone,
			"cursor":          s.Cursor,
			"idempotency_key": s.IdempotencyKey,
			"status":          string(s.Status),
			"updated_at":      time.Now(),
		}
		res := tx.Model(&scheduleModel{}).Where("id = ?", s.ID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return schedule.ErrScheduleNotFound
		}
		if err := tx.Where("schedule_id = ?", s.ID).Delete(&scheduleExceptionModel{}).Error; err != nil {
			return err
		}
		for _, d := range s.ExceptionDates {
			row := scheduleExceptionModel{ScheduleID: s.ID, Date: recurrence.DateKey(d)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *scheduleRepository) ListDue(ctx context.Context, dueBefore time.Time, limit int) ([]domain.RecurringSchedule, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []scheduleModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.ScheduleActive)).
		Where("cursor <= ?", dueBefore).
		Order("cursor ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.RecurringSchedule, 0, len(models))
	for _, m := range models {
		s, err := r.toDomainSchedule(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *scheduleRepository) AddExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error {
	row := scheduleExceptionModel{ScheduleID: scheduleID, Date: recurrence.DateKey(date)}
	// Re-adding an existing exception is a no-op.
	return r.db.WithContext(ctx).
		Where("schedule_id = ? AND date = ?", row.ScheduleID, row.Date).
		FirstOrCreate(&row).Error
}

func (r *scheduleRepository) RemoveExceptionDate(ctx context.Context, scheduleID int64, date time.Time) error {
	return r.db.WithContext(ctx).
		Where("schedule_id = ? AND date = ?", scheduleID, recurrence.DateKey(date)).
		Delete(&scheduleExceptionModel{}).Error
}

func (r *scheduleRepository) UpdateRetryState(ctx context.Context, scheduleID int64, failures int, lastError string) error {
	updates := map[string]any{
		"consecutive_failures": failures,
		"updated_at":           time.Now(),
	}
	if lastError == "" {
		updates["last_error"] = nil
	} else {
		updates["last_error"] = lastError
	}
	q := r.db.WithContext(ctx).Model(&scheduleModel{}).Where("id = ?", scheduleID)
	if failures == 0 && lastError == "" {
		// Success reset: skip the write when there is nothing to reset.
		q = q.Where("consecutive_failures > 0")
	}
	return q.Updates(updates).Error
}

// CommitMaterialization applies one pass atomically: lock the schedule row,
// verify nothing moved underneath the pass, insert the occurrences, advance
// the cursor. A crash mid-pass leaves the schedule exactly as it was.
func (r *scheduleRepository) CommitMaterialization(ctx context.Context, batch *schedule.MaterializationBatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m scheduleModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, batch.ScheduleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return schedule.ErrScheduleNotFound
			}
			return err
		}
		// A pass must not resurrect a just-cancelled schedule, and a stale
		// pass must not clobber a newer cursor.
		if m.Status != string(domain.ScheduleActive) || !m.Cursor.Equal(batch.PrevCursor) {
			return schedule.ErrScheduleChanged
		}

		status := domain.ScheduleActive
		if batch.Exhausted {
			status = domain.ScheduleExhausted
		}
		err := tx.Model(&scheduleModel{}).
			Where("id = ?", batch.ScheduleID).
			Updates(map[string]any{
				"cursor":     batch.NewCursor,
				"status":     string(status),
				"updated_at": time.Now(),
			}).Error
		if err != nil {
			return err
		}

		for _, occ := range batch.Occurrences {
			row := toBookingModel(occ)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			occ.ID = row.ID
		}
		return nil
	})
}
