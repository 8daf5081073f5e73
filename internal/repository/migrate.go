package repository

import (
	"gorm.io/gorm"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

// AutoMigrate creates the engine's tables. Intended for local development and
// tests; production schemas are managed elsewhere.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&bookingModel{},
		&scheduleModel{},
		&scheduleExceptionModel{},
		&domain.Notification{},
	)
}
