package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/config"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/database"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/notification"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/schedule"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/repository"
)

// One-shot sweep, for cron-style deployments and manual catch-up.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	scheduleRepo := repository.NewScheduleRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	notifier := notification.NewService(repository.NewNotificationRepository(db), cfg.OperatorIDs)

	resolver := schedule.NewConflictResolver(bookingRepo, cfg.ConflictBuffer)
	materializer := schedule.NewMaterializer(
		scheduleRepo,
		bookingRepo,
		resolver,
		notifier,
		schedule.Strategy(cfg.ConflictStrategy),
		cfg.Horizon(),
		cfg.MaxPerPass,
	)
	retry := schedule.NewRetryTracker(scheduleRepo, bookingRepo, notifier, cfg.FailureThreshold)
	sweeper := schedule.NewSweeper(scheduleRepo, materializer, retry, cfg.Horizon(), cfg.SweepBatchSize, cfg.SweepWorkers)

	if err := sweeper.Sweep(context.Background()); err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
	log.Println("sweep completed")
}
