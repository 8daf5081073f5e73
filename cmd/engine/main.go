package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/config"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/database"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/notification"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/modules/schedule"
	"github.com/svengustafson1/serviceblitzy-sub002/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	scheduleRepo := repository.NewScheduleRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notifier := notification.NewService(notificationRepo, cfg.OperatorIDs)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := sweeper.Start(ctx, cfg.SweepInterval)
	if err != nil {
		log.Fatalf("starting sweeper failed: %v", err)
	}

	// Run one sweep right away so a restart catches up immediately.
	if err := sweeper.Sweep(ctx); err != nil {
		log.Printf("initial sweep failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("signal %s received, shutting down", sig)

	cancel()
	<-c.Stop().Done()
	log.Println("engine stopped")
}
