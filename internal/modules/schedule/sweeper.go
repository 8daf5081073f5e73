package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

const (
	DefaultSweepBatchSize = 50
	DefaultSweepWorkers   = 4
)

// Sweeper is the periodic batch driver: each tick it finds schedules whose
// cursor has fallen inside the lookahead horizon and runs one materialization
// pass per schedule over a bounded worker pool. A failing schedule never
// aborts the sweep for its siblings; failures are absorbed into the retry
// tracker.
type Sweeper struct {
	schedules    ScheduleRepository
	materializer *Materializer
	retry        *RetryTracker
	horizon      time.Duration
	batchSize    int
	workers      int
	now          func() time.Time
}

func NewSweeper(schedules ScheduleRepository, materializer *Materializer, retry *RetryTracker, horizon time.Duration, batchSize, workers int) *Sweeper {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	if workers <= 0 {
		workers = DefaultSweepWorkers
	}
	return &Sweeper{
		schedules:    schedules,
		materializer: materializer,
		retry:        retry,
		horizon:      horizon,
		batchSize:    batchSize,
		workers:      workers,
		now:          time.Now,
	}
}

// Sweep runs one batch. It only returns an error when the due-schedule query
// itself fails; per-schedule failures are counted, not propagated.
func (s *Sweeper) Sweep(ctx context.Context) error {
	runID := uuid.NewString()[:8]

	due, err := s.schedules.ListDue(ctx, s.now().Add(s.horizon), s.batchSize)
	if err != nil {
		return fmt.Errorf("sweep %s: listing due schedules: %w", runID, err)
	}
	if len(due) == 0 {
		return nil
	}
	log.Printf("sweep %s: %d schedule(s) due", runID, len(due))

	jobs := make(chan domain.RecurringSchedule)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sched := range jobs {
				if err := s.materializer.Materialize(ctx, sched.ID); err != nil {
					log.Printf("sweep %s: schedule %d failed: %v", runID, sched.ID, err)
					s.retry.RecordFailure(ctx, sched.ID, err)
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				s.retry.RecordSuccess(ctx, sched.ID)
			}
		}()
	}

	for _, sched := range due {
		select {
		case jobs <- sched:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	log.Printf("sweep %s: done, processed=%d failed=%d", runID, len(due), failed)
	return nil
}

// Start schedules Sweep on a fixed interval and returns the running cron so
// the caller can stop it on shutdown.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := s.Sweep(ctx); err != nil {
			log.Printf("sweep failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("sweeper started, interval %s", interval)
	return c, nil
}
