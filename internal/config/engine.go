package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHorizonDays      = "90"
	defaultMaxPerPass       = "6"
	defaultConflictBuffer   = "30m"
	defaultConflictStrategy = "skip"
	defaultSweepInterval    = "1h"
	defaultSweepBatchSize   = "50"
	defaultSweepWorkers     = "4"
	defaultFailureThreshold = "3"
)

// EngineConfig holds every runtime knob of the scheduling engine. Operator
// accounts for escalation alerts are explicit configuration, never a database
// lookup.
type EngineConfig struct {
	DatabaseURL      string
	HorizonDays      int
	MaxPerPass       int
	ConflictBuffer   time.Duration
	ConflictStrategy string
	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepWorkers     int
	FailureThreshold int
	OperatorIDs      []int64
}

// Horizon is the forward generation window as a duration.
func (c *EngineConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

func LoadEngineConfig() (*EngineConfig, error) {
	cfg := &EngineConfig{}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.HorizonDays, err = parseIntEnv("SCHEDULE_HORIZON_DAYS", defaultHorizonDays); err != nil {
		return nil, err
	}
	if cfg.MaxPerPass, err = parseIntEnv("SCHEDULE_MAX_PER_PASS", defaultMaxPerPass); err != nil {
		return nil, err
	}
	if cfg.ConflictBuffer, err = parseDurationEnv("CONFLICT_BUFFER", defaultConflictBuffer); err != nil {
		return nil, err
	}
	cfg.ConflictStrategy = strings.ToLower(strings.TrimSpace(getEnv("CONFLICT_STRATEGY", defaultConflictStrategy)))
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = parseIntEnv("SWEEP_BATCH_SIZE", defaultSweepBatchSize); err != nil {
		return nil, err
	}
	if cfg.SweepWorkers, err = parseIntEnv("SWEEP_WORKERS", defaultSweepWorkers); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold, err = parseIntEnv("FAILURE_THRESHOLD", defaultFailureThreshold); err != nil {
		return nil, err
	}
	if cfg.OperatorIDs, err = parseInt64ListEnv("OPERATOR_USER_IDS"); err != nil {
		return nil, err
	}

	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateEngineConfig(cfg *EngineConfig) error {
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SCHEDULE_HORIZON_DAYS must be > 0")
	}
	if cfg.MaxPerPass <= 0 {
		return fmt.Errorf("SCHEDULE_MAX_PER_PASS must be > 0")
	}
	if cfg.ConflictBuffer < 0 {
		return fmt.Errorf("CONFLICT_BUFFER must be >= 0")
	}
	switch cfg.ConflictStrategy {
	case "skip", "reschedule", "error":
	default:
		return fmt.Errorf("CONFLICT_STRATEGY must be one of: skip, reschedule, error")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if cfg.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be > 0")
	}
	if cfg.SweepWorkers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be > 0")
	}
	if cfg.FailureThreshold <= 0 {
		return fmt.Errorf("FAILURE_THRESHOLD must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key, fallback string) (int, error) {
	raw := getEnv(key, fallback)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

func parseDurationEnv(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func parseInt64ListEnv(key string) ([]int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid id %q", key, p)
		}
		out = append(out, n)
	}
	return out, nil
}
