package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/tsaircargo/whatsapp-gateway/pkg/prom"
	"github.com/tsaircargo/whatsapp-gateway/pkg/worker"
)

const (
	DefaultRetryBatchSize = 50
	DefaultRetryWorkers   = 4
	DefaultRunLockTTL     = 5 * time.Minute
)

// Deliverer retries one attempt end to end: claim, send, persist outcome.
type Deliverer interface {
	Deliver(ctx context.Context, id int64) (*model.Attempt, error)
}

type RetryServiceConfig struct {
	BatchSize  int
	Workers    int
	RunLockTTL time.Duration
}

// RetryService is the scheduler entry point: it scans for due retries and
// redelivers them with bounded concurrency. Runs are idempotent, so an
// external trigger may fire it as often as it likes.
type RetryService struct {
	attemptRepo AttemptRepository
	deliverer   Deliverer
	locker      RunLocker
	config      RetryServiceConfig
}

func NewRetryService(attemptRepo AttemptRepository, deliverer Deliverer, locker RunLocker, config RetryServiceConfig) *RetryService {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRetryBatchSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultRetryWorkers
	}
	if config.RunLockTTL <= 0 {
		config.RunLockTTL = DefaultRunLockTTL
	}
	if locker == nil {
		locker = NoopRunLocker{}
	}
	return &RetryService{
		attemptRepo: attemptRepo,
		deliverer:   deliverer,
		locker:      locker,
		config:      config,
	}
}

// RunOptions tunes a single scheduler run.
type RunOptions struct {
	// MaxPerRun caps how many records one run touches. Zero uses the
	// configured batch size.
	MaxPerRun int
	// DryRun reports what would be retried without mutating anything.
	DryRun bool
}

// ProcessPendingRetries executes one scheduler run and reports what happened.
// A single record failing its redelivery never aborts the run; only a store
// failure on the initial scan does.
func (s *RetryService) ProcessPendingRetries(ctx context.Context, opts RunOptions) (*model.RunStats, error) {
	stats := &model.RunStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
	}

	limit := opts.MaxPerRun
	if limit <= 0 {
		limit = s.config.BatchSize
	}

	if !opts.DryRun {
		if err := s.locker.Acquire(stats.RunID, s.config.RunLockTTL); err != nil {
			return nil, err
		}
		defer s.locker.Release(stats.RunID)
	}

	due, err := s.attemptRepo.ListDueRetries(ctx, stats.StartedAt, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}

	if opts.DryRun {
		stats.Processed = len(due)
		stats.FinishedAt = time.Now()
		logger.Info("retry dry run", "run_id", stats.RunID, "candidates", len(due))
		return stats, nil
	}

	if len(due) == 0 {
		stats.FinishedAt = time.Now()
		return stats, nil
	}

	logger.Info("retry run started",
		"run_id", stats.RunID,
		"candidates", len(due),
		"workers", s.config.Workers)
	prom.IncRetryRun()

	var mu sync.Mutex
	jobs := make([]interface{}, len(due))
	for i, att := range due {
		jobs[i] = att
	}

	worker.Run(s.config.Workers, jobs, func(_ int, job interface{}) {
		att := job.(*model.Attempt)

		_, deliverErr := s.deliverer.Deliver(ctx, att.ID)

		mu.Lock()
		defer mu.Unlock()
		stats.Processed++
		switch {
		case deliverErr == nil:
			stats.Success++
			prom.IncRetryProcessed("success")
		case errors.Is(deliverErr, repository.ErrNotClaimable):
			// Cancelled or taken by a concurrent run between scan and claim.
			prom.IncRetryProcessed("lost_claim")
		default:
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("attempt %d: %v", att.ID, deliverErr))
			prom.IncRetryProcessed("failed")
		}
	})

	stats.FinishedAt = time.Now()

	logger.Info("retry run finished",
		"run_id", stats.RunID,
		"processed", stats.Processed,
		"success", stats.Success,
		"failed", stats.Failed,
		"duration", stats.FinishedAt.Sub(stats.StartedAt))

	return stats, nil
}

// Cleanup deletes terminal records older than the retention window and
// returns how many were removed.
func (s *RetryService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	deleted, err := s.attemptRepo.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old attempts: %w", err)
	}
	if deleted > 0 {
		logger.Info("old attempts purged", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}
