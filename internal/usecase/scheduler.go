package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

// Scheduler wires the interval driver with the batch and sync use cases.
type Scheduler struct {
	driver       ports.Scheduler
	batch        *BatchProcessor
	syncer       *Syncer
	batchSize    int
	minRelevance domain.Relevance
	logger       *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring drains. A nil syncer
// leaves results unsynced.
func NewScheduler(driver ports.Scheduler, batch *BatchProcessor, syncer *Syncer, batchSize int, minRelevance domain.Relevance, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		driver:       driver,
		batch:        batch,
		syncer:       syncer,
		batchSize:    batchSize,
		minRelevance: minRelevance,
		logger:       logger,
	}
}

// Start registers the drain with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.batch == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.Tick(ctx, trigger) })
}

// Tick drains the queue and syncs whatever the drain scored.
func (s *Scheduler) Tick(ctx context.Context, trigger time.Time) {
	res, err := s.batch.ProcessAll(ctx, s.batchSize, s.minRelevance)
	if err != nil {
		s.logger.Error("scheduled drain failed", "trigger", trigger, "error", err)
	}
	if s.syncer == nil || len(res.ExternalIDs) == 0 {
		return
	}

	if report, err := s.syncer.Sync(ctx, res.ExternalIDs); err != nil {
		if errors.Is(err, apperr.ErrNotConfigured) {
			s.logger.Debug("mirroring skipped", "reason", err, "retired", report.Retired)
			return
		}
		s.logger.Error("scheduled sync failed", "trigger", trigger, "error", err)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
