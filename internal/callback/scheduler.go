package callback

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler polls the store for due envelopes and hands them to the
// dispatcher. ClaimDue is exclusive, so running several schedulers is safe;
// one per worker process is the normal deployment.
type Scheduler struct {
	store        Store
	dispatcher   *Dispatcher
	pollInterval time.Duration
	batchSize    int
}

func NewScheduler(store Store, dispatcher *Dispatcher, pollInterval time.Duration, batchSize int) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		store:        store,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("callback scheduler started", "poll_interval", s.pollInterval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.drain(ctx)
		select {
		case <-ctx.Done():
			slog.Info("callback scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// drain claims and delivers batches until nothing is due.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		envs, err := s.store.ClaimDue(ctx, time.Now(), s.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to claim due callbacks", "error", err)
			}
			return
		}
		if len(envs) == 0 {
			return
		}

		for i := range envs {
			if ctx.Err() != nil {
				return
			}
			if err := s.dispatcher.Deliver(ctx, &envs[i]); err != nil && ctx.Err() == nil {
				slog.Error("callback delivery bookkeeping failed",
					"task_id", envs[i].TaskID, "error", err)
			}
		}
	}
}
