package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/minhqd/shopchat/internal/extraction"
	"github.com/minhqd/shopchat/internal/queue"
)

type ExtractionWorker struct {
	svc *extraction.Service
}

func NewExtractionWorker(svc *extraction.Service) *ExtractionWorker {
	return &ExtractionWorker{svc: svc}
}

func (w *ExtractionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.ExtractionProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("parse job ID: %w", err)
	}

	slog.Info("processing extraction job", "job_id", jobID)

	if err := w.svc.Process(ctx, jobID); err != nil {
		if errors.Is(err, extraction.ErrJobNotFound) {
			// Deleted tenant or manual cleanup; nothing to retry.
			slog.Warn("extraction job vanished", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("process extraction job: %w", err)
	}
	return nil
}
