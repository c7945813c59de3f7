package extraction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/pkg/textextract"
)

// 20 MB upload cap, matching typical menu/price-list sizes.
const MaxUploadSize = 20 << 20

// TextSource abstracts textextract for tests.
type TextSource interface {
	Extract(data []byte, fileType string) (string, error)
}

type fileTextSource struct{}

func (fileTextSource) Extract(data []byte, fileType string) (string, error) {
	doc, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), fileType)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// ItemParser abstracts the LLM structuring step for tests.
type ItemParser interface {
	ExtractItems(ctx context.Context, text string) ([]ExtractedItem, error)
}

// Service owns the extraction job lifecycle:
// pending -> processing -> completed | failed, with a completion callback in
// either terminal state.
type Service struct {
	jobs       JobStore
	parser     ItemParser
	registry   *catalog.Registry
	dispatcher *callback.Dispatcher
	source     TextSource
}

func NewService(jobs JobStore, parser ItemParser, registry *catalog.Registry, dispatcher *callback.Dispatcher) *Service {
	return &Service{
		jobs:       jobs,
		parser:     parser,
		registry:   registry,
		dispatcher: dispatcher,
		source:     fileTextSource{},
	}
}

// Submit stores the upload as a pending job. The caller enqueues the
// processing task after this returns.
func (s *Service) Submit(ctx context.Context, tenantID uuid.UUID, fileName, fileType string, data []byte) (*models.ExtractionJob, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("submit extraction: empty file")
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("submit extraction: file exceeds %d bytes", MaxUploadSize)
	}
	if !textextract.Supported(fileType) {
		return nil, fmt.Errorf("submit extraction: unsupported file type %q", fileType)
	}

	job := &models.ExtractionJob{
		TenantID: tenantID,
		FileName: fileName,
		FileType: fileType,
	}
	if err := s.jobs.CreateJob(ctx, job, data); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ExtractionJob, error) {
	return s.jobs.GetJob(ctx, tenantID, jobID)
}

func (s *Service) ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ExtractionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.jobs.ListJobs(ctx, tenantID, limit)
}

// Process runs one job to a terminal state. Registration is per-item
// best-effort: a bad line in a menu doesn't void the rest, and because
// registration is idempotent a re-run of the same job converges instead of
// duplicating.
func (s *Service) Process(ctx context.Context, jobID uuid.UUID) error {
	job, data, err := s.jobs.GetJobData(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.ExtractionCompleted {
		slog.Info("extraction job already completed, skipping", "job_id", jobID)
		return nil
	}

	if err := s.jobs.SetStatus(ctx, jobID, models.ExtractionProcessing, 0, ""); err != nil {
		return err
	}

	text, err := s.source.Extract(data, job.FileType)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("extract text: %w", err))
	}

	items, err := s.parser.ExtractItems(ctx, text)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("structure items: %w", err))
	}

	registered := 0
	for _, it := range items {
		price, err := it.PriceDecimal()
		if err != nil {
			slog.Warn("skipping item with unparseable price",
				"job_id", jobID, "name", it.Name, "error", err)
			continue
		}
		_, err = s.registry.RegisterItem(ctx, catalog.RegisterRequest{
			TenantID:    job.TenantID,
			Kind:        it.Kind,
			Name:        it.Name,
			Category:    it.Category,
			Tags:        it.Tags,
			Description: it.Description,
			Price:       price,
			Quantity:    it.Quantity,
			Currency:    it.Currency,
		})
		if err != nil {
			slog.Warn("skipping item that failed registration",
				"job_id", jobID, "name", it.Name, "error", err)
			continue
		}
		registered++
	}

	if err := s.jobs.SetStatus(ctx, jobID, models.ExtractionCompleted, registered, ""); err != nil {
		return err
	}
	slog.Info("extraction job completed", "job_id", jobID, "items", registered)

	s.notify(ctx, job, models.ExtractionCompleted, registered, "")
	return nil
}

// fail records the terminal failure and notifies; the queue should not retry
// after this.
func (s *Service) fail(ctx context.Context, job *models.ExtractionJob, cause error) error {
	slog.Error("extraction job failed", "job_id", job.ID, "error", cause)
	if err := s.jobs.SetStatus(ctx, job.ID, models.ExtractionFailed, 0, cause.Error()); err != nil {
		return err
	}
	s.notify(ctx, job, models.ExtractionFailed, 0, cause.Error())
	return nil
}

func (s *Service) notify(ctx context.Context, job *models.ExtractionJob, status models.ExtractionStatus, itemCount int, errMsg string) {
	if s.dispatcher == nil {
		return
	}
	// task_id derived from the job id: a reprocessed job does not produce a
	// second completion callback.
	taskID := "extraction:" + job.ID.String()
	_, err := s.dispatcher.Enqueue(ctx, job.TenantID, taskID, callback.KindExtractionCompleted,
		callback.ExtractionCompletedPayload{
			JobID:     job.ID,
			Status:    string(status),
			ItemCount: itemCount,
			Error:     errMsg,
		})
	if err != nil {
		slog.Error("failed to enqueue extraction callback", "job_id", job.ID, "error", err)
	}
}
