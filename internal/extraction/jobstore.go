package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minhqd/shopchat/internal/models"
)

var ErrJobNotFound = errors.New("extraction: job not found")

// JobStore persists extraction jobs together with the uploaded source bytes.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ExtractionJob, data []byte) error
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ExtractionJob, error)
	// GetJobData returns the job row plus the raw upload; the worker calls
	// this without a tenant filter since the job id comes off the queue.
	GetJobData(ctx context.Context, jobID uuid.UUID) (*models.ExtractionJob, []byte, error)
	SetStatus(ctx context.Context, jobID uuid.UUID, status models.ExtractionStatus, itemCount int, errMsg string) error
	ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ExtractionJob, error)
}

const jobColumns = `id, tenant_id, file_name, file_type, status, item_count, error, created_at, updated_at`

type PgJobStore struct {
	db *pgxpool.Pool
}

func NewPgJobStore(db *pgxpool.Pool) *PgJobStore {
	return &PgJobStore{db: db}
}

func (s *PgJobStore) CreateJob(ctx context.Context, job *models.ExtractionJob, data []byte) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO extraction_jobs (tenant_id, file_name, file_type, source_data, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING id, created_at, updated_at`,
		job.TenantID, job.FileName, job.FileType, data,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create extraction job: %w", err)
	}
	job.Status = models.ExtractionPending
	return nil
}

func (s *PgJobStore) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ExtractionJob, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID,
	)
	return scanJob(row)
}

func (s *PgJobStore) GetJobData(ctx context.Context, jobID uuid.UUID) (*models.ExtractionJob, []byte, error) {
	var job models.ExtractionJob
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+`, source_data FROM extraction_jobs WHERE id = $1`,
		jobID,
	).Scan(
		&job.ID, &job.TenantID, &job.FileName, &job.FileType, &job.Status,
		&job.ItemCount, &job.Error, &job.CreatedAt, &job.UpdatedAt, &data,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrJobNotFound
		}
		return nil, nil, fmt.Errorf("get extraction job data: %w", err)
	}
	return &job, data, nil
}

func (s *PgJobStore) SetStatus(ctx context.Context, jobID uuid.UUID, status models.ExtractionStatus, itemCount int, errMsg string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE extraction_jobs
		 SET status = $2, item_count = $3, error = $4, updated_at = now()
		 WHERE id = $1`,
		jobID, status, itemCount, errMsg,
	)
	if err != nil {
		return fmt.Errorf("set extraction job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PgJobStore) ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ExtractionJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list extraction jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	err := row.Scan(
		&job.ID, &job.TenantID, &job.FileName, &job.FileType, &job.Status,
		&job.ItemCount, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("scan extraction job: %w", err)
	}
	return &job, nil
}

// MemJobStore is the in-process JobStore for tests.
type MemJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ExtractionJob
	data map[uuid.UUID][]byte
}

func NewMemJobStore() *MemJobStore {
	return &MemJobStore{
		jobs: make(map[uuid.UUID]*models.ExtractionJob),
		data: make(map[uuid.UUID][]byte),
	}
}

func (s *MemJobStore) CreateJob(ctx context.Context, job *models.ExtractionJob, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job.ID = uuid.New()
	job.Status = models.ExtractionPending
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	s.data[job.ID] = append([]byte(nil), data...)
	return nil
}

func (s *MemJobStore) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemJobStore) GetJobData(ctx context.Context, jobID uuid.UUID) (*models.ExtractionJob, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	cp := *job
	return &cp, append([]byte(nil), s.data[jobID]...), nil
}

func (s *MemJobStore) SetStatus(ctx context.Context, jobID uuid.UUID, status models.ExtractionStatus, itemCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.ItemCount = itemCount
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemJobStore) ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []models.ExtractionJob
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
