package callback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minhqd/shopchat/internal/models"
)

const envelopeColumns = `id, task_id, tenant_id, kind, status, payload,
	attempt_count, next_retry_at, delivered_at, last_error, created_at, updated_at`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Create(ctx context.Context, env *models.CallbackEnvelope) (*models.CallbackEnvelope, bool, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO callback_envelopes (task_id, tenant_id, kind, status, payload, next_retry_at)
		 VALUES ($1, $2, $3, 'pending', $4, $5)
		 ON CONFLICT (task_id) DO NOTHING
		 RETURNING `+envelopeColumns,
		env.TaskID, env.TenantID, env.Kind, env.Payload, time.Now(),
	)
	created, err := scanEnvelope(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("create envelope: %w", err)
	}

	// Conflict path: the task_id is already known, return what exists.
	existing, err := s.GetByTaskID(ctx, env.TaskID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PgStore) GetByTaskID(ctx context.Context, taskID string) (*models.CallbackEnvelope, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM callback_envelopes WHERE task_id = $1`,
		taskID,
	)
	return scanEnvelope(row)
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent consumers partition the
// due set instead of fighting over it. A sending row untouched for longer
// than StaleSendAfter belongs to a crashed consumer and is claimed again;
// the receiver may see that delivery twice, deduplicated by task_id.
func (s *PgStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.CallbackEnvelope, error) {
	rows, err := s.db.Query(ctx,
		`WITH due AS (
		   SELECT id FROM callback_envelopes
		   WHERE (status IN ('pending', 'retrying') AND next_retry_at <= $1)
		      OR (status = 'sending' AND updated_at <= $1 - $3::interval)
		   ORDER BY next_retry_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE callback_envelopes e
		 SET status = 'sending', updated_at = now()
		 FROM due WHERE e.id = due.id
		 RETURNING e.id, e.task_id, e.tenant_id, e.kind, e.status, e.payload,
		   e.attempt_count, e.next_retry_at, e.delivered_at, e.last_error,
		   e.created_at, e.updated_at`,
		now, limit, StaleSendAfter.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim due envelopes: %w", err)
	}
	defer rows.Close()

	var envs []models.CallbackEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, attempt int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE callback_envelopes
		 SET status = 'delivered', attempt_count = $2, delivered_at = now(),
		     last_error = '', updated_at = now()
		 WHERE id = $1`,
		id, attempt,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE callback_envelopes
		 SET status = 'retrying', attempt_count = $2, next_retry_at = $3,
		     last_error = $4, updated_at = now()
		 WHERE id = $1`,
		id, attempt, nextRetryAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE callback_envelopes
		 SET status = 'permanently_failed', attempt_count = $2, last_error = $3,
		     updated_at = now()
		 WHERE id = $1`,
		id, attempt, lastError,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ListFailed(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CallbackEnvelope, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+envelopeColumns+` FROM callback_envelopes
		 WHERE tenant_id = $1 AND status = 'permanently_failed'
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed envelopes: %w", err)
	}
	defer rows.Close()

	var envs []models.CallbackEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

func (s *PgStore) Requeue(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE callback_envelopes
		 SET status = 'pending', attempt_count = 0, next_retry_at = now(),
		     last_error = '', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'permanently_failed'`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("requeue envelope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEnvelope(row pgx.Row) (*models.CallbackEnvelope, error) {
	var env models.CallbackEnvelope
	err := row.Scan(
		&env.ID, &env.TaskID, &env.TenantID, &env.Kind, &env.Status, &env.Payload,
		&env.AttemptCount, &env.NextRetryAt, &env.DeliveredAt, &env.LastError,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan envelope: %w", err)
	}
	return &env, nil
}
