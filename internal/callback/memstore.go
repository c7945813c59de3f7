package callback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
)

// MemStore is an in-process envelope store for tests. It mirrors PgStore
// semantics including task_id idempotency and exclusive claims.
type MemStore struct {
	mu        sync.Mutex
	envelopes map[uuid.UUID]*models.CallbackEnvelope
	byTaskID  map[string]uuid.UUID
}

func NewMemStore() *MemStore {
	return &MemStore{
		envelopes: make(map[uuid.UUID]*models.CallbackEnvelope),
		byTaskID:  make(map[string]uuid.UUID),
	}
}

func (s *MemStore) Create(ctx context.Context, env *models.CallbackEnvelope) (*models.CallbackEnvelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byTaskID[env.TaskID]; ok {
		cp := *s.envelopes[id]
		return &cp, false, nil
	}

	now := time.Now()
	stored := *env
	stored.ID = uuid.New()
	stored.Status = models.EnvelopePending
	stored.AttemptCount = 0
	stored.NextRetryAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.envelopes[stored.ID] = &stored
	s.byTaskID[stored.TaskID] = stored.ID
	cp := stored
	return &cp, true, nil
}

func (s *MemStore) GetByTaskID(ctx context.Context, taskID string) (*models.CallbackEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTaskID[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.envelopes[id]
	return &cp, nil
}

func (s *MemStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.CallbackEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.CallbackEnvelope
	for _, env := range s.envelopes {
		switch env.Status {
		case models.EnvelopePending, models.EnvelopeRetrying:
			if !env.NextRetryAt.After(now) {
				due = append(due, env)
			}
		case models.EnvelopeSending:
			if !env.UpdatedAt.After(now.Add(-StaleSendAfter)) {
				due = append(due, env)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.CallbackEnvelope, 0, len(due))
	for _, env := range due {
		env.Status = models.EnvelopeSending
		env.UpdatedAt = time.Now()
		claimed = append(claimed, *env)
	}
	return claimed, nil
}

func (s *MemStore) MarkDelivered(ctx context.Context, id uuid.UUID, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	env.Status = models.EnvelopeDelivered
	env.AttemptCount = attempt
	env.DeliveredAt = &now
	env.LastError = ""
	env.UpdatedAt = now
	return nil
}

func (s *MemStore) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return ErrNotFound
	}
	env.Status = models.EnvelopeRetrying
	env.AttemptCount = attempt
	env.NextRetryAt = nextRetryAt
	env.LastError = lastError
	env.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return ErrNotFound
	}
	env.Status = models.EnvelopePermanentlyFailed
	env.AttemptCount = attempt
	env.LastError = lastError
	env.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) ListFailed(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CallbackEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []models.CallbackEnvelope
	for _, env := range s.envelopes {
		if env.TenantID == tenantID && env.Status == models.EnvelopePermanentlyFailed {
			failed = append(failed, *env)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (s *MemStore) Requeue(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok || env.TenantID != tenantID || env.Status != models.EnvelopePermanentlyFailed {
		return ErrNotFound
	}
	env.Status = models.EnvelopePending
	env.AttemptCount = 0
	env.NextRetryAt = time.Now()
	env.LastError = ""
	env.UpdatedAt = time.Now()
	return nil
}
