package callback

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
)

var ErrNotFound = errors.New("callback: envelope not found")

// StaleSendAfter is how long a sending envelope may sit untouched before it
// is treated as abandoned by a crashed consumer and claimed again.
const StaleSendAfter = 5 * time.Minute

// Store persists callback envelopes and their delivery state machine:
// pending -> sending -> delivered | retrying | permanently_failed, with
// retrying -> sending on the next due claim.
type Store interface {
	// Create persists a pending envelope. A second create with an already
	// known task_id is a no-op that returns the existing envelope and
	// created=false.
	Create(ctx context.Context, env *models.CallbackEnvelope) (*models.CallbackEnvelope, bool, error)

	GetByTaskID(ctx context.Context, taskID string) (*models.CallbackEnvelope, error)

	// ClaimDue atomically moves up to limit due pending/retrying envelopes to
	// sending and returns them, plus sending envelopes stale for longer than
	// StaleSendAfter. Two concurrent claimers never receive the same
	// envelope.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.CallbackEnvelope, error)

	MarkDelivered(ctx context.Context, id uuid.UUID, attempt int) error
	MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string) error

	// ListFailed returns a tenant's permanently failed envelopes, most recent
	// first, for inspection and manual requeue.
	ListFailed(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CallbackEnvelope, error)

	// Requeue moves a permanently failed envelope back to pending with a
	// reset attempt counter.
	Requeue(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) error
}
