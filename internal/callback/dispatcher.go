package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/minhqd/shopchat/internal/models"
)

const (
	HeaderSignature = "X-Callback-Signature"
	HeaderTaskID    = "X-Task-ID"
)

// Dispatcher enqueues and delivers callback envelopes. Delivery is
// at-least-once: an envelope only leaves the retry loop as delivered or
// permanently failed, and a receiver that got the request but answered
// slowly may see it again under the same task_id.
type Dispatcher struct {
	store    Store
	client   *http.Client
	endpoint string
	secret   []byte
	policy   BackoffPolicy
	limiter  *rate.Limiter
}

func NewDispatcher(store Store, endpoint, secret string, policy BackoffPolicy, ratePerSec float64, timeout time.Duration) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		store:    store,
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   []byte(secret),
		policy:   policy,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
	}
}

// Enqueue validates and persists a pending envelope. A repeated enqueue with
// a known task_id returns the existing envelope without creating another
// delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, tenantID uuid.UUID, taskID, kind string, payload any) (*models.CallbackEnvelope, error) {
	if taskID == "" {
		return nil, fmt.Errorf("enqueue callback: empty task_id")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue callback: marshal payload: %w", err)
	}
	if err := ValidatePayload(kind, raw); err != nil {
		return nil, fmt.Errorf("enqueue callback: %w", err)
	}

	env, created, err := d.store.Create(ctx, &models.CallbackEnvelope{
		TaskID:   taskID,
		TenantID: tenantID,
		Kind:     kind,
		Payload:  raw,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		slog.Debug("callback already enqueued", "task_id", taskID, "status", env.Status)
	}
	return env, nil
}

// wireEnvelope is the request body the receiver sees.
type wireEnvelope struct {
	TaskID   string          `json:"task_id"`
	TenantID uuid.UUID       `json:"tenant_id"`
	Kind     string          `json:"kind"`
	Attempt  int             `json:"attempt"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Deliver runs one delivery attempt for a claimed envelope and records the
// outcome. Only envelopes in sending state should be passed in.
func (d *Dispatcher) Deliver(ctx context.Context, env *models.CallbackEnvelope) error {
	attempt := env.AttemptCount + 1

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(wireEnvelope{
		TaskID:   env.TaskID,
		TenantID: env.TenantID,
		Kind:     env.Kind,
		Attempt:  attempt,
		SentAt:   time.Now().UTC(),
		Payload:  env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal wire envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTaskID, env.TaskID)
	req.Header.Set(HeaderSignature, Sign(d.secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		// Transport errors and timeouts are ambiguous: the receiver may have
		// processed the request. Retry under the same task_id.
		return d.retryOrFail(ctx, env, attempt, fmt.Sprintf("transport: %v", err))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Info("callback delivered",
			"task_id", env.TaskID, "kind", env.Kind, "attempt", attempt)
		return d.store.MarkDelivered(ctx, env.ID, attempt)

	case retryableStatus(resp.StatusCode):
		return d.retryOrFail(ctx, env, attempt, fmt.Sprintf("status %d", resp.StatusCode))

	default:
		// Remaining 4xx responses are contract errors; more attempts with the
		// same body cannot succeed.
		slog.Warn("callback rejected, not retrying",
			"task_id", env.TaskID, "status", resp.StatusCode, "attempt", attempt)
		return d.store.MarkFailed(ctx, env.ID, attempt, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) retryOrFail(ctx context.Context, env *models.CallbackEnvelope, attempt int, reason string) error {
	if attempt >= d.policy.MaxAttempts {
		slog.Error("callback permanently failed",
			"task_id", env.TaskID, "attempts", attempt, "last_error", reason)
		return d.store.MarkFailed(ctx, env.ID, attempt, reason)
	}

	delay := d.policy.NextDelay(attempt)
	slog.Warn("callback attempt failed, scheduling retry",
		"task_id", env.TaskID, "attempt", attempt, "retry_in", delay, "error", reason)
	return d.store.MarkRetrying(ctx, env.ID, attempt, time.Now().Add(delay), reason)
}

// retryableStatus: 5xx plus the two 4xx codes that signal a transient
// receiver condition rather than a contract error.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Sign computes the signature header value for a request body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the body, in
// constant time. Receivers use this; it also keeps Sign honest in tests.
func VerifySignature(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
