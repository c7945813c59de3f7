package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EnvelopeStatus string

const (
	EnvelopePending           EnvelopeStatus = "pending"
	EnvelopeSending           EnvelopeStatus = "sending"
	EnvelopeDelivered         EnvelopeStatus = "delivered"
	EnvelopeRetrying          EnvelopeStatus = "retrying"
	EnvelopePermanentlyFailed EnvelopeStatus = "permanently_failed"
)

// CallbackEnvelope is the retry-tracked wrapper around one outbound webhook
// delivery. TaskID is the caller-supplied idempotency key; the receiver is
// expected to deduplicate on it.
type CallbackEnvelope struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TaskID       string          `json:"task_id" db:"task_id"`
	TenantID     uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Kind         string          `json:"kind" db:"kind"`
	Status       EnvelopeStatus  `json:"status" db:"status"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	NextRetryAt  time.Time       `json:"next_retry_at" db:"next_retry_at"`
	DeliveredAt  *time.Time      `json:"delivered_at" db:"delivered_at"`
	LastError    string          `json:"last_error" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

type ExtractionJob struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	TenantID  uuid.UUID        `json:"tenant_id" db:"tenant_id"`
	FileName  string           `json:"file_name" db:"file_name"`
	FileType  string           `json:"file_type" db:"file_type"`
	Status    ExtractionStatus `json:"status" db:"status"`
	ItemCount int              `json:"item_count" db:"item_count"`
	Error     string           `json:"error,omitempty" db:"error"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}
