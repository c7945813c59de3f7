// Package callback delivers signed webhook notifications to the tenant's
// configured endpoint with at-least-once semantics. Each notification is
// wrapped in a persisted envelope keyed by task_id; the receiver deduplicates
// on that key.
package callback

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	KindExtractionCompleted = "extraction_completed"
	KindCatalogUpdated      = "catalog_updated"
	KindItemDeleted         = "item_deleted"
)

type ExtractionCompletedPayload struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	ItemCount int       `json:"item_count"`
	Error     string    `json:"error,omitempty"`
}

type CatalogUpdatedPayload struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	// Change is "created", "merged" or "quantity".
	Change string `json:"change"`
}

type ItemDeletedPayload struct {
	ItemID string `json:"item_id"`
}

// ValidatePayload checks a payload once, at enqueue time. Known kinds must
// carry their required fields; unknown kinds pass through opaque as long as
// the payload is a JSON object.
func ValidatePayload(kind string, payload json.RawMessage) error {
	switch kind {
	case KindExtractionCompleted:
		var p ExtractionCompletedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if p.JobID == uuid.Nil {
			return fmt.Errorf("invalid %s payload: missing job_id", kind)
		}
		if p.Status == "" {
			return fmt.Errorf("invalid %s payload: missing status", kind)
		}
	case KindCatalogUpdated:
		var p CatalogUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if p.ItemID == "" {
			return fmt.Errorf("invalid %s payload: missing item_id", kind)
		}
	case KindItemDeleted:
		var p ItemDeletedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if p.ItemID == "" {
			return fmt.Errorf("invalid %s payload: missing item_id", kind)
		}
	default:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return fmt.Errorf("invalid %s payload: not a JSON object: %w", kind, err)
		}
	}
	return nil
}
