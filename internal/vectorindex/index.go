// Package vectorindex abstracts the approximate-nearest-neighbor store that
// holds one embedding point per catalog item or document snippet. Backends:
// Qdrant (gRPC), pgvector and an in-memory index for tests and local dev.
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnavailableError marks the vector store as unreachable. The search engine
// degrades to catalog-only results when it sees this.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector index unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Point is one stored embedding plus the denormalized payload used for
// filtering. ItemID links back to the owning catalog item; empty for
// document-derived points.
type Point struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Kind      string    `json:"kind"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	ItemID    string    `json:"item_id"`
	Content   string    `json:"content"` // content_for_embedding
	Embedding []float32 `json:"embedding"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredPoint is a Point with the backend-reported similarity score. The
// search engine recomputes exact scores itself and only uses this one as a
// candidate filter.
type ScoredPoint struct {
	Point
	Score float64 `json:"score"`
}

// Index is the vector store client. All operations are scoped to one tenant;
// the store is shared and externally owned.
type Index interface {
	// Search runs an ANN top-K query with a minimum score cutoff.
	Search(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, minScore float64) ([]ScoredPoint, error)

	// Scroll pages through the tenant partition. An empty cursor starts the
	// scan; an empty returned cursor ends it. Pages are most-recently-updated
	// first where the backend supports ordering (memory, pgvector); the
	// Qdrant backend scrolls in point order.
	Scroll(ctx context.Context, tenantID uuid.UUID, cursor string, pageSize int) ([]Point, string, error)

	Upsert(ctx context.Context, p Point) error
	Delete(ctx context.Context, tenantID, pointID uuid.UUID) error
	Count(ctx context.Context, tenantID uuid.UUID) (int, error)
}
