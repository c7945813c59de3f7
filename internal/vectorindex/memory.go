package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex is an in-process Index for tests and local development.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[uuid.UUID]Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[uuid.UUID]Point)}
}

func (m *MemoryIndex) Search(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, minScore float64) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ScoredPoint
	for _, p := range m.points {
		if p.TenantID != tenantID {
			continue
		}
		score := Cosine(vector, p.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, ScoredPoint{Point: p, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) Scroll(ctx context.Context, tenantID uuid.UUID, cursor string, pageSize int) ([]Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Point
	for _, p := range m.points {
		if p.TenantID == tenantID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		offset = n
	}
	if offset >= len(all) {
		return nil, "", nil
	}

	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]

	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, p Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[p.ID] = p
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, tenantID, pointID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.points[pointID]; ok && p.TenantID == tenantID {
		delete(m.points, pointID)
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context, tenantID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// Cosine computes cosine similarity in double precision. Near-zero-norm
// vectors score 0 instead of dividing by zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	const eps = 1e-12
	if normA < eps || normB < eps {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
