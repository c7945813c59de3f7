package vectorindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-12)

	// Degenerate inputs score 0 instead of NaN.
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestMemoryIndexSearchOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	tenantID := uuid.New()

	for i, emb := range [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}} {
		require.NoError(t, m.Upsert(ctx, Point{
			ID: uuid.New(), TenantID: tenantID,
			Content: fmt.Sprintf("p%d", i), Embedding: emb, UpdatedAt: time.Now(),
		}))
	}

	got, err := m.Search(ctx, tenantID, []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p0", got[0].Content)
	assert.Equal(t, "p1", got[1].Content)

	got, err = m.Search(ctx, tenantID, []float32{1, 0}, 1, 0.5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.Search(ctx, uuid.New(), []float32{1, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndexScrollPagesFullPartition(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	tenantID := uuid.New()

	base := time.Now()
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 10; i++ {
		id := uuid.New()
		seen[id] = false
		require.NoError(t, m.Upsert(ctx, Point{
			ID: id, TenantID: tenantID, Embedding: []float32{1},
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	cursor := ""
	var prev *time.Time
	pages := 0
	for {
		points, next, err := m.Scroll(ctx, tenantID, cursor, 3)
		require.NoError(t, err)
		pages++
		for _, p := range points {
			assert.False(t, seen[p.ID], "point repeated across pages")
			seen[p.ID] = true
			if prev != nil {
				assert.False(t, p.UpdatedAt.After(*prev), "not most-recent-first")
			}
			ts := p.UpdatedAt
			prev = &ts
		}
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Equal(t, 4, pages)
	for id, ok := range seen {
		assert.True(t, ok, "point %s never scrolled", id)
	}
}

func TestMemoryIndexUpsertReplacesAndDeleteScopesTenant(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	tenantID := uuid.New()
	id := uuid.New()

	require.NoError(t, m.Upsert(ctx, Point{ID: id, TenantID: tenantID, Content: "v1", Embedding: []float32{1}}))
	require.NoError(t, m.Upsert(ctx, Point{ID: id, TenantID: tenantID, Content: "v2", Embedding: []float32{1}}))

	n, err := m.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Delete under the wrong tenant is a no-op.
	require.NoError(t, m.Delete(ctx, uuid.New(), id))
	n, _ = m.Count(ctx, tenantID)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Delete(ctx, tenantID, id))
	n, _ = m.Count(ctx, tenantID)
	assert.Zero(t, n)
}
