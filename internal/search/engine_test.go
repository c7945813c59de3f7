package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

// downIndex simulates an unreachable vector backend.
type downIndex struct{}

func (downIndex) Search(context.Context, uuid.UUID, []float32, int, float64) ([]vectorindex.ScoredPoint, error) {
	return nil, &vectorindex.UnavailableError{Op: "search", Err: errors.New("connection refused")}
}
func (downIndex) Scroll(context.Context, uuid.UUID, string, int) ([]vectorindex.Point, string, error) {
	return nil, "", &vectorindex.UnavailableError{Op: "scroll", Err: errors.New("connection refused")}
}
func (downIndex) Upsert(context.Context, vectorindex.Point) error {
	return &vectorindex.UnavailableError{Op: "upsert", Err: errors.New("connection refused")}
}
func (downIndex) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	return &vectorindex.UnavailableError{Op: "delete", Err: errors.New("connection refused")}
}
func (downIndex) Count(context.Context, uuid.UUID) (int, error) {
	return 0, &vectorindex.UnavailableError{Op: "count", Err: errors.New("connection refused")}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ANNTopK = 5 // small enough that ANN alone cannot cover the corpus
	return cfg
}

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
	}
	return v
}

func seedItem(t *testing.T, store catalog.Store, tenantID uuid.UUID, name string) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{
		ItemID:            models.KindProduct.IDPrefix() + uuid.NewString(),
		TenantID:          tenantID,
		Kind:              models.KindProduct,
		Name:              name,
		Quantity:          models.QuantityNotTracked,
		SourceFingerprint: catalog.Fingerprint(tenantID, models.KindProduct, name, ""),
	}
	require.NoError(t, store.Insert(context.Background(), item))
	return item
}

// Every point whose exact cosine similarity clears the threshold must be
// returned, regardless of ANN ranking. Checked against a brute-force scan.
func TestSearchRecallGuarantee(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	rng := rand.New(rand.NewSource(42))

	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	const dim, n = 8, 200
	query := randVec(rng, dim)

	type seeded struct {
		id    uuid.UUID
		score float64
	}
	var points []seeded
	for i := 0; i < n; i++ {
		emb := randVec(rng, dim)
		id := uuid.New()
		require.NoError(t, index.Upsert(ctx, vectorindex.Point{
			ID:        id,
			TenantID:  tenantID,
			Content:   fmt.Sprintf("document chunk %d", i),
			Embedding: emb,
			UpdatedAt: time.Now(),
		}))
		points = append(points, seeded{id: id, score: vectorindex.Cosine(query, emb)})
	}

	const threshold = 0.3
	expected := make(map[uuid.UUID]float64)
	for _, p := range points {
		if p.score >= threshold {
			expected[p.id] = p.score
		}
	}
	require.NotEmpty(t, expected, "seed produced no matches above threshold")

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{
		TenantID:       tenantID,
		Query:          "anything",
		ScoreThreshold: threshold,
		Limit:          n,
	})
	require.NoError(t, err)
	require.True(t, resp.RecallBounded)
	require.False(t, resp.Degraded)

	got := make(map[uuid.UUID]float64)
	for _, r := range resp.Results {
		got[r.PointID] = r.Score
	}
	require.Len(t, got, len(expected))
	for id, want := range expected {
		assert.InDelta(t, want, got[id], 1e-12, "point %s", id)
	}

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestSearchThresholdFiltersExactScores(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	query := []float32{1, 0, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, Content: "aligned",
		Embedding: []float32{1, 0, 0}, UpdatedAt: time.Now(),
	}))
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, Content: "orthogonal",
		Embedding: []float32{0, 1, 0}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "q", ScoreThreshold: 0.9})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "aligned", resp.Results[0].Content)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-12)
}

// Two points linked to the same catalog item collapse into one result that
// carries the higher score.
func TestSearchDedupByItemID(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	item := seedItem(t, store, tenantID, "Cà Phê Sữa Đá")

	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, ItemID: item.ItemID,
		Content: "iced milk coffee", Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, ItemID: item.ItemID,
		Content: "ca phe sua da", Embedding: []float32{1, 0.4}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "coffee", ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, item.ItemID, resp.Results[0].ItemID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-12)
}

// Unlinked points with the same folded content are near-duplicates from
// re-ingestion and collapse into one result.
func TestSearchDedupByFoldedContent(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, Content: "Phở Bò Tái",
		Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, Content: "pho bo  tai",
		Embedding: []float32{1, 0.3}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "pho", ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-12)
}

func TestSearchCatalogWinsScoreTie(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	item := seedItem(t, store, tenantID, "Bánh Mì Thịt")

	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, ItemID: item.ItemID,
		Content: "banh mi thit", Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, Content: "a paragraph about sandwiches",
		Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "banh mi", ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, SourceCatalog, resp.Results[0].Source)
	assert.Equal(t, SourceDocument, resp.Results[1].Source)
}

func TestSearchExcludesDeletedAndOrphanedItems(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	deleted := seedItem(t, store, tenantID, "Gone Product")
	require.NoError(t, store.SoftDelete(ctx, tenantID, deleted.ItemID))

	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, ItemID: deleted.ItemID,
		Content: "gone product", Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))
	// Point whose item_id no longer resolves at all.
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantID, ItemID: "prod_" + uuid.NewString(),
		Content: "orphan", Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "gone", ScoreThreshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchTenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, vectorindex.Point{
		ID: uuid.New(), TenantID: tenantB, Content: "other tenant data",
		Embedding: []float32{1, 0}, UpdatedAt: time.Now(),
	}))

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantA, Query: "data", ScoreThreshold: 0.1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchEmbeddingFailureFailsQuery(t *testing.T) {
	engine := NewEngine(vectorindex.NewMemoryIndex(), catalog.NewMemStore(),
		&stubEmbedder{err: errors.New("provider timeout")}, testConfig())

	resp, err := engine.Search(context.Background(), Request{TenantID: uuid.New(), Query: "q"})
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestSearchDegradedCatalogOnly(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	store := catalog.NewMemStore()

	seedItem(t, store, tenantID, "Phở Bò")
	seedItem(t, store, tenantID, "Phở Bò Tái Nạm")

	engine := NewEngine(downIndex{}, store, &stubEmbedder{vec: []float32{1}}, testConfig())
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "pho bo"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.False(t, resp.RecallBounded)
	require.Len(t, resp.Results, 2)

	// Exact folded match scores 1.0, substring match 0.8.
	assert.Equal(t, "Phở Bò", resp.Results[0].Name)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-12)
	assert.InDelta(t, 0.8, resp.Results[1].Score, 1e-12)
	for _, r := range resp.Results {
		assert.Equal(t, SourceCatalog, r.Source)
	}
}

func TestSearchRecallBoundedWhenPartitionTooLarge(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	cfg := testConfig()
	cfg.ExhaustiveMaxPoints = 10
	cfg.ScrollPageSize = 4
	cfg.ScrollPageLimit = 2

	query := []float32{1, 0}
	for i := 0; i < 20; i++ {
		require.NoError(t, index.Upsert(ctx, vectorindex.Point{
			ID: uuid.New(), TenantID: tenantID,
			Content:   fmt.Sprintf("chunk %d", i),
			Embedding: []float32{1, 0},
			UpdatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, cfg)
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "chunk", ScoreThreshold: 0.5, Limit: 50})
	require.NoError(t, err)
	assert.False(t, resp.RecallBounded)
	// ANN top-k plus two scroll pages, not the full partition.
	assert.Less(t, len(resp.Results), 20)
}

func TestSearchDefaultLimitTruncates(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	index := vectorindex.NewMemoryIndex()
	store := catalog.NewMemStore()

	cfg := testConfig()
	cfg.DefaultLimit = 3

	query := []float32{1, 0}
	for i := 0; i < 10; i++ {
		require.NoError(t, index.Upsert(ctx, vectorindex.Point{
			ID: uuid.New(), TenantID: tenantID,
			Content:   fmt.Sprintf("chunk %d", i),
			Embedding: []float32{1, 0},
			UpdatedAt: time.Now(),
		}))
	}

	engine := NewEngine(index, store, &stubEmbedder{vec: query}, cfg)
	resp, err := engine.Search(ctx, Request{TenantID: tenantID, Query: "chunk", ScoreThreshold: 0.5})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

// A partially filled config keeps the fields the caller set; only zero
// fields fall back to defaults.
func TestNewEngineDefaultsOnlyUnsetFields(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{DefaultThreshold: 0.95, ScrollPageSize: 7})

	def := DefaultConfig()
	assert.Equal(t, 0.95, e.cfg.DefaultThreshold)
	assert.Equal(t, 7, e.cfg.ScrollPageSize)
	assert.Equal(t, def.ANNThreshold, e.cfg.ANNThreshold)
	assert.Equal(t, def.ANNTopK, e.cfg.ANNTopK)
	assert.Equal(t, def.DefaultLimit, e.cfg.DefaultLimit)
	assert.Equal(t, def.ExhaustiveMaxPoints, e.cfg.ExhaustiveMaxPoints)
	assert.Equal(t, def.ScrollPageLimit, e.cfg.ScrollPageLimit)
}
