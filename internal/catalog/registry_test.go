package catalog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestRegistry() (*Registry, *MemStore, *vectorindex.MemoryIndex) {
	store := NewMemStore()
	index := vectorindex.NewMemoryIndex()
	return NewRegistry(store, index, fixedEmbedder{}), store, index
}

func intPtr(n int) *int { return &n }

func TestRegisterItemAssignsPrefixedID(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	prod, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Phở Bò",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prod.ItemID, "prod_"))
	assert.Equal(t, models.QuantityNotTracked, prod.Quantity)

	serv, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindService, Name: "Cắt tóc nam",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(serv.ItemID, "serv_"))
}

func TestRegisterItemRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()

	_, err := reg.RegisterItem(ctx, RegisterRequest{TenantID: uuid.New(), Kind: "bundle", Name: "x"})
	require.Error(t, err)
	_, err = reg.RegisterItem(ctx, RegisterRequest{TenantID: uuid.New(), Kind: models.KindProduct, Name: "   "})
	require.Error(t, err)
}

// Re-registering the same logical item merges into the existing row instead
// of creating a duplicate, even when the spelling differs.
func TestRegisterItemIdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	price1 := decimal.NewFromInt(45000)
	first, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Phở Bò",
		Category: "Món chính", Price: &price1,
	})
	require.NoError(t, err)

	price2 := decimal.NewFromInt(50000)
	second, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "phở  bò",
		Category: "món chính", Price: &price2, Description: "Tô lớn",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ItemID, second.ItemID)
	assert.True(t, second.Price.Equal(price2), "merge updates price")
	assert.Equal(t, "Tô lớn", second.Description)
}

func TestRegisterItemSameNameDifferentSignature(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	food, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Combo 1", ContentSignature: "đồ ăn",
	})
	require.NoError(t, err)
	drink, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Combo 1", ContentSignature: "đồ uống",
	})
	require.NoError(t, err)
	assert.NotEqual(t, food.ItemID, drink.ItemID)
}

func TestRegisterItemTenantsDoNotShareIdentity(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()

	a, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: uuid.New(), Kind: models.KindProduct, Name: "Phở Bò",
	})
	require.NoError(t, err)
	b, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: uuid.New(), Kind: models.KindProduct, Name: "Phở Bò",
	})
	require.NoError(t, err)
	assert.NotEqual(t, a.ItemID, b.ItemID)
}

func TestQuantityMergeRules(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	req := RegisterRequest{TenantID: tenantID, Kind: models.KindProduct, Name: "Trà Đá"}

	// Unreported quantity stays untracked.
	item, err := reg.RegisterItem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.QuantityNotTracked, item.Quantity)

	// A real count overwrites untracked.
	req.Quantity = intPtr(12)
	item, err = reg.RegisterItem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 12, item.Quantity)

	// A later "not tracked" report never downgrades a real count.
	req.Quantity = intPtr(models.QuantityNotTracked)
	item, err = reg.RegisterItem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 12, item.Quantity)

	// An unreported quantity leaves the count alone too.
	req.Quantity = nil
	item, err = reg.RegisterItem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 12, item.Quantity)
}

func TestConcurrentRegistrationsSingleItem(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := reg.RegisterItem(ctx, RegisterRequest{
				TenantID: tenantID, Kind: models.KindProduct, Name: "Bánh Mì",
			})
			if err == nil {
				ids[i] = item.ItemID
			}
		}(i)
	}
	wg.Wait()

	first := ids[0]
	require.NotEmpty(t, first)
	for _, id := range ids {
		assert.Equal(t, first, id)
	}
}

func TestConcurrentQuantityDeltas(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	item, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Nước Suối", Quantity: intPtr(100),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.UpdateQuantity(ctx, tenantID, item.ItemID, QuantityChange{Delta: intPtr(-1)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := reg.store.GetByID(ctx, tenantID, item.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Quantity)
}

func TestDeltaAgainstUntrackedStartsFromZero(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	item, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Cà Phê Đen",
	})
	require.NoError(t, err)
	require.Equal(t, models.QuantityNotTracked, item.Quantity)

	got, err := reg.UpdateQuantity(ctx, tenantID, item.ItemID, QuantityChange{Delta: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
}

func TestFindByNameDiacriticInsensitive(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()
	tenantID := uuid.New()

	item, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Cà Phê Sữa Đá",
	})
	require.NoError(t, err)

	found, err := reg.FindByName(ctx, tenantID, "ca phe sua da")
	require.NoError(t, err)
	assert.Equal(t, item.ItemID, found.ItemID)

	_, err = reg.FindByName(ctx, tenantID, "trà sữa")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterItemWritesVectorPoint(t *testing.T) {
	ctx := context.Background()
	reg, store, index := newTestRegistry()
	tenantID := uuid.New()

	item, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Phở Gà", Category: "Món chính",
	})
	require.NoError(t, err)
	require.NotNil(t, item.VectorPointRef)

	n, err := index.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A merge refreshes the existing point instead of adding another.
	_, err = reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "phở gà", Category: "món chính",
	})
	require.NoError(t, err)
	n, err = index.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := store.GetByID(ctx, tenantID, item.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.VectorPointRef, stored.VectorPointRef)
}

func TestSoftDeleteFreesFingerprintAndPoint(t *testing.T) {
	ctx := context.Background()
	reg, store, index := newTestRegistry()
	tenantID := uuid.New()

	item, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Bún Chả",
	})
	require.NoError(t, err)

	require.NoError(t, reg.SoftDelete(ctx, tenantID, item.ItemID))

	n, err := index.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	deleted, err := store.GetByID(ctx, tenantID, item.ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, deleted.Status)

	// The fingerprint is free again; re-registration mints a fresh item_id.
	fresh, err := reg.RegisterItem(ctx, RegisterRequest{
		TenantID: tenantID, Kind: models.KindProduct, Name: "Bún Chả",
	})
	require.NoError(t, err)
	assert.NotEqual(t, item.ItemID, fresh.ItemID)
}

func TestContentForEmbedding(t *testing.T) {
	price := decimal.NewFromInt(30000)
	item := &models.CatalogItem{
		Name:        "Phở Bò",
		Category:    "Món chính",
		Tags:        []string{"bò", "nước dùng"},
		Description: "Phở bò truyền thống Hà Nội",
		Price:       &price,
	}
	got := ContentForEmbedding(item)
	assert.Equal(t, "Phở Bò - Món chính - bò, nước dùng\nPhở bò truyền thống Hà Nội", got)

	bare := &models.CatalogItem{Name: "Trà Đá"}
	assert.Equal(t, "Trà Đá", ContentForEmbedding(bare))
}

// contestedStore makes every insert lose the fingerprint race without the
// winner ever becoming readable, forcing the retry loop to exhaust.
type contestedStore struct {
	Store
}

func (contestedStore) GetByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*models.CatalogItem, error) {
	return nil, ErrNotFound
}

func (contestedStore) Insert(ctx context.Context, item *models.CatalogItem) error {
	return ErrDuplicateFingerprint
}

func TestRegisterItemRaceExhaustionReportsAttempts(t *testing.T) {
	reg := NewRegistry(contestedStore{}, vectorindex.NewMemoryIndex(), fixedEmbedder{})

	_, err := reg.RegisterItem(context.Background(), RegisterRequest{
		TenantID: uuid.New(),
		Kind:     models.KindProduct,
		Name:     "Phở Bò",
	})
	require.Error(t, err)
	// maxRaceRetries retries on top of the initial attempt.
	assert.Contains(t, err.Error(), "after 4 attempts")
}
