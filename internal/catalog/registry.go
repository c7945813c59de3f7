package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/vectorindex"
	"github.com/shopspring/decimal"
)

// Embedder produces the embedding for an item's content.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Registry makes catalog extraction idempotent: repeated registrations of
// the same logical item resolve to the same item_id, merging mutable fields
// instead of accumulating duplicates.
type Registry struct {
	store          Store
	index          vectorindex.Index
	embedder       Embedder
	maxRaceRetries int
}

func NewRegistry(store Store, index vectorindex.Index, embedder Embedder) *Registry {
	return &Registry{
		store:          store,
		index:          index,
		embedder:       embedder,
		maxRaceRetries: 3,
	}
}

type RegisterRequest struct {
	TenantID    uuid.UUID
	Kind        models.ItemKind
	Name        string
	Category    string
	Tags        []string
	Description string
	Price       *decimal.Decimal
	// Quantity nil means the extraction did not report stock; -1 means it
	// reported "not tracked".
	Quantity *int
	Currency string
	// ContentSignature distinguishes same-named items from different source
	// material; defaults to the category.
	ContentSignature string
}

// RegisterItem creates the item or merges into the existing one holding the
// same fingerprint. The catalog row is committed before the vector point is
// written; the back-reference is set last.
func (r *Registry) RegisterItem(ctx context.Context, req RegisterRequest) (*models.CatalogItem, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("register item: invalid kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("register item: empty name")
	}

	sig := req.ContentSignature
	if sig == "" {
		sig = req.Category
	}
	fp := Fingerprint(req.TenantID, req.Kind, req.Name, sig)

	for attempt := 0; attempt <= r.maxRaceRetries; attempt++ {
		existing, err := r.store.GetByFingerprint(ctx, req.TenantID, fp)
		if err == nil {
			return r.merge(ctx, existing, req)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		item := &models.CatalogItem{
			ItemID:            req.Kind.IDPrefix() + uuid.NewString(),
			TenantID:          req.TenantID,
			Kind:              req.Kind,
			Name:              req.Name,
			Category:          req.Category,
			Tags:              req.Tags,
			Description:       req.Description,
			Price:             req.Price,
			Quantity:          models.QuantityNotTracked,
			Currency:          req.Currency,
			SourceFingerprint: fp,
		}
		if req.Quantity != nil {
			item.Quantity = *req.Quantity
		}

		err = r.store.Insert(ctx, item)
		if errors.Is(err, ErrDuplicateFingerprint) {
			// Lost the insert race to a concurrent registration of the same
			// fingerprint; re-read and merge instead.
			continue
		}
		if err != nil {
			return nil, err
		}

		r.ensureVector(ctx, item)
		return item, nil
	}

	return nil, fmt.Errorf("register item: identity race unresolved after %d attempts", r.maxRaceRetries+1)
}

func (r *Registry) merge(ctx context.Context, existing *models.CatalogItem, req RegisterRequest) (*models.CatalogItem, error) {
	upd := ItemUpdate{Tags: req.Tags}
	if req.Category != "" {
		upd.Category = &req.Category
	}
	if req.Description != "" {
		upd.Description = &req.Description
	}
	if req.Price != nil {
		upd.Price = req.Price
	}
	if req.Currency != "" {
		upd.Currency = &req.Currency
	}
	// An extraction-supplied real count is authoritative and overwrites a
	// previous "not tracked"; a "not tracked" report never downgrades a
	// real count.
	if req.Quantity != nil {
		if *req.Quantity != models.QuantityNotTracked || existing.Quantity == models.QuantityNotTracked {
			upd.Quantity = req.Quantity
		}
	}

	item, err := r.store.UpdateFields(ctx, existing.TenantID, existing.ItemID, upd)
	if err != nil {
		return nil, err
	}

	r.ensureVector(ctx, item)
	return item, nil
}

func (r *Registry) GetByID(ctx context.Context, tenantID uuid.UUID, itemID string) (*models.CatalogItem, error) {
	return r.store.GetByID(ctx, tenantID, itemID)
}

// FindByName resolves an item by exact or substring name match, case- and
// diacritic-insensitive.
func (r *Registry) FindByName(ctx context.Context, tenantID uuid.UUID, query string) (*models.CatalogItem, error) {
	matches, err := r.store.SearchNames(ctx, tenantID, Fold(query), 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

func (r *Registry) UpdateQuantity(ctx context.Context, tenantID uuid.UUID, itemID string, change QuantityChange) (*models.CatalogItem, error) {
	return r.store.UpdateQuantity(ctx, tenantID, itemID, change)
}

// SoftDelete marks the item deleted and removes its vector point. The point
// removal is best-effort: a leftover point is excluded from search results
// by the identity check.
func (r *Registry) SoftDelete(ctx context.Context, tenantID uuid.UUID, itemID string) error {
	item, err := r.store.GetByID(ctx, tenantID, itemID)
	if err != nil {
		return err
	}
	if err := r.store.SoftDelete(ctx, tenantID, itemID); err != nil {
		return err
	}
	if item.VectorPointRef != nil {
		if err := r.index.Delete(ctx, tenantID, *item.VectorPointRef); err != nil {
			slog.Warn("failed to delete vector point for soft-deleted item",
				"item_id", itemID, "point_id", *item.VectorPointRef, "error", err)
		}
	}
	return nil
}

// ensureVector writes or refreshes the item's vector point and back-link.
// The catalog row is already committed, so failures here are logged and the
// registration still succeeds; the next registration run repairs the point.
func (r *Registry) ensureVector(ctx context.Context, item *models.CatalogItem) {
	vec, err := r.embedder.EmbedSingle(ctx, ContentForEmbedding(item))
	if err != nil {
		slog.Warn("embedding failed, item registered without vector point",
			"item_id", item.ItemID, "error", err)
		return
	}

	pointID := uuid.New()
	link := item.VectorPointRef == nil
	if !link {
		pointID = *item.VectorPointRef
	}

	err = r.index.Upsert(ctx, vectorindex.Point{
		ID:        pointID,
		TenantID:  item.TenantID,
		Kind:      string(item.Kind),
		Category:  item.Category,
		Tags:      item.Tags,
		ItemID:    item.ItemID,
		Content:   ContentForEmbedding(item),
		Embedding: vec,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("vector upsert failed, item registered without vector point",
			"item_id", item.ItemID, "error", err)
		return
	}

	if link {
		if err := r.store.SetVectorRef(ctx, item.TenantID, item.ItemID, pointID); err != nil {
			slog.Warn("failed to link vector point", "item_id", item.ItemID, "error", err)
			return
		}
		ref := pointID
		item.VectorPointRef = &ref
	}
}

// ContentForEmbedding renders the text an item is embedded under.
func ContentForEmbedding(item *models.CatalogItem) string {
	var b strings.Builder
	b.WriteString(item.Name)
	if item.Category != "" {
		b.WriteString(" - ")
		b.WriteString(item.Category)
	}
	if len(item.Tags) > 0 {
		b.WriteString(" - ")
		b.WriteString(strings.Join(item.Tags, ", "))
	}
	if item.Description != "" {
		b.WriteString("\n")
		b.WriteString(item.Description)
	}
	return b.String()
}
