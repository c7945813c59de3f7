package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
)

// MemStore is an in-process Store used by tests and local development. It
// mirrors the PgStore semantics, including the one-active-item-per-
// fingerprint invariant and single-operation quantity updates.
type MemStore struct {
	mu    sync.Mutex
	items map[string]*models.CatalogItem // by item_id
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*models.CatalogItem)}
}

func (s *MemStore) Insert(ctx context.Context, item *models.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.TenantID == item.TenantID &&
			existing.SourceFingerprint == item.SourceFingerprint &&
			existing.Status == models.StatusActive {
			return ErrDuplicateFingerprint
		}
	}

	now := time.Now()
	item.Status = models.StatusActive
	item.CreatedAt = now
	item.UpdatedAt = now
	cp := cloneItem(item)
	s.items[item.ItemID] = &cp
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, tenantID uuid.UUID, itemID string) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := cloneItem(item)
	return &cp, nil
}

func (s *MemStore) GetByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.TenantID == tenantID && item.SourceFingerprint == fingerprint && item.Status == models.StatusActive {
			cp := cloneItem(item)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) UpdateFields(ctx context.Context, tenantID uuid.UUID, itemID string, upd ItemUpdate) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID || item.Status != models.StatusActive {
		return nil, ErrNotFound
	}

	if upd.Category != nil {
		item.Category = *upd.Category
	}
	if upd.Tags != nil {
		item.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Description != nil {
		item.Description = *upd.Description
	}
	if upd.Price != nil {
		p := *upd.Price
		item.Price = &p
	}
	if upd.Quantity != nil {
		item.Quantity = *upd.Quantity
	}
	if upd.Currency != nil {
		item.Currency = *upd.Currency
	}
	item.UpdatedAt = time.Now()

	cp := cloneItem(item)
	return &cp, nil
}

func (s *MemStore) UpdateQuantity(ctx context.Context, tenantID uuid.UUID, itemID string, change QuantityChange) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID || item.Status != models.StatusActive {
		return nil, ErrNotFound
	}

	switch {
	case change.Absolute != nil:
		item.Quantity = *change.Absolute
	case change.Delta != nil:
		if item.Quantity == models.QuantityNotTracked {
			item.Quantity = *change.Delta
		} else {
			item.Quantity += *change.Delta
		}
	default:
		return nil, ErrNotFound
	}
	item.UpdatedAt = time.Now()

	cp := cloneItem(item)
	return &cp, nil
}

func (s *MemStore) SetVectorRef(ctx context.Context, tenantID uuid.UUID, itemID string, pointID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID {
		return ErrNotFound
	}
	ref := pointID
	item.VectorPointRef = &ref
	item.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SoftDelete(ctx context.Context, tenantID uuid.UUID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID || item.Status != models.StatusActive {
		return ErrNotFound
	}
	item.Status = models.StatusDeleted
	item.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SearchNames(ctx context.Context, tenantID uuid.UUID, foldedQuery string, limit int) ([]models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []models.CatalogItem
	for _, item := range s.items {
		if item.TenantID != tenantID || item.Status != models.StatusActive {
			continue
		}
		if strings.Contains(Fold(item.Name), foldedQuery) {
			matches = append(matches, cloneItem(item))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		ei, ej := Fold(matches[i].Name) == foldedQuery, Fold(matches[j].Name) == foldedQuery
		if ei != ej {
			return ei
		}
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cloneItem(item *models.CatalogItem) models.CatalogItem {
	cp := *item
	cp.Tags = append([]string(nil), item.Tags...)
	if item.Price != nil {
		p := *item.Price
		cp.Price = &p
	}
	if item.VectorPointRef != nil {
		ref := *item.VectorPointRef
		cp.VectorPointRef = &ref
	}
	return cp
}
