package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("catalog: item not found")

	// ErrDuplicateFingerprint reports that another active item already holds
	// the fingerprint — either a pre-existing row or a concurrent
	// registration that won the insert race.
	ErrDuplicateFingerprint = errors.New("catalog: active item with same fingerprint exists")
)

// ItemUpdate carries the mutable fields of a merge; nil fields are left
// untouched.
type ItemUpdate struct {
	Category    *string
	Tags        []string
	Description *string
	Price       *decimal.Decimal
	Quantity    *int
	Currency    *string
}

// QuantityChange is either a relative delta or an absolute value.
type QuantityChange struct {
	Delta    *int
	Absolute *int
}

// Store is the structured per-tenant item store. Writes must be atomic at
// the store level: UpdateQuantity in particular is a single statement, not a
// read-modify-write across round trips.
type Store interface {
	Insert(ctx context.Context, item *models.CatalogItem) error
	GetByID(ctx context.Context, tenantID uuid.UUID, itemID string) (*models.CatalogItem, error)
	GetByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*models.CatalogItem, error)
	UpdateFields(ctx context.Context, tenantID uuid.UUID, itemID string, upd ItemUpdate) (*models.CatalogItem, error)
	UpdateQuantity(ctx context.Context, tenantID uuid.UUID, itemID string, change QuantityChange) (*models.CatalogItem, error)
	SetVectorRef(ctx context.Context, tenantID uuid.UUID, itemID string, pointID uuid.UUID) error
	SoftDelete(ctx context.Context, tenantID uuid.UUID, itemID string) error

	// SearchNames matches active items whose folded name contains the folded
	// query, best (exact) matches first.
	SearchNames(ctx context.Context, tenantID uuid.UUID, foldedQuery string, limit int) ([]models.CatalogItem, error)
}
