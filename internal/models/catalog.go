package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindService ItemKind = "service"
)

func (k ItemKind) Valid() bool {
	return k == KindProduct || k == KindService
}

// IDPrefix is the stable-identifier prefix for the kind ("prod_", "serv_").
func (k ItemKind) IDPrefix() string {
	if k == KindService {
		return "serv_"
	}
	return "prod_"
}

type ItemStatus string

const (
	StatusActive  ItemStatus = "active"
	StatusDeleted ItemStatus = "deleted"
)

// QuantityNotTracked marks items whose stock level is unknown.
const QuantityNotTracked = -1

// CatalogItem is one structured inventory row. ItemID is globally unique
// and stable across repeated extraction runs; SourceFingerprint is how that
// stability is enforced (one active item per tenant+fingerprint).
type CatalogItem struct {
	ItemID            string           `json:"item_id" db:"item_id"`
	TenantID          uuid.UUID        `json:"tenant_id" db:"tenant_id"`
	Kind              ItemKind         `json:"kind" db:"kind"`
	Name              string           `json:"name" db:"name"`
	Category          string           `json:"category" db:"category"`
	Tags              []string         `json:"tags" db:"tags"`
	Description       string           `json:"description" db:"description"`
	Price             *decimal.Decimal `json:"price" db:"price"`
	Quantity          int              `json:"quantity" db:"quantity"`
	Currency          string           `json:"currency" db:"currency"`
	SourceFingerprint string           `json:"source_fingerprint" db:"source_fingerprint"`
	VectorPointRef    *uuid.UUID       `json:"vector_point_ref" db:"vector_point_ref"`
	Status            ItemStatus       `json:"status" db:"status"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}
