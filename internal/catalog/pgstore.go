package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minhqd/shopchat/internal/models"
)

const itemColumns = `item_id, tenant_id, kind, name, category, tags, description,
	price, quantity, currency, source_fingerprint, vector_point_ref, status, created_at, updated_at`

// PgStore is the Postgres-backed catalog store. The partial unique index on
// (tenant_id, source_fingerprint) WHERE status='active' is what enforces the
// idempotent-identity invariant under concurrency.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Insert(ctx context.Context, item *models.CatalogItem) error {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO catalog_items
		 (item_id, tenant_id, kind, name, name_folded, category, tags, description,
		  price, quantity, currency, source_fingerprint, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'active')
		 RETURNING created_at, updated_at`,
		item.ItemID, item.TenantID, item.Kind, item.Name, Fold(item.Name),
		item.Category, tags, item.Description, item.Price, item.Quantity,
		item.Currency, item.SourceFingerprint,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("insert catalog item: %w", err)
	}
	item.Status = models.StatusActive
	return nil
}

func (s *PgStore) GetByID(ctx context.Context, tenantID uuid.UUID, itemID string) (*models.CatalogItem, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE item_id = $1 AND tenant_id = $2`,
		itemID, tenantID,
	)
	return scanItem(row)
}

func (s *PgStore) GetByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*models.CatalogItem, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM catalog_items
		 WHERE tenant_id = $1 AND source_fingerprint = $2 AND status = 'active'`,
		tenantID, fingerprint,
	)
	return scanItem(row)
}

func (s *PgStore) UpdateFields(ctx context.Context, tenantID uuid.UUID, itemID string, upd ItemUpdate) (*models.CatalogItem, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE catalog_items SET
		   category = COALESCE($3, category),
		   tags = COALESCE($4, tags),
		   description = COALESCE($5, description),
		   price = COALESCE($6, price),
		   quantity = COALESCE($7, quantity),
		   currency = COALESCE($8, currency),
		   updated_at = now()
		 WHERE item_id = $1 AND tenant_id = $2 AND status = 'active'
		 RETURNING `+itemColumns,
		itemID, tenantID, upd.Category, upd.Tags, upd.Description, upd.Price, upd.Quantity, upd.Currency,
	)
	return scanItem(row)
}

func (s *PgStore) UpdateQuantity(ctx context.Context, tenantID uuid.UUID, itemID string, change QuantityChange) (*models.CatalogItem, error) {
	var row pgx.Row
	switch {
	case change.Absolute != nil:
		row = s.db.QueryRow(ctx,
			`UPDATE catalog_items SET quantity = $3, updated_at = now()
			 WHERE item_id = $1 AND tenant_id = $2 AND status = 'active'
			 RETURNING `+itemColumns,
			itemID, tenantID, *change.Absolute,
		)
	case change.Delta != nil:
		// A delta against an untracked (-1) quantity starts counting from 0.
		row = s.db.QueryRow(ctx,
			`UPDATE catalog_items
			 SET quantity = CASE WHEN quantity = -1 THEN $3 ELSE quantity + $3 END,
			     updated_at = now()
			 WHERE item_id = $1 AND tenant_id = $2 AND status = 'active'
			 RETURNING `+itemColumns,
			itemID, tenantID, *change.Delta,
		)
	default:
		return nil, fmt.Errorf("update quantity: neither delta nor absolute given")
	}
	return scanItem(row)
}

func (s *PgStore) SetVectorRef(ctx context.Context, tenantID uuid.UUID, itemID string, pointID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE catalog_items SET vector_point_ref = $3, updated_at = now()
		 WHERE item_id = $1 AND tenant_id = $2`,
		itemID, tenantID, pointID,
	)
	if err != nil {
		return fmt.Errorf("set vector ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) SoftDelete(ctx context.Context, tenantID uuid.UUID, itemID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE catalog_items SET status = 'deleted', updated_at = now()
		 WHERE item_id = $1 AND tenant_id = $2 AND status = 'active'`,
		itemID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) SearchNames(ctx context.Context, tenantID uuid.UUID, foldedQuery string, limit int) ([]models.CatalogItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+itemColumns+` FROM catalog_items
		 WHERE tenant_id = $1 AND status = 'active' AND name_folded LIKE '%' || $2 || '%'
		 ORDER BY (name_folded = $2) DESC, updated_at DESC
		 LIMIT $3`,
		tenantID, foldedQuery, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search names: %w", err)
	}
	defer rows.Close()

	var items []models.CatalogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := row.Scan(
		&item.ItemID, &item.TenantID, &item.Kind, &item.Name, &item.Category,
		&item.Tags, &item.Description, &item.Price, &item.Quantity, &item.Currency,
		&item.SourceFingerprint, &item.VectorPointRef, &item.Status,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan catalog item: %w", err)
	}
	return &item, nil
}
