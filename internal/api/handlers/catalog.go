package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/tenant"
)

type CatalogHandler struct {
	registry   *catalog.Registry
	dispatcher *callback.Dispatcher
}

func NewCatalogHandler(registry *catalog.Registry, dispatcher *callback.Dispatcher) *CatalogHandler {
	return &CatalogHandler{registry: registry, dispatcher: dispatcher}
}

// catalogTaskID keys the callback to the item revision: a retried request
// that produced the same row state does not enqueue a second delivery.
func catalogTaskID(item *models.CatalogItem) string {
	return fmt.Sprintf("catalog:%s:%d", item.ItemID, item.UpdatedAt.UnixNano())
}

// notify enqueues a mutation callback. The mutation is already committed,
// so an enqueue failure is logged and never surfaced to the caller.
func (h *CatalogHandler) notify(ctx context.Context, tenantID uuid.UUID, taskID, kind string, payload any) {
	if h.dispatcher == nil {
		return
	}
	if _, err := h.dispatcher.Enqueue(ctx, tenantID, taskID, kind, payload); err != nil {
		slog.Warn("failed to enqueue catalog callback", "task_id", taskID, "error", err)
	}
}

type registerItemRequest struct {
	Kind             models.ItemKind  `json:"kind"`
	Name             string           `json:"name"`
	Category         string           `json:"category"`
	Tags             []string         `json:"tags"`
	Description      string           `json:"description"`
	Price            *decimal.Decimal `json:"price"`
	Quantity         *int             `json:"quantity"`
	Currency         string           `json:"currency"`
	ContentSignature string           `json:"content_signature"`
}

func (h *CatalogHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.registry.RegisterItem(r.Context(), catalog.RegisterRequest{
		TenantID:         tenant.IDFromContext(r.Context()),
		Kind:             req.Kind,
		Name:             req.Name,
		Category:         req.Category,
		Tags:             req.Tags,
		Description:      req.Description,
		Price:            req.Price,
		Quantity:         req.Quantity,
		Currency:         req.Currency,
		ContentSignature: req.ContentSignature,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	change := "merged"
	if item.CreatedAt.Equal(item.UpdatedAt) {
		change = "created"
	}
	h.notify(r.Context(), item.TenantID, catalogTaskID(item), callback.KindCatalogUpdated,
		callback.CatalogUpdatedPayload{ItemID: item.ItemID, Name: item.Name, Change: change})

	writeJSON(w, http.StatusOK, item)
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.registry.GetByID(r.Context(), tenant.IDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *CatalogHandler) Find(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("name")
	if query == "" {
		writeError(w, http.StatusBadRequest, "name query parameter required")
		return
	}

	item, err := h.registry.FindByName(r.Context(), tenant.IDFromContext(r.Context()), query)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no item matches")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type quantityRequest struct {
	Delta    *int `json:"delta"`
	Absolute *int `json:"absolute"`
}

func (h *CatalogHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Delta == nil && req.Absolute == nil {
		writeError(w, http.StatusBadRequest, "either delta or absolute required")
		return
	}
	if req.Delta != nil && req.Absolute != nil {
		writeError(w, http.StatusBadRequest, "delta and absolute are mutually exclusive")
		return
	}

	item, err := h.registry.UpdateQuantity(r.Context(),
		tenant.IDFromContext(r.Context()), chi.URLParam(r, "id"),
		catalog.QuantityChange{Delta: req.Delta, Absolute: req.Absolute})
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify(r.Context(), item.TenantID, catalogTaskID(item), callback.KindCatalogUpdated,
		callback.CatalogUpdatedPayload{ItemID: item.ItemID, Name: item.Name, Change: "quantity"})

	writeJSON(w, http.StatusOK, item)
}

func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	tenantID := tenant.IDFromContext(r.Context())
	err := h.registry.SoftDelete(r.Context(), tenantID, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A soft-deleted item stays deleted; a fixed task_id makes the
	// notification idempotent.
	h.notify(r.Context(), tenantID, "catalog:deleted:"+itemID, callback.KindItemDeleted,
		callback.ItemDeletedPayload{ItemID: itemID})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
