package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/tenant"
)

// CallbackHandler exposes the dead-letter view of the delivery pipeline:
// permanently failed envelopes can be listed and requeued by hand.
type CallbackHandler struct {
	store callback.Store
}

func NewCallbackHandler(store callback.Store) *CallbackHandler {
	return &CallbackHandler{store: store}
}

func (h *CallbackHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	envs, err := h.store.ListFailed(r.Context(), tenant.IDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"envelopes": envs, "count": len(envs)})
}

func (h *CallbackHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope id")
		return
	}

	if err := h.store.Requeue(r.Context(), tenant.IDFromContext(r.Context()), id); err != nil {
		if errors.Is(err, callback.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no permanently failed envelope with that id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}
