package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/minhqd/shopchat/internal/embedding"
	"github.com/minhqd/shopchat/internal/search"
	"github.com/minhqd/shopchat/internal/tenant"
)

type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	req.TenantID = tenant.IDFromContext(r.Context())

	resp, err := h.engine.Search(r.Context(), req)
	if err != nil {
		var pe *embedding.ProviderError
		if errors.As(err, &pe) {
			// Retryable upstream failure; the caller should back off and
			// repeat the query.
			writeError(w, http.StatusBadGateway, "embedding provider unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
