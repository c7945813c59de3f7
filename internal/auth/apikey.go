package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/minhqd/shopchat/internal/tenant"
)

type APIKeyMiddleware struct {
	header        string
	tenantService *tenant.Service
}

func NewAPIKeyMiddleware(header string, ts *tenant.Service) *APIKeyMiddleware {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyMiddleware{header: header, tenantService: ts}
}

// Authenticate resolves the tenant from an API key header. Requests without
// the header pass through for the JWT middleware to handle.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.header)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		sum := sha256.Sum256([]byte(key))
		t, err := m.tenantService.GetByAPIKeyHash(r.Context(), hex.EncodeToString(sum[:]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), t)))
	})
}
