package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/universal-eats/promo-engine/internal/domain/auth"
)

// Scope names re-exported for route wiring.
const (
	ScopeRedeem = auth.ScopeRedeem
	ScopeAdmin  = auth.ScopeAdmin
)

type apiKeyCtxKey struct{}

// APIKeyMiddleware authenticates requests carrying an X-API-Key header
// against HMAC-SHA256 hashed keys.
type APIKeyMiddleware struct {
	verifier *auth.Verifier
}

// NewAPIKeyMiddleware creates the middleware around a key verifier.
func NewAPIKeyMiddleware(verifier *auth.Verifier) *APIKeyMiddleware {
	return &APIKeyMiddleware{verifier: verifier}
}

// RequireScope returns middleware that rejects requests without a valid API
// key (401) or without the named scope (403). The validated key lands in
// the request context.
func (m *APIKeyMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				authError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := m.verifier.Verify(r.Context(), key)
			if err != nil {
				authError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				authError(w, http.StatusForbidden, "insufficient scope")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// APIKeyFromContext returns the authenticated key info, if any.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}
