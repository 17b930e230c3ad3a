package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/universal-eats/promo-engine/internal/domain/promotion"
)

// RedemptionRecorder commits a redemption once an order is placed. This is
// the only write the API performs against promotion state.
type RedemptionRecorder interface {
	RecordRedemption(ctx context.Context, promotionID, code, userID, orderID string) error
}

// PromotionStore is the admin-facing slice of the promotion repository.
type PromotionStore interface {
	List(ctx context.Context) ([]promotion.Promotion, error)
	Create(ctx context.Context, p *promotion.Promotion) error
}

// Handler exposes the validation pipeline over HTTP, delegating business
// logic to the promotion service.
type Handler struct {
	service     *promotion.Service
	redemptions RedemptionRecorder
	store       PromotionStore
	lg          *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	service *promotion.Service,
	redemptions RedemptionRecorder,
	store PromotionStore,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		service:     service,
		redemptions: redemptions,
		store:       store,
		lg:          lg,
	}
}

// Routes mounts the API onto a chi router. Redemption and admin routes
// require an API key; validation and stacking are public.
func (h *Handler) Routes(authn *APIKeyMiddleware) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/coupons/validate", h.ValidateCoupon)
		r.Post("/promotions/stack", h.ResolveStack)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireScope(ScopeRedeem))
			r.Post("/coupons/redeem", h.RedeemCoupon)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn.RequireScope(ScopeAdmin))
			r.Get("/promotions", h.ListPromotions)
			r.Post("/promotions", h.CreatePromotion)
		})
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.lg.Warn("writing response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// clientIP extracts the originating address, preferring the first entry of
// X-Forwarded-For set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
