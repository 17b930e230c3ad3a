package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
	"github.com/universal-eats/promo-engine/internal/domain/promotion"
)

// adminPromotion is the wire form of a promotion for the admin API.
type adminPromotion struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Type          string          `json:"type"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`

	MinimumAmount   decimal.Decimal `json:"minimum_amount"`
	MaximumDiscount decimal.Decimal `json:"maximum_discount"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	UsageLimit        int    `json:"usage_limit,omitempty"`
	UsageCount        int    `json:"usage_count,omitempty"`
	UsageLimitPerUser int    `json:"usage_limit_per_user,omitempty"`
	Active            bool   `json:"active"`
	Stackable         bool   `json:"stackable"`
	TargetAudience    string `json:"target_audience"`
	CustomSegment     string `json:"custom_segment,omitempty"`

	StackWithLoyalty   bool            `json:"stack_with_loyalty"`
	StackWithPromos    bool            `json:"stack_with_promotions"`
	MaxStackingPercent decimal.Decimal `json:"max_stacking_percent"`
	Priority           int             `json:"priority"`

	Geo      *promotion.GeoTargeting `json:"geo_targeting,omitempty"`
	BuyXGetY *promotion.BuyXGetYRule `json:"buy_x_get_y,omitempty"`

	LoyaltyRequired     bool   `json:"loyalty_required,omitempty"`
	LoyaltyTierRequired string `json:"loyalty_tier_required,omitempty"`
}

func toAdminPromotion(p *promotion.Promotion) adminPromotion {
	return adminPromotion{
		ID:                  p.ID,
		Name:                p.Name,
		Description:         p.Description,
		Type:                string(p.Type),
		DiscountType:        string(p.DiscountType),
		DiscountValue:       p.DiscountValue,
		MinimumAmount:       p.MinimumAmount,
		MaximumDiscount:     p.MaximumDiscount,
		ValidFrom:           p.ValidFrom,
		ValidUntil:          p.ValidUntil,
		UsageLimit:          p.UsageLimit,
		UsageCount:          p.UsageCount,
		UsageLimitPerUser:   p.UsageLimitPerUser,
		Active:              p.Active,
		Stackable:           p.Stackable,
		TargetAudience:      string(p.TargetAudience),
		CustomSegment:       p.CustomSegment,
		StackWithLoyalty:    p.Stacking.CanStackWithLoyalty,
		StackWithPromos:     p.Stacking.CanStackWithPromotions,
		MaxStackingPercent:  p.Stacking.MaxStackingPercent,
		Priority:            p.Stacking.Priority,
		Geo:                 p.Geo,
		BuyXGetY:            p.BuyXGetY,
		LoyaltyRequired:     p.LoyaltyRequired,
		LoyaltyTierRequired: string(p.LoyaltyTierRequired),
	}
}

func (a *adminPromotion) toDomain() *promotion.Promotion {
	return &promotion.Promotion{
		ID:                a.ID,
		Name:              a.Name,
		Description:       a.Description,
		Type:              promotion.Type(a.Type),
		DiscountType:      promotion.DiscountType(a.DiscountType),
		DiscountValue:     a.DiscountValue,
		MinimumAmount:     a.MinimumAmount,
		MaximumDiscount:   a.MaximumDiscount,
		ValidFrom:         a.ValidFrom,
		ValidUntil:        a.ValidUntil,
		UsageLimit:        a.UsageLimit,
		UsageLimitPerUser: a.UsageLimitPerUser,
		Active:            a.Active,
		Stackable:         a.Stackable,
		TargetAudience:    promotion.Audience(a.TargetAudience),
		CustomSegment:     a.CustomSegment,
		Stacking: promotion.StackingRules{
			CanStackWithLoyalty:    a.StackWithLoyalty,
			CanStackWithPromotions: a.StackWithPromos,
			MaxStackingPercent:     a.MaxStackingPercent,
			Priority:               a.Priority,
		},
		Geo:                 a.Geo,
		BuyXGetY:            a.BuyXGetY,
		LoyaltyRequired:     a.LoyaltyRequired,
		LoyaltyTierRequired: loyalty.Tier(a.LoyaltyTierRequired),
	}
}

// ListPromotions handles GET /api/admin/promotions.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.store.List(r.Context())
	if err != nil {
		h.lg.Error("listing promotions", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]adminPromotion, 0, len(promos))
	for i := range promos {
		out = append(out, toAdminPromotion(&promos[i]))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CreatePromotion handles POST /api/admin/promotions. An omitted ID gets a
// generated UUID.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req adminPromotion
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Type == "" || req.DiscountType == "" {
		h.writeError(w, http.StatusBadRequest, "name, type and discount_type are required")
		return
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		h.writeError(w, http.StatusBadRequest, "valid_until must be after valid_from")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p := req.toDomain()
	if err := h.store.Create(r.Context(), p); err != nil {
		h.lg.Error("creating promotion", zap.String("promotion_id", p.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toAdminPromotion(p))
}
