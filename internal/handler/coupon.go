package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/universal-eats/promo-engine/internal/domain/promotion"
)

type validateRequest struct {
	Code     string                  `json:"code"`
	UserID   string                  `json:"user_id"`
	Order    promotion.OrderSnapshot `json:"order"`
	Location *promotion.Location     `json:"location,omitempty"`
}

type stackRequest struct {
	UserID          string                  `json:"user_id"`
	Order           promotion.OrderSnapshot `json:"order"`
	Location        *promotion.Location     `json:"location,omitempty"`
	LoyaltyDiscount decimal.Decimal         `json:"loyalty_discount"`
}

type appliedPromotion struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type stackResponse struct {
	Applied        []appliedPromotion `json:"applied"`
	LoyaltyApplied bool               `json:"loyalty_applied"`
	TotalDiscount  decimal.Decimal    `json:"total_discount"`
	FinalAmount    decimal.Decimal    `json:"final_amount"`
	FreeDelivery   bool               `json:"free_delivery,omitempty"`
}

type redeemRequest struct {
	PromotionID string `json:"promotion_id"`
	Code        string `json:"code,omitempty"`
	UserID      string `json:"user_id"`
	OrderID     string `json:"order_id"`
}

// ValidateCoupon handles POST /api/coupons/validate. Business failures come
// back as 200 with valid=false and reasons; an exhausted attempt budget
// comes back as 429 with Retry-After.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := h.service.ValidateCoupon(r.Context(), &promotion.ValidationRequest{
		Code:      req.Code,
		UserID:    req.UserID,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Order:     req.Order,
		Location:  req.Location,
	})
	if err != nil {
		h.lg.Error("validating coupon", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !result.Security.Passed {
		retry := time.Until(result.RateLimit.ResetAt).Seconds()
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
		h.writeJSON(w, http.StatusTooManyRequests, result)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ResolveStack handles POST /api/promotions/stack, resolving which automatic
// promotions combine for the given order.
func (h *Handler) ResolveStack(w http.ResponseWriter, r *http.Request) {
	var req stackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.ResolveAutomaticStack(r.Context(), &promotion.StackRequest{
		UserID:          req.UserID,
		ClientIP:        clientIP(r),
		UserAgent:       r.UserAgent(),
		Order:           req.Order,
		Location:        req.Location,
		LoyaltyDiscount: req.LoyaltyDiscount,
	})
	if err != nil {
		h.lg.Error("resolving promotion stack", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := stackResponse{
		Applied:        make([]appliedPromotion, 0, len(result.Applied)),
		LoyaltyApplied: result.LoyaltyApplied,
		TotalDiscount:  result.TotalDiscount,
		FinalAmount:    result.FinalAmount,
		FreeDelivery:   result.FreeDelivery,
	}
	for _, p := range result.Applied {
		resp.Applied = append(resp.Applied, appliedPromotion{ID: p.ID, Name: p.Name})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RedeemCoupon handles POST /api/coupons/redeem. It is called by the order
// service after checkout succeeds and is the step that consumes usage.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PromotionID == "" || req.UserID == "" || req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "promotion_id, user_id and order_id are required")
		return
	}

	err := h.redemptions.RecordRedemption(r.Context(), req.PromotionID, req.Code, req.UserID, req.OrderID)
	if err != nil {
		h.lg.Error("recording redemption",
			zap.String("promotion_id", req.PromotionID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"redeemed": true})
}
