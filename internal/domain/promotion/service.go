package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
	"github.com/universal-eats/promo-engine/internal/security"
)

// ValidationResult is the single object a validation call produces. Business
// failures (wrong code, ineligibility, exhausted attempt budget) land here
// as structured reasons; only transport failures surface as Go errors.
type ValidationResult struct {
	Valid bool `json:"valid"`
	// Code echoes the validated coupon code when the lookup succeeded.
	Code string `json:"code,omitempty"`
	// PromotionID and PromotionName identify the applied promotion.
	PromotionID   string `json:"promotion_id,omitempty"`
	PromotionName string `json:"promotion_name,omitempty"`
	// Discount and FinalAmount are rounded to two decimal places here, at
	// the display boundary.
	Discount     decimal.Decimal `json:"discount"`
	FinalAmount  decimal.Decimal `json:"final_amount"`
	FreeDelivery bool            `json:"free_delivery,omitempty"`
	// Reasons lists every violated constraint when Valid is false.
	Reasons   []string               `json:"reasons,omitempty"`
	Security  security.Checks        `json:"security_checks"`
	RateLimit security.RateLimitInfo `json:"rate_limit"`
}

// StackRequest is the input for resolving automatic promotions without a
// user-entered code.
type StackRequest struct {
	UserID          string
	ClientIP        string
	UserAgent       string
	Order           OrderSnapshot
	Location        *Location
	LoyaltyDiscount decimal.Decimal
}

// Service is the validation pipeline: security assessment, code lookup,
// eligibility, discount computation, and result assembly. It is stateless
// and request-scoped; every call fetches records fresh and writes nothing.
type Service struct {
	repo     Repository
	usage    UsageTracker
	profiles loyalty.Source
	assessor *security.Assessor
	now      func() time.Time
	lg       *zap.Logger
}

// NewService wires the pipeline's collaborators.
func NewService(
	repo Repository,
	usage UsageTracker,
	profiles loyalty.Source,
	assessor *security.Assessor,
	lg *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		usage:    usage,
		profiles: profiles,
		assessor: assessor,
		now:      time.Now,
		lg:       lg,
	}
}

const rateLimitedReason = "too many validation attempts, try again later"

// ValidateCoupon is the public entry point of the pipeline. Identical
// requests with no intervening state change yield identical results; the
// only observable side effect is the attempt counter.
func (s *Service) ValidateCoupon(ctx context.Context, req *ValidationRequest) (*ValidationResult, error) {
	checks, rlInfo, err := s.assessor.Assess(ctx, security.Attempt{
		IP:        req.ClientIP,
		UserID:    req.UserID,
		Code:      req.Code,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "assess request")
	}

	result := &ValidationResult{
		FinalAmount: req.Order.TotalAmount.Round(2),
		Security:    checks,
		RateLimit:   rlInfo,
	}

	// An exhausted attempt budget rejects the attempt outright, before any
	// lookup, so the caller can tell "too many attempts" from "wrong code".
	if !checks.Passed {
		result.Reasons = []string{rateLimitedReason}
		return result, nil
	}

	promo, code, err := s.repo.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			result.Reasons = []string{"coupon code not found"}
			return result, nil
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	user, err := s.userContext(ctx, promo, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load user context")
	}

	reasons := codeViolations(code, s.now())
	elig := EvaluateEligibility(promo, req, user, s.now())
	reasons = append(reasons, elig.Reasons...)
	if len(reasons) > 0 {
		result.Reasons = reasons
		return result, nil
	}

	dres, err := ComputeDiscount(promo, req.Order)
	if err != nil {
		if errors.Is(err, ErrMisconfigured) {
			s.lg.Error("promotion record cannot be evaluated",
				zap.String("promotion_id", promo.ID),
				zap.Error(err),
			)
			result.Reasons = []string{"promotion misconfigured"}
			return result, nil
		}
		return nil, errors.Wrap(err, "compute discount")
	}

	result.Valid = true
	result.Code = code.Code
	result.PromotionID = promo.ID
	result.PromotionName = promo.Name
	result.Discount = dres.Discount.Round(2)
	result.FinalAmount = dres.FinalAmount.Round(2)
	result.FreeDelivery = dres.FreeDelivery
	return result, nil
}

// ResolveAutomaticStack fetches active automatic promotions, keeps the
// individually eligible ones, and resolves which combination applies.
func (s *Service) ResolveAutomaticStack(ctx context.Context, req *StackRequest) (*StackResult, error) {
	promos, err := s.repo.ListAutomatic(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list automatic promotions")
	}

	vreq := &ValidationRequest{
		UserID:   req.UserID,
		Order:    req.Order,
		Location: req.Location,
	}

	now := s.now()
	var candidates []Candidate
	for i := range promos {
		p := &promos[i]

		user, err := s.userContext(ctx, p, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "load user context")
		}
		if !EvaluateEligibility(p, vreq, user, now).Eligible {
			continue
		}

		dres, err := ComputeDiscount(p, req.Order)
		if err != nil {
			if errors.Is(err, ErrMisconfigured) {
				s.lg.Error("skipping misconfigured promotion",
					zap.String("promotion_id", p.ID),
					zap.Error(err),
				)
				continue
			}
			return nil, errors.Wrap(err, "compute discount")
		}
		candidates = append(candidates, Candidate{Promotion: p, Discount: dres.Discount})
	}

	result := ResolveStack(candidates, req.LoyaltyDiscount, req.Order)
	result.TotalDiscount = result.TotalDiscount.Round(2)
	result.FinalAmount = result.FinalAmount.Round(2)
	return &result, nil
}

// userContext gathers the per-user facts eligibility needs. An anonymous
// request yields a zero context so identity-dependent checks fail.
func (s *Service) userContext(ctx context.Context, p *Promotion, userID string) (UserContext, error) {
	if userID == "" {
		return UserContext{}, nil
	}

	user := UserContext{Known: true}

	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil && !errors.Is(err, loyalty.ErrProfileNotFound) {
		return UserContext{}, errors.Wrap(err, "fetch profile")
	}
	user.Profile = profile

	if p.UsageLimitPerUser > 0 {
		n, err := s.usage.CountUserRedemptions(ctx, p.ID, userID)
		if err != nil {
			return UserContext{}, errors.Wrap(err, "count redemptions")
		}
		user.Redemptions = n
	}

	return user, nil
}

// codeViolations checks the coupon code instance itself, separately from
// the promotion it points at.
func codeViolations(code *CouponCode, now time.Time) []string {
	var reasons []string
	if !code.Active {
		reasons = append(reasons, "coupon code is no longer active")
	}
	if code.ValidUntil != nil && !now.Before(*code.ValidUntil) {
		reasons = append(reasons, "coupon code has expired")
	}
	if code.MaxUsage > 0 && code.UsageCount >= code.MaxUsage {
		reasons = append(reasons, "coupon code has already been used the maximum number of times")
	}
	return reasons
}
