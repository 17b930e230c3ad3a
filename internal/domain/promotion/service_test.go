package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
	"github.com/universal-eats/promo-engine/internal/security"
)

type fakeRepo struct {
	promos map[string]*Promotion
	codes  map[string]*CouponCode
	auto   []Promotion
	err    error
}

func (f *fakeRepo) FindByCode(_ context.Context, code string) (*Promotion, *CouponCode, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	c, ok := f.codes[code]
	if !ok {
		return nil, nil, ErrCodeNotFound
	}
	return f.promos[c.PromotionID], c, nil
}

func (f *fakeRepo) ListAutomatic(_ context.Context) ([]Promotion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.auto, nil
}

type fakeUsage struct {
	counts map[string]int
}

func (f *fakeUsage) CountUserRedemptions(_ context.Context, promotionID, userID string) (int, error) {
	return f.counts[promotionID+":"+userID], nil
}

type fakeProfiles struct {
	profiles map[string]*loyalty.Profile
}

func (f *fakeProfiles) Profile(_ context.Context, userID string) (*loyalty.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, loyalty.ErrProfileNotFound
	}
	return p, nil
}

func newTestService(repo *fakeRepo, usage *fakeUsage, profiles *fakeProfiles) *Service {
	if usage == nil {
		usage = &fakeUsage{counts: map[string]int{}}
	}
	if profiles == nil {
		profiles = &fakeProfiles{profiles: map[string]*loyalty.Profile{}}
	}
	assessor := security.NewAssessor(security.NewMemoryStore(), security.Config{
		MaxAttempts:           100,
		Window:                time.Hour,
		DistinctCodeThreshold: 100,
	})
	svc := NewService(repo, usage, profiles, assessor, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func validationReq(code string, total int64) *ValidationRequest {
	return &ValidationRequest{
		Code:      code,
		UserID:    "u1",
		ClientIP:  "10.0.0.1",
		UserAgent: "Mozilla/5.0",
		Order:     orderOf(total),
	}
}

func repoWithPromo(p *Promotion) *fakeRepo {
	return &fakeRepo{
		promos: map[string]*Promotion{p.ID: p},
		codes: map[string]*CouponCode{
			"SAVE": {Code: "SAVE", PromotionID: p.ID, Active: true},
		},
	}
}

// Scenario: a 20% promotion with a 15 ceiling on a 100 order discounts 15.
func TestValidateCoupon_PercentageWithCeiling(t *testing.T) {
	p := basePromotion()
	p.DiscountValue = decimal.NewFromInt(20)
	p.MaximumDiscount = decimal.NewFromInt(15)

	svc := newTestService(repoWithPromo(p), nil, nil)

	got, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.NoError(t, err)

	assert.True(t, got.Valid, "reasons: %v", got.Reasons)
	assert.True(t, got.Discount.Equal(decimal.NewFromInt(15)), "got %s", got.Discount)
	assert.True(t, got.FinalAmount.Equal(decimal.NewFromInt(85)))
	assert.Equal(t, p.ID, got.PromotionID)
	assert.True(t, got.Security.Passed)
}

// Scenario: order below the promotion's minimum is rejected with a
// minimum-amount reason.
func TestValidateCoupon_BelowMinimum(t *testing.T) {
	p := basePromotion()
	p.MinimumAmount = decimal.NewFromInt(50)

	svc := newTestService(repoWithPromo(p), nil, nil)

	got, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 30))
	require.NoError(t, err)

	assert.False(t, got.Valid)
	require.Len(t, got.Reasons, 1)
	assert.Contains(t, got.Reasons[0], "minimum")
	assert.True(t, got.Discount.IsZero())
}

// Scenario: unknown code yields a single not-found reason and no discount.
func TestValidateCoupon_CodeNotFound(t *testing.T) {
	svc := newTestService(&fakeRepo{codes: map[string]*CouponCode{}}, nil, nil)

	got, err := svc.ValidateCoupon(context.Background(), validationReq("BOGUS", 100))
	require.NoError(t, err)

	assert.False(t, got.Valid)
	assert.Equal(t, []string{"coupon code not found"}, got.Reasons)
	assert.True(t, got.Discount.IsZero())
	assert.Empty(t, got.PromotionID)
}

// Scenario: a user who exhausted their per-user allowance is rejected even
// when everything else passes.
func TestValidateCoupon_PerUserLimitExceeded(t *testing.T) {
	p := basePromotion()
	p.UsageLimitPerUser = 2

	usage := &fakeUsage{counts: map[string]int{"p1:u1": 2}}
	svc := newTestService(repoWithPromo(p), usage, nil)

	got, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.NoError(t, err)

	assert.False(t, got.Valid)
	require.Len(t, got.Reasons, 1)
	assert.Contains(t, got.Reasons[0], "usage limit")
}

// Identical requests with no state change in between produce identical
// results.
func TestValidateCoupon_Idempotent(t *testing.T) {
	p := basePromotion()
	svc := newTestService(repoWithPromo(p), nil, nil)

	first, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.NoError(t, err)
	second, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.NoError(t, err)

	assert.Equal(t, first.Valid, second.Valid)
	assert.True(t, first.Discount.Equal(second.Discount))
	assert.True(t, first.FinalAmount.Equal(second.FinalAmount))
	assert.Equal(t, first.Reasons, second.Reasons)
	// Only the attempt counter moved.
	assert.Equal(t, first.RateLimit.Remaining-1, second.RateLimit.Remaining)
}

func TestValidateCoupon_RateLimited(t *testing.T) {
	p := basePromotion()
	repo := repoWithPromo(p)

	assessor := security.NewAssessor(security.NewMemoryStore(), security.Config{
		MaxAttempts:           2,
		Window:                time.Hour,
		DistinctCodeThreshold: 100,
	})
	svc := NewService(repo, &fakeUsage{counts: map[string]int{}},
		&fakeProfiles{profiles: map[string]*loyalty.Profile{}}, assessor, zap.NewNop())
	svc.now = func() time.Time { return evalNow }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		got, err := svc.ValidateCoupon(ctx, validationReq("SAVE", 100))
		require.NoError(t, err)
		assert.True(t, got.Valid)
	}

	got, err := svc.ValidateCoupon(ctx, validationReq("SAVE", 100))
	require.NoError(t, err)

	assert.False(t, got.Valid)
	assert.False(t, got.Security.Passed)
	assert.Equal(t, []string{rateLimitedReason}, got.Reasons)
	assert.Equal(t, 0, got.RateLimit.Remaining)
	assert.False(t, got.RateLimit.ResetAt.IsZero())
}

func TestValidateCoupon_MisconfiguredPromotion(t *testing.T) {
	p := basePromotion()
	p.DiscountType = DiscountType("mystery")

	svc := newTestService(repoWithPromo(p), nil, nil)

	got, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.NoError(t, err, "misconfiguration must not escape the pipeline")

	assert.False(t, got.Valid)
	assert.Equal(t, []string{"promotion misconfigured"}, got.Reasons)
}

func TestValidateCoupon_CodeInstanceChecks(t *testing.T) {
	p := basePromotion()
	expired := evalNow.Add(-time.Hour)

	tests := []struct {
		name   string
		code   *CouponCode
		reason string
	}{
		{
			name:   "inactive code",
			code:   &CouponCode{Code: "C", PromotionID: "p1", Active: false},
			reason: "no longer active",
		},
		{
			name:   "expired code",
			code:   &CouponCode{Code: "C", PromotionID: "p1", Active: true, ValidUntil: &expired},
			reason: "expired",
		},
		{
			name:   "exhausted code",
			code:   &CouponCode{Code: "C", PromotionID: "p1", Active: true, MaxUsage: 1, UsageCount: 1},
			reason: "maximum number of times",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{
				promos: map[string]*Promotion{"p1": p},
				codes:  map[string]*CouponCode{"C": tt.code},
			}
			svc := newTestService(repo, nil, nil)

			got, err := svc.ValidateCoupon(context.Background(), validationReq("C", 100))
			require.NoError(t, err)
			assert.False(t, got.Valid)
			require.NotEmpty(t, got.Reasons)
			assert.Contains(t, got.Reasons[0], tt.reason)
		})
	}
}

func TestValidateCoupon_TransportErrorPropagates(t *testing.T) {
	svc := newTestService(&fakeRepo{err: context.DeadlineExceeded}, nil, nil)

	_, err := svc.ValidateCoupon(context.Background(), validationReq("SAVE", 100))
	require.Error(t, err)
}

func TestResolveAutomaticStack(t *testing.T) {
	mk := func(id string, priority int, value int64, stackable bool) Promotion {
		return Promotion{
			ID:            id,
			Name:          id,
			Type:          TypeAutomatic,
			DiscountType:  DiscountPercentage,
			DiscountValue: decimal.NewFromInt(value),
			ValidFrom:     evalPast,
			ValidUntil:    evalFuture,
			Active:        true,
			Stackable:     stackable,
			Stacking: StackingRules{
				CanStackWithLoyalty:    true,
				CanStackWithPromotions: true,
				Priority:               priority,
			},
		}
	}

	t.Run("eligible stackables combine", func(t *testing.T) {
		repo := &fakeRepo{auto: []Promotion{
			mk("a", 1, 10, true),
			mk("b", 2, 5, true),
		}}
		svc := newTestService(repo, nil, nil)

		got, err := svc.ResolveAutomaticStack(context.Background(), &StackRequest{
			UserID: "u1",
			Order:  orderOf(200),
		})
		require.NoError(t, err)

		assert.Len(t, got.Applied, 2)
		// 10% + 5% of 200.
		assert.True(t, got.TotalDiscount.Equal(decimal.NewFromInt(30)), "got %s", got.TotalDiscount)
		assert.True(t, got.FinalAmount.Equal(decimal.NewFromInt(170)))
	})

	t.Run("ineligible promotions are filtered out", func(t *testing.T) {
		expired := mk("old", 1, 50, true)
		expired.ValidUntil = evalNow.Add(-time.Hour)

		repo := &fakeRepo{auto: []Promotion{expired, mk("b", 2, 5, true)}}
		svc := newTestService(repo, nil, nil)

		got, err := svc.ResolveAutomaticStack(context.Background(), &StackRequest{
			Order: orderOf(100),
		})
		require.NoError(t, err)

		require.Len(t, got.Applied, 1)
		assert.Equal(t, "b", got.Applied[0].ID)
	})

	t.Run("exclusive beats stackables", func(t *testing.T) {
		repo := &fakeRepo{auto: []Promotion{
			mk("a", 2, 10, true),
			mk("x", 1, 5, false),
		}}
		svc := newTestService(repo, nil, nil)

		got, err := svc.ResolveAutomaticStack(context.Background(), &StackRequest{
			Order: orderOf(100),
		})
		require.NoError(t, err)

		require.Len(t, got.Applied, 1)
		assert.Equal(t, "x", got.Applied[0].ID)
	})

	t.Run("misconfigured automatic promotion is skipped", func(t *testing.T) {
		broken := mk("broken", 1, 10, true)
		broken.DiscountType = DiscountType("mystery")

		repo := &fakeRepo{auto: []Promotion{broken, mk("b", 2, 5, true)}}
		svc := newTestService(repo, nil, nil)

		got, err := svc.ResolveAutomaticStack(context.Background(), &StackRequest{
			Order: orderOf(100),
		})
		require.NoError(t, err)

		require.Len(t, got.Applied, 1)
		assert.Equal(t, "b", got.Applied[0].ID)
	})
}
