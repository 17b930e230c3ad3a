package promotion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
)

var (
	evalNow    = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	evalPast   = evalNow.Add(-30 * 24 * time.Hour)
	evalFuture = evalNow.Add(30 * 24 * time.Hour)
)

func basePromotion() *Promotion {
	return &Promotion{
		ID:            "p1",
		Name:          "Summer deal",
		Type:          TypeCode,
		DiscountType:  DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     evalPast,
		ValidUntil:    evalFuture,
		Active:        true,
	}
}

func orderOf(total int64) OrderSnapshot {
	return OrderSnapshot{TotalAmount: decimal.NewFromInt(total)}
}

func TestEvaluateEligibility(t *testing.T) {
	memberProfile := &loyalty.Profile{
		UserID:   "u1",
		Active:   true,
		Tier:     loyalty.TierSilver,
		Segments: []string{"returning_customers", "loyalty_members"},
	}

	tests := []struct {
		name        string
		mutate      func(*Promotion)
		req         *ValidationRequest
		user        UserContext
		wantOK      bool
		wantReasons int
	}{
		{
			name:   "unconstrained promotion passes",
			mutate: func(p *Promotion) {},
			req:    &ValidationRequest{Order: orderOf(100)},
			wantOK: true,
		},
		{
			name:        "inactive promotion fails",
			mutate:      func(p *Promotion) { p.Active = false },
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name:        "not yet valid",
			mutate:      func(p *Promotion) { p.ValidFrom = evalNow.Add(time.Hour) },
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name:        "expired",
			mutate:      func(p *Promotion) { p.ValidUntil = evalNow.Add(-time.Hour) },
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name:        "window end is exclusive",
			mutate:      func(p *Promotion) { p.ValidUntil = evalNow },
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name:   "window start is inclusive",
			mutate: func(p *Promotion) { p.ValidFrom = evalNow },
			req:    &ValidationRequest{Order: orderOf(100)},
			wantOK: true,
		},
		{
			name: "global usage limit reached",
			mutate: func(p *Promotion) {
				p.UsageLimit = 100
				p.UsageCount = 100
			},
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name: "global usage under limit passes",
			mutate: func(p *Promotion) {
				p.UsageLimit = 100
				p.UsageCount = 99
			},
			req:    &ValidationRequest{Order: orderOf(100)},
			wantOK: true,
		},
		{
			name:        "per-user limit reached",
			mutate:      func(p *Promotion) { p.UsageLimitPerUser = 2 },
			req:         &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:        UserContext{Known: true, Redemptions: 2},
			wantReasons: 1,
		},
		{
			name:        "per-user limit without identity fails",
			mutate:      func(p *Promotion) { p.UsageLimitPerUser = 2 },
			req:         &ValidationRequest{Order: orderOf(100)},
			user:        UserContext{},
			wantReasons: 1,
		},
		{
			name:        "below minimum amount",
			mutate:      func(p *Promotion) { p.MinimumAmount = decimal.NewFromInt(50) },
			req:         &ValidationRequest{Order: orderOf(30)},
			wantReasons: 1,
		},
		{
			name:   "minimum amount met exactly",
			mutate: func(p *Promotion) { p.MinimumAmount = decimal.NewFromInt(50) },
			req:    &ValidationRequest{Order: orderOf(50)},
			wantOK: true,
		},
		{
			name:   "audience match passes",
			mutate: func(p *Promotion) { p.TargetAudience = AudienceReturning },
			req:    &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:   UserContext{Known: true, Profile: memberProfile},
			wantOK: true,
		},
		{
			name:        "audience mismatch fails",
			mutate:      func(p *Promotion) { p.TargetAudience = AudienceNewCustomers },
			req:         &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:        UserContext{Known: true, Profile: memberProfile},
			wantReasons: 1,
		},
		{
			name:        "audience check without identity fails",
			mutate:      func(p *Promotion) { p.TargetAudience = AudienceVIP },
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name: "custom segment match passes",
			mutate: func(p *Promotion) {
				p.TargetAudience = AudienceCustom
				p.CustomSegment = "loyalty_members"
			},
			req:    &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:   UserContext{Known: true, Profile: memberProfile},
			wantOK: true,
		},
		{
			name: "geo city match passes",
			mutate: func(p *Promotion) {
				p.Geo = &GeoTargeting{Cities: []string{"Lisbon", "Porto"}}
			},
			req: &ValidationRequest{
				Order:    orderOf(100),
				Location: &Location{City: "lisbon"},
			},
			wantOK: true,
		},
		{
			name: "geo zone match passes",
			mutate: func(p *Promotion) {
				p.Geo = &GeoTargeting{Zones: []string{"downtown"}}
			},
			req: &ValidationRequest{
				Order:    orderOf(100),
				Location: &Location{City: "Madrid", Zone: "Downtown"},
			},
			wantOK: true,
		},
		{
			name: "geo radius match passes",
			mutate: func(p *Promotion) {
				p.Geo = &GeoTargeting{
					Center:   &Point{Lat: 38.7223, Lon: -9.1393},
					RadiusKm: 10,
				}
			},
			req: &ValidationRequest{
				Order: orderOf(100),
				// ~2 km from the center.
				Location: &Location{Lat: 38.7369, Lon: -9.1427},
			},
			wantOK: true,
		},
		{
			name: "geo outside radius fails",
			mutate: func(p *Promotion) {
				p.Geo = &GeoTargeting{
					Center:   &Point{Lat: 38.7223, Lon: -9.1393},
					RadiusKm: 10,
				}
			},
			req: &ValidationRequest{
				Order: orderOf(100),
				// Porto, ~270 km away.
				Location: &Location{Lat: 41.1579, Lon: -8.6291},
			},
			wantReasons: 1,
		},
		{
			name: "geo constraint with unknown location fails",
			mutate: func(p *Promotion) {
				p.Geo = &GeoTargeting{Cities: []string{"Lisbon"}}
			},
			req:         &ValidationRequest{Order: orderOf(100)},
			wantReasons: 1,
		},
		{
			name:   "loyalty membership passes",
			mutate: func(p *Promotion) { p.LoyaltyRequired = true },
			req:    &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:   UserContext{Known: true, Profile: memberProfile},
			wantOK: true,
		},
		{
			name:        "loyalty required without membership fails",
			mutate:      func(p *Promotion) { p.LoyaltyRequired = true },
			req:         &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:        UserContext{Known: true},
			wantReasons: 1,
		},
		{
			name: "loyalty tier below requirement fails",
			mutate: func(p *Promotion) {
				p.LoyaltyRequired = true
				p.LoyaltyTierRequired = loyalty.TierGold
			},
			req:         &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:        UserContext{Known: true, Profile: memberProfile},
			wantReasons: 1,
		},
		{
			name: "loyalty tier met passes",
			mutate: func(p *Promotion) {
				p.LoyaltyRequired = true
				p.LoyaltyTierRequired = loyalty.TierSilver
			},
			req:    &ValidationRequest{UserID: "u1", Order: orderOf(100)},
			user:   UserContext{Known: true, Profile: memberProfile},
			wantOK: true,
		},
		{
			name: "all violations accumulate",
			mutate: func(p *Promotion) {
				p.Active = false
				p.ValidUntil = evalNow.Add(-time.Hour)
				p.MinimumAmount = decimal.NewFromInt(500)
				p.LoyaltyRequired = true
			},
			req:         &ValidationRequest{Order: orderOf(10)},
			wantReasons: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePromotion()
			tt.mutate(p)

			got := EvaluateEligibility(p, tt.req, tt.user, evalNow)

			if tt.wantOK {
				assert.True(t, got.Eligible, "reasons: %v", got.Reasons)
				assert.Empty(t, got.Reasons)
				return
			}
			assert.False(t, got.Eligible)
			assert.Len(t, got.Reasons, tt.wantReasons)
		})
	}
}

func TestDistanceKm(t *testing.T) {
	lisbon := Point{Lat: 38.7223, Lon: -9.1393}
	porto := Point{Lat: 41.1579, Lon: -8.6291}

	d := distanceKm(lisbon, porto)
	assert.InDelta(t, 274, d, 10, "Lisbon-Porto is roughly 274 km")

	assert.Zero(t, distanceKm(lisbon, lisbon))
}
