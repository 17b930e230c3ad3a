// Package promotion implements the coupon validation and discount-stacking
// pipeline: eligibility checks, discount computation, stacking resolution,
// and result assembly.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
)

// Sentinel errors surfaced by the pipeline and its repositories.
var (
	// ErrCodeNotFound is returned when a coupon code does not resolve to any
	// stored promotion.
	ErrCodeNotFound = errors.New("coupon code not found")
	// ErrMisconfigured is returned when a promotion record cannot be
	// evaluated (unknown discount type, negative value, missing rule data).
	ErrMisconfigured = errors.New("promotion misconfigured")
)

// Type enumerates how a promotion is triggered.
type Type string

const (
	TypeCode             Type = "code"
	TypeAutomatic        Type = "automatic"
	TypeFreeDelivery     Type = "free_delivery"
	TypeBuyXGetY         Type = "buy_x_get_y"
	TypeFlashSale        Type = "flash_sale"
	TypeGeoTargeted      Type = "geo_targeted"
	TypeLoyaltyExclusive Type = "loyalty_exclusive"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the order total, optionally
	// clamped by MaximumDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the order total.
	DiscountFixed DiscountType = "fixed_amount"
	// DiscountFreeDelivery waives the delivery fee. The pipeline does not
	// know the fee; it signals the caller via a flag instead.
	DiscountFreeDelivery DiscountType = "free_delivery"
	// DiscountBuyXGetY gives the cheapest qualifying units free once the
	// buy quantity is met.
	DiscountBuyXGetY DiscountType = "buy_x_get_y"
)

// Audience restricts a promotion to a customer segment.
type Audience string

const (
	AudienceAll            Audience = "all"
	AudienceNewCustomers   Audience = "new_customers"
	AudienceReturning      Audience = "returning_customers"
	AudienceVIP            Audience = "vip"
	AudienceLoyaltyMembers Audience = "loyalty_members"
	AudienceCustom         Audience = "custom"
)

// StackingRules controls how a promotion combines with other discounts.
type StackingRules struct {
	CanStackWithLoyalty    bool
	CanStackWithPromotions bool
	// MaxStackingPercent caps the cumulative stacked discount as a
	// percentage of the original order total. Zero means no cap.
	MaxStackingPercent decimal.Decimal
	// Priority ranks promotions during stacking; lower values win.
	Priority int
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoTargeting restricts a promotion to cities, delivery zones, or a radius
// around a zone center.
type GeoTargeting struct {
	Cities   []string `json:"cities,omitempty"`
	Zones    []string `json:"zones,omitempty"`
	Center   *Point   `json:"center,omitempty"`
	RadiusKm float64  `json:"radius_km,omitempty"`
}

// Empty reports whether no geographic constraint is configured.
func (g *GeoTargeting) Empty() bool {
	return g == nil || (len(g.Cities) == 0 && len(g.Zones) == 0 && g.Center == nil)
}

// BuyXGetYRule holds the quantities and item matching rules for
// buy-X-get-Y promotions. Empty ProductIDs and Categories mean every item
// qualifies.
type BuyXGetYRule struct {
	BuyQuantity int      `json:"buy_quantity"`
	GetQuantity int      `json:"get_quantity"`
	ProductIDs  []string `json:"product_ids,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// Promotion is a named, time-bounded discount offer. The validation
// pipeline never mutates it; usage counters are advanced by the redemption
// step, not by validation.
type Promotion struct {
	ID            string
	Name          string
	Description   string
	Type          Type
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	// MinimumAmount is the minimum order total; zero means no constraint.
	MinimumAmount decimal.Decimal
	// MaximumDiscount caps percentage discounts; zero means no ceiling.
	MaximumDiscount decimal.Decimal
	// Valid window is half-open: [ValidFrom, ValidUntil).
	ValidFrom  time.Time
	ValidUntil time.Time
	// UsageLimit caps global redemptions; zero means unlimited.
	UsageLimit int
	UsageCount int
	// UsageLimitPerUser caps redemptions per user; zero means unlimited.
	UsageLimitPerUser int
	Active            bool
	Stackable         bool
	TargetAudience    Audience
	// CustomSegment names the segment tag when TargetAudience is custom.
	CustomSegment string
	Stacking      StackingRules
	Geo           *GeoTargeting
	// LoyaltyRequired gates the promotion behind an active membership;
	// LoyaltyTierRequired additionally demands a minimum tier.
	LoyaltyRequired     bool
	LoyaltyTierRequired loyalty.Tier
	BuyXGetY            *BuyXGetYRule
}

// CouponCode is a redeemable code pointing at a Promotion. Many codes may
// reference one promotion (personalized codes).
type CouponCode struct {
	Code        string
	PromotionID string
	UsageCount  int
	// MaxUsage caps redemptions of this specific code; zero means unlimited.
	MaxUsage   int
	ValidUntil *time.Time
	Active     bool
}

// LineItem is one order line as seen by discount computation.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// OrderSnapshot is the order state a validation request is evaluated
// against.
type OrderSnapshot struct {
	StoreID     string          `json:"store_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []LineItem      `json:"items"`
}

// Location is the requester's resolved delivery location. A nil *Location
// means the location is unknown.
type Location struct {
	City string  `json:"city"`
	Zone string  `json:"zone"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// ValidationRequest is the ephemeral input to one validation call.
type ValidationRequest struct {
	Code      string
	UserID    string
	ClientIP  string
	UserAgent string
	Order     OrderSnapshot
	Location  *Location
}

// UserContext carries the per-user facts the eligibility checks need,
// fetched by the service before evaluation. Known is false when the request
// carried no user identity; identity-dependent checks then fail rather than
// skip.
type UserContext struct {
	Known bool
	// Profile is nil when the user has no loyalty profile on record.
	Profile *loyalty.Profile
	// Redemptions is how many times this user has redeemed the promotion
	// under evaluation.
	Redemptions int
}

// Repository provides promotion and coupon code lookups.
type Repository interface {
	// FindByCode resolves a coupon code to its promotion. Returns
	// ErrCodeNotFound when the code does not exist.
	FindByCode(ctx context.Context, code string) (*Promotion, *CouponCode, error)
	// ListAutomatic returns every active promotion that applies without a
	// user-entered code.
	ListAutomatic(ctx context.Context) ([]Promotion, error)
}

// UsageTracker counts per-user redemptions of a promotion.
type UsageTracker interface {
	CountUserRedemptions(ctx context.Context, promotionID, userID string) (int, error)
}
