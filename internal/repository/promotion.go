package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
	"github.com/universal-eats/promo-engine/internal/domain/promotion"
)

const promotionColumns = `p.id, p.name, p.description, p.promo_type, p.discount_type,
	p.discount_value, p.minimum_amount, p.maximum_discount,
	p.valid_from, p.valid_until,
	p.usage_limit, p.usage_count, p.usage_limit_per_user,
	p.active, p.stackable, p.target_audience, p.custom_segment,
	p.stack_with_loyalty, p.stack_with_promos, p.max_stacking_percent, p.priority,
	p.geo_cities, p.geo_zones, p.geo_center_lat, p.geo_center_lon, p.geo_radius_km,
	p.loyalty_required, p.loyalty_tier,
	p.buy_quantity, p.get_quantity, p.bxgy_product_ids, p.bxgy_categories`

const (
	findByCodeSQL = `SELECT c.code, c.promotion_id, c.usage_count, c.max_usage,
		c.valid_until, c.active, ` + promotionColumns + `
		FROM coupon_codes c
		JOIN promotions p ON p.id = c.promotion_id
		WHERE UPPER(c.code) = UPPER($1)`

	listAutomaticSQL = `SELECT ` + promotionColumns + `
		FROM promotions p
		WHERE p.active = TRUE
		  AND p.promo_type IN ('automatic', 'flash_sale', 'geo_targeted', 'loyalty_exclusive')
		ORDER BY p.priority, p.id`

	listPromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions p ORDER BY p.created_at DESC, p.id`

	insertPromotionSQL = `INSERT INTO promotions (
		id, name, description, promo_type, discount_type,
		discount_value, minimum_amount, maximum_discount,
		valid_from, valid_until,
		usage_limit, usage_limit_per_user,
		active, stackable, target_audience, custom_segment,
		stack_with_loyalty, stack_with_promos, max_stacking_percent, priority,
		geo_cities, geo_zones, geo_center_lat, geo_center_lon, geo_radius_km,
		loyalty_required, loyalty_tier,
		buy_quantity, get_quantity, bxgy_product_ids, bxgy_categories
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
		$29, $30, $31
	)`

	countUserRedemptionsSQL = `SELECT COUNT(*) FROM promotion_redemptions
		WHERE promotion_id = $1 AND user_id = $2`

	insertRedemptionSQL = `INSERT INTO promotion_redemptions
		(promotion_id, coupon_code, user_id, order_id)
		VALUES ($1, $2, $3, $4)`

	bumpPromotionUsageSQL = `UPDATE promotions SET usage_count = usage_count + 1,
		updated_at = now() WHERE id = $1`

	bumpCodeUsageSQL = `UPDATE coupon_codes SET usage_count = usage_count + 1
		WHERE code = $1`

	upsertCouponCodeSQL = `INSERT INTO coupon_codes (code, promotion_id, max_usage, valid_until, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (code) DO NOTHING`
)

var (
	_ promotion.Repository   = (*PromotionRepository)(nil)
	_ promotion.UsageTracker = (*PromotionRepository)(nil)
)

// PromotionRepository implements promotion.Repository and
// promotion.UsageTracker backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given
// pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode resolves a coupon code (case-insensitive) to its promotion.
// Returns promotion.ErrCodeNotFound when no such code exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, *promotion.CouponCode, error) {
	rows, err := r.pool.Query(ctx, findByCodeSQL, code)
	if err != nil {
		return nil, nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanCodeWithPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, promotion.ErrCodeNotFound
		}
		return nil, nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return rec.promo, rec.code, nil
}

// ListAutomatic returns every active promotion that applies without a
// user-entered code. Window and audience filtering is left to the
// eligibility evaluator so its reasons stay accurate.
func (r *PromotionRepository) ListAutomatic(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listAutomaticSQL)
	if err != nil {
		return nil, fmt.Errorf("listing automatic promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// List returns all promotions, newest first.
func (r *PromotionRepository) List(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Create persists a new promotion record.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	var (
		centerLat, centerLon *float64
		radiusKm             float64
	)
	cities, zones := []string{}, []string{}
	if p.Geo != nil {
		cities = append(cities, p.Geo.Cities...)
		zones = append(zones, p.Geo.Zones...)
		radiusKm = p.Geo.RadiusKm
		if p.Geo.Center != nil {
			centerLat = &p.Geo.Center.Lat
			centerLon = &p.Geo.Center.Lon
		}
	}

	var buyQty, getQty int
	bxgyProducts, bxgyCategories := []string{}, []string{}
	if p.BuyXGetY != nil {
		buyQty = p.BuyXGetY.BuyQuantity
		getQty = p.BuyXGetY.GetQuantity
		bxgyProducts = append(bxgyProducts, p.BuyXGetY.ProductIDs...)
		bxgyCategories = append(bxgyCategories, p.BuyXGetY.Categories...)
	}

	_, err := r.pool.Exec(ctx, insertPromotionSQL,
		p.ID, p.Name, p.Description, string(p.Type), string(p.DiscountType),
		p.DiscountValue, p.MinimumAmount, p.MaximumDiscount,
		p.ValidFrom, p.ValidUntil,
		p.UsageLimit, p.UsageLimitPerUser,
		p.Active, p.Stackable, string(p.TargetAudience), p.CustomSegment,
		p.Stacking.CanStackWithLoyalty, p.Stacking.CanStackWithPromotions,
		p.Stacking.MaxStackingPercent, p.Stacking.Priority,
		cities, zones, centerLat, centerLon, radiusKm,
		p.LoyaltyRequired, string(p.LoyaltyTierRequired),
		buyQty, getQty, bxgyProducts, bxgyCategories,
	)
	if err != nil {
		return fmt.Errorf("creating promotion %q: %w", p.ID, err)
	}
	return nil
}

// CountUserRedemptions returns how many times the user has redeemed the
// promotion.
func (r *PromotionRepository) CountUserRedemptions(ctx context.Context, promotionID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countUserRedemptionsSQL, promotionID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions for %q: %w", promotionID, err)
	}
	return n, nil
}

// RecordRedemption commits a redemption in one transaction: the redemption
// row plus the promotion's and code's usage counters. This is the external
// "apply" step; validation itself never writes.
func (r *PromotionRepository) RecordRedemption(ctx context.Context, promotionID, code, userID, orderID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning redemption tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var codeArg *string
	if code != "" {
		codeArg = &code
	}
	if _, err := tx.Exec(ctx, insertRedemptionSQL, promotionID, codeArg, userID, orderID); err != nil {
		return fmt.Errorf("inserting redemption: %w", err)
	}
	if _, err := tx.Exec(ctx, bumpPromotionUsageSQL, promotionID); err != nil {
		return fmt.Errorf("bumping promotion usage: %w", err)
	}
	if code != "" {
		if _, err := tx.Exec(ctx, bumpCodeUsageSQL, code); err != nil {
			return fmt.Errorf("bumping code usage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing redemption: %w", err)
	}
	return nil
}

// UpsertCode inserts a coupon code for a promotion, ignoring duplicates.
func (r *PromotionRepository) UpsertCode(ctx context.Context, c *promotion.CouponCode) error {
	_, err := r.pool.Exec(ctx, upsertCouponCodeSQL,
		c.Code, c.PromotionID, c.MaxUsage, c.ValidUntil, // active defaults true
	)
	if err != nil {
		return fmt.Errorf("upserting code %q: %w", c.Code, err)
	}
	return nil
}

type codeRecord struct {
	code  *promotion.CouponCode
	promo *promotion.Promotion
}

func scanCodeWithPromotion(row pgx.CollectableRow) (codeRecord, error) {
	var (
		c          promotion.CouponCode
		validUntil *time.Time
	)
	p, err := scanPromotionFields(row, []any{
		&c.Code, &c.PromotionID, &c.UsageCount, &c.MaxUsage, &validUntil, &c.Active,
	})
	if err != nil {
		return codeRecord{}, err
	}
	c.ValidUntil = validUntil
	return codeRecord{code: &c, promo: p}, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	p, err := scanPromotionFields(row, nil)
	if err != nil {
		return promotion.Promotion{}, err
	}
	return *p, nil
}

// scanPromotionFields scans the promotionColumns block, optionally prefixed
// by extra leading destinations.
func scanPromotionFields(row pgx.CollectableRow, prefix []any) (*promotion.Promotion, error) {
	var (
		p                    promotion.Promotion
		promoType            string
		discountType         string
		audience             string
		tier                 string
		stacking             promotion.StackingRules
		cities, zones        []string
		centerLat, centerLon *float64
		radiusKm             float64
		buyQty, getQty       int
		bxgyProducts         []string
		bxgyCategories       []string
	)

	dests := append(prefix,
		&p.ID, &p.Name, &p.Description, &promoType, &discountType,
		&p.DiscountValue, &p.MinimumAmount, &p.MaximumDiscount,
		&p.ValidFrom, &p.ValidUntil,
		&p.UsageLimit, &p.UsageCount, &p.UsageLimitPerUser,
		&p.Active, &p.Stackable, &audience, &p.CustomSegment,
		&stacking.CanStackWithLoyalty, &stacking.CanStackWithPromotions,
		&stacking.MaxStackingPercent, &stacking.Priority,
		&cities, &zones, &centerLat, &centerLon, &radiusKm,
		&p.LoyaltyRequired, &tier,
		&buyQty, &getQty, &bxgyProducts, &bxgyCategories,
	)
	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	p.Type = promotion.Type(promoType)
	p.DiscountType = promotion.DiscountType(discountType)
	p.TargetAudience = promotion.Audience(audience)
	p.LoyaltyTierRequired = loyalty.Tier(tier)
	p.Stacking = stacking

	if len(cities) > 0 || len(zones) > 0 || centerLat != nil {
		geo := &promotion.GeoTargeting{
			Cities:   cities,
			Zones:    zones,
			RadiusKm: radiusKm,
		}
		if centerLat != nil && centerLon != nil {
			geo.Center = &promotion.Point{Lat: *centerLat, Lon: *centerLon}
		}
		p.Geo = geo
	}

	if p.DiscountType == promotion.DiscountBuyXGetY && getQty > 0 {
		p.BuyXGetY = &promotion.BuyXGetYRule{
			BuyQuantity: buyQty,
			GetQuantity: getQty,
			ProductIDs:  bxgyProducts,
			Categories:  bxgyCategories,
		}
	}

	return &p, nil
}
