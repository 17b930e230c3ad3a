// Command seed-db prepares a database for local development: it runs
// migrations, loads promotions from a JSON file, seeds a few loyalty
// profiles, and registers an API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/universal-eats/promo-engine/internal/domain/auth"
	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
	"github.com/universal-eats/promo-engine/internal/domain/promotion"
	"github.com/universal-eats/promo-engine/internal/repository"
)

type promotionJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Type          string          `json:"type"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`

	MinimumAmount   decimal.Decimal `json:"minimum_amount"`
	MaximumDiscount decimal.Decimal `json:"maximum_discount"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	UsageLimit        int    `json:"usage_limit"`
	UsageLimitPerUser int    `json:"usage_limit_per_user"`
	Active            bool   `json:"active"`
	Stackable         bool   `json:"stackable"`
	TargetAudience    string `json:"target_audience"`
	CustomSegment     string `json:"custom_segment"`

	StackWithLoyalty   bool            `json:"stack_with_loyalty"`
	StackWithPromos    bool            `json:"stack_with_promotions"`
	MaxStackingPercent decimal.Decimal `json:"max_stacking_percent"`
	Priority           int             `json:"priority"`

	Geo      *promotion.GeoTargeting `json:"geo_targeting"`
	BuyXGetY *promotion.BuyXGetYRule `json:"buy_x_get_y"`

	LoyaltyRequired     bool   `json:"loyalty_required"`
	LoyaltyTierRequired string `json:"loyalty_tier_required"`

	Codes []string `json:"codes"`
}

func main() {
	var (
		databaseURL    string
		promotionsFile string
		apiKey         string
		apiKeyPepper   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&promotionsFile, "promotions-file", "db/seed/promotions.json", "path to promotions JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or EATS_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or EATS_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("EATS_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or EATS_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("EATS_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, promotionsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, promotionsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	promoRepo := repository.NewPromotionRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	if err := seedPromotions(ctx, promoRepo, promotionsFile); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedProfiles(ctx, profileRepo); err != nil {
		return errors.Wrap(err, "seed profiles")
	}
	if err := seedAPIKey(ctx, apikeyRepo, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository, path string) error {
	slog.Info("reading promotions file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read promotions file")
	}

	var promos []promotionJSON
	if err := json.Unmarshal(data, &promos); err != nil {
		return errors.Wrap(err, "parse promotions JSON")
	}

	slog.Info("inserting promotions", slog.Int("count", len(promos)))

	for _, pj := range promos {
		p := &promotion.Promotion{
			ID:                pj.ID,
			Name:              pj.Name,
			Description:       pj.Description,
			Type:              promotion.Type(pj.Type),
			DiscountType:      promotion.DiscountType(pj.DiscountType),
			DiscountValue:     pj.DiscountValue,
			MinimumAmount:     pj.MinimumAmount,
			MaximumDiscount:   pj.MaximumDiscount,
			ValidFrom:         pj.ValidFrom,
			ValidUntil:        pj.ValidUntil,
			UsageLimit:        pj.UsageLimit,
			UsageLimitPerUser: pj.UsageLimitPerUser,
			Active:            pj.Active,
			Stackable:         pj.Stackable,
			TargetAudience:    promotion.Audience(pj.TargetAudience),
			CustomSegment:     pj.CustomSegment,
			Stacking: promotion.StackingRules{
				CanStackWithLoyalty:    pj.StackWithLoyalty,
				CanStackWithPromotions: pj.StackWithPromos,
				MaxStackingPercent:     pj.MaxStackingPercent,
				Priority:               pj.Priority,
			},
			Geo:                 pj.Geo,
			BuyXGetY:            pj.BuyXGetY,
			LoyaltyRequired:     pj.LoyaltyRequired,
			LoyaltyTierRequired: loyalty.Tier(pj.LoyaltyTierRequired),
		}

		if err := repo.Create(ctx, p); err != nil {
			return errors.Wrapf(err, "create promotion %s", p.ID)
		}
		for _, code := range pj.Codes {
			err := repo.UpsertCode(ctx, &promotion.CouponCode{Code: code, PromotionID: p.ID})
			if err != nil {
				return errors.Wrapf(err, "upsert code %s", code)
			}
		}

		slog.Info("inserted promotion",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("codes", len(pj.Codes)),
		)
	}
	return nil
}

func seedProfiles(ctx context.Context, repo *repository.ProfileRepository) error {
	slog.Info("seeding loyalty profiles")

	profiles := []loyalty.Profile{
		{UserID: "demo-bronze", Active: true, Tier: loyalty.TierBronze, Points: 120},
		{UserID: "demo-gold", Active: true, Tier: loyalty.TierGold, Points: 4200, Segments: []string{"weekend_diners"}},
		{UserID: "demo-platinum", Active: true, Tier: loyalty.TierPlatinum, Points: 11800, Segments: []string{"weekend_diners", "big_spenders"}},
	}
	for i := range profiles {
		if err := repo.Upsert(ctx, &profiles[i]); err != nil {
			return errors.Wrapf(err, "upsert profile %s", profiles[i].UserID)
		}
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	hash := auth.HashKey([]byte(pepper), apiKey)
	if err := repo.Insert(ctx, hash, "Default dev key", []string{auth.ScopeAdmin}); err != nil {
		return errors.Wrap(err, "insert default API key")
	}

	slog.Info("inserted API key", slog.String("name", "Default dev key"))
	return nil
}
