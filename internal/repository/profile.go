package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/universal-eats/promo-engine/internal/domain/loyalty"
)

const (
	getProfileSQL = `SELECT user_id, loyalty_active, loyalty_tier, loyalty_points, segments
		FROM user_profiles WHERE user_id = $1`

	upsertProfileSQL = `INSERT INTO user_profiles (user_id, loyalty_active, loyalty_tier, loyalty_points, segments)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			loyalty_active = EXCLUDED.loyalty_active,
			loyalty_tier = EXCLUDED.loyalty_tier,
			loyalty_points = EXCLUDED.loyalty_points,
			segments = EXCLUDED.segments,
			updated_at = now()`
)

var _ loyalty.Source = (*ProfileRepository)(nil)

// ProfileRepository provides loyalty profile lookups backed by PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Profile fetches a user's loyalty profile. Returns
// loyalty.ErrProfileNotFound for unknown users.
func (r *ProfileRepository) Profile(ctx context.Context, userID string) (*loyalty.Profile, error) {
	var (
		p    loyalty.Profile
		tier string
	)
	err := r.pool.QueryRow(ctx, getProfileSQL, userID).Scan(
		&p.UserID, &p.Active, &tier, &p.Points, &p.Segments,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrProfileNotFound
		}
		return nil, fmt.Errorf("fetching profile %q: %w", userID, err)
	}
	p.Tier = loyalty.Tier(tier)
	return &p, nil
}

// Upsert stores or replaces a user's loyalty profile.
func (r *ProfileRepository) Upsert(ctx context.Context, p *loyalty.Profile) error {
	_, err := r.pool.Exec(ctx, upsertProfileSQL,
		p.UserID, p.Active, string(p.Tier), p.Points, p.Segments,
	)
	if err != nil {
		return fmt.Errorf("upserting profile %q: %w", p.UserID, err)
	}
	return nil
}
