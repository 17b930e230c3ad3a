// Package loyalty holds the read-only view of a customer's loyalty
// membership consumed by promotion eligibility checks.
package loyalty

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrProfileNotFound is returned when no profile exists for a user.
var ErrProfileNotFound = errors.New("loyalty profile not found")

// Tier is a loyalty membership level. Tiers are totally ordered:
// bronze < silver < gold < platinum.
type Tier string

const (
	TierNone     Tier = ""
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

var tierRanks = map[Tier]int{
	TierNone:     0,
	TierBronze:   1,
	TierSilver:   2,
	TierGold:     3,
	TierPlatinum: 4,
}

// Rank returns the tier's position in the ordering. Unknown tiers rank as
// TierNone.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// AtLeast reports whether t meets or exceeds the required tier.
func (t Tier) AtLeast(required Tier) bool {
	return t.Rank() >= required.Rank()
}

// Profile is a customer's loyalty membership and segment tags. Profiles are
// fetched fresh per validation call and never mutated by the pipeline.
type Profile struct {
	UserID   string
	Active   bool
	Tier     Tier
	Points   int
	Segments []string
}

// InSegment reports whether the profile carries the given segment tag.
func (p *Profile) InSegment(segment string) bool {
	for _, s := range p.Segments {
		if s == segment {
			return true
		}
	}
	return false
}

// Source provides loyalty profiles and segment membership for users.
type Source interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}
