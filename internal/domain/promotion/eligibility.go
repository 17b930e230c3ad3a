package promotion

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Eligibility is the evaluator's verdict. Eligible is true iff every check
// passed; Reasons accumulates one human-readable string per violated check,
// suitable for direct display.
type Eligibility struct {
	Eligible bool
	Reasons  []string
}

// EvaluateEligibility runs every eligibility check against the promotion in
// a fixed order without short-circuiting, so all violated constraints are
// reported together. Absent constraints (no minimum amount, no usage limit,
// no geo targeting) are skipped; a missing user identity fails any check
// that needs one.
func EvaluateEligibility(p *Promotion, req *ValidationRequest, user UserContext, now time.Time) Eligibility {
	var reasons []string

	if !p.Active {
		reasons = append(reasons, "promotion is not active")
	}

	if now.Before(p.ValidFrom) {
		reasons = append(reasons, "promotion is not valid yet")
	} else if !now.Before(p.ValidUntil) {
		reasons = append(reasons, "promotion has expired")
	}

	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		reasons = append(reasons, "promotion usage limit has been reached")
	}

	if p.UsageLimitPerUser > 0 {
		switch {
		case !user.Known:
			reasons = append(reasons, "sign in to use this promotion")
		case user.Redemptions >= p.UsageLimitPerUser:
			reasons = append(reasons, "you have reached your usage limit for this promotion")
		}
	}

	if p.MinimumAmount.IsPositive() && req.Order.TotalAmount.LessThan(p.MinimumAmount) {
		reasons = append(reasons, fmt.Sprintf(
			"order total %s is below the %s minimum for this promotion",
			req.Order.TotalAmount.StringFixed(2), p.MinimumAmount.StringFixed(2)))
	}

	if r, ok := audienceViolation(p, user); !ok {
		reasons = append(reasons, r)
	}

	if r, ok := geoViolation(p.Geo, req.Location); !ok {
		reasons = append(reasons, r)
	}

	if r, ok := loyaltyViolation(p, user); !ok {
		reasons = append(reasons, r)
	}

	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}
}

// audienceViolation checks segment membership. Segment tags are supplied by
// the profile source; the evaluator only matches them.
func audienceViolation(p *Promotion, user UserContext) (string, bool) {
	if p.TargetAudience == "" || p.TargetAudience == AudienceAll {
		return "", true
	}
	if !user.Known || user.Profile == nil {
		return "sign in to use this promotion", false
	}

	segment := string(p.TargetAudience)
	if p.TargetAudience == AudienceCustom {
		segment = p.CustomSegment
	}
	if user.Profile.InSegment(segment) {
		return "", true
	}
	return fmt.Sprintf("promotion is limited to %s", describeAudience(p)), false
}

func describeAudience(p *Promotion) string {
	switch p.TargetAudience {
	case AudienceNewCustomers:
		return "new customers"
	case AudienceReturning:
		return "returning customers"
	case AudienceVIP:
		return "VIP customers"
	case AudienceLoyaltyMembers:
		return "loyalty members"
	case AudienceCustom:
		return "a specific customer group"
	default:
		return string(p.TargetAudience)
	}
}

// geoViolation checks the request location against the promotion's cities,
// zones, and radius. A configured constraint with an unknown location fails.
func geoViolation(geo *GeoTargeting, loc *Location) (string, bool) {
	if geo.Empty() {
		return "", true
	}
	const reason = "promotion is not available in your area"
	if loc == nil {
		return reason, false
	}

	for _, city := range geo.Cities {
		if strings.EqualFold(city, loc.City) {
			return "", true
		}
	}
	for _, zone := range geo.Zones {
		if strings.EqualFold(zone, loc.Zone) {
			return "", true
		}
	}
	if geo.Center != nil && geo.RadiusKm > 0 {
		if distanceKm(*geo.Center, Point{Lat: loc.Lat, Lon: loc.Lon}) <= geo.RadiusKm {
			return "", true
		}
	}
	return reason, false
}

func loyaltyViolation(p *Promotion, user UserContext) (string, bool) {
	if !p.LoyaltyRequired && p.LoyaltyTierRequired == "" {
		return "", true
	}
	if !user.Known || user.Profile == nil || !user.Profile.Active {
		return "promotion requires an active loyalty membership", false
	}
	if p.LoyaltyTierRequired != "" && !user.Profile.Tier.AtLeast(p.LoyaltyTierRequired) {
		return fmt.Sprintf("promotion requires %s tier or above", p.LoyaltyTierRequired), false
	}
	return "", true
}

const earthRadiusKm = 6371.0

// distanceKm returns the haversine great-circle distance between two points.
func distanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
