package loyalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierOrdering(t *testing.T) {
	ordered := []Tier{TierNone, TierBronze, TierSilver, TierGold, TierPlatinum}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Rank(), ordered[i-1].Rank(),
			"%s should rank above %s", ordered[i], ordered[i-1])
	}
}

func TestTierAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		have     Tier
		required Tier
		want     bool
	}{
		{"gold meets silver", TierGold, TierSilver, true},
		{"gold meets gold", TierGold, TierGold, true},
		{"bronze does not meet platinum", TierBronze, TierPlatinum, false},
		{"any tier meets no requirement", TierBronze, TierNone, true},
		{"no tier fails bronze", TierNone, TierBronze, false},
		{"unknown tier ranks as none", Tier("diamond"), TierBronze, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.have.AtLeast(tt.required))
		})
	}
}

func TestProfileInSegment(t *testing.T) {
	p := &Profile{
		UserID:   "u1",
		Segments: []string{"vip", "returning_customers"},
	}

	assert.True(t, p.InSegment("vip"))
	assert.True(t, p.InSegment("returning_customers"))
	assert.False(t, p.InSegment("new_customers"))
	assert.False(t, (&Profile{}).InSegment("vip"))
}
