package generation

import (
	"strings"

	"restyle/internal/domain"
)

// Tier is a named capability level of the generation provider. The multiplier
// is the integer credit cost per unit, so refunds stay exact; a future
// fractional delta floors.
type Tier struct {
	Name       string
	Model      string
	Multiplier int
	// Fallback names the tier substituted when this one is unavailable.
	// Empty means there is nowhere left to fall back to.
	Fallback string
}

const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

var tiers = map[string]Tier{
	TierStandard: {
		Name:       TierStandard,
		Model:      "gemini-2.5-flash-image",
		Multiplier: 1,
	},
	TierPremium: {
		Name:       TierPremium,
		Model:      "gemini-2.5-pro-image",
		Multiplier: 2,
		Fallback:   TierStandard,
	},
}

// DefaultTier is used when a submission does not name a tier.
func DefaultTier() Tier {
	return tiers[TierStandard]
}

// ResolveTier looks up a tier by name. An empty name resolves to the default.
func ResolveTier(name string) (Tier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultTier(), nil
	}
	t, ok := tiers[name]
	if !ok {
		return Tier{}, domain.ErrUnknownTier
	}
	return t, nil
}

// FallbackTier returns the substitute for t, false when none is configured.
func FallbackTier(t Tier) (Tier, bool) {
	if t.Fallback == "" {
		return Tier{}, false
	}
	fb, ok := tiers[t.Fallback]
	return fb, ok
}
