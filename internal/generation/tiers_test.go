package generation

import (
	"errors"
	"strings"
	"testing"

	"restyle/internal/domain"
)

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "empty defaults to standard", in: "", want: TierStandard},
		{name: "standard", in: "standard", want: TierStandard},
		{name: "premium", in: "premium", want: TierPremium},
		{name: "case insensitive", in: "Premium", want: TierPremium},
		{name: "whitespace trimmed", in: "  standard ", want: TierStandard},
		{name: "unknown", in: "ultra", wantErr: domain.ErrUnknownTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := ResolveTier(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveTier(%q): %v", tt.in, err)
			}
			if tier.Name != tt.want {
				t.Errorf("tier = %q, want %q", tier.Name, tt.want)
			}
		})
	}
}

func TestTierMultipliers(t *testing.T) {
	std, _ := ResolveTier(TierStandard)
	prem, _ := ResolveTier(TierPremium)
	if std.Multiplier != 1 {
		t.Errorf("standard multiplier = %d, want 1", std.Multiplier)
	}
	if prem.Multiplier != 2 {
		t.Errorf("premium multiplier = %d, want 2", prem.Multiplier)
	}
}

func TestFallbackTier(t *testing.T) {
	prem, _ := ResolveTier(TierPremium)
	fb, ok := FallbackTier(prem)
	if !ok {
		t.Fatal("premium should fall back")
	}
	if fb.Name != TierStandard {
		t.Errorf("fallback = %q, want %q", fb.Name, TierStandard)
	}

	std, _ := ResolveTier(TierStandard)
	if _, ok := FallbackTier(std); ok {
		t.Error("standard should have no fallback")
	}
}

func TestBuildVariationPrompt(t *testing.T) {
	p1 := BuildVariationPrompt("watercolor poster", 1)
	p2 := BuildVariationPrompt("watercolor poster", 2)

	if !strings.Contains(p1, "watercolor poster") {
		t.Error("prompt does not carry the instruction")
	}
	if p1 == p2 {
		t.Error("ordinals 1 and 2 produced identical prompts")
	}

	// Ordinals past the hint table still get a distinct variation line.
	p9 := BuildVariationPrompt("watercolor poster", 9)
	if !strings.Contains(p9, "variation 9") {
		t.Errorf("prompt for ordinal 9 missing generic hint: %q", p9)
	}
}
