package payout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// TokenDecimals is the denomination assumed by the presets and by
// ParseTokenAmount.
const TokenDecimals = 18

// Preset names the economic profiles used when sizing a referral campaign.
type Preset struct {
	Name        string
	Description string
	Config      Config
}

var presets = map[string]Preset{
	"conservative": {
		Name:        "conservative",
		Description: "low engagement, steady growth; generous to the original participant",
		Config:      mustPreset(DecayExponential, 8000, "0.01", 8500),
	},
	"moderate": {
		Name:        "moderate",
		Description: "balanced growth",
		Config:      mustPreset(DecayExponential, 7000, "0.05", 8000),
	},
	"aggressive": {
		Name:        "aggressive",
		Description: "high growth; more of the pool flows up the chain",
		Config:      mustPreset(DecayExponential, 6000, "0.10", 7500),
	},
}

// DefaultConfig is exponential decay of 70% per level, a 0.01 token floor and
// an 80% original-participant share.
func DefaultConfig() Config {
	return mustPreset(DecayExponential, 7000, "0.01", 8000)
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, false
	}
	p.Config = p.Config.Clone()
	return p, true
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseTokenAmount converts a decimal token amount such as "0.05" into base
// units with TokenDecimals decimals.
func ParseTokenAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > TokenDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, TokenDecimals)
	}
	frac += strings.Repeat("0", TokenDecimals-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func mustPreset(kind DecayKind, factorBps uint64, floor string, shareBps uint32) Config {
	minReward, err := ParseTokenAmount(floor)
	if err != nil {
		panic(err)
	}
	return Config{
		Kind:             kind,
		Factor:           uint256.NewInt(factorBps),
		MinReward:        minReward,
		OriginalShareBps: shareBps,
	}
}
