package payout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator defines the scaling factor used for basis point math.
	BpsDenominator = 10_000
)

var (
	// ErrInvalidParameters indicates an out-of-range factor, share or floor.
	ErrInvalidParameters = errors.New("payout: invalid parameters")
	// ErrInvalidChain indicates a malformed chain (empty, sentinel origin, or a
	// sentinel that is not the last element).
	ErrInvalidChain = errors.New("payout: invalid chain")

	// MaxMinReward bounds the minimum reward floor (one million whole units at
	// 18 decimals).
	MaxMinReward = new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	// MaxFixedReward bounds the per-level amount of FIXED decay.
	MaxFixedReward = new(uint256.Int).Set(MaxMinReward)

	bpsDenominator = uint256.NewInt(BpsDenominator)
)

// DecayKind selects how each level's reward is derived from the remaining pool.
type DecayKind uint8

const (
	DecayUnknown DecayKind = iota
	// DecayLinear takes Factor basis points of the remaining pool per level.
	DecayLinear
	// DecayExponential takes Factor basis points of the remaining pool per
	// level.
	DecayExponential
	// DecayFixed pays min(Factor, remaining pool) per level.
	DecayFixed
)

func (k DecayKind) String() string {
	switch k {
	case DecayLinear:
		return "linear"
	case DecayExponential:
		return "exponential"
	case DecayFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// UsesBps reports whether Factor is expressed in basis points.
func (k DecayKind) UsesBps() bool {
	return k == DecayLinear || k == DecayExponential
}

// ParseDecayKind maps the textual form back to a DecayKind.
func ParseDecayKind(s string) (DecayKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return DecayLinear, nil
	case "exponential", "exp":
		return DecayExponential, nil
	case "fixed":
		return DecayFixed, nil
	default:
		return DecayUnknown, fmt.Errorf("%w: unknown decay kind %q", ErrInvalidParameters, s)
	}
}

// Config is an immutable snapshot of the payout-shape parameters. Callers
// obtain it from the configuration store and pass it by value into Compute.
type Config struct {
	Kind             DecayKind
	Factor           *uint256.Int
	MinReward        *uint256.Int
	OriginalShareBps uint32
}

// Clone produces a deep copy of the configuration.
func (c Config) Clone() Config {
	clone := Config{Kind: c.Kind, OriginalShareBps: c.OriginalShareBps}
	clone.Factor = cloneOrZero(c.Factor)
	clone.MinReward = cloneOrZero(c.MinReward)
	return clone
}

// Validate performs static validation of the configuration.
func (c Config) Validate() error {
	if err := c.ValidateDecay(); err != nil {
		return err
	}
	return ValidateShare(c.OriginalShareBps)
}

// ValidateDecay validates the decay parameters only.
func (c Config) ValidateDecay() error {
	factor := cloneOrZero(c.Factor)
	switch {
	case c.Kind.UsesBps():
		if factor.GtUint64(BpsDenominator) {
			return fmt.Errorf("%w: decay factor %s exceeds %d bps", ErrInvalidParameters, factor.Dec(), BpsDenominator)
		}
	case c.Kind == DecayFixed:
		if factor.Gt(MaxFixedReward) {
			return fmt.Errorf("%w: fixed decay amount %s exceeds %s", ErrInvalidParameters, factor.Dec(), MaxFixedReward.Dec())
		}
	default:
		return fmt.Errorf("%w: decay kind required", ErrInvalidParameters)
	}
	if floor := cloneOrZero(c.MinReward); floor.Gt(MaxMinReward) {
		return fmt.Errorf("%w: minimum reward %s exceeds %s", ErrInvalidParameters, floor.Dec(), MaxMinReward.Dec())
	}
	return nil
}

// ValidateShare validates an original-participant share.
func ValidateShare(bps uint32) error {
	if bps > BpsDenominator {
		return fmt.Errorf("%w: original share %d exceeds %d bps", ErrInvalidParameters, bps, BpsDenominator)
	}
	return nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
