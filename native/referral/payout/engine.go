package payout

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Slot is one position of a reward chain. Slot 0 is the triggering
// participant; later slots are ancestors nearest-first. A Sentinel slot marks
// that the walk reached the root of the group and is always last.
type Slot struct {
	Participant common.Address
	Sentinel    bool
}

// Payout is the amount assigned to one chain member. Level 0 is the
// triggering participant.
type Payout struct {
	Participant common.Address
	Level       int
	Amount      *uint256.Int
}

// Result is the outcome of Compute. Payouts is index-aligned with the
// non-sentinel slots of the chain and may contain zero amounts for members the
// pool never reached. Dust is owed to the dust collector. Redistributed is the
// sentinel amount that was spread back over the recipients.
type Result struct {
	Payouts       []Payout
	Dust          *uint256.Int
	Redistributed *uint256.Int
}

// Assigned returns the sum of all chain payouts.
func (r Result) Assigned() *uint256.Int {
	sum := new(uint256.Int)
	for _, p := range r.Payouts {
		if p.Amount != nil {
			sum.Add(sum, p.Amount)
		}
	}
	return sum
}

// Total returns the sum of all chain payouts and dust.
func (r Result) Total() *uint256.Int {
	sum := r.Assigned()
	if r.Dust != nil {
		sum.Add(sum, r.Dust)
	}
	return sum
}

// Compute splits total across chain following cfg. It is deterministic and
// has no side effects. Every unit of total ends up either in a payout or in
// Dust.
func Compute(total *uint256.Int, chain []Slot, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if err := validateChain(chain); err != nil {
		return Result{}, err
	}
	cfg = cfg.Clone()
	amount := cloneOrZero(total)
	floor := cfg.MinReward

	payouts := make([]Payout, 0, len(chain))
	original := mulBps(amount, uint64(cfg.OriginalShareBps))
	payouts = append(payouts, Payout{Participant: chain[0].Participant, Level: 0, Amount: original})
	pool := new(uint256.Int).Sub(amount, original)

	sentinel := new(uint256.Int)
	walking := true
	for i := 1; i < len(chain); i++ {
		slot := chain[i]
		level := new(uint256.Int)
		if walking {
			level, walking = levelReward(pool, cfg)
		}
		if slot.Sentinel {
			sentinel = level
			pool.Sub(pool, level)
			break
		}
		pool.Sub(pool, level)
		payouts = append(payouts, Payout{Participant: slot.Participant, Level: i, Amount: level})
	}

	result := Result{Payouts: payouts, Dust: pool, Redistributed: new(uint256.Int)}
	if sentinel.IsZero() {
		return result, nil
	}
	// levelReward promotes nonzero levels to the floor, so this arm only
	// fires for redistribution failures; the floor check is kept as a guard.
	if sentinel.Lt(floor) || !redistribute(result.Payouts, sentinel) {
		result.Dust.Add(result.Dust, sentinel)
		return result, nil
	}
	result.Redistributed = sentinel
	return result, nil
}

// levelReward returns the reward for the next level and whether the walk may
// continue past it.
func levelReward(pool *uint256.Int, cfg Config) (*uint256.Int, bool) {
	floor := cfg.MinReward
	if pool.IsZero() || pool.Lt(floor) {
		return new(uint256.Int), false
	}
	var level *uint256.Int
	switch cfg.Kind {
	case DecayFixed:
		level = new(uint256.Int).Set(cfg.Factor)
		if level.Gt(pool) {
			level.Set(pool)
		}
	default:
		level = mulBps(pool, cfg.Factor.Uint64())
	}
	if level.Lt(floor) {
		// pool >= floor here, so the floor is always affordable.
		level.Set(floor)
	}
	if level.IsZero() {
		return level, false
	}
	return level, true
}

// redistribute spreads amount over payouts proportionally to their current
// amounts. The floor-division remainder goes to the largest recipient (lowest
// index on ties). It reports false when there is no recipient to weight by.
func redistribute(payouts []Payout, amount *uint256.Int) bool {
	weight := new(uint256.Int)
	largest := -1
	for i, p := range payouts {
		if p.Amount.IsZero() {
			continue
		}
		weight.Add(weight, p.Amount)
		if largest < 0 || p.Amount.Gt(payouts[largest].Amount) {
			largest = i
		}
	}
	if largest < 0 {
		return false
	}
	shares := make([]*uint256.Int, len(payouts))
	spent := new(uint256.Int)
	for i, p := range payouts {
		if p.Amount.IsZero() {
			continue
		}
		share, _ := new(uint256.Int).MulDivOverflow(amount, p.Amount, weight)
		shares[i] = share
		spent.Add(spent, share)
	}
	remainder := new(uint256.Int).Sub(amount, spent)
	for i, share := range shares {
		if share == nil {
			continue
		}
		payouts[i].Amount = new(uint256.Int).Add(payouts[i].Amount, share)
	}
	payouts[largest].Amount.Add(payouts[largest].Amount, remainder)
	return true
}

func mulBps(amount *uint256.Int, bps uint64) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), bpsDenominator)
	return out
}

func validateChain(chain []Slot) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidChain)
	}
	if chain[0].Sentinel {
		return fmt.Errorf("%w: chain must start with a participant", ErrInvalidChain)
	}
	for i, slot := range chain {
		if slot.Sentinel && i != len(chain)-1 {
			return fmt.Errorf("%w: sentinel at position %d is not terminal", ErrInvalidChain, i)
		}
	}
	return nil
}
