package referral

import (
	"math/big"

	"github.com/holiman/uint256"

	"refchain/core/state"
	"refchain/native/referral/payout"
)

// decayRecord is the persisted decay configuration.
type decayRecord struct {
	Kind      uint8
	Factor    *big.Int
	MinReward *big.Int
}

type paramReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
}

// loadConfig assembles the live configuration snapshot. Unset records fall
// back to payout.DefaultConfig.
func loadConfig(st paramReader) (payout.Config, error) {
	cfg := payout.DefaultConfig()
	var rec decayRecord
	ok, err := st.KVGet(decayKey(), &rec)
	if err != nil {
		return payout.Config{}, err
	}
	if ok {
		cfg.Kind = payout.DecayKind(rec.Kind)
		cfg.Factor = fromBig(rec.Factor)
		cfg.MinReward = fromBig(rec.MinReward)
	}
	var share uint32
	ok, err = st.KVGet(shareKey(), &share)
	if err != nil {
		return payout.Config{}, err
	}
	if ok {
		cfg.OriginalShareBps = share
	}
	return cfg, nil
}

// DecayConfig returns a snapshot of the live payout configuration, including
// the original-participant share.
func (r *Registry) DecayConfig() (payout.Config, error) {
	var cfg payout.Config
	err := r.store.View(func(m *state.Manager) error {
		var err error
		cfg, err = loadConfig(m)
		return err
	})
	return cfg, err
}

// OriginalShare returns the live original-participant share in basis points.
func (r *Registry) OriginalShare() (uint32, error) {
	cfg, err := r.DecayConfig()
	if err != nil {
		return 0, err
	}
	return cfg.OriginalShareBps, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
