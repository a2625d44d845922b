package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"refchain/crypto"
	"refchain/native/referral/payout"
)

// GenesisConfig seeds an empty store: the authority, both authorization sets,
// the payout configuration and the treasury.
type GenesisConfig struct {
	Authority        string          `yaml:"authority" toml:"authority"`
	Registrars       []string        `yaml:"registrars" toml:"registrars"`
	RewardSigners    []string        `yaml:"reward_signers" toml:"reward_signers"`
	Preset           string          `yaml:"preset" toml:"preset"`
	Decay            *DecaySection   `yaml:"decay" toml:"decay"`
	OriginalShareBps *uint32         `yaml:"original_share_bps" toml:"original_share_bps"`
	Treasury         string          `yaml:"treasury" toml:"treasury"`
	Funding          []FundingConfig `yaml:"funding" toml:"funding"`
}

// DecaySection overrides the decay shape. Amounts are token amounts with
// payout.TokenDecimals decimals; a bps factor is a plain integer.
type DecaySection struct {
	Kind      string `yaml:"kind" toml:"kind"`
	Factor    string `yaml:"factor" toml:"factor"`
	MinReward string `yaml:"min_reward" toml:"min_reward"`
}

// FundingConfig credits the treasury at bootstrap.
type FundingConfig struct {
	Asset  string `yaml:"asset" toml:"asset"`
	Amount string `yaml:"amount" toml:"amount"`
}

// Genesis is the resolved bootstrap state.
type Genesis struct {
	Authority     common.Address
	Registrars    []common.Address
	RewardSigners []common.Address
	Payout        payout.Config
	Treasury      common.Address
	Funding       []Funding
}

// Funding is one resolved treasury credit.
type Funding struct {
	Asset  string
	Amount *uint256.Int
}

// Enabled reports whether any bootstrap was configured.
func (g GenesisConfig) Enabled() bool {
	return strings.TrimSpace(g.Authority) != ""
}

// Resolve parses the section. A section without an authority resolves to the
// zero Genesis.
func (g GenesisConfig) Resolve() (Genesis, error) {
	out := Genesis{Payout: payout.DefaultConfig()}
	if !g.Enabled() {
		if len(g.Registrars) > 0 || len(g.RewardSigners) > 0 || len(g.Funding) > 0 {
			return out, fmt.Errorf("authority must be configured")
		}
		return out, nil
	}
	var err error
	if out.Authority, err = crypto.ParseIdentity(g.Authority); err != nil {
		return out, fmt.Errorf("authority: %w", err)
	}
	if out.Registrars, err = parseIdentities(g.Registrars); err != nil {
		return out, fmt.Errorf("registrars: %w", err)
	}
	if out.RewardSigners, err = parseIdentities(g.RewardSigners); err != nil {
		return out, fmt.Errorf("reward_signers: %w", err)
	}
	if preset := strings.TrimSpace(g.Preset); preset != "" {
		p, ok := payout.LookupPreset(preset)
		if !ok {
			return out, fmt.Errorf("unknown preset %q (known: %s)", preset, strings.Join(payout.PresetNames(), ", "))
		}
		out.Payout = p.Config
	}
	if g.Decay != nil {
		if err := g.Decay.apply(&out.Payout); err != nil {
			return out, fmt.Errorf("decay: %w", err)
		}
	}
	if g.OriginalShareBps != nil {
		out.Payout.OriginalShareBps = *g.OriginalShareBps
	}
	if err := out.Payout.Validate(); err != nil {
		return out, err
	}
	if strings.TrimSpace(g.Treasury) != "" {
		if out.Treasury, err = crypto.ParseIdentity(g.Treasury); err != nil {
			return out, fmt.Errorf("treasury: %w", err)
		}
	}
	for i, f := range g.Funding {
		if out.Treasury == (common.Address{}) {
			return out, fmt.Errorf("funding requires a treasury")
		}
		asset := strings.ToUpper(strings.TrimSpace(f.Asset))
		if asset == "" {
			return out, fmt.Errorf("funding[%d]: asset required", i)
		}
		amount, err := payout.ParseTokenAmount(f.Amount)
		if err != nil {
			return out, fmt.Errorf("funding[%d]: %w", i, err)
		}
		out.Funding = append(out.Funding, Funding{Asset: asset, Amount: amount})
	}
	return out, nil
}

func (d DecaySection) apply(cfg *payout.Config) error {
	kind, err := payout.ParseDecayKind(d.Kind)
	if err != nil {
		return err
	}
	cfg.Kind = kind
	if factor := strings.TrimSpace(d.Factor); factor != "" {
		var value *uint256.Int
		if kind.UsesBps() {
			value, err = uint256.FromDecimal(factor)
		} else {
			value, err = payout.ParseTokenAmount(factor)
		}
		if err != nil {
			return fmt.Errorf("factor %q: %w", factor, err)
		}
		cfg.Factor = value
	}
	if floor := strings.TrimSpace(d.MinReward); floor != "" {
		value, err := payout.ParseTokenAmount(floor)
		if err != nil {
			return fmt.Errorf("min_reward: %w", err)
		}
		cfg.MinReward = value
	}
	return nil
}

func parseIdentities(in []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		addr, err := crypto.ParseIdentity(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
