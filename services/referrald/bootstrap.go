package referrald

import (
	"fmt"
	"log/slog"

	"refchain/config"
	"refchain/core/state"
	"refchain/native/bank"
	"refchain/native/referral"
)

// Bootstrap seeds a fresh state from genesis: authority, authorization sets,
// payout configuration and treasury funding. It does nothing when an
// authority is already recorded, so restarts keep the live configuration.
func Bootstrap(reg *referral.Registry, ledger *bank.Ledger, genesis config.Genesis, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	current, ok, err := reg.Authority()
	if err != nil {
		return fmt.Errorf("read authority: %w", err)
	}
	if ok {
		logger.Info("genesis skipped; authority already initialised", "authority", current.Hex())
		return nil
	}
	if err := reg.InitAuthority(genesis.Authority); err != nil {
		return fmt.Errorf("init authority: %w", err)
	}
	admin, err := reg.Admin(genesis.Authority)
	if err != nil {
		return err
	}
	for _, id := range genesis.Registrars {
		if err := admin.Authorize(referral.SetRegistrars, id); err != nil {
			return fmt.Errorf("authorize registrar %s: %w", id.Hex(), err)
		}
	}
	for _, id := range genesis.RewardSigners {
		if err := admin.Authorize(referral.SetRewardSigners, id); err != nil {
			return fmt.Errorf("authorize reward signer %s: %w", id.Hex(), err)
		}
	}
	if err := admin.ApplyConfig(genesis.Payout); err != nil {
		return fmt.Errorf("apply payout config: %w", err)
	}
	err = admin.Exec(func(m *state.Manager) error {
		for _, f := range genesis.Funding {
			if _, err := ledger.Fund(m, f.Amount, f.Asset); err != nil {
				return fmt.Errorf("fund %s: %w", f.Asset, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("genesis applied",
		"authority", genesis.Authority.Hex(),
		"registrars", len(genesis.Registrars),
		"reward_signers", len(genesis.RewardSigners),
		"treasury", ledger.Treasury().Hex())
	return nil
}
