package referral

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"refchain/core/events"
	"refchain/core/state"
	"refchain/native/referral/payout"
	"refchain/storage"
)

func TestAuthorityBootstrap(t *testing.T) {
	reg := NewRegistry(state.NewStore(storage.NewMemDB()))
	_, err := reg.Admin(addr(1))
	require.ErrorIs(t, err, ErrAuthorityNotSet)

	require.ErrorIs(t, reg.InitAuthority(common.Address{}), ErrInvalidIdentity)
	require.NoError(t, reg.InitAuthority(addr(1)))
	require.ErrorIs(t, reg.InitAuthority(addr(2)), ErrAuthorityAlreadySet)

	current, ok, err := reg.Authority()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr(1), current)

	_, err = reg.Admin(addr(2))
	require.ErrorIs(t, err, ErrUnauthorizedAdministrator)
}

func TestAuthorizationSetsAreIndependent(t *testing.T) {
	f := newFixture(t)
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)

	signer := addr(0x51)
	require.NoError(t, admin.Authorize(SetRewardSigners, signer))
	require.NoError(t, admin.Authorize(SetRewardSigners, addr(0x52)))

	ok, err := f.reg.IsAuthorized(SetRewardSigners, signer)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.reg.IsAuthorized(SetRegistrars, signer)
	require.NoError(t, err)
	require.False(t, ok)

	list, err := f.reg.ListAuthorized(SetRewardSigners)
	require.NoError(t, err)
	require.Equal(t, []common.Address{signer, addr(0x52)}, list)

	require.NoError(t, admin.Unauthorize(SetRewardSigners, signer))
	list, err = f.reg.ListAuthorized(SetRewardSigners)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(0x52)}, list)
	ok, err = f.reg.IsAuthorized(SetRewardSigners, signer)
	require.NoError(t, err)
	require.False(t, ok)

	changes := f.events.ofType(events.TypeReferralAuthorizationChanged)
	// Registrar bootstrap, two grants and one revocation.
	require.Len(t, changes, 4)
	last := changes[3].(events.ReferralAuthorizationChanged)
	require.False(t, last.Authorized)
	require.Equal(t, "reward_signers", last.Set)

	// Repeating a no-op change emits nothing.
	require.NoError(t, admin.Unauthorize(SetRewardSigners, signer))
	require.Len(t, f.events.ofType(events.TypeReferralAuthorizationChanged), 4)

	require.ErrorIs(t, admin.Authorize(AuthSet(9), signer), ErrInvalidParameters)
	require.ErrorIs(t, admin.Authorize(SetRegistrars, common.Address{}), ErrInvalidIdentity)
}

func TestDecayConfigurationUpdates(t *testing.T) {
	f := newFixture(t)
	cfg, err := f.reg.DecayConfig()
	require.NoError(t, err)
	require.Equal(t, payout.DefaultConfig(), cfg)

	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)
	require.NoError(t, admin.SetDecayConfig(payout.DecayLinear, uint256.NewInt(2500), uint256.NewInt(7)))
	require.NoError(t, admin.SetOriginalShare(6000))

	cfg, err = f.reg.DecayConfig()
	require.NoError(t, err)
	require.Equal(t, payout.DecayLinear, cfg.Kind)
	require.Equal(t, uint64(2500), cfg.Factor.Uint64())
	require.Equal(t, uint64(7), cfg.MinReward.Uint64())
	share, err := f.reg.OriginalShare()
	require.NoError(t, err)
	require.Equal(t, uint32(6000), share)

	require.ErrorIs(t, admin.SetDecayConfig(payout.DecayExponential, uint256.NewInt(10_001), uint256.NewInt(0)), ErrInvalidParameters)
	require.ErrorIs(t, admin.SetOriginalShare(10_001), ErrInvalidParameters)
	require.ErrorIs(t, admin.SetDecayConfig(payout.DecayUnknown, uint256.NewInt(1), nil), ErrInvalidParameters)

	preset, ok := payout.LookupPreset("aggressive")
	require.True(t, ok)
	require.NoError(t, admin.ApplyConfig(preset.Config))
	cfg, err = f.reg.DecayConfig()
	require.NoError(t, err)
	require.Equal(t, preset.Config.OriginalShareBps, cfg.OriginalShareBps)
	require.Equal(t, preset.Config.MinReward.Dec(), cfg.MinReward.Dec())

	require.Len(t, f.events.ofType(events.TypeReferralDecayUpdated), 2)
	require.Len(t, f.events.ofType(events.TypeReferralShareUpdated), 2)
}

func TestTransferAuthorityRevokesOldCapability(t *testing.T) {
	f := newFixture(t)
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)
	next := addr(0xee)

	require.NoError(t, admin.TransferAuthority(next))
	require.ErrorIs(t, admin.SetOriginalShare(5000), ErrUnauthorizedAdministrator)
	_, err = f.reg.Admin(f.authority)
	require.ErrorIs(t, err, ErrUnauthorizedAdministrator)

	successor, err := f.reg.Admin(next)
	require.NoError(t, err)
	require.NoError(t, successor.SetOriginalShare(5000))

	transfers := f.events.ofType(events.TypeReferralAuthorityTransferred)
	require.Len(t, transfers, 2)
	moved := transfers[1].(events.ReferralAuthorityTransferred)
	require.Equal(t, f.authority, moved.Previous)
	require.Equal(t, next, moved.Next)
}

func TestParseAuthSet(t *testing.T) {
	set, err := ParseAuthSet(" Registrars ")
	require.NoError(t, err)
	require.Equal(t, SetRegistrars, set)
	set, err = ParseAuthSet("reward-signers")
	require.NoError(t, err)
	require.Equal(t, SetRewardSigners, set)
	_, err = ParseAuthSet("admins")
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestAdminExecRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = admin.Exec(func(m *state.Manager) error {
		require.NoError(t, m.KVPut([]byte("scratch"), uint64(1)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, f.store.View(func(m *state.Manager) error {
		ok, err := m.KVHas([]byte("scratch"))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	require.NoError(t, admin.TransferAuthority(addr(0xee)))
	require.ErrorIs(t, admin.Exec(func(*state.Manager) error { return nil }), ErrUnauthorizedAdministrator)
}
