package referral

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"refchain/core/events"
	"refchain/core/state"
	"refchain/native/bank"
	nativecommon "refchain/native/common"
	"refchain/native/referral/payout"
)

const asset = "REF"

type pipeline struct {
	*fixture
	signer   *ecdsa.PrivateKey
	treasury common.Address
	ledger   *bank.Ledger
}

func newPipeline(t *testing.T, fund string) *pipeline {
	t.Helper()
	f := newFixture(t)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)
	require.NoError(t, admin.Authorize(SetRewardSigners, ethcrypto.PubkeyToAddress(key.PublicKey)))

	p := &pipeline{fixture: f, signer: key, treasury: common.HexToAddress("0x7ea5"), ledger: bank.NewLedger(common.HexToAddress("0x7ea5"))}
	amount, err := payout.ParseTokenAmount(fund)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(func(m *state.Manager) error {
		_, err := p.ledger.Fund(m, amount, asset)
		return err
	}))
	return p
}

func (p *pipeline) signerAddr() common.Address {
	return ethcrypto.PubkeyToAddress(p.signer.PublicKey)
}

func (p *pipeline) request(t *testing.T, user common.Address, amount string, nonce uint64) RewardRequest {
	t.Helper()
	v, err := payout.ParseTokenAmount(amount)
	require.NoError(t, err)
	return RewardRequest{
		User:      user,
		Amount:    v,
		ValueType: "ref",
		Group:     p.group,
		EventID:   "purchase-1",
		Timestamp: 1_700_000_000,
		Nonce:     nonce,
	}
}

func (p *pipeline) sign(t *testing.T, req RewardRequest) []byte {
	t.Helper()
	sig, err := req.Sign(p.signer)
	require.NoError(t, err)
	return sig
}

func (p *pipeline) balance(t *testing.T, who common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	require.NoError(t, p.store.View(func(m *state.Manager) error {
		bal, err := bank.Balance(m, who, asset)
		if err != nil {
			return err
		}
		out, _ = uint256.FromBig(bal)
		return nil
	}))
	return out
}

func tokens(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := payout.ParseTokenAmount(s)
	require.NoError(t, err)
	return v
}

func TestDistributeScenarioA(t *testing.T) {
	p := newPipeline(t, "5000")
	p.chain(t, 10, 11, 12, 13, 14, 15)
	d := NewDistributor(p.reg, p.ledger, WithMaxHops(5))

	req := p.request(t, addr(15), "1000", 1)
	receipt, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
	require.Equal(t, p.signerAddr(), receipt.Signer)

	want := map[common.Address]string{
		addr(15):       "800",
		addr(14):       "140",
		addr(13):       "42",
		addr(12):       "12.6",
		addr(11):       "3.78",
		addr(10):       "1.134",
		p.signerAddr(): "0.486",
	}
	require.Len(t, receipt.Transfers, len(want))
	total := new(uint256.Int)
	for _, tr := range receipt.Transfers {
		require.Equal(t, tokens(t, want[tr.Recipient]).Dec(), tr.Amount.Dec(), "recipient %s", tr.Recipient.Hex())
		require.Equal(t, tr.Amount.Dec(), p.balance(t, tr.Recipient).Dec())
		total.Add(total, tr.Amount)
	}
	require.Equal(t, tokens(t, "1000").Dec(), total.Dec())
	require.Equal(t, tokens(t, "4000").Dec(), p.balance(t, p.treasury).Dec())

	hash, err := req.Hash()
	require.NoError(t, err)
	require.Equal(t, hash, receipt.RequestHash)
	done, err := d.IsDistributed(hash)
	require.NoError(t, err)
	require.True(t, done)

	earned, err := p.reg.RewardsEarned(addr(14), "ref")
	require.NoError(t, err)
	require.Equal(t, tokens(t, "140").Dec(), earned.Dec())

	audits := p.events.ofType(events.TypeReferralRewardDistributed)
	require.Len(t, audits, 1)
	audit := audits[0].(events.ReferralRewardDistributed)
	require.Equal(t, addr(15), audit.User)
	require.Equal(t, "REF", audit.ValueType)
	require.Equal(t, "purchase-1", audit.EventID)
	require.Len(t, audit.Recipients, 7)
	require.Len(t, p.events.ofType(events.TypeTransfer), 7)
}

func TestDistributeRedistributesSentinelShare(t *testing.T) {
	p := newPipeline(t, "1")
	admin, err := p.reg.Admin(p.authority)
	require.NoError(t, err)
	require.NoError(t, admin.ApplyConfig(payout.Config{
		Kind:             payout.DecayExponential,
		Factor:           uint256.NewInt(5000),
		MinReward:        uint256.NewInt(10),
		OriginalShareBps: 5000,
	}))
	p.register(t, addr(1), SentinelRoot)
	d := NewDistributor(p.reg, p.ledger)

	req := p.request(t, addr(1), "0", 1)
	req.Amount = uint256.NewInt(1000)
	receipt, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
	require.Len(t, receipt.Chain, 2)
	require.True(t, receipt.Chain[1].Sentinel)
	require.Equal(t, uint64(250), receipt.Redistributed.Uint64())
	require.Equal(t, []Transfer{
		{Recipient: addr(1), Amount: uint256.NewInt(750)},
		{Recipient: p.signerAddr(), Amount: uint256.NewInt(250)},
	}, receipt.Transfers)
}

func TestDistributeReplayRejected(t *testing.T) {
	p := newPipeline(t, "100")
	p.chain(t, 1, 2)
	d := NewDistributor(p.reg, p.ledger)

	req := p.request(t, addr(2), "10", 7)
	_, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
	treasury := p.balance(t, p.treasury)

	_, err = d.Distribute(context.Background(), req, p.sign(t, req))
	require.ErrorIs(t, err, ErrAlreadyDistributed)

	// A fresh signature from another authorised signer does not help.
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	admin, err := p.reg.Admin(p.authority)
	require.NoError(t, err)
	require.NoError(t, admin.Authorize(SetRewardSigners, ethcrypto.PubkeyToAddress(other.PublicKey)))
	sig, err := req.Sign(other)
	require.NoError(t, err)
	_, err = d.Distribute(context.Background(), req, sig)
	require.ErrorIs(t, err, ErrAlreadyDistributed)

	// Cosmetic value-type variants hash identically.
	req.ValueType = "  REF "
	_, err = d.Distribute(context.Background(), req, p.sign(t, req))
	require.ErrorIs(t, err, ErrAlreadyDistributed)

	require.Equal(t, treasury.Dec(), p.balance(t, p.treasury).Dec())

	req.Nonce = 8
	_, err = d.Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
}

func TestDistributeRejectsUnauthorisedSigner(t *testing.T) {
	p := newPipeline(t, "100")
	p.register(t, addr(1), SentinelRoot)
	d := NewDistributor(p.reg, p.ledger)

	rogue, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	req := p.request(t, addr(1), "10", 1)
	sig, err := req.Sign(rogue)
	require.NoError(t, err)

	_, err = d.Distribute(context.Background(), req, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)

	hash, err := req.Hash()
	require.NoError(t, err)
	done, err := d.IsDistributed(hash)
	require.NoError(t, err)
	require.False(t, done)
	require.Empty(t, p.events.ofType(events.TypeReferralRewardDistributed))
}

func TestDistributeRejectsMalformedInput(t *testing.T) {
	p := newPipeline(t, "100")
	p.register(t, addr(1), SentinelRoot)
	d := NewDistributor(p.reg, p.ledger)
	ctx := context.Background()

	zero := p.request(t, addr(1), "0", 1)
	_, err := d.Distribute(ctx, zero, p.sign(t, zero))
	require.ErrorIs(t, err, ErrZeroAmount)

	noUser := p.request(t, common.Address{}, "1", 1)
	_, err = d.Distribute(ctx, noUser, p.sign(t, noUser))
	require.ErrorIs(t, err, ErrInvalidIdentity)

	req := p.request(t, addr(1), "1", 1)
	_, err = d.Distribute(ctx, req, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidSignature)

	bad := p.sign(t, req)
	bad[64] = 5
	_, err = d.Distribute(ctx, req, bad)
	require.ErrorIs(t, err, ErrInvalidSignature)

	req.ValueType = " "
	_, err = d.Distribute(ctx, req, p.sign(t, req))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDistributeAcceptsLegacyRecoveryID(t *testing.T) {
	p := newPipeline(t, "100")
	p.register(t, addr(1), SentinelRoot)
	d := NewDistributor(p.reg, p.ledger)

	req := p.request(t, addr(1), "1", 1)
	sig := p.sign(t, req)
	sig[64] += 27
	_, err := d.Distribute(context.Background(), req, sig)
	require.NoError(t, err)
}

func TestDistributeTransferFailureRollsBack(t *testing.T) {
	p := newPipeline(t, "100")
	p.chain(t, 1, 2, 3)
	before := len(p.events.got)

	calls := 0
	failing := LedgerFunc(func(st *state.Manager, ref [32]byte, to common.Address, amount *uint256.Int, valueType string) error {
		calls++
		if calls == 2 {
			return errors.New("ledger offline")
		}
		return p.ledger.Transfer(st, ref, to, amount, valueType)
	})
	d := NewDistributor(p.reg, failing)
	req := p.request(t, addr(3), "10", 1)
	_, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.ErrorIs(t, err, ErrTransferFailed)

	require.Equal(t, tokens(t, "100").Dec(), p.balance(t, p.treasury).Dec())
	require.True(t, p.balance(t, addr(3)).IsZero())
	require.Len(t, p.events.got, before)
	hash, err := req.Hash()
	require.NoError(t, err)
	done, err := d.IsDistributed(hash)
	require.NoError(t, err)
	require.False(t, done)

	// The same request can be resubmitted once the ledger recovers.
	_, err = NewDistributor(p.reg, p.ledger).Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
}

func TestDistributeInsufficientTreasury(t *testing.T) {
	p := newPipeline(t, "1")
	p.register(t, addr(1), SentinelRoot)
	d := NewDistributor(p.reg, p.ledger)
	req := p.request(t, addr(1), "2", 1)
	_, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)
}

func TestDistributePaused(t *testing.T) {
	p := newPipeline(t, "100")
	p.register(t, addr(1), SentinelRoot)
	admin, err := p.reg.Admin(p.authority)
	require.NoError(t, err)
	require.NoError(t, admin.SetPaused(true))

	d := NewDistributor(p.reg, p.ledger)
	req := p.request(t, addr(1), "1", 1)
	_, err = d.Distribute(context.Background(), req, p.sign(t, req))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestDistributeUnregisteredUserKeepsOriginalShare(t *testing.T) {
	p := newPipeline(t, "100")
	d := NewDistributor(p.reg, p.ledger)
	req := p.request(t, addr(42), "10", 1)
	receipt, err := d.Distribute(context.Background(), req, p.sign(t, req))
	require.NoError(t, err)
	require.Equal(t, []Transfer{
		{Recipient: addr(42), Amount: tokens(t, "8")},
		{Recipient: p.signerAddr(), Amount: tokens(t, "2")},
	}, receipt.Transfers)
}

func TestAggregateMergesRepeatedRecipients(t *testing.T) {
	collector := addr(9)
	result := payout.Result{
		Payouts: []payout.Payout{
			{Participant: addr(1), Amount: uint256.NewInt(5)},
			{Participant: collector, Level: 1, Amount: uint256.NewInt(3)},
			{Participant: addr(2), Level: 2, Amount: new(uint256.Int)},
		},
		Dust: uint256.NewInt(2),
	}
	got := aggregate(result, collector)
	require.Equal(t, []Transfer{
		{Recipient: addr(1), Amount: uint256.NewInt(5)},
		{Recipient: collector, Amount: uint256.NewInt(5)},
	}, got)
}
