package referral

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"refchain/core/events"
	"refchain/core/state"
	nativecommon "refchain/native/common"
	"refchain/native/referral/payout"
)

// MaxChainHops is the hard ceiling on ancestors fetched for one distribution.
const MaxChainHops = 64

// Ledger moves value on behalf of the pipeline. Transfer runs inside the
// pipeline's unit of work; st is the transactional state so ledgers that keep
// balances in state commit or roll back together with the distribution.
// Ledgers backed by something else may ignore it. Any error aborts the whole
// distribution.
type Ledger interface {
	Transfer(st *state.Manager, ref [32]byte, recipient common.Address, amount *uint256.Int, valueType string) error
}

// LedgerFunc adapts a function to Ledger.
type LedgerFunc func(st *state.Manager, ref [32]byte, recipient common.Address, amount *uint256.Int, valueType string) error

// Transfer implements Ledger.
func (f LedgerFunc) Transfer(st *state.Manager, ref [32]byte, recipient common.Address, amount *uint256.Int, valueType string) error {
	return f(st, ref, recipient, amount, valueType)
}

// Transfer is one value movement performed by a distribution.
type Transfer struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// Receipt describes an accepted distribution.
type Receipt struct {
	RequestHash   [32]byte
	Signer        common.Address
	Chain         []payout.Slot
	Transfers     []Transfer
	Dust          *uint256.Int
	Redistributed *uint256.Int
}

// Distributor validates signed reward requests and moves the resulting
// payouts through a Ledger.
type Distributor struct {
	reg     *Registry
	ledger  Ledger
	maxHops int
	tracer  trace.Tracer
}

// DistributorOption customises a Distributor.
type DistributorOption func(*Distributor)

// WithMaxHops lowers the ancestor cap. Values outside (0, MaxChainHops] are
// ignored.
func WithMaxHops(n int) DistributorOption {
	return func(d *Distributor) {
		if n > 0 && n <= MaxChainHops {
			d.maxHops = n
		}
	}
}

// WithTracer overrides the tracer used for distribution spans.
func WithTracer(t trace.Tracer) DistributorOption {
	return func(d *Distributor) {
		if t != nil {
			d.tracer = t
		}
	}
}

// NewDistributor wires a distribution pipeline over reg and ledger.
func NewDistributor(reg *Registry, ledger Ledger, opts ...DistributorOption) *Distributor {
	d := &Distributor{
		reg:     reg,
		ledger:  ledger,
		maxHops: MaxChainHops,
		tracer:  otel.Tracer("refchain/referral"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// IsDistributed reports whether the request hash has been consumed.
func (d *Distributor) IsDistributed(hash [32]byte) (bool, error) {
	var consumed bool
	err := d.reg.store.View(func(m *state.Manager) error {
		var err error
		consumed, err = isConsumed(m, hash)
		return err
	})
	return consumed, err
}

// RewardsEarned returns the cumulative payouts addr received in valueType,
// dust included.
func (r *Registry) RewardsEarned(addr common.Address, valueType string) (*uint256.Int, error) {
	var total *uint256.Int
	err := r.store.View(func(m *state.Manager) error {
		v := new(big.Int)
		ok, err := m.KVGet(earnedKey(addr, valueType), v)
		if err != nil {
			return err
		}
		if !ok {
			total = new(uint256.Int)
			return nil
		}
		total = fromBig(v)
		return nil
	})
	return total, err
}

// Distribute executes req. Either the request is consumed, every transfer
// succeeds and the audit event is published, or nothing changes.
func (d *Distributor) Distribute(ctx context.Context, req RewardRequest, sig []byte) (*Receipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := d.tracer.Start(ctx, "referral.distribute",
		trace.WithAttributes(
			attribute.String("referral.user", req.User.Hex()),
			attribute.String("referral.group", req.Group.Hex()),
			attribute.String("referral.value_type", normalizeValueType(req.ValueType)),
			attribute.String("referral.event_id", req.EventID),
		))
	defer span.End()

	receipt, err := d.distribute(req, sig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("referral.request_hash", common.Hash(receipt.RequestHash).Hex()),
		attribute.Int("referral.chain_length", len(receipt.Chain)),
		attribute.Int("referral.transfers", len(receipt.Transfers)),
	)
	span.SetStatus(codes.Ok, "distributed")
	return receipt, nil
}

func (d *Distributor) distribute(req RewardRequest, sig []byte) (*Receipt, error) {
	if d == nil || d.reg == nil || d.ledger == nil {
		return nil, fmt.Errorf("referral: distributor not configured")
	}
	if req.User == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero user", ErrInvalidIdentity)
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	valueType := normalizeValueType(req.ValueType)
	if valueType == "" {
		return nil, fmt.Errorf("%w: value type required", ErrInvalidRequest)
	}
	hash, err := req.Hash()
	if err != nil {
		return nil, err
	}

	var receipt *Receipt
	err = d.reg.store.Update(func(m *state.Manager) error {
		if err := nativecommon.Guard(nativecommon.NewPauses(m), moduleName); err != nil {
			return err
		}
		consumed, err := isConsumed(m, hash)
		if err != nil {
			return err
		}
		if consumed {
			return ErrAlreadyDistributed
		}
		signer, err := RecoverSigner(hash, sig)
		if err != nil {
			return err
		}
		authorized, err := isAuthorized(m, SetRewardSigners, signer)
		if err != nil {
			return err
		}
		if !authorized {
			return fmt.Errorf("%w: signer %s not authorised", ErrInvalidSignature, signer.Hex())
		}
		if err := m.KVPut(distributedKey(hash), true); err != nil {
			return err
		}

		chain, err := d.chain(m, req.User, req.Group)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(m)
		if err != nil {
			return err
		}
		result, err := payout.Compute(req.Amount, chain, cfg)
		if err != nil {
			return err
		}

		transfers := aggregate(result, signer)
		for _, t := range transfers {
			if err := d.ledger.Transfer(m, hash, t.Recipient, t.Amount, valueType); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrTransferFailed, t.Recipient.Hex(), err)
			}
			if err := credit(m, t.Recipient, valueType, t.Amount); err != nil {
				return err
			}
		}

		recipients := make([]common.Address, len(transfers))
		amounts := make([]*big.Int, len(transfers))
		for i, t := range transfers {
			recipients[i] = t.Recipient
			amounts[i] = t.Amount.ToBig()
		}
		m.AppendEvent(events.ReferralRewardDistributed{
			RequestHash:   hash,
			User:          req.User,
			Group:         req.Group,
			ValueType:     valueType,
			TotalAmount:   req.Amount.ToBig(),
			EventID:       req.EventID,
			Signer:        signer,
			Recipients:    recipients,
			Amounts:       amounts,
			Dust:          result.Dust.ToBig(),
			Redistributed: result.Redistributed.ToBig(),
		})
		receipt = &Receipt{
			RequestHash:   hash,
			Signer:        signer,
			Chain:         chain,
			Transfers:     transfers,
			Dust:          result.Dust,
			Redistributed: result.Redistributed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// chain returns [user] followed by at most maxHops ancestors.
func (d *Distributor) chain(st graphReader, user common.Address, group GroupID) ([]payout.Slot, error) {
	chain := []payout.Slot{{Participant: user}}
	it := newAncestorIter(st, user, group, d.maxHops)
	for it.Next() {
		a := it.Ancestor()
		chain = append(chain, payout.Slot{Participant: a.Address, Sentinel: a.Sentinel})
	}
	return chain, it.Err()
}

// aggregate folds payouts and dust into one transfer per recipient, in first
// appearance order. Zero amounts are dropped.
func aggregate(result payout.Result, dustCollector common.Address) []Transfer {
	index := make(map[common.Address]int)
	var out []Transfer
	add := func(recipient common.Address, amount *uint256.Int) {
		if amount == nil || amount.IsZero() {
			return
		}
		if i, ok := index[recipient]; ok {
			out[i].Amount = new(uint256.Int).Add(out[i].Amount, amount)
			return
		}
		index[recipient] = len(out)
		out = append(out, Transfer{Recipient: recipient, Amount: new(uint256.Int).Set(amount)})
	}
	for _, p := range result.Payouts {
		add(p.Participant, p.Amount)
	}
	add(dustCollector, result.Dust)
	return out
}

func isConsumed(st paramReader, hash [32]byte) (bool, error) {
	var consumed bool
	ok, err := st.KVGet(distributedKey(hash), &consumed)
	if err != nil {
		return false, err
	}
	return ok && consumed, nil
}

func credit(m *state.Manager, addr common.Address, valueType string, amount *uint256.Int) error {
	key := earnedKey(addr, valueType)
	current := new(big.Int)
	if _, err := m.KVGet(key, current); err != nil {
		return err
	}
	return m.KVPut(key, current.Add(current, amount.ToBig()))
}
