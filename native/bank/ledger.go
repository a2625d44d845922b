package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"refchain/core/events"
	"refchain/core/state"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient treasury funds")
	ErrInvalidAmount     = errors.New("bank: invalid amount")
	ErrAssetRequired     = errors.New("bank: asset required")
)

// ModuleTreasury is the paying account used when no treasury is configured.
var ModuleTreasury = common.BytesToAddress(ethcrypto.Keccak256([]byte("refchain/treasury"))[12:])

// Ledger pays rewards out of a treasury account whose balances live in state.
// Every movement happens against the caller's transactional manager, so it
// commits or rolls back with the surrounding unit of work.
type Ledger struct {
	treasury common.Address
}

// NewLedger returns a ledger paying out of treasury, or ModuleTreasury when
// treasury is zero.
func NewLedger(treasury common.Address) *Ledger {
	if treasury == (common.Address{}) {
		treasury = ModuleTreasury
	}
	return &Ledger{treasury: treasury}
}

// Treasury returns the paying account.
func (l *Ledger) Treasury() common.Address { return l.treasury }

// Transfer moves amount of asset from the treasury to recipient.
func (l *Ledger) Transfer(st *state.Manager, ref [32]byte, recipient common.Address, amount *uint256.Int, asset string) error {
	if st == nil {
		return fmt.Errorf("bank: state manager required")
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return ErrAssetRequired
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	value := amount.ToBig()
	from, err := st.Balance(l.treasury.Bytes(), asset)
	if err != nil {
		return err
	}
	if from.Cmp(value) < 0 {
		return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFunds, value, asset, from)
	}
	if err := st.SetBalance(l.treasury.Bytes(), asset, new(big.Int).Sub(from, value)); err != nil {
		return err
	}
	to, err := st.Balance(recipient.Bytes(), asset)
	if err != nil {
		return err
	}
	if err := st.SetBalance(recipient.Bytes(), asset, new(big.Int).Add(to, value)); err != nil {
		return err
	}
	st.AppendEvent(events.Transfer{Asset: asset, From: l.treasury, To: recipient, Amount: value, Ref: ref})
	return nil
}

// Fund credits the treasury with amount of asset and returns the new balance.
func (l *Ledger) Fund(st *state.Manager, amount *uint256.Int, asset string) (*big.Int, error) {
	if st == nil {
		return nil, fmt.Errorf("bank: state manager required")
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return nil, ErrAssetRequired
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	current, err := st.Balance(l.treasury.Bytes(), asset)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(current, amount.ToBig())
	if err := st.SetBalance(l.treasury.Bytes(), asset, next); err != nil {
		return nil, err
	}
	st.AppendEvent(events.TreasuryFunded{Asset: asset, Treasury: l.treasury, Amount: amount.ToBig(), Balance: new(big.Int).Set(next)})
	return next, nil
}

// Balance returns the balance of addr in asset.
func Balance(st *state.Manager, addr common.Address, asset string) (*big.Int, error) {
	if st == nil {
		return nil, fmt.Errorf("bank: state manager required")
	}
	return st.Balance(addr.Bytes(), asset)
}
