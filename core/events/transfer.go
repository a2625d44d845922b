package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeTransfer is emitted for every balance movement performed by the
	// reference ledger.
	TypeTransfer = "transfer.native"
	// TypeTreasuryFunded is emitted when the treasury balance is topped up.
	TypeTreasuryFunded = "treasury.funded"
)

type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
	Ref    [32]byte
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *Record {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = formatAddress(e.From)
	attrs["to"] = formatAddress(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	if !zeroBytes(e.Ref[:]) {
		attrs["ref"] = formatHash(e.Ref)
	}
	return &Record{Type: TypeTransfer, Attributes: attrs}
}

type TreasuryFunded struct {
	Asset    string
	Treasury common.Address
	Amount   *big.Int
	Balance  *big.Int
}

func (TreasuryFunded) EventType() string { return TypeTreasuryFunded }

func (e TreasuryFunded) Event() *Record {
	return &Record{Type: TypeTreasuryFunded, Attributes: map[string]string{
		"asset":    normalizeAsset(e.Asset),
		"treasury": formatAddress(e.Treasury),
		"amount":   formatAmount(e.Amount),
		"balance":  formatAmount(e.Balance),
	}}
}
