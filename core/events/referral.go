package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeReferralEdgeRegistered is emitted for every stored parent/child link.
	TypeReferralEdgeRegistered = "referral.edge.registered"
	// TypeReferralAuthorizationChanged is emitted when an identity is added to
	// or removed from an authorization set.
	TypeReferralAuthorizationChanged = "referral.authorization.changed"
	// TypeReferralAuthorityTransferred is emitted when the administrative
	// authority changes hands.
	TypeReferralAuthorityTransferred = "referral.authority.transferred"
	// TypeReferralDecayUpdated is emitted when the decay configuration changes.
	TypeReferralDecayUpdated = "referral.decay.updated"
	// TypeReferralShareUpdated is emitted when the original-participant share
	// changes.
	TypeReferralShareUpdated = "referral.share.updated"
	// TypeReferralRewardDistributed is the audit record of an accepted reward
	// request.
	TypeReferralRewardDistributed = "referral.reward.distributed"
)

// ReferralEdgeRegistered captures a newly stored referral edge. Root is set when
// the participant was registered directly under the sentinel root.
type ReferralEdgeRegistered struct {
	Group     [32]byte
	User      common.Address
	Referrer  common.Address
	Root      bool
	Registrar common.Address
}

// EventType implements the Event interface.
func (ReferralEdgeRegistered) EventType() string { return TypeReferralEdgeRegistered }

func (e ReferralEdgeRegistered) Event() *Record {
	attrs := map[string]string{
		"group":     formatHash(e.Group),
		"user":      formatAddress(e.User),
		"root":      formatBool(e.Root),
		"registrar": formatAddress(e.Registrar),
	}
	if !e.Root {
		attrs["referrer"] = formatAddress(e.Referrer)
	}
	return &Record{Type: TypeReferralEdgeRegistered, Attributes: attrs}
}

// ReferralAuthorizationChanged captures a membership change in one of the
// authorization sets.
type ReferralAuthorizationChanged struct {
	Set        string
	Identity   common.Address
	Authorized bool
	Caller     common.Address
}

// EventType implements the Event interface.
func (ReferralAuthorizationChanged) EventType() string {
	return TypeReferralAuthorizationChanged
}

func (e ReferralAuthorizationChanged) Event() *Record {
	return &Record{Type: TypeReferralAuthorizationChanged, Attributes: map[string]string{
		"set":        e.Set,
		"identity":   formatAddress(e.Identity),
		"authorized": formatBool(e.Authorized),
		"caller":     formatAddress(e.Caller),
	}}
}

// ReferralAuthorityTransferred captures a change of the administrative
// authority.
type ReferralAuthorityTransferred struct {
	Previous common.Address
	Next     common.Address
}

// EventType implements the Event interface.
func (ReferralAuthorityTransferred) EventType() string {
	return TypeReferralAuthorityTransferred
}

func (e ReferralAuthorityTransferred) Event() *Record {
	return &Record{Type: TypeReferralAuthorityTransferred, Attributes: map[string]string{
		"previous": formatAddress(e.Previous),
		"next":     formatAddress(e.Next),
	}}
}

// ReferralDecayUpdated captures the decay configuration after an update.
type ReferralDecayUpdated struct {
	Kind      string
	Factor    *big.Int
	MinReward *big.Int
	Caller    common.Address
}

// EventType implements the Event interface.
func (ReferralDecayUpdated) EventType() string { return TypeReferralDecayUpdated }

func (e ReferralDecayUpdated) Event() *Record {
	return &Record{Type: TypeReferralDecayUpdated, Attributes: map[string]string{
		"kind":      strings.ToLower(e.Kind),
		"factor":    formatAmount(e.Factor),
		"minReward": formatAmount(e.MinReward),
		"caller":    formatAddress(e.Caller),
	}}
}

// ReferralShareUpdated captures a new original-participant share.
type ReferralShareUpdated struct {
	Bps    uint32
	Caller common.Address
}

// EventType implements the Event interface.
func (ReferralShareUpdated) EventType() string { return TypeReferralShareUpdated }

func (e ReferralShareUpdated) Event() *Record {
	return &Record{Type: TypeReferralShareUpdated, Attributes: map[string]string{
		"bps":    strconv.FormatUint(uint64(e.Bps), 10),
		"caller": formatAddress(e.Caller),
	}}
}

// ReferralRewardDistributed is the audit record of a completed distribution.
// Recipients and Amounts are index-aligned and list every nonzero transfer,
// including the dust collector's.
type ReferralRewardDistributed struct {
	RequestHash   [32]byte
	User          common.Address
	Group         [32]byte
	ValueType     string
	TotalAmount   *big.Int
	EventID       string
	Signer        common.Address
	Recipients    []common.Address
	Amounts       []*big.Int
	Dust          *big.Int
	Redistributed *big.Int
}

// EventType implements the Event interface.
func (ReferralRewardDistributed) EventType() string { return TypeReferralRewardDistributed }

func (e ReferralRewardDistributed) Event() *Record {
	recipients := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		recipients[i] = formatAddress(r)
	}
	amounts := make([]string, len(e.Amounts))
	for i, a := range e.Amounts {
		amounts[i] = formatAmount(a)
	}
	return &Record{Type: TypeReferralRewardDistributed, Attributes: map[string]string{
		"requestHash":   formatHash(e.RequestHash),
		"user":          formatAddress(e.User),
		"group":         formatHash(e.Group),
		"valueType":     normalizeAsset(e.ValueType),
		"totalAmount":   formatAmount(e.TotalAmount),
		"eventId":       e.EventID,
		"signer":        formatAddress(e.Signer),
		"recipients":    strings.Join(recipients, ","),
		"amounts":       strings.Join(amounts, ","),
		"dust":          formatAmount(e.Dust),
		"redistributed": formatAmount(e.Redistributed),
	}}
}

// TypeModulePauseChanged is emitted when a module is paused or resumed.
const TypeModulePauseChanged = "module.pause.changed"

// ModulePauseChanged captures a pause toggle.
type ModulePauseChanged struct {
	Module string
	Paused bool
	Caller common.Address
}

// EventType implements the Event interface.
func (ModulePauseChanged) EventType() string { return TypeModulePauseChanged }

func (e ModulePauseChanged) Event() *Record {
	return &Record{Type: TypeModulePauseChanged, Attributes: map[string]string{
		"module": strings.ToLower(e.Module),
		"paused": formatBool(e.Paused),
		"caller": formatAddress(e.Caller),
	}}
}
