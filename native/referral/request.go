package referral

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	repoCrypto "refchain/crypto"
)

// RewardDomainV1 prefixes the canonical reward request encoding.
const RewardDomainV1 = "REFCHAIN_REWARD_V1"

// RewardRequest is a signed, one-time distribution instruction.
type RewardRequest struct {
	User      common.Address
	Amount    *uint256.Int
	ValueType string
	Group     GroupID
	EventID   string
	Timestamp uint64
	Nonce     uint64
}

type rewardPayload struct {
	User      common.Address
	Amount    *big.Int
	ValueType string
	Group     [32]byte
	EventID   string
	Timestamp uint64
	Nonce     uint64
}

// Hash returns keccak256(domain || rlp(fields)). The value type is trimmed and
// upper-cased first so cosmetic variants cannot mint distinct hashes.
func (r RewardRequest) Hash() ([32]byte, error) {
	var out [32]byte
	amount := new(big.Int)
	if r.Amount != nil {
		amount = r.Amount.ToBig()
	}
	encoded, err := rlp.EncodeToBytes(rewardPayload{
		User:      r.User,
		Amount:    amount,
		ValueType: normalizeValueType(r.ValueType),
		Group:     r.Group,
		EventID:   r.EventID,
		Timestamp: r.Timestamp,
		Nonce:     r.Nonce,
	})
	if err != nil {
		return out, fmt.Errorf("reward request: encode: %w", err)
	}
	copy(out[:], ethcrypto.Keccak256([]byte(RewardDomainV1), encoded))
	return out, nil
}

// Sign produces the 65-byte [R || S || V] signature over the request hash.
func (r RewardRequest) Sign(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("reward request: signing key required")
	}
	hash, err := r.Hash()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(hash[:], key)
}

// RecoverSigner returns the identity that produced sig over hash. V may be
// given as 0/1 or 27/28.
func RecoverSigner(hash [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes", ErrInvalidSignature)
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	switch normalized[64] {
	case 0, 1:
	case 27, 28:
		normalized[64] -= 27
	default:
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrInvalidSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(hash[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

type rewardRequestJSON struct {
	User      string `json:"user"`
	Amount    string `json:"amount"`
	ValueType string `json:"valueType"`
	Group     string `json:"group"`
	EventID   string `json:"eventId"`
	Timestamp uint64 `json:"timestamp"`
	Nonce     uint64 `json:"nonce"`
}

// MarshalJSON encodes the request with decimal amounts and hex identifiers.
func (r RewardRequest) MarshalJSON() ([]byte, error) {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.Dec()
	}
	return json.Marshal(rewardRequestJSON{
		User:      strings.ToLower(r.User.Hex()),
		Amount:    amount,
		ValueType: normalizeValueType(r.ValueType),
		Group:     r.Group.Hex(),
		EventID:   r.EventID,
		Timestamp: r.Timestamp,
		Nonce:     r.Nonce,
	})
}

// UnmarshalJSON decodes the wire form. Users may be given as hex or as
// bech32 display addresses.
func (r *RewardRequest) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("reward request: nil receiver")
	}
	var payload rewardRequestJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	user, err := repoCrypto.ParseIdentity(payload.User)
	if err != nil {
		return fmt.Errorf("%w: user: %v", ErrInvalidRequest, err)
	}
	amountStr := strings.TrimSpace(payload.Amount)
	if amountStr == "" {
		return fmt.Errorf("%w: amount required", ErrInvalidRequest)
	}
	amount, err := uint256.FromDecimal(amountStr)
	if err != nil {
		return fmt.Errorf("%w: invalid amount %q", ErrInvalidRequest, payload.Amount)
	}
	group, err := ParseGroupID(payload.Group)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	*r = RewardRequest{
		User:      user,
		Amount:    amount,
		ValueType: normalizeValueType(payload.ValueType),
		Group:     group,
		EventID:   payload.EventID,
		Timestamp: payload.Timestamp,
		Nonce:     payload.Nonce,
	}
	return nil
}
