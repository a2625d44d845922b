package referral

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	repoCrypto "refchain/crypto"
)

// RegistrationDomainV1 prefixes the canonical registration encoding.
const RegistrationDomainV1 = "REFCHAIN_REGISTER_V1"

// Registration is a registrar-signed instruction to attach Users under
// Referrer. Off-chain hosts use it to authenticate the registrar without a
// session; the recovered signer becomes the RegisterEdge caller.
type Registration struct {
	Users    []common.Address
	Referrer Referrer
	Group    GroupID
	Nonce    uint64
}

type registrationPayload struct {
	Users    []common.Address
	Root     bool
	Referrer common.Address
	Group    [32]byte
	Nonce    uint64
}

// Hash returns keccak256(domain || rlp(fields)).
func (r Registration) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := rlp.EncodeToBytes(registrationPayload{
		Users:    r.Users,
		Root:     r.Referrer.Root,
		Referrer: r.Referrer.Address,
		Group:    r.Group,
		Nonce:    r.Nonce,
	})
	if err != nil {
		return out, fmt.Errorf("registration: encode: %w", err)
	}
	copy(out[:], ethcrypto.Keccak256([]byte(RegistrationDomainV1), encoded))
	return out, nil
}

// Sign produces the 65-byte signature over the registration hash.
func (r Registration) Sign(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("registration: signing key required")
	}
	hash, err := r.Hash()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(hash[:], key)
}

// RegisterSigned recovers the registrar from sig and stores every edge of reg
// in one unit of work. It returns the recovered registrar.
func (r *Registry) RegisterSigned(reg Registration, sig []byte) (common.Address, error) {
	hash, err := reg.Hash()
	if err != nil {
		return common.Address{}, err
	}
	caller, err := RecoverSigner(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	if len(reg.Users) == 1 {
		return caller, r.RegisterEdge(caller, reg.Users[0], reg.Referrer, reg.Group)
	}
	return caller, r.BatchRegisterEdge(caller, reg.Users, reg.Referrer, reg.Group)
}

// ParseReferrer accepts "root" for the sentinel or an identity in hex or
// bech32 form.
func ParseReferrer(s string) (Referrer, error) {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, "root") {
		return SentinelRoot, nil
	}
	addr, err := repoCrypto.ParseIdentity(trimmed)
	if err != nil {
		return Referrer{}, fmt.Errorf("%w: referrer: %v", ErrInvalidIdentity, err)
	}
	return ReferredBy(addr), nil
}

// MarshalText renders the referrer as "root" or a lower-case hex identity.
func (r Referrer) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via ParseReferrer.
func (r *Referrer) UnmarshalText(text []byte) error {
	parsed, err := ParseReferrer(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type registrationJSON struct {
	Users    []string `json:"users"`
	Referrer string   `json:"referrer"`
	Group    string   `json:"group"`
	Nonce    uint64   `json:"nonce"`
}

// MarshalJSON encodes the registration with hex identifiers.
func (r Registration) MarshalJSON() ([]byte, error) {
	users := make([]string, len(r.Users))
	for i, u := range r.Users {
		users[i] = strings.ToLower(u.Hex())
	}
	return json.Marshal(registrationJSON{
		Users:    users,
		Referrer: r.Referrer.String(),
		Group:    r.Group.Hex(),
		Nonce:    r.Nonce,
	})
}

// UnmarshalJSON decodes the wire form.
func (r *Registration) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("registration: nil receiver")
	}
	var payload registrationJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if len(payload.Users) == 0 {
		return fmt.Errorf("%w: users required", ErrInvalidRequest)
	}
	users := make([]common.Address, len(payload.Users))
	for i, raw := range payload.Users {
		addr, err := repoCrypto.ParseIdentity(raw)
		if err != nil {
			return fmt.Errorf("%w: users[%d]: %v", ErrInvalidRequest, i, err)
		}
		users[i] = addr
	}
	referrer, err := ParseReferrer(payload.Referrer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	group, err := ParseGroupID(payload.Group)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	*r = Registration{Users: users, Referrer: referrer, Group: group, Nonce: payload.Nonce}
	return nil
}
