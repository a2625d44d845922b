package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityPrefix is the human-readable part of display addresses.
const IdentityPrefix = "ref"

// FormatIdentity renders addr as a bech32 display address (ref1...).
func FormatIdentity(addr common.Address) string {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(IdentityPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// ParseIdentity accepts a 0x-prefixed hex address or a ref1... bech32 address.
// The zero address is rejected.
func ParseIdentity(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("identity required")
	}
	var addr common.Address
	switch {
	case strings.HasPrefix(strings.ToLower(trimmed), IdentityPrefix+"1"):
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid bech32 identity: %w", err)
		}
		if prefix != IdentityPrefix {
			return common.Address{}, fmt.Errorf("unexpected identity prefix %q", prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return common.Address{}, fmt.Errorf("error converting bits: %w", err)
		}
		if len(conv) != common.AddressLength {
			return common.Address{}, fmt.Errorf("identity must be %d bytes", common.AddressLength)
		}
		addr = common.BytesToAddress(conv)
	default:
		raw := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
		if len(raw) != 2*common.AddressLength {
			return common.Address{}, fmt.Errorf("identity must be %d hex characters", 2*common.AddressLength)
		}
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid hex identity: %w", err)
		}
		addr = common.BytesToAddress(decoded)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero identity")
	}
	return addr, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// Identity returns the address controlled by the key.
func (k *PrivateKey) Identity() common.Address {
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

// SignDigest signs a 32-byte digest, producing [R || S || V] with V in {0,1}.
func (k *PrivateKey) SignDigest(digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], k.PrivateKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex decodes a hex private key with optional 0x prefix.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
