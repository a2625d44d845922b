package referral

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GroupID identifies an isolated referral namespace. Groups are never created
// explicitly; a group exists once an edge is stored under it.
type GroupID [32]byte

// GroupIDFromName derives a group identifier as keccak256(name).
func GroupIDFromName(name string) GroupID {
	var id GroupID
	copy(id[:], ethcrypto.Keccak256([]byte(name)))
	return id
}

// ParseGroupID decodes a 32-byte hex identifier with optional 0x prefix.
func ParseGroupID(s string) (GroupID, error) {
	var id GroupID
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(trimmed) != 64 {
		return id, fmt.Errorf("group id must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("decode group id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

// ResolveGroup accepts a 0x-prefixed 32-byte identifier or a plain campaign
// name, which is hashed with GroupIDFromName.
func ResolveGroup(s string) (GroupID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return GroupID{}, fmt.Errorf("group required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return ParseGroupID(trimmed)
	}
	return GroupIDFromName(trimmed), nil
}

// Hex returns the 0x-prefixed hex form.
func (g GroupID) Hex() string {
	return "0x" + hex.EncodeToString(g[:])
}

func (g GroupID) String() string { return g.Hex() }

// Referrer names the parent of a participant. The sentinel root is a distinct
// marker rather than a reserved address, so it can never collide with a real
// identity.
type Referrer struct {
	Address common.Address
	Root    bool
}

// SentinelRoot is the "no referrer" marker present in every group's tree.
var SentinelRoot = Referrer{Root: true}

// ReferredBy returns the Referrer for addr.
func ReferredBy(addr common.Address) Referrer {
	return Referrer{Address: addr}
}

func (r Referrer) String() string {
	if r.Root {
		return "root"
	}
	return strings.ToLower(r.Address.Hex())
}

// Ancestor is one element of an upward walk. Sentinel marks that the walk
// reached the group's root.
type Ancestor struct {
	Address  common.Address
	Level    int
	Sentinel bool
}

// edgeRecord is the persisted parent link of a participant.
type edgeRecord struct {
	Root     bool
	Referrer common.Address
}

func (e edgeRecord) referrer() Referrer {
	if e.Root {
		return SentinelRoot
	}
	return ReferredBy(e.Referrer)
}

// Stats summarises a participant's position in a group.
type Stats struct {
	Registered      bool
	Referrer        Referrer
	Level           int
	LevelTruncated  bool
	DirectReferrals int
}
