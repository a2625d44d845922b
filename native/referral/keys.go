package referral

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	parentPrefix      = "referral/parent/"
	childrenPrefix    = "referral/children/"
	rootsPrefix       = "referral/roots/"
	authMemberPrefix  = "referral/auth/member/"
	authListPrefix    = "referral/auth/list/"
	distributedPrefix = "referral/distributed/"
	earnedPrefix      = "referral/earned/"
	authorityKeyStr   = "referral/authority"
	decayKeyStr       = "referral/params/decay"
	shareKeyStr       = "referral/params/share"
)

func concat(prefix string, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return buf
}

func parentKey(group GroupID, user common.Address) []byte {
	return concat(parentPrefix, group[:], user[:])
}

func childrenKey(group GroupID, parent common.Address) []byte {
	return concat(childrenPrefix, group[:], parent[:])
}

func rootsKey(group GroupID) []byte {
	return concat(rootsPrefix, group[:])
}

func authMemberKey(set AuthSet, id common.Address) []byte {
	return concat(authMemberPrefix, []byte(set.String()), id[:])
}

func authListKey(set AuthSet) []byte {
	return concat(authListPrefix, []byte(set.String()))
}

func distributedKey(hash [32]byte) []byte {
	return concat(distributedPrefix, hash[:])
}

func earnedKey(addr common.Address, valueType string) []byte {
	return concat(earnedPrefix, addr[:], []byte(normalizeValueType(valueType)))
}

func authorityKey() []byte { return []byte(authorityKeyStr) }
func decayKey() []byte     { return []byte(decayKeyStr) }
func shareKey() []byte     { return []byte(shareKeyStr) }

func normalizeValueType(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
