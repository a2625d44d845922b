package referral

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"refchain/core/state"
)

// AuthSet selects one of the two independent authorization sets.
type AuthSet uint8

const (
	// SetRegistrars may register referral edges.
	SetRegistrars AuthSet = iota + 1
	// SetRewardSigners may sign reward requests.
	SetRewardSigners
)

func (s AuthSet) String() string {
	switch s {
	case SetRegistrars:
		return "registrars"
	case SetRewardSigners:
		return "reward_signers"
	default:
		return "unknown"
	}
}

func (s AuthSet) valid() bool {
	return s == SetRegistrars || s == SetRewardSigners
}

// ParseAuthSet maps the textual form back to an AuthSet.
func ParseAuthSet(s string) (AuthSet, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "registrars", "registrar", "registration":
		return SetRegistrars, nil
	case "reward_signers", "reward-signers", "signers", "reward":
		return SetRewardSigners, nil
	default:
		return 0, fmt.Errorf("%w: unknown authorization set %q", ErrInvalidParameters, s)
	}
}

// IsAuthorized reports whether id is a member of set.
func (r *Registry) IsAuthorized(set AuthSet, id common.Address) (bool, error) {
	var ok bool
	err := r.store.View(func(m *state.Manager) error {
		var err error
		ok, err = isAuthorized(m, set, id)
		return err
	})
	return ok, err
}

// ListAuthorized enumerates the members of set in insertion order.
func (r *Registry) ListAuthorized(set AuthSet) ([]common.Address, error) {
	if !set.valid() {
		return nil, fmt.Errorf("%w: unknown authorization set", ErrInvalidParameters)
	}
	var out []common.Address
	err := r.store.View(func(m *state.Manager) error {
		var raw [][]byte
		if err := m.KVGetList(authListKey(set), &raw); err != nil {
			return err
		}
		out = make([]common.Address, len(raw))
		for i, b := range raw {
			out[i] = common.BytesToAddress(b)
		}
		return nil
	})
	return out, err
}

type authReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
}

func isAuthorized(st authReader, set AuthSet, id common.Address) (bool, error) {
	if !set.valid() {
		return false, fmt.Errorf("%w: unknown authorization set", ErrInvalidParameters)
	}
	if id == (common.Address{}) {
		return false, nil
	}
	var member bool
	ok, err := st.KVGet(authMemberKey(set, id), &member)
	if err != nil {
		return false, err
	}
	return ok && member, nil
}

func requireRegistrar(st authReader, caller common.Address) error {
	ok, err := isAuthorized(st, SetRegistrars, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorizedRegistrar
	}
	return nil
}

// setMembership writes the flag and keeps the enumerable list in sync. It
// reports whether membership actually changed.
func setMembership(m *state.Manager, set AuthSet, id common.Address, member bool) (bool, error) {
	current, err := isAuthorized(m, set, id)
	if err != nil {
		return false, err
	}
	if current == member {
		return false, nil
	}
	if member {
		if err := m.KVPut(authMemberKey(set, id), true); err != nil {
			return false, err
		}
		return true, m.KVAppend(authListKey(set), id.Bytes())
	}
	if err := m.KVDelete(authMemberKey(set, id)); err != nil {
		return false, err
	}
	return true, m.KVRemove(authListKey(set), id.Bytes())
}
