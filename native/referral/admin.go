package referral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"refchain/core/events"
	"refchain/core/state"
	nativecommon "refchain/native/common"
	"refchain/native/referral/payout"
)

// Admin is the capability that owns every administrative mutation. It is
// obtained through Registry.Admin and re-checks the stored authority inside
// each unit of work, so a handle stops working once authority moves on.
type Admin struct {
	reg    *Registry
	caller common.Address
}

type authorityRecord struct {
	Address common.Address
}

func loadAuthority(st paramReader) (common.Address, bool, error) {
	var rec authorityRecord
	ok, err := st.KVGet(authorityKey(), &rec)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return rec.Address, true, nil
}

// InitAuthority bootstraps the administrative authority. It succeeds once.
func (r *Registry) InitAuthority(authority common.Address) error {
	if authority == (common.Address{}) {
		return fmt.Errorf("%w: zero authority", ErrInvalidIdentity)
	}
	return r.store.Update(func(m *state.Manager) error {
		_, ok, err := loadAuthority(m)
		if err != nil {
			return err
		}
		if ok {
			return ErrAuthorityAlreadySet
		}
		if err := m.KVPut(authorityKey(), authorityRecord{Address: authority}); err != nil {
			return err
		}
		m.AppendEvent(events.ReferralAuthorityTransferred{Next: authority})
		return nil
	})
}

// Authority returns the current authority.
func (r *Registry) Authority() (common.Address, bool, error) {
	var (
		addr common.Address
		ok   bool
	)
	err := r.store.View(func(m *state.Manager) error {
		var err error
		addr, ok, err = loadAuthority(m)
		return err
	})
	return addr, ok, err
}

// Admin returns the administrative capability for caller.
func (r *Registry) Admin(caller common.Address) (*Admin, error) {
	var err error
	viewErr := r.store.View(func(m *state.Manager) error {
		err = requireAuthority(m, caller)
		return nil
	})
	if viewErr != nil {
		return nil, viewErr
	}
	if err != nil {
		return nil, err
	}
	return &Admin{reg: r, caller: caller}, nil
}

// IsPaused reports whether the referral module is paused.
func (r *Registry) IsPaused() (bool, error) {
	var paused bool
	err := r.store.View(func(m *state.Manager) error {
		paused = nativecommon.NewPauses(m).IsPaused(moduleName)
		return nil
	})
	return paused, err
}

func requireAuthority(st paramReader, caller common.Address) error {
	authority, ok, err := loadAuthority(st)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthorityNotSet
	}
	if caller == (common.Address{}) || caller != authority {
		return ErrUnauthorizedAdministrator
	}
	return nil
}

func (a *Admin) update(fn func(*state.Manager) error) error {
	if a == nil || a.reg == nil {
		return ErrUnauthorizedAdministrator
	}
	return a.reg.store.Update(func(m *state.Manager) error {
		if err := requireAuthority(m, a.caller); err != nil {
			return err
		}
		return fn(m)
	})
}

// Exec runs fn in one unit of work after re-checking the authority. Hosts use
// it for privileged operations on collaborators, such as funding the
// treasury, that live in the same state.
func (a *Admin) Exec(fn func(*state.Manager) error) error {
	if fn == nil {
		return nil
	}
	return a.update(fn)
}

// Caller returns the identity this capability acts for.
func (a *Admin) Caller() common.Address { return a.caller }

// Authorize adds id to set.
func (a *Admin) Authorize(set AuthSet, id common.Address) error {
	return a.setAuthorized(set, id, true)
}

// Unauthorize removes id from set.
func (a *Admin) Unauthorize(set AuthSet, id common.Address) error {
	return a.setAuthorized(set, id, false)
}

func (a *Admin) setAuthorized(set AuthSet, id common.Address, member bool) error {
	if !set.valid() {
		return fmt.Errorf("%w: unknown authorization set", ErrInvalidParameters)
	}
	if id == (common.Address{}) {
		return fmt.Errorf("%w: zero identity", ErrInvalidIdentity)
	}
	return a.update(func(m *state.Manager) error {
		changed, err := setMembership(m, set, id, member)
		if err != nil || !changed {
			return err
		}
		m.AppendEvent(events.ReferralAuthorizationChanged{
			Set:        set.String(),
			Identity:   id,
			Authorized: member,
			Caller:     a.caller,
		})
		return nil
	})
}

// SetDecayConfig replaces the decay shape. The original share is untouched.
func (a *Admin) SetDecayConfig(kind payout.DecayKind, factor, minReward *uint256.Int) error {
	candidate := payout.Config{Kind: kind, Factor: factor, MinReward: minReward}
	if err := candidate.ValidateDecay(); err != nil {
		return err
	}
	rec := decayRecord{Kind: uint8(kind), Factor: toBig(factor), MinReward: toBig(minReward)}
	return a.update(func(m *state.Manager) error {
		if err := m.KVPut(decayKey(), rec); err != nil {
			return err
		}
		m.AppendEvent(events.ReferralDecayUpdated{
			Kind:      kind.String(),
			Factor:    rec.Factor,
			MinReward: rec.MinReward,
			Caller:    a.caller,
		})
		return nil
	})
}

// SetOriginalShare replaces the original-participant share.
func (a *Admin) SetOriginalShare(bps uint32) error {
	if err := payout.ValidateShare(bps); err != nil {
		return err
	}
	return a.update(func(m *state.Manager) error {
		if err := m.KVPut(shareKey(), bps); err != nil {
			return err
		}
		m.AppendEvent(events.ReferralShareUpdated{Bps: bps, Caller: a.caller})
		return nil
	})
}

// ApplyConfig sets both the decay shape and the share in one unit of work.
func (a *Admin) ApplyConfig(cfg payout.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rec := decayRecord{Kind: uint8(cfg.Kind), Factor: toBig(cfg.Factor), MinReward: toBig(cfg.MinReward)}
	return a.update(func(m *state.Manager) error {
		if err := m.KVPut(decayKey(), rec); err != nil {
			return err
		}
		if err := m.KVPut(shareKey(), cfg.OriginalShareBps); err != nil {
			return err
		}
		m.AppendEvent(events.ReferralDecayUpdated{
			Kind:      cfg.Kind.String(),
			Factor:    rec.Factor,
			MinReward: rec.MinReward,
			Caller:    a.caller,
		})
		m.AppendEvent(events.ReferralShareUpdated{Bps: cfg.OriginalShareBps, Caller: a.caller})
		return nil
	})
}

// SetPaused pauses or resumes registration and distribution.
func (a *Admin) SetPaused(paused bool) error {
	return a.update(func(m *state.Manager) error {
		if err := nativecommon.NewPauses(m).SetPaused(moduleName, paused); err != nil {
			return err
		}
		m.AppendEvent(events.ModulePauseChanged{Module: moduleName, Paused: paused, Caller: a.caller})
		return nil
	})
}

// TransferAuthority hands the administrative authority to next. The current
// capability is invalid afterwards.
func (a *Admin) TransferAuthority(next common.Address) error {
	if next == (common.Address{}) {
		return fmt.Errorf("%w: zero authority", ErrInvalidIdentity)
	}
	return a.update(func(m *state.Manager) error {
		if err := m.KVPut(authorityKey(), authorityRecord{Address: next}); err != nil {
			return err
		}
		m.AppendEvent(events.ReferralAuthorityTransferred{Previous: a.caller, Next: next})
		return nil
	})
}
