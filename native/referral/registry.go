package referral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"refchain/core/events"
	"refchain/core/state"
	nativecommon "refchain/native/common"
)

const moduleName = "referral"

const (
	// MaxTraversalHops caps every upward walk exposed through Ancestors.
	MaxTraversalHops = 256
	// maxCycleWalk caps the walk used by the cycle check. Deeper trees are
	// still accepted: only a registered user can appear above the referrer,
	// and registered users are rejected right after the walk.
	maxCycleWalk = 4096
)

type graphReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
}

type graphState interface {
	graphReader
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	AppendEvent(evt events.Event)
}

// Registry is the per-group referral graph together with the authorization
// sets, the authority record and the decay configuration. Every mutation runs
// inside one state.Store unit of work.
type Registry struct {
	store *state.Store
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store *state.Store) *Registry {
	return &Registry{store: store}
}

// RegisterEdge stores user under referrer in group. The caller must be an
// authorised registrar.
func (r *Registry) RegisterEdge(caller, user common.Address, referrer Referrer, group GroupID) error {
	return r.store.Update(func(m *state.Manager) error {
		if err := nativecommon.Guard(nativecommon.NewPauses(m), moduleName); err != nil {
			return err
		}
		if err := requireRegistrar(m, caller); err != nil {
			return err
		}
		return registerEdge(m, caller, user, referrer, group)
	})
}

// BatchRegisterEdge registers every user under the same referrer. Either all
// edges are stored or none are.
func (r *Registry) BatchRegisterEdge(caller common.Address, users []common.Address, referrer Referrer, group GroupID) error {
	if len(users) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidIdentity)
	}
	return r.store.Update(func(m *state.Manager) error {
		if err := nativecommon.Guard(nativecommon.NewPauses(m), moduleName); err != nil {
			return err
		}
		if err := requireRegistrar(m, caller); err != nil {
			return err
		}
		for i, user := range users {
			if err := registerEdge(m, caller, user, referrer, group); err != nil {
				return fmt.Errorf("batch entry %d (%s): %w", i, user.Hex(), err)
			}
		}
		return nil
	})
}

// Referrer returns the stored referrer of user. The boolean is false when the
// user is not registered in group.
func (r *Registry) Referrer(user common.Address, group GroupID) (Referrer, bool, error) {
	var (
		ref Referrer
		ok  bool
	)
	err := r.store.View(func(m *state.Manager) error {
		rec, found, err := loadEdge(m, group, user)
		if err != nil || !found {
			return err
		}
		ref, ok = rec.referrer(), true
		return nil
	})
	return ref, ok, err
}

// Children lists the direct referrals of of. Passing SentinelRoot lists the
// group's top-level participants.
func (r *Registry) Children(of Referrer, group GroupID) ([]common.Address, error) {
	var out []common.Address
	err := r.store.View(func(m *state.Manager) error {
		var err error
		out, err = loadChildren(m, group, of)
		return err
	})
	return out, err
}

// IsRegistered reports whether user has a stored referrer in group.
func (r *Registry) IsRegistered(user common.Address, group GroupID) (bool, error) {
	var registered bool
	err := r.store.View(func(m *state.Manager) error {
		_, found, err := loadEdge(m, group, user)
		registered = found
		return err
	})
	return registered, err
}

// Ancestors returns a cursor over user's ancestors in group, nearest first.
// The cursor reads committed state lazily as it advances.
func (r *Registry) Ancestors(user common.Address, group GroupID, maxLevels int) *AncestorIter {
	return newAncestorIter(r.store.Reader(), user, group, maxLevels)
}

// Stats summarises user's position in group.
func (r *Registry) Stats(user common.Address, group GroupID) (Stats, error) {
	var stats Stats
	err := r.store.View(func(m *state.Manager) error {
		rec, found, err := loadEdge(m, group, user)
		if err != nil || !found {
			return err
		}
		stats.Registered = true
		stats.Referrer = rec.referrer()
		children, err := loadChildren(m, group, ReferredBy(user))
		if err != nil {
			return err
		}
		stats.DirectReferrals = len(children)
		it := newAncestorIter(m, user, group, MaxTraversalHops)
		for it.Next() {
			if it.Ancestor().Sentinel {
				break
			}
			stats.Level++
		}
		if err := it.Err(); err != nil {
			return err
		}
		stats.LevelTruncated = stats.Level >= MaxTraversalHops
		return nil
	})
	return stats, err
}

func registerEdge(st graphState, caller, user common.Address, referrer Referrer, group GroupID) error {
	if user == (common.Address{}) {
		return fmt.Errorf("%w: zero user", ErrInvalidIdentity)
	}
	if !referrer.Root {
		if referrer.Address == (common.Address{}) {
			return fmt.Errorf("%w: zero referrer", ErrInvalidIdentity)
		}
		if referrer.Address == user {
			return fmt.Errorf("%w: self referral", ErrInvalidIdentity)
		}
	}
	_, registered, err := loadEdge(st, group, user)
	if err != nil {
		return err
	}
	if registered && !referrer.Root {
		cyclic, err := reaches(st, group, referrer.Address, user)
		if err != nil {
			return err
		}
		if cyclic {
			return ErrCycleDetected
		}
	}
	if registered {
		return ErrAlreadyRegistered
	}
	if !referrer.Root {
		present, err := inTree(st, group, referrer.Address)
		if err != nil {
			return err
		}
		if !present {
			return ErrReferrerNotInTree
		}
	}

	rec := edgeRecord{Root: referrer.Root, Referrer: referrer.Address}
	if err := st.KVPut(parentKey(group, user), rec); err != nil {
		return err
	}
	listKey := rootsKey(group)
	if !referrer.Root {
		listKey = childrenKey(group, referrer.Address)
	}
	if err := st.KVAppend(listKey, user.Bytes()); err != nil {
		return err
	}
	st.AppendEvent(events.ReferralEdgeRegistered{
		Group:     group,
		User:      user,
		Referrer:  referrer.Address,
		Root:      referrer.Root,
		Registrar: caller,
	})
	return nil
}

// reaches reports whether target appears on the upward walk from start.
func reaches(st graphReader, group GroupID, start, target common.Address) (bool, error) {
	cur := start
	for hops := 0; hops < maxCycleWalk; hops++ {
		if cur == target {
			return true, nil
		}
		rec, found, err := loadEdge(st, group, cur)
		if err != nil {
			return false, err
		}
		if !found || rec.Root {
			return false, nil
		}
		cur = rec.Referrer
	}
	return false, nil
}

// inTree reports whether addr has a stored referrer or at least one child.
func inTree(st graphReader, group GroupID, addr common.Address) (bool, error) {
	_, found, err := loadEdge(st, group, addr)
	if err != nil || found {
		return found, err
	}
	children, err := loadChildren(st, group, ReferredBy(addr))
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

func loadEdge(st graphReader, group GroupID, user common.Address) (edgeRecord, bool, error) {
	var rec edgeRecord
	if user == (common.Address{}) {
		return rec, false, nil
	}
	ok, err := st.KVGet(parentKey(group, user), &rec)
	if err != nil {
		return edgeRecord{}, false, err
	}
	return rec, ok, nil
}

func loadChildren(st graphReader, group GroupID, of Referrer) ([]common.Address, error) {
	key := rootsKey(group)
	if !of.Root {
		key = childrenKey(group, of.Address)
	}
	var raw [][]byte
	if err := st.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}
