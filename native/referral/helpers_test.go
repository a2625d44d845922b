package referral

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"refchain/core/events"
	"refchain/core/state"
	"refchain/storage"
)

type recorder struct{ got []events.Event }

func (r *recorder) Emit(e events.Event) { r.got = append(r.got, e) }

func (r *recorder) ofType(typ string) []events.Event {
	var out []events.Event
	for _, e := range r.got {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store     *state.Store
	reg       *Registry
	events    *recorder
	authority common.Address
	registrar common.Address
	group     GroupID
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	rec := &recorder{}
	store.SetEmitter(rec)
	f := &fixture{
		store:     store,
		reg:       NewRegistry(store),
		events:    rec,
		authority: common.HexToAddress("0xad"),
		registrar: common.HexToAddress("0xbe"),
		group:     GroupIDFromName("campaign"),
	}
	require.NoError(t, f.reg.InitAuthority(f.authority))
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)
	require.NoError(t, admin.Authorize(SetRegistrars, f.registrar))
	return f
}

func (f *fixture) register(t *testing.T, user common.Address, ref Referrer) {
	t.Helper()
	require.NoError(t, f.reg.RegisterEdge(f.registrar, user, ref, f.group))
}

// chain registers ids[0] under the root and every later id under its
// predecessor.
func (f *fixture) chain(t *testing.T, ids ...byte) {
	t.Helper()
	for i, id := range ids {
		ref := SentinelRoot
		if i > 0 {
			ref = ReferredBy(addr(ids[i-1]))
		}
		f.register(t, addr(id), ref)
	}
}
