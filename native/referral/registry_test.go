package referral

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"refchain/core/events"
	nativecommon "refchain/native/common"
)

func TestRegisterEdgeStoresLinks(t *testing.T) {
	f := newFixture(t)
	f.chain(t, 1, 2)
	f.register(t, addr(3), ReferredBy(addr(1)))

	ref, ok, err := f.reg.Referrer(addr(2), f.group)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ReferredBy(addr(1)), ref)

	ref, ok, err = f.reg.Referrer(addr(1), f.group)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ref.Root)

	children, err := f.reg.Children(ReferredBy(addr(1)), f.group)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(2), addr(3)}, children)

	roots, err := f.reg.Children(SentinelRoot, f.group)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(1)}, roots)

	registered, err := f.reg.IsRegistered(addr(9), f.group)
	require.NoError(t, err)
	require.False(t, registered)

	edges := f.events.ofType(events.TypeReferralEdgeRegistered)
	require.Len(t, edges, 3)
	first := edges[0].(events.ReferralEdgeRegistered)
	require.True(t, first.Root)
	require.Equal(t, f.registrar, first.Registrar)
}

func TestRegisterEdgeCycleDetected(t *testing.T) {
	f := newFixture(t)
	f.register(t, addr(0xb), SentinelRoot)
	f.register(t, addr(0xa), ReferredBy(addr(0xb)))

	err := f.reg.RegisterEdge(f.registrar, addr(0xb), ReferredBy(addr(0xa)), f.group)
	require.ErrorIs(t, err, ErrCycleDetected)
}

func TestRegisterEdgeDeepCycleDetected(t *testing.T) {
	f := newFixture(t)
	f.chain(t, 1, 2, 3, 4, 5)
	err := f.reg.RegisterEdge(f.registrar, addr(2), ReferredBy(addr(5)), f.group)
	require.ErrorIs(t, err, ErrCycleDetected)
}

func TestRegisterEdgeDuplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, addr(0xa), SentinelRoot)
	err := f.reg.RegisterEdge(f.registrar, addr(0xa), SentinelRoot, f.group)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	f.register(t, addr(0xb), SentinelRoot)
	err = f.reg.RegisterEdge(f.registrar, addr(0xa), ReferredBy(addr(0xb)), f.group)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegisterEdgeValidation(t *testing.T) {
	f := newFixture(t)
	f.register(t, addr(1), SentinelRoot)

	cases := map[string]struct {
		caller common.Address
		user   common.Address
		ref    Referrer
		want   error
	}{
		"unauthorised caller": {caller: addr(0x77), user: addr(2), ref: SentinelRoot, want: ErrUnauthorizedRegistrar},
		"zero user":           {caller: f.registrar, user: common.Address{}, ref: SentinelRoot, want: ErrInvalidIdentity},
		"self referral":       {caller: f.registrar, user: addr(2), ref: ReferredBy(addr(2)), want: ErrInvalidIdentity},
		"zero referrer":       {caller: f.registrar, user: addr(2), ref: ReferredBy(common.Address{}), want: ErrInvalidIdentity},
		"unknown referrer":    {caller: f.registrar, user: addr(2), ref: ReferredBy(addr(9)), want: ErrReferrerNotInTree},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.reg.RegisterEdge(tc.caller, tc.user, tc.ref, f.group)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	f := newFixture(t)
	other := GroupIDFromName("other")
	f.register(t, addr(1), SentinelRoot)

	err := f.reg.RegisterEdge(f.registrar, addr(2), ReferredBy(addr(1)), other)
	require.ErrorIs(t, err, ErrReferrerNotInTree)

	require.NoError(t, f.reg.RegisterEdge(f.registrar, addr(2), SentinelRoot, other))
	require.NoError(t, f.reg.RegisterEdge(f.registrar, addr(1), ReferredBy(addr(2)), other))
	ref, ok, err := f.reg.Referrer(addr(1), f.group)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ref.Root)
}

func TestBatchRegisterEdgeAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.register(t, addr(1), SentinelRoot)
	f.register(t, addr(3), SentinelRoot)
	before := len(f.events.got)

	err := f.reg.BatchRegisterEdge(f.registrar, []common.Address{addr(2), addr(3), addr(4)}, ReferredBy(addr(1)), f.group)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	for _, id := range []byte{2, 4} {
		ok, err := f.reg.IsRegistered(addr(id), f.group)
		require.NoError(t, err)
		require.False(t, ok, "user %d must not be persisted", id)
	}
	require.Len(t, f.events.got, before)

	err = f.reg.BatchRegisterEdge(f.registrar, []common.Address{addr(2), addr(2)}, ReferredBy(addr(1)), f.group)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	require.ErrorIs(t, f.reg.BatchRegisterEdge(f.registrar, nil, SentinelRoot, f.group), ErrInvalidIdentity)

	require.NoError(t, f.reg.BatchRegisterEdge(f.registrar, []common.Address{addr(2), addr(4)}, ReferredBy(addr(1)), f.group))
	children, err := f.reg.Children(ReferredBy(addr(1)), f.group)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(2), addr(4)}, children)
}

func TestAncestorsWalkToSentinel(t *testing.T) {
	f := newFixture(t)
	f.chain(t, 1, 2, 3, 4)

	got, err := f.reg.Ancestors(addr(4), f.group, 10).Collect()
	require.NoError(t, err)
	require.Equal(t, []Ancestor{
		{Address: addr(3), Level: 1},
		{Address: addr(2), Level: 2},
		{Address: addr(1), Level: 3},
		{Level: 4, Sentinel: true},
	}, got)

	got, err = f.reg.Ancestors(addr(4), f.group, 2).Collect()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, addr(2), got[1].Address)

	got, err = f.reg.Ancestors(addr(9), f.group, 10).Collect()
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = f.reg.Ancestors(addr(4), f.group, 0).Collect()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAncestorsCursorIsNotRestartable(t *testing.T) {
	f := newFixture(t)
	f.chain(t, 1, 2)
	it := f.reg.Ancestors(addr(2), f.group, 5)
	require.True(t, it.Next())
	require.True(t, it.Next())
	require.True(t, it.Ancestor().Sentinel)
	require.False(t, it.Next())
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.chain(t, 1, 2, 3)
	f.register(t, addr(4), ReferredBy(addr(2)))

	stats, err := f.reg.Stats(addr(2), f.group)
	require.NoError(t, err)
	require.True(t, stats.Registered)
	require.Equal(t, 1, stats.Level)
	require.Equal(t, 2, stats.DirectReferrals)
	require.Equal(t, ReferredBy(addr(1)), stats.Referrer)

	stats, err = f.reg.Stats(addr(1), f.group)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Level)
	require.True(t, stats.Referrer.Root)

	stats, err = f.reg.Stats(addr(99), f.group)
	require.NoError(t, err)
	require.False(t, stats.Registered)
}

func TestPausedRegistryRejectsWrites(t *testing.T) {
	f := newFixture(t)
	admin, err := f.reg.Admin(f.authority)
	require.NoError(t, err)
	require.NoError(t, admin.SetPaused(true))

	err = f.reg.RegisterEdge(f.registrar, addr(1), SentinelRoot, f.group)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	paused, err := f.reg.IsPaused()
	require.NoError(t, err)
	require.True(t, paused)

	require.NoError(t, admin.SetPaused(false))
	f.register(t, addr(1), SentinelRoot)
}

// Random registration attempts must never make a participant its own
// ancestor.
func TestAcyclicityUnderRandomRegistrations(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))
	const population = 40
	for i := 0; i < 400; i++ {
		user := addr(byte(1 + rng.Intn(population)))
		ref := SentinelRoot
		if rng.Intn(4) != 0 {
			ref = ReferredBy(addr(byte(1 + rng.Intn(population))))
		}
		_ = f.reg.RegisterEdge(f.registrar, user, ref, f.group)
	}
	for id := 1; id <= population; id++ {
		user := addr(byte(id))
		got, err := f.reg.Ancestors(user, f.group, MaxTraversalHops).Collect()
		require.NoError(t, err)
		for _, a := range got {
			require.NotEqual(t, user, a.Address, fmt.Sprintf("participant %d is its own ancestor", id))
		}
		if len(got) > 0 {
			require.True(t, got[len(got)-1].Sentinel, "walk for %d must end at the root", id)
		}
	}
}
