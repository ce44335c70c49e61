package comptroller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lendcore/crypto"
)

func TestMembershipSwapRemove(t *testing.T) {
	a := makeAddress(crypto.MarketPrefix, 1)
	b := makeAddress(crypto.MarketPrefix, 2)
	c := makeAddress(crypto.MarketPrefix, 3)

	m := newMembership([]crypto.Address{a, b, c})
	require.Equal(t, 3, m.Len())
	require.False(t, m.add(b), "duplicate add must be a no-op")

	require.True(t, m.remove(a))
	require.Equal(t, []crypto.Address{c, b}, m.Assets())
	require.NoError(t, m.verify())
	require.False(t, m.Contains(a))
	require.True(t, m.Contains(c))

	require.False(t, m.remove(a))
	require.True(t, m.remove(b))
	require.True(t, m.remove(c))
	require.Zero(t, m.Len())
	require.NoError(t, m.verify())
}

func TestMembershipVerifyDetectsCorruption(t *testing.T) {
	a := makeAddress(crypto.MarketPrefix, 1)
	b := makeAddress(crypto.MarketPrefix, 2)
	m := newMembership([]crypto.Address{a, b})
	m.slots[a.Key()] = 1
	require.Error(t, m.verify())

	var nilMembership *Membership
	require.False(t, nilMembership.Contains(a))
	require.Zero(t, nilMembership.Len())
}

func TestSideRoundTrip(t *testing.T) {
	for _, side := range []Side{SupplySide, BorrowSide} {
		parsed, err := ParseSide(side.String())
		require.NoError(t, err)
		require.Equal(t, side, parsed)
	}
	_, err := ParseSide("lateral")
	require.Error(t, err)
}

func TestErrorMatching(t *testing.T) {
	err := fail(NotListed, "market x")
	require.ErrorIs(t, err, ErrNotListed)
	require.NotErrorIs(t, err, ErrPaused)
	require.False(t, IsFatal(err))
	require.Equal(t, NotListed, CodeOf(err))
	require.Equal(t, "comptroller: not_listed: market x", err.Error())

	fatal := catchAbort(func() { abort(Paused, "mint") })
	require.True(t, IsFatal(fatal))
	require.Equal(t, "comptroller: fatal: paused: mint", fatal.Error())
	require.Equal(t, NoError, CodeOf(nil))
}
