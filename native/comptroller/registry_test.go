package comptroller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lendcore/crypto"
)

func TestListMarket(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(0x11)
	stranger := makeAddress(crypto.NHBPrefix, 0x55)

	requireCode(t, h.engine.ListMarket(stranger, m.addr), Unauthorized, false)
	require.NoError(t, h.engine.ListMarket(h.admin, m.addr))
	requireCode(t, h.engine.ListMarket(h.admin, m.addr), AlreadyListed, false)

	markets, err := h.engine.AllMarkets()
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{m.addr}, markets)

	info, err := h.engine.MarketInfo(m.addr)
	require.NoError(t, err)
	require.True(t, info.Listed)
	require.True(t, info.CollateralFactor.IsZero())
	require.True(t, info.BorrowCap.IsZero())

	listed := h.recorder.OfType(EventTypeMarketListed)
	require.Len(t, listed, 1)
	require.Equal(t, m.addr.String(), listed[0].Event().Attributes["market"])
}

func TestListMarketRejectsNonMarket(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(0x12)
	m.notMarket = true
	requireCode(t, h.engine.ListMarket(h.admin, m.addr), CollaboratorFailure, true)

	_, err := h.engine.MarketInfo(m.addr)
	requireCode(t, err, NotListed, false)
}

func TestSetCollateralFactor(t *testing.T) {
	h := newHarness(t)
	m := h.addMarket(0x11, 100, Exp{})

	requireCode(t, h.engine.SetCollateralFactor(h.admin, m.addr, expOf("950000000000000000")), InvalidParameter, false)
	requireCode(t, h.engine.SetCollateralFactor(h.guardian, m.addr, half), Unauthorized, false)
	requireCode(t, h.engine.SetCollateralFactor(h.admin, h.newMarket(0x13).addr, half), NotListed, false)

	require.NoError(t, h.engine.SetCollateralFactor(h.admin, m.addr, expOf("900000000000000000")))

	// Zero is accepted with no price; a positive factor is not.
	h.setPrice(m.addr, 0)
	require.NoError(t, h.engine.SetCollateralFactor(h.admin, m.addr, Exp{}))
	requireCode(t, h.engine.SetCollateralFactor(h.admin, m.addr, half), PriceUnavailable, false)

	changes := h.recorder.OfType(EventTypeParameterChanged)
	require.Len(t, changes, 2)
	last := changes[1].Event().Attributes
	require.Equal(t, "900000000000000000", last["previous"])
	require.Equal(t, "0", last["current"])
}

func TestEnterMarketsReportsPerMarketCodes(t *testing.T) {
	h := newHarness(t)
	a := h.addMarket(0x11, 1, half)
	b := h.addMarket(0x12, 1, half)
	unlisted := h.newMarket(0x13)
	account := makeAddress(crypto.NHBPrefix, 0x01)

	require.NoError(t, h.engine.SetMaxAssets(h.admin, 1))
	codes, err := h.engine.EnterMarkets(account, []crypto.Address{a.addr, unlisted.addr, a.addr, b.addr})
	require.NoError(t, err)
	require.Equal(t, []Code{NoError, NotListed, NoError, TooManyAssets}, codes)

	assets, err := h.engine.AssetsIn(account)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{a.addr}, assets)
	require.Len(t, h.recorder.OfType(EventTypeMarketEntered), 1)

	require.NoError(t, h.engine.SetMaxAssets(h.admin, 0))
	h.enter(account, b.addr)
	member, err := h.engine.CheckMembership(account, b.addr)
	require.NoError(t, err)
	require.True(t, member)
}

func TestExitMarket(t *testing.T) {
	h := newHarness(t)
	a := h.addMarket(0x11, 100, half)
	b := h.addMarket(0x12, 100, half)
	c := h.addMarket(0x13, 100, half)
	account := makeAddress(crypto.NHBPrefix, 0x01)
	h.enter(account, a.addr, b.addr, c.addr)

	b.setAccount(account, u(10), u(1))
	requireCode(t, h.engine.ExitMarket(account, b.addr), NonzeroBorrowBalance, false)

	// Collateral in a backs a borrow in c; leaving a would leave a shortfall.
	a.setAccount(account, u(100), zero())
	b.setAccount(account, zero(), zero())
	c.setAccount(account, zero(), u(40))
	requireCode(t, h.engine.ExitMarket(account, a.addr), ExitMarketRejection, false)

	// Leaving b is free and swaps c into its slot.
	require.NoError(t, h.engine.ExitMarket(account, b.addr))
	assets, err := h.engine.AssetsIn(account)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{a.addr, c.addr}, assets)

	member, err := h.engine.CheckMembership(account, b.addr)
	require.NoError(t, err)
	require.False(t, member)

	// Exiting a market twice is a no-op.
	require.NoError(t, h.engine.ExitMarket(account, b.addr))
	require.Len(t, h.recorder.OfType(EventTypeMarketExited), 1)
}

func TestMembershipDualityAcrossOperations(t *testing.T) {
	h := newHarness(t)
	markets := []*fakeMarket{
		h.addMarket(0x11, 1, half),
		h.addMarket(0x12, 1, half),
		h.addMarket(0x13, 1, half),
		h.addMarket(0x14, 1, half),
	}
	account := makeAddress(crypto.NHBPrefix, 0x01)
	for _, m := range markets {
		h.enter(account, m.addr)
	}
	for _, i := range []int{2, 0, 3} {
		require.NoError(t, h.engine.ExitMarket(account, markets[i].addr))
		assets, err := h.engine.AssetsIn(account)
		require.NoError(t, err)
		for _, m := range markets {
			member, err := h.engine.CheckMembership(account, m.addr)
			require.NoError(t, err)
			inList := false
			for _, asset := range assets {
				inList = inList || asset.Equal(m.addr)
			}
			require.Equal(t, member, inList)
		}
	}
	require.NoError(t, h.engine.TransferVerify(markets[1].addr, account, account, u(1)))
}

func TestIsDeprecated(t *testing.T) {
	h := newHarness(t)
	m := h.addMarket(0x11, 1, Exp{})

	deprecated, err := h.engine.IsDeprecated(m.addr)
	require.NoError(t, err)
	require.False(t, deprecated)

	require.NoError(t, h.engine.SetBorrowPaused(h.guardian, m.addr, true))
	m.reserveFactor = expOf("999999999999999999")
	deprecated, err = h.engine.IsDeprecated(m.addr)
	require.NoError(t, err)
	require.False(t, deprecated)

	m.reserveFactor = one
	deprecated, err = h.engine.IsDeprecated(m.addr)
	require.NoError(t, err)
	require.True(t, deprecated)
}
