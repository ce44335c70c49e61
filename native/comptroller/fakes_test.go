package comptroller

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/storage"
)

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// e18 returns n whole units scaled by 1e18.
func e18(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), expScale) }

func expOf(mantissa string) Exp { return mustExp(mantissa) }

var (
	half      = expOf("500000000000000000")
	one       = expOf("1000000000000000000")
	incentive = expOf("1080000000000000000")
)

type fakeMarket struct {
	addr          crypto.Address
	notMarket     bool
	registry      crypto.Address
	accounts      map[string]AccountSnapshot
	snapshotErr   error
	totalSupply   *uint256.Int
	totalBorrows  *uint256.Int
	borrowIndex   Exp
	reserveFactor Exp
	exchangeRate  Exp
}

func (m *fakeMarket) IsMarket() bool { return !m.notMarket }

func (m *fakeMarket) Comptroller() (crypto.Address, error) { return m.registry, nil }

func (m *fakeMarket) AccountSnapshot(account crypto.Address) (AccountSnapshot, error) {
	if m.snapshotErr != nil {
		return AccountSnapshot{}, m.snapshotErr
	}
	snap, ok := m.accounts[account.Key()]
	if !ok {
		return AccountSnapshot{TokenBalance: zero(), BorrowBalance: zero(), ExchangeRate: m.exchangeRate}, nil
	}
	return snap, nil
}

func (m *fakeMarket) TotalSupply() (*uint256.Int, error)  { return clone(m.totalSupply), nil }
func (m *fakeMarket) TotalBorrows() (*uint256.Int, error) { return clone(m.totalBorrows), nil }
func (m *fakeMarket) BorrowIndex() (Exp, error)           { return m.borrowIndex, nil }
func (m *fakeMarket) ReserveFactor() (Exp, error)         { return m.reserveFactor, nil }
func (m *fakeMarket) ExchangeRateStored() (Exp, error)    { return m.exchangeRate, nil }

func (m *fakeMarket) BalanceOf(account crypto.Address) (*uint256.Int, error) {
	return clone(m.accounts[account.Key()].TokenBalance), nil
}

func (m *fakeMarket) BorrowBalanceStored(account crypto.Address) (*uint256.Int, error) {
	return clone(m.accounts[account.Key()].BorrowBalance), nil
}

// setAccount records the balances a market reports for account.
func (m *fakeMarket) setAccount(account crypto.Address, tokens, borrows *uint256.Int) {
	m.accounts[account.Key()] = AccountSnapshot{
		TokenBalance:  clone(tokens),
		BorrowBalance: clone(borrows),
		ExchangeRate:  m.exchangeRate,
	}
}

type fakeOracle struct {
	prices map[string]*uint256.Int
}

func (o *fakeOracle) UnderlyingPrice(market crypto.Address) (*uint256.Int, error) {
	return clone(o.prices[market.Key()]), nil
}

type fakeRewardToken struct {
	treasury     crypto.Address
	balances     map[string]*uint256.Int
	failTransfer bool
	refuse       map[string]bool
}

func (r *fakeRewardToken) BalanceOf(owner crypto.Address) (*uint256.Int, error) {
	return clone(r.balances[owner.Key()]), nil
}

func (r *fakeRewardToken) Transfer(to crypto.Address, amount *uint256.Int) (bool, error) {
	if r.failTransfer {
		return false, nil
	}
	if r.refuse[to.Key()] {
		return false, errors.New("recipient rejected")
	}
	from := clone(r.balances[r.treasury.Key()])
	if amount.Gt(from) {
		return false, nil
	}
	r.balances[r.treasury.Key()] = new(uint256.Int).Sub(from, amount)
	r.balances[to.Key()] = new(uint256.Int).Add(clone(r.balances[to.Key()]), amount)
	return true, nil
}

func (r *fakeRewardToken) credit(owner crypto.Address, amount *uint256.Int) {
	r.balances[owner.Key()] = amount
}

type fakeResolver struct {
	markets   map[string]*fakeMarket
	oracle    *fakeOracle
	reward    *fakeRewardToken
	oracleErr error
}

func (r *fakeResolver) Market(addr crypto.Address) (MarketToken, error) {
	m, ok := r.markets[addr.Key()]
	if !ok {
		return nil, errors.New("unknown market")
	}
	return m, nil
}

func (r *fakeResolver) Oracle(crypto.Address) (PriceOracle, error) {
	if r.oracleErr != nil {
		return nil, r.oracleErr
	}
	return r.oracle, nil
}

func (r *fakeResolver) RewardToken(crypto.Address) (RewardToken, error) {
	return r.reward, nil
}

type harness struct {
	t        *testing.T
	engine   *Engine
	db       *storage.MemDB
	resolver *fakeResolver
	recorder *events.Recorder
	self     crypto.Address
	admin    crypto.Address
	guardian crypto.Address
	oracle   crypto.Address
	token    crypto.Address
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		db:       storage.NewMemDB(),
		recorder: &events.Recorder{},
		self:     makeAddress(crypto.MarketPrefix, 0xC0),
		admin:    makeAddress(crypto.NHBPrefix, 0xA0),
		guardian: makeAddress(crypto.NHBPrefix, 0xA1),
		oracle:   makeAddress(crypto.MarketPrefix, 0x0A),
		token:    makeAddress(crypto.MarketPrefix, 0x70),
	}
	h.resolver = &fakeResolver{
		markets: map[string]*fakeMarket{},
		oracle:  &fakeOracle{prices: map[string]*uint256.Int{}},
		reward:  &fakeRewardToken{treasury: h.self, balances: map[string]*uint256.Int{}},
	}
	base := []Option{
		WithEmitter(h.recorder),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRewardConfig(RewardConfig{Symbol: "COMP", Token: h.token}),
	}
	h.engine = New(h.db, h.self, h.resolver, append(base, opts...)...)

	require.NoError(t, h.engine.Initialize(h.admin))
	require.NoError(t, h.engine.SetPriceOracle(h.admin, h.oracle))
	require.NoError(t, h.engine.SetPauseGuardian(h.admin, h.guardian))
	require.NoError(t, h.engine.SetBorrowCapGuardian(h.admin, h.guardian))
	require.NoError(t, h.engine.SetCloseFactor(h.admin, half))
	require.NoError(t, h.engine.SetLiquidationIncentive(h.admin, incentive))
	require.NoError(t, h.engine.SetMaxAssets(h.admin, 10))
	h.recorder.Reset()
	return h
}

// addMarket registers a collaborator, lists it and sets its price (whole
// dollars) and collateral factor.
func (h *harness) addMarket(b byte, price uint64, factor Exp) *fakeMarket {
	h.t.Helper()
	m := h.newMarket(b)
	h.setPrice(m.addr, price)
	require.NoError(h.t, h.engine.ListMarket(h.admin, m.addr))
	if !factor.IsZero() {
		require.NoError(h.t, h.engine.SetCollateralFactor(h.admin, m.addr, factor))
	}
	return m
}

// newMarket registers a collaborator without listing it.
func (h *harness) newMarket(b byte) *fakeMarket {
	m := &fakeMarket{
		addr:         makeAddress(crypto.MarketPrefix, b),
		registry:     h.self,
		accounts:     map[string]AccountSnapshot{},
		totalSupply:  zero(),
		totalBorrows: zero(),
		borrowIndex:  one,
		exchangeRate: one,
	}
	h.resolver.markets[m.addr.Key()] = m
	return m
}

func (h *harness) setPrice(market crypto.Address, dollars uint64) {
	h.resolver.oracle.prices[market.Key()] = e18(dollars)
}

func (h *harness) enter(account crypto.Address, markets ...crypto.Address) {
	h.t.Helper()
	codes, err := h.engine.EnterMarkets(account, markets)
	require.NoError(h.t, err)
	for i, code := range codes {
		require.Equal(h.t, NoError, code, "market %d", i)
	}
}

func requireCode(t *testing.T, err error, code Code, fatal bool) {
	t.Helper()
	require.Error(t, err)
	var cerr *Error
	require.True(t, errors.As(err, &cerr), "expected *Error, got %T: %v", err, err)
	require.Equal(t, code, cerr.Code, "error: %v", err)
	require.Equal(t, fatal, cerr.Fatal, "error: %v", err)
}

// catchAbort runs fn and returns the fatal error it raised, if any.
func catchAbort(fn func()) (out *Error) {
	defer func() {
		if r := recover(); r != nil {
			out = r.(*Error)
		}
	}()
	fn()
	return nil
}
