package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/crypto"
	"lendcore/native/comptroller"
	"lendcore/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var e18 = uint256.NewInt(1_000_000_000_000_000_000)

func dollars(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), e18) }

func address(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type stubMarket struct {
	registry crypto.Address
	accounts map[string]comptroller.AccountSnapshot
}

func (m *stubMarket) IsMarket() bool { return true }

func (m *stubMarket) Comptroller() (crypto.Address, error) { return m.registry, nil }

func (m *stubMarket) TotalSupply() (*uint256.Int, error) { return new(uint256.Int), nil }

func (m *stubMarket) TotalBorrows() (*uint256.Int, error) { return new(uint256.Int), nil }

func (m *stubMarket) BorrowIndex() (comptroller.Exp, error) { return comptroller.NewExp(e18), nil }

func (m *stubMarket) ReserveFactor() (comptroller.Exp, error) { return comptroller.Exp{}, nil }

func (m *stubMarket) ExchangeRateStored() (comptroller.Exp, error) {
	return comptroller.NewExp(e18), nil
}

func (m *stubMarket) AccountSnapshot(account crypto.Address) (comptroller.AccountSnapshot, error) {
	if snap, ok := m.accounts[account.Key()]; ok {
		return snap, nil
	}
	return comptroller.AccountSnapshot{
		TokenBalance:  new(uint256.Int),
		BorrowBalance: new(uint256.Int),
		ExchangeRate:  comptroller.NewExp(e18),
	}, nil
}

func (m *stubMarket) BalanceOf(account crypto.Address) (*uint256.Int, error) {
	snap, _ := m.AccountSnapshot(account)
	return snap.TokenBalance, nil
}

func (m *stubMarket) BorrowBalanceStored(account crypto.Address) (*uint256.Int, error) {
	snap, _ := m.AccountSnapshot(account)
	return snap.BorrowBalance, nil
}

type stubOracle struct{ prices map[string]*uint256.Int }

func (o *stubOracle) UnderlyingPrice(market crypto.Address) (*uint256.Int, error) {
	if price, ok := o.prices[market.Key()]; ok {
		return price, nil
	}
	return new(uint256.Int), nil
}

// stubToken reports a funded treasury but refuses every transfer.
type stubToken struct{}

func (stubToken) BalanceOf(crypto.Address) (*uint256.Int, error) { return dollars(1_000_000), nil }

func (stubToken) Transfer(crypto.Address, *uint256.Int) (bool, error) {
	return false, errors.New("transfers disabled")
}

type stubResolver struct {
	markets map[string]*stubMarket
	oracle  *stubOracle
}

func (r *stubResolver) Market(addr crypto.Address) (comptroller.MarketToken, error) {
	if m, ok := r.markets[addr.Key()]; ok {
		return m, nil
	}
	return nil, errors.New("unknown market")
}

func (r *stubResolver) Oracle(crypto.Address) (comptroller.PriceOracle, error) { return r.oracle, nil }

func (r *stubResolver) RewardToken(crypto.Address) (comptroller.RewardToken, error) {
	return stubToken{}, nil
}

type testEnv struct {
	t        *testing.T
	engine   *comptroller.Engine
	hub      *Hub
	srv      *httptest.Server
	resolver *stubResolver
	self     crypto.Address
	admin    crypto.Address
	guardian crypto.Address
	user     crypto.Address
	market   crypto.Address
	oracle   crypto.Address
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		self:     address(crypto.MarketPrefix, 0xC0),
		admin:    address(crypto.NHBPrefix, 0xA0),
		guardian: address(crypto.NHBPrefix, 0xA1),
		user:     address(crypto.NHBPrefix, 0x11),
		market:   address(crypto.MarketPrefix, 0x01),
		oracle:   address(crypto.MarketPrefix, 0x0A),
	}
	env.resolver = &stubResolver{
		markets: map[string]*stubMarket{
			env.market.Key(): {registry: env.self, accounts: map[string]comptroller.AccountSnapshot{}},
		},
		oracle: &stubOracle{prices: map[string]*uint256.Int{env.market.Key(): dollars(100)}},
	}
	env.hub = NewHub(func() uint64 { return env.engine.BlockHeight() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = comptroller.New(storage.NewMemDB(), env.self, env.resolver,
		comptroller.WithEmitter(env.hub),
		comptroller.WithLogger(logger),
		comptroller.WithRewardConfig(comptroller.RewardConfig{Symbol: "COMP", Token: address(crypto.MarketPrefix, 0x70)}))

	require.NoError(t, env.engine.Initialize(env.admin))
	require.NoError(t, env.engine.SetPriceOracle(env.admin, env.oracle))
	require.NoError(t, env.engine.SetPauseGuardian(env.admin, env.guardian))
	require.NoError(t, env.engine.SetCloseFactor(env.admin, comptroller.ExpFromUint64(500_000_000_000_000_000)))

	if cfg.Auth.HMACSecret == "" {
		cfg.Auth.HMACSecret = testSecret
	}
	server, err := New(env.engine, env.hub, cfg, logger)
	require.NoError(t, err)
	env.srv = httptest.NewServer(server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (env *testEnv) token(subject crypto.Address, scopes ...string) string {
	env.t.Helper()
	token, err := IssueToken([]byte(testSecret), subject, scopes, "", "", time.Hour)
	require.NoError(env.t, err)
	return token
}

// do sends body as JSON and decodes a JSON response into out when non-nil.
func (env *testEnv) do(method, path, token string, body any, out any) int {
	env.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.srv.URL+path, reader)
	require.NoError(env.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.srv.Client().Do(req)
	require.NoError(env.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(env.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (env *testEnv) listMarket() {
	env.t.Helper()
	admin := env.token(env.admin, ScopeAdmin)
	require.Equal(env.t, http.StatusCreated,
		env.do(http.MethodPost, "/v1/admin/markets", admin, map[string]string{"address": env.market.String()}, nil))
	require.Equal(env.t, http.StatusNoContent,
		env.do(http.MethodPost, "/v1/admin/markets/"+env.market.String()+"/collateral-factor", admin,
			map[string]string{"value": "500000000000000000"}, nil))
}

func (env *testEnv) supply(account crypto.Address, tokens uint64) {
	env.resolver.markets[env.market.Key()].accounts[account.Key()] = comptroller.AccountSnapshot{
		TokenBalance:  uint256.NewInt(tokens),
		BorrowBalance: new(uint256.Int),
		ExchangeRate:  comptroller.NewExp(e18),
	}
}
