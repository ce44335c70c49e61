package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"lendcore/crypto"
	"lendcore/native/comptroller"
)

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil, nil))

	var status statusResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/status", env.token(env.user), nil, &status))
	require.True(t, status.Initialized)
	require.Equal(t, env.self.String(), status.Comptroller)
	require.Len(t, status.LastCommit, 64)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	body := map[string]string{"market": env.market.String(), "minter": env.user.String(), "amount": "10"}

	var p problem
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/v1/hooks/mint", "", body, &p))
	require.Equal(t, "unauthenticated", p.Error)

	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/v1/hooks/mint", "not-a-jwt", body, nil))
	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/hooks/mint", env.token(env.user), body, nil))
	require.Equal(t, http.StatusForbidden,
		env.do(http.MethodPost, "/v1/admin/max-assets", env.token(env.user, ScopeMarket), map[string]uint64{"value": 3}, nil))

	forged, err := IssueToken([]byte("another-secret-another-secret-00"), env.admin, []string{ScopeAdmin}, "", "", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/v1/admin/params", forged, nil, nil))
}

func TestAdminLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	admin := env.token(env.admin, ScopeAdmin)

	var p problem
	require.Equal(t, http.StatusConflict,
		env.do(http.MethodPost, "/v1/admin/markets", admin, map[string]string{"address": env.market.String()}, &p))
	require.Equal(t, "already_listed", p.Error)

	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/admin/max-assets", admin, map[string]uint64{"value": 4}, nil))
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, "/v1/admin/close-factor", admin, map[string]string{"value": "950000000000000000"}, &p))
	require.Equal(t, "invalid_parameter", p.Error)

	// A token with the admin scope whose subject is not the admin is still
	// refused by the engine.
	impostor := env.token(env.user, ScopeAdmin)
	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/admin/max-assets", impostor, map[string]uint64{"value": 9}, nil))

	var params paramsView
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/admin/params", admin, nil, &params))
	require.Equal(t, uint64(4), params.MaxAssets)
	require.Equal(t, env.admin.String(), params.Admin)
	require.Equal(t, "500000000000000000", params.CloseFactor)

	var markets marketsResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/markets", env.token(env.user), nil, &markets))
	require.Len(t, markets.Markets, 1)
	require.Equal(t, env.market.String(), markets.Markets[0].Address)
	require.Equal(t, "500000000000000000", markets.Markets[0].CollateralFactor)

	unknown := address(crypto.MarketPrefix, 0x55)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/markets/"+unknown.String(), env.token(env.user), nil, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/markets/garbage", env.token(env.user), nil, nil))
}

func TestHooksAndLiquidity(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	env.supply(env.user, 100)
	user := env.token(env.user)
	market := env.token(env.market, ScopeMarket)

	var entered enterResponse
	require.Equal(t, http.StatusOK,
		env.do(http.MethodPost, "/v1/markets/enter", user, map[string][]string{"markets": {env.market.String()}}, &entered))
	require.Equal(t, []marketResult{{Market: env.market.String(), Code: "no_error"}}, entered.Results)

	var liquidity liquidityResponse
	require.Equal(t, http.StatusOK,
		env.do(http.MethodGet, "/v1/accounts/"+env.user.String()+"/liquidity", user, nil, &liquidity))
	require.Equal(t, "5000", liquidity.Liquidity)
	require.Equal(t, "0", liquidity.Shortfall)

	var hypothetical liquidityResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/accounts/hypothetical", user, map[string]string{
		"account":       env.user.String(),
		"market":        env.market.String(),
		"borrow_amount": "60",
	}, &hypothetical))
	require.Equal(t, "1000", hypothetical.Shortfall)

	var allowed allowedResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/hooks/borrow", market, map[string]string{
		"market": env.market.String(), "borrower": env.user.String(), "amount": "40",
	}, &allowed))
	require.True(t, allowed.Allowed)

	var p problem
	require.Equal(t, http.StatusUnprocessableEntity, env.do(http.MethodPost, "/v1/hooks/borrow", market, map[string]string{
		"market": env.market.String(), "borrower": env.user.String(), "amount": "60",
	}, &p))
	require.Equal(t, "insufficient_liquidity", p.Error)
	require.False(t, p.Fatal)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/verify/borrow", market, map[string]string{
		"market": env.market.String(), "borrower": env.user.String(), "amount": "40",
	}, nil))

	var assets assetsResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/accounts/"+env.user.String()+"/assets", user, nil, &assets))
	require.Equal(t, []string{env.market.String()}, assets.Assets)

	require.Equal(t, http.StatusNoContent,
		env.do(http.MethodPost, "/v1/markets/exit", user, map[string]string{"market": env.market.String()}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/accounts/"+env.user.String()+"/assets", user, nil, &assets))
	require.Empty(t, assets.Assets)
}

func TestHookValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	market := env.token(env.market, ScopeMarket)

	var p problem
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, "/v1/hooks/mint", market, map[string]string{"market": env.market.String()}, &p))
	require.Equal(t, "invalid_argument", p.Error)
	require.Contains(t, p.Message, "minter")

	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, "/v1/hooks/mint", market, map[string]string{"bogus": "1"}, &p))
	require.Equal(t, "invalid_payload", p.Error)

	require.Equal(t, http.StatusNotFound,
		env.do(http.MethodPost, "/v1/hooks/flashloan", market, map[string]string{}, nil))

	require.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/v1/hooks/mint", market, map[string]string{
		"market": env.market.String(), "minter": env.user.String(), "amount": "1",
	}, &p))
	require.Equal(t, "not_listed", p.Error)
}

func TestPauseFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	guardian := env.token(env.guardian, ScopeGuardian)
	market := env.token(env.market, ScopeMarket)
	mint := map[string]string{"market": env.market.String(), "minter": env.user.String(), "amount": "1"}

	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/admin/pauses", guardian, map[string]any{
		"action": "mint", "market": env.market.String(), "paused": true,
	}, nil))

	var p problem
	require.Equal(t, http.StatusLocked, env.do(http.MethodPost, "/v1/hooks/mint", market, mint, &p))
	require.Equal(t, "paused", p.Error)
	require.True(t, p.Fatal)

	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/admin/pauses", guardian, map[string]any{
		"action": "mint", "market": env.market.String(), "paused": false,
	}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/admin/pauses", guardian, map[string]any{
		"action": "liquidate", "paused": true,
	}, nil))
	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/admin/params", guardian, nil, nil))

	admin := env.token(env.admin, ScopeAdmin)
	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/admin/pauses", admin, map[string]any{
		"action": "mint", "market": env.market.String(), "paused": false,
	}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/hooks/mint", market, mint, nil))
}

func TestRewardsEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	admin := env.token(env.admin, ScopeAdmin)
	contributor := address(crypto.NHBPrefix, 0x33)

	env.engine.SetBlockHeight(10)
	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost,
		"/v1/admin/contributors/"+contributor.String()+"/speed", admin, map[string]string{"value": "3"}, nil))
	env.engine.SetBlockHeight(15)

	var rewards rewardsResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodPost,
		"/v1/rewards/contributors/"+contributor.String()+"/update", env.token(env.user), nil, &rewards))
	require.Equal(t, "15", rewards.Accrued)
	require.Equal(t, "COMP", rewards.Symbol)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet,
		"/v1/accounts/"+contributor.String()+"/rewards", env.token(env.user), nil, &rewards))
	require.Equal(t, "15", rewards.Accrued)

	// Nothing is owed on the market itself, so the claim never touches the
	// token and succeeds.
	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/rewards/claim", env.token(env.user),
		map[string]any{"markets": []string{env.market.String()}}, nil))

	// The contributor's accrual needs a transfer, which the stub token
	// refuses. The claim succeeds and the accrual is kept.
	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/rewards/claim", env.token(contributor),
		map[string]any{}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodGet,
		"/v1/accounts/"+contributor.String()+"/rewards", env.token(env.user), nil, &rewards))
	require.Equal(t, "15", rewards.Accrued)
}

func TestSeizeTokensEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.listMarket()
	admin := env.token(env.admin, ScopeAdmin)
	require.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/v1/admin/liquidation-incentive", admin,
		map[string]string{"value": "1080000000000000000"}, nil))

	var resp seizeTokensResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/liquidations/seize-tokens", env.token(env.user), map[string]string{
		"borrowed": env.market.String(), "collateral": env.market.String(), "repay_amount": "100",
	}, &resp))
	require.Equal(t, "108", resp.SeizeTokens)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: RateLimit{RequestsPerMinute: 1, Burst: 1}})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil, nil))
	var p problem
	require.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/healthz", "", nil, &p))
	require.Equal(t, "rate_limited", p.Error)
}

func TestRateLimitPerSubject(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: RateLimit{RequestsPerMinute: 1, Burst: 1}})
	first := env.token(env.user)
	second := env.token(address(crypto.NHBPrefix, 0x44))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/status", first, nil, nil))
	require.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/v1/status", first, nil, nil))

	// Same remote address, different subject: a separate bucket.
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/status", second, nil, nil))

	// Forwarding headers do not select a bucket.
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	resp, err = env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	require.Equal(t, "ip:10.0.0.7", clientID(req))

	subject := address(crypto.NHBPrefix, 0x45)
	ctx := context.WithValue(req.Context(), principalContextKey{}, Principal{Subject: subject})
	require.Equal(t, "sub:"+subject.String(), clientID(req.WithContext(ctx)))
}

func TestEffectStream(t *testing.T) {
	env := newTestEnv(t, Config{OriginPatterns: []string{"*"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/effects/ws?types=" + comptroller.EventTypeMarketListed
	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token(env.user))
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env.listMarket()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var update EffectUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	require.Equal(t, comptroller.EventTypeMarketListed, update.Type)
	require.Equal(t, env.market.String(), update.Attributes["market"])
	require.NotEmpty(t, update.Cursor)
}

func TestHubBacklogAfterCursor(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 3; i++ {
		hub.Emit(comptroller.MarketListed{Market: address(crypto.MarketPrefix, byte(i+1))})
	}
	_, cancel, backlog := hub.Subscribe("1")
	defer cancel()
	require.Len(t, backlog, 2)
	require.Equal(t, uint64(2), backlog[0].Sequence)
	require.Equal(t, "3", backlog[1].Cursor)

	live, cancelLive, _ := hub.Subscribe("")
	hub.Emit(comptroller.MarketListed{Market: address(crypto.MarketPrefix, 9)})
	update := <-live
	require.Equal(t, uint64(4), update.Sequence)
	cancelLive()
	cancelLive()
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{comptroller.ErrNotInitialized, http.StatusServiceUnavailable},
		{&comptroller.Error{Code: comptroller.Paused, Fatal: true}, http.StatusLocked},
		{&comptroller.Error{Code: comptroller.Unauthorized}, http.StatusForbidden},
		{&comptroller.Error{Code: comptroller.NotListed}, http.StatusNotFound},
		{&comptroller.Error{Code: comptroller.AlreadyListed}, http.StatusConflict},
		{&comptroller.Error{Code: comptroller.PriceUnavailable}, http.StatusServiceUnavailable},
		{&comptroller.Error{Code: comptroller.SnapshotUnavailable}, http.StatusServiceUnavailable},
		{&comptroller.Error{Code: comptroller.InvalidParameter}, http.StatusBadRequest},
		{&comptroller.Error{Code: comptroller.TooMuchRepay}, http.StatusUnprocessableEntity},
		{&comptroller.Error{Code: comptroller.BorrowCapExceeded}, http.StatusUnprocessableEntity},
		{&comptroller.Error{Code: comptroller.InvariantViolation, Fatal: true}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}
