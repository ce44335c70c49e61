package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/crypto"
	"lendcore/native/comptroller"
)

type stubNode struct {
	mu      sync.Mutex
	results map[string]any
	calls   []rpcRequest
	headers []http.Header
}

func (s *stubNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.headers = append(s.headers, r.Header.Clone())
	result, ok := s.results[req.Method]
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (s *stubNode) lastParams(t *testing.T) []any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	params, ok := s.calls[len(s.calls)-1].Params.([]any)
	require.True(t, ok)
	return params
}

func newStub(t *testing.T, results map[string]any) (*stubNode, *Client) {
	t.Helper()
	stub := &stubNode{results: results}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		BaseURL:            srv.URL,
		BearerToken:        "token",
		SharedSecretHeader: "X-Shared",
		SharedSecretValue:  "secret",
		AllowInsecure:      true,
	})
	require.NoError(t, err)
	return stub, client
}

func addr(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func TestClientCallSendsCredentials(t *testing.T) {
	stub, client := newStub(t, map[string]any{"chain_blockNumber": 42})
	height, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)

	require.Len(t, stub.headers, 1)
	require.Equal(t, "Bearer token", stub.headers[0].Get("Authorization"))
	require.Equal(t, "secret", stub.headers[0].Get("X-Shared"))
	require.Equal(t, "2.0", stub.calls[0].JSONRPC)
}

func TestClientRPCError(t *testing.T) {
	_, client := newStub(t, map[string]any{})
	err := client.Call(context.Background(), "missing", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{AllowInsecure: true})
	require.Error(t, err)
}

func TestResolverMarket(t *testing.T) {
	self := addr(crypto.MarketPrefix, 0xC0)
	m := addr(crypto.MarketPrefix, 0x01)
	user := addr(crypto.NHBPrefix, 0x02)
	stub, client := newStub(t, map[string]any{
		"market_isMarket":    true,
		"market_comptroller": self.String(),
		"market_accountSnapshot": map[string]string{
			"tokenBalance":  "100",
			"borrowBalance": "7",
			"exchangeRate":  "200000000000000000",
		},
		"market_totalSupply":         "1000",
		"market_borrowIndex":         "1000000000000000000",
		"market_borrowBalanceStored": "7",
	})
	resolver := NewResolver(client, self)

	market, err := resolver.Market(m)
	require.NoError(t, err)
	require.True(t, market.IsMarket())

	registry, err := market.Comptroller()
	require.NoError(t, err)
	require.True(t, registry.Equal(self))

	snap, err := market.AccountSnapshot(user)
	require.NoError(t, err)
	require.Equal(t, uint64(100), snap.TokenBalance.Uint64())
	require.Equal(t, uint64(7), snap.BorrowBalance.Uint64())
	require.Equal(t, "200000000000000000", snap.ExchangeRate.String())
	require.Equal(t, []any{m.String(), user.String()}, stub.lastParams(t))

	supply, err := market.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, uint64(1000), supply.Uint64())

	index, err := market.BorrowIndex()
	require.NoError(t, err)
	require.Equal(t, 0, index.Cmp(comptroller.ExpFromUint64(1_000_000_000_000_000_000)))

	_, err = market.TotalBorrows()
	require.Error(t, err)
}

func TestResolverOracleAndToken(t *testing.T) {
	self := addr(crypto.MarketPrefix, 0xC0)
	oracleAddr := addr(crypto.MarketPrefix, 0x0A)
	tokenAddr := addr(crypto.MarketPrefix, 0x70)
	market := addr(crypto.MarketPrefix, 0x01)
	user := addr(crypto.NHBPrefix, 0x02)
	stub, client := newStub(t, map[string]any{
		"oracle_underlyingPrice": "5000",
		"token_balanceOf":        "9",
		"token_transfer":         true,
	})
	resolver := NewResolver(client, self)

	oracle, err := resolver.Oracle(oracleAddr)
	require.NoError(t, err)
	price, err := oracle.UnderlyingPrice(market)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), price.Uint64())
	require.Equal(t, []any{oracleAddr.String(), market.String()}, stub.lastParams(t))

	token, err := resolver.RewardToken(tokenAddr)
	require.NoError(t, err)
	balance, err := token.BalanceOf(self)
	require.NoError(t, err)
	require.Equal(t, uint64(9), balance.Uint64())

	ok, err := token.Transfer(user, uint256.NewInt(4))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{tokenAddr.String(), self.String(), user.String(), "4"}, stub.lastParams(t))

	_, err = resolver.Oracle(crypto.Address{})
	require.Error(t, err)
}

type heightRecorder struct{ heights []uint64 }

func (h *heightRecorder) SetBlockHeight(height uint64) { h.heights = append(h.heights, height) }

func TestFollowerForwardsAdvances(t *testing.T) {
	stub, client := newStub(t, map[string]any{"chain_blockNumber": 10})
	sink := &heightRecorder{}
	follower := NewFollower(client, sink, 0, nil)

	height, err := follower.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(10), height)

	_, err = follower.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, sink.heights)

	stub.mu.Lock()
	stub.results["chain_blockNumber"] = 12
	stub.mu.Unlock()
	_, err = follower.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 12}, sink.heights)
}
