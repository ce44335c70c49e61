package node

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/crypto"
	"lendcore/native/comptroller"
)

// Resolver binds comptroller collaborators to contracts on the node. Every
// call uses a fresh context bounded by the client timeout, since the
// comptroller interfaces are synchronous.
type Resolver struct {
	client *Client
	self   crypto.Address
}

// NewResolver returns a Resolver reading through client. self is the
// comptroller address that holds the reward treasury.
func NewResolver(client *Client, self crypto.Address) *Resolver {
	return &Resolver{client: client, self: self}
}

func (r *Resolver) call(method string, params []any, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.client.timeout)
	defer cancel()
	return r.client.Call(ctx, method, params, out)
}

func (r *Resolver) Market(addr crypto.Address) (comptroller.MarketToken, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("market address required")
	}
	return &market{resolver: r, addr: addr}, nil
}

func (r *Resolver) Oracle(addr crypto.Address) (comptroller.PriceOracle, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("oracle address required")
	}
	return &oracle{resolver: r, addr: addr}, nil
}

func (r *Resolver) RewardToken(addr crypto.Address) (comptroller.RewardToken, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("reward token address required")
	}
	return &rewardToken{resolver: r, addr: addr}, nil
}

func decodeAmount(method, raw string) (*uint256.Int, error) {
	amount, err := comptroller.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return amount, nil
}

func (r *Resolver) amount(method string, params ...any) (*uint256.Int, error) {
	var raw string
	if err := r.call(method, params, &raw); err != nil {
		return nil, err
	}
	return decodeAmount(method, raw)
}

func (r *Resolver) exp(method string, params ...any) (comptroller.Exp, error) {
	amount, err := r.amount(method, params...)
	if err != nil {
		return comptroller.Exp{}, err
	}
	return comptroller.NewExp(amount), nil
}

type market struct {
	resolver *Resolver
	addr     crypto.Address
}

// IsMarket treats a failed probe as a negative answer.
func (m *market) IsMarket() bool {
	var ok bool
	if err := m.resolver.call("market_isMarket", []any{m.addr.String()}, &ok); err != nil {
		return false
	}
	return ok
}

func (m *market) Comptroller() (crypto.Address, error) {
	var raw string
	if err := m.resolver.call("market_comptroller", []any{m.addr.String()}, &raw); err != nil {
		return crypto.Address{}, err
	}
	return crypto.DecodeAddress(raw)
}

type snapshotResult struct {
	TokenBalance  string `json:"tokenBalance"`
	BorrowBalance string `json:"borrowBalance"`
	ExchangeRate  string `json:"exchangeRate"`
}

func (m *market) AccountSnapshot(account crypto.Address) (comptroller.AccountSnapshot, error) {
	var raw snapshotResult
	if err := m.resolver.call("market_accountSnapshot", []any{m.addr.String(), account.String()}, &raw); err != nil {
		return comptroller.AccountSnapshot{}, err
	}
	tokens, err := decodeAmount("market_accountSnapshot", raw.TokenBalance)
	if err != nil {
		return comptroller.AccountSnapshot{}, err
	}
	borrows, err := decodeAmount("market_accountSnapshot", raw.BorrowBalance)
	if err != nil {
		return comptroller.AccountSnapshot{}, err
	}
	rate, err := comptroller.ParseExp(raw.ExchangeRate)
	if err != nil {
		return comptroller.AccountSnapshot{}, fmt.Errorf("market_accountSnapshot: %w", err)
	}
	return comptroller.AccountSnapshot{TokenBalance: tokens, BorrowBalance: borrows, ExchangeRate: rate}, nil
}

func (m *market) TotalSupply() (*uint256.Int, error) {
	return m.resolver.amount("market_totalSupply", m.addr.String())
}

func (m *market) TotalBorrows() (*uint256.Int, error) {
	return m.resolver.amount("market_totalBorrows", m.addr.String())
}

func (m *market) BorrowIndex() (comptroller.Exp, error) {
	return m.resolver.exp("market_borrowIndex", m.addr.String())
}

func (m *market) ReserveFactor() (comptroller.Exp, error) {
	return m.resolver.exp("market_reserveFactor", m.addr.String())
}

func (m *market) ExchangeRateStored() (comptroller.Exp, error) {
	return m.resolver.exp("market_exchangeRateStored", m.addr.String())
}

func (m *market) BalanceOf(account crypto.Address) (*uint256.Int, error) {
	return m.resolver.amount("market_balanceOf", m.addr.String(), account.String())
}

func (m *market) BorrowBalanceStored(account crypto.Address) (*uint256.Int, error) {
	return m.resolver.amount("market_borrowBalanceStored", m.addr.String(), account.String())
}

type oracle struct {
	resolver *Resolver
	addr     crypto.Address
}

func (o *oracle) UnderlyingPrice(market crypto.Address) (*uint256.Int, error) {
	return o.resolver.amount("oracle_underlyingPrice", o.addr.String(), market.String())
}

type rewardToken struct {
	resolver *Resolver
	addr     crypto.Address
}

func (t *rewardToken) BalanceOf(owner crypto.Address) (*uint256.Int, error) {
	return t.resolver.amount("token_balanceOf", t.addr.String(), owner.String())
}

// Transfer moves amount from the comptroller treasury to recipient.
func (t *rewardToken) Transfer(to crypto.Address, amount *uint256.Int) (bool, error) {
	var ok bool
	params := []any{t.addr.String(), t.resolver.self.String(), to.String(), amount.Dec()}
	if err := t.resolver.call("token_transfer", params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
