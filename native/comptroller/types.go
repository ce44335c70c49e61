package comptroller

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// ModuleName scopes pause switches and log lines emitted by the engine.
const ModuleName = "comptroller"

// Side selects the supply or borrow half of a market's reward state.
type Side uint8

const (
	SupplySide Side = iota
	BorrowSide
)

func (s Side) String() string {
	switch s {
	case SupplySide:
		return "supply"
	case BorrowSide:
		return "borrow"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide maps "supply" or "borrow" onto a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "supply":
		return SupplySide, nil
	case "borrow":
		return BorrowSide, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Market captures the per-market risk configuration. A market is listed once
// and stays listed.
type Market struct {
	Address          crypto.Address
	Listed           bool
	CollateralFactor Exp
	// BorrowCap of zero means uncapped.
	BorrowCap    *uint256.Int
	MintPaused   bool
	BorrowPaused bool
}

// Params holds the global configuration consulted by every operation.
type Params struct {
	Admin                crypto.Address
	PauseGuardian        crypto.Address
	BorrowCapGuardian    crypto.Address
	Oracle               crypto.Address
	CloseFactor          Exp
	LiquidationIncentive Exp
	MaxAssets            uint64
	TransferPaused       bool
	SeizePaused          bool
}

// RewardMarketState is the flywheel checkpoint for one market side.
type RewardMarketState struct {
	Index Double
	Block uint32
}

// RewardConfig names the incentive token. Deployments that call the token
// COMP or something else share the same engine.
type RewardConfig struct {
	Symbol string
	Token  crypto.Address
}

// AccountSnapshot is what a market reports about one account.
type AccountSnapshot struct {
	TokenBalance  *uint256.Int
	BorrowBalance *uint256.Int
	ExchangeRate  Exp
}

// Liquidity is the outcome of a solvency computation. At most one field is
// non-zero.
type Liquidity struct {
	Liquidity *uint256.Int
	Shortfall *uint256.Int
}

// MarketInfo is the read model returned for a listed market.
type MarketInfo struct {
	Market
	RewardSpeed *uint256.Int
	SupplyState RewardMarketState
	BorrowState RewardMarketState
	Deprecated  bool
}

// Membership is the ordered set of markets an account has entered. The slot
// map and the asset slice are the only representation of membership, so
// "account is in market" and "market is in account's assets" cannot diverge.
type Membership struct {
	assets []crypto.Address
	slots  map[string]int
}

func newMembership(assets []crypto.Address) *Membership {
	m := &Membership{
		assets: make([]crypto.Address, 0, len(assets)),
		slots:  make(map[string]int, len(assets)),
	}
	for _, asset := range assets {
		m.add(asset)
	}
	return m
}

// Contains reports whether market has been entered.
func (m *Membership) Contains(market crypto.Address) bool {
	if m == nil {
		return false
	}
	_, ok := m.slots[market.Key()]
	return ok
}

func (m *Membership) Len() int {
	if m == nil {
		return 0
	}
	return len(m.assets)
}

// Assets returns a copy of the entered markets in slot order.
func (m *Membership) Assets() []crypto.Address {
	if m == nil {
		return nil
	}
	return append([]crypto.Address(nil), m.assets...)
}

func (m *Membership) add(market crypto.Address) bool {
	key := market.Key()
	if _, ok := m.slots[key]; ok {
		return false
	}
	m.slots[key] = len(m.assets)
	m.assets = append(m.assets, market)
	return true
}

// remove swaps the last asset into the vacated slot and shrinks the list.
func (m *Membership) remove(market crypto.Address) bool {
	key := market.Key()
	slot, ok := m.slots[key]
	if !ok {
		return false
	}
	last := len(m.assets) - 1
	if slot != last {
		moved := m.assets[last]
		m.assets[slot] = moved
		m.slots[moved.Key()] = slot
	}
	m.assets = m.assets[:last]
	delete(m.slots, key)
	return true
}

// verify checks that every slot points at the asset it names.
func (m *Membership) verify() error {
	if len(m.slots) != len(m.assets) {
		return fmt.Errorf("membership has %d slots for %d assets", len(m.slots), len(m.assets))
	}
	for i, asset := range m.assets {
		slot, ok := m.slots[asset.Key()]
		if !ok || slot != i {
			return fmt.Errorf("membership slot mismatch for %s", asset)
		}
	}
	return nil
}
