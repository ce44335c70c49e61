package comptroller

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	EventTypeMarketListed       = "comptroller.market_listed"
	EventTypeMarketEntered      = "comptroller.market_entered"
	EventTypeMarketExited       = "comptroller.market_exited"
	EventTypeParameterChanged   = "comptroller.parameter_changed"
	EventTypePauseChanged       = "comptroller.pause_changed"
	EventTypeRewardSpeedChanged = "comptroller.reward_speed_changed"
	EventTypeRewardDistributed  = "comptroller.reward_distributed"
	EventTypeRewardGranted      = "comptroller.reward_granted"
	EventTypeBorrowCapChanged   = "comptroller.borrow_cap_changed"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func setAddress(attrs map[string]string, key string, addr crypto.Address) {
	if s := addr.String(); s != "" {
		attrs[key] = s
	}
}

// MarketListed is emitted once per market.
type MarketListed struct {
	Market crypto.Address
}

func (MarketListed) EventType() string { return EventTypeMarketListed }

func (e MarketListed) Event() *types.Event {
	attrs := map[string]string{}
	setAddress(attrs, "market", e.Market)
	return &types.Event{Type: EventTypeMarketListed, Attributes: attrs}
}

// MembershipChanged covers both market entry and exit.
type MembershipChanged struct {
	Market  crypto.Address
	Account crypto.Address
	Entered bool
}

func (e MembershipChanged) EventType() string {
	if e.Entered {
		return EventTypeMarketEntered
	}
	return EventTypeMarketExited
}

func (e MembershipChanged) Event() *types.Event {
	attrs := map[string]string{}
	setAddress(attrs, "market", e.Market)
	setAddress(attrs, "account", e.Account)
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// ParameterChanged records any configuration update with its previous value.
// Market is unset for global parameters.
type ParameterChanged struct {
	Name     string
	Market   crypto.Address
	Previous string
	Current  string
}

func (ParameterChanged) EventType() string { return EventTypeParameterChanged }

func (e ParameterChanged) Event() *types.Event {
	attrs := map[string]string{
		"name":     e.Name,
		"previous": e.Previous,
		"current":  e.Current,
	}
	setAddress(attrs, "market", e.Market)
	return &types.Event{Type: EventTypeParameterChanged, Attributes: attrs}
}

// PauseChanged records a pause switch flip. Market is unset for the global
// transfer and seize switches.
type PauseChanged struct {
	Action   string
	Market   crypto.Address
	Previous bool
	Current  bool
}

func (PauseChanged) EventType() string { return EventTypePauseChanged }

func (e PauseChanged) Event() *types.Event {
	attrs := map[string]string{
		"action":   e.Action,
		"previous": strconv.FormatBool(e.Previous),
		"current":  strconv.FormatBool(e.Current),
	}
	setAddress(attrs, "market", e.Market)
	return &types.Event{Type: EventTypePauseChanged, Attributes: attrs}
}

// RewardSpeedChanged is emitted for market and contributor speeds. Exactly
// one of Market or Contributor is set.
type RewardSpeedChanged struct {
	Market      crypto.Address
	Contributor crypto.Address
	Previous    *uint256.Int
	Current     *uint256.Int
}

func (RewardSpeedChanged) EventType() string { return EventTypeRewardSpeedChanged }

func (e RewardSpeedChanged) Event() *types.Event {
	attrs := map[string]string{
		"previous": formatAmount(e.Previous),
		"current":  formatAmount(e.Current),
	}
	setAddress(attrs, "market", e.Market)
	setAddress(attrs, "contributor", e.Contributor)
	return &types.Event{Type: EventTypeRewardSpeedChanged, Attributes: attrs}
}

// RewardDistributed is emitted on every settlement of an account.
type RewardDistributed struct {
	Side         Side
	Market       crypto.Address
	Account      crypto.Address
	Delta        *uint256.Int
	Index        Double
	AccruedAfter *uint256.Int
}

func (RewardDistributed) EventType() string { return EventTypeRewardDistributed }

func (e RewardDistributed) Event() *types.Event {
	attrs := map[string]string{
		"side":    e.Side.String(),
		"delta":   formatAmount(e.Delta),
		"index":   e.Index.String(),
		"accrued": formatAmount(e.AccruedAfter),
	}
	setAddress(attrs, "market", e.Market)
	setAddress(attrs, "account", e.Account)
	return &types.Event{Type: EventTypeRewardDistributed, Attributes: attrs}
}

// RewardGranted is emitted when reward tokens leave the treasury, either by
// claim or by an admin grant.
type RewardGranted struct {
	Symbol    string
	Recipient crypto.Address
	Amount    *uint256.Int
	Claim     bool
}

func (RewardGranted) EventType() string { return EventTypeRewardGranted }

func (e RewardGranted) Event() *types.Event {
	source := "grant"
	if e.Claim {
		source = "claim"
	}
	attrs := map[string]string{
		"amount": formatAmount(e.Amount),
		"source": source,
	}
	if e.Symbol != "" {
		attrs["symbol"] = e.Symbol
	}
	setAddress(attrs, "recipient", e.Recipient)
	return &types.Event{Type: EventTypeRewardGranted, Attributes: attrs}
}

// BorrowCapChanged records a cap update; zero means uncapped.
type BorrowCapChanged struct {
	Market   crypto.Address
	Previous *uint256.Int
	Current  *uint256.Int
}

func (BorrowCapChanged) EventType() string { return EventTypeBorrowCapChanged }

func (e BorrowCapChanged) Event() *types.Event {
	attrs := map[string]string{
		"previous": formatAmount(e.Previous),
		"current":  formatAmount(e.Current),
	}
	setAddress(attrs, "market", e.Market)
	return &types.Event{Type: EventTypeBorrowCapChanged, Attributes: attrs}
}
