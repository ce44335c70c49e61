package comptroller

import (
	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// MarketToken is the view of a lending market consumed by the comptroller.
// Markets hold balances and accrue interest; the comptroller only reads them.
type MarketToken interface {
	// IsMarket is the type-identity probe checked before listing.
	IsMarket() bool
	// Comptroller returns the registry instance the market reports to.
	Comptroller() (crypto.Address, error)
	AccountSnapshot(account crypto.Address) (AccountSnapshot, error)
	TotalSupply() (*uint256.Int, error)
	TotalBorrows() (*uint256.Int, error)
	BorrowIndex() (Exp, error)
	BalanceOf(account crypto.Address) (*uint256.Int, error)
	BorrowBalanceStored(account crypto.Address) (*uint256.Int, error)
	ReserveFactor() (Exp, error)
	ExchangeRateStored() (Exp, error)
}

// PriceOracle returns the underlying price of a market scaled by 1e18. Zero
// means the price is unavailable.
type PriceOracle interface {
	UnderlyingPrice(market crypto.Address) (*uint256.Int, error)
}

// RewardToken is the incentive token treasury held by the comptroller.
type RewardToken interface {
	BalanceOf(owner crypto.Address) (*uint256.Int, error)
	Transfer(to crypto.Address, amount *uint256.Int) (bool, error)
}

// Resolver locates collaborator handles by address.
type Resolver interface {
	Market(addr crypto.Address) (MarketToken, error)
	Oracle(addr crypto.Address) (PriceOracle, error)
	RewardToken(addr crypto.Address) (RewardToken, error)
}
