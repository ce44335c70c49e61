package comptroller

import (
	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// AccountLiquidity computes the account's current liquidity or shortfall.
func (e *Engine) AccountLiquidity(account crypto.Address) (Liquidity, error) {
	return e.HypotheticalAccountLiquidity(account, crypto.Address{}, nil, nil)
}

// HypotheticalAccountLiquidity computes liquidity as if the account had
// redeemed redeemTokens and borrowed borrowAmount in modify.
func (e *Engine) HypotheticalAccountLiquidity(account, modify crypto.Address, redeemTokens, borrowAmount *uint256.Int) (Liquidity, error) {
	var result Liquidity
	err := e.execute("account_liquidity", func(tx *txn) error {
		var err error
		result, err = tx.hypotheticalLiquidity(account, modify, clone(redeemTokens), clone(borrowAmount))
		return err
	})
	return result, err
}

// hypotheticalLiquidity walks the account's entered markets. Any snapshot or
// price failure ends the computation without a partial result. A prospective
// redeem or borrow is added to the debt side only.
func (tx *txn) hypotheticalLiquidity(account, modify crypto.Address, redeemTokens, borrowAmount *uint256.Int) (Liquidity, error) {
	sumCollateral := zero()
	sumBorrowPlusEffects := zero()

	for _, asset := range tx.membership(account).Assets() {
		snapshot, err := tx.marketToken(asset).AccountSnapshot(account)
		if err != nil {
			return Liquidity{}, fail(SnapshotUnavailable, "%s in %s: %v", account, asset, err)
		}
		price := tx.price(asset)
		if price.IsZero() {
			return Liquidity{}, fail(PriceUnavailable, "%s", asset)
		}
		collateralFactor := tx.market(asset).CollateralFactor
		tokensToDenom := mulExp3(collateralFactor, snapshot.ExchangeRate, price)

		sumCollateral = mulScalarTruncateAdd(tokensToDenom, clone(snapshot.TokenBalance), sumCollateral)
		sumBorrowPlusEffects = mulScalarTruncateAdd(price, clone(snapshot.BorrowBalance), sumBorrowPlusEffects)

		if !modify.IsZero() && asset.Equal(modify) {
			sumBorrowPlusEffects = mulScalarTruncateAdd(tokensToDenom, redeemTokens, sumBorrowPlusEffects)
			sumBorrowPlusEffects = mulScalarTruncateAdd(price, borrowAmount, sumBorrowPlusEffects)
		}
	}

	if sumCollateral.Gt(sumBorrowPlusEffects) {
		return Liquidity{Liquidity: sub(sumCollateral, sumBorrowPlusEffects), Shortfall: zero()}, nil
	}
	return Liquidity{Liquidity: zero(), Shortfall: sub(sumBorrowPlusEffects, sumCollateral)}, nil
}

// CalculateSeizeTokens converts a repay amount in the borrowed market into
// collateral tokens to seize, including the liquidation incentive.
func (e *Engine) CalculateSeizeTokens(borrowed, collateral crypto.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	var seize *uint256.Int
	err := e.execute("calculate_seize_tokens", func(tx *txn) error {
		var err error
		seize, err = tx.calculateSeizeTokens(borrowed, collateral, clone(repayAmount))
		return err
	})
	return seize, err
}

// calculateSeizeTokens computes
//
//	seizeTokens = repay * (incentive * priceBorrowed) / (priceCollateral * exchangeRate)
//
// forming the ratio first and applying it to repay last.
func (tx *txn) calculateSeizeTokens(borrowed, collateral crypto.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	priceBorrowed := tx.price(borrowed)
	priceCollateral := tx.price(collateral)
	if priceBorrowed.IsZero() || priceCollateral.IsZero() {
		return nil, fail(PriceUnavailable, "%s/%s", borrowed, collateral)
	}
	exchangeRate, err := tx.marketToken(collateral).ExchangeRateStored()
	if err != nil {
		abort(CollaboratorFailure, "exchange rate of %s: %v", collateral, err)
	}
	incentive := tx.params().LiquidationIncentive

	numerator := mulExp(incentive, priceBorrowed)
	denominator := mulExp(priceCollateral, exchangeRate)
	ratio := divExp(numerator, denominator)
	return mulScalarTruncate(ratio, repayAmount), nil
}
