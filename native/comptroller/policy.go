package comptroller

import (
	"github.com/holiman/uint256"

	"lendcore/crypto"
	nativecommon "lendcore/native/common"
)

// guard aborts when action is paused, either by a stored flag or by a host
// circuit breaker. Pauses are deliberate, so they are never recoverable.
func (tx *txn) guard(action string, market crypto.Address, flagged bool) {
	scope := ""
	if !market.IsZero() {
		scope = market.Key()
	}
	name := nativecommon.Switch(ModuleName, action, scope)
	if flagged {
		abort(Paused, "%s", name)
	}
	for _, sw := range []string{ModuleName, nativecommon.Switch(ModuleName, action), name} {
		if err := nativecommon.Guard(tx.engine.pauses, sw); err != nil {
			abort(Paused, "%v", err)
		}
	}
}

// MintAllowed checks whether minter may supply amount to market.
func (e *Engine) MintAllowed(market, minter crypto.Address, amount *uint256.Int) error {
	return e.execute("mint_allowed", func(tx *txn) error {
		m := tx.market(market)
		tx.guard("mint", market, m.MintPaused)
		if !m.Listed {
			return fail(NotListed, "%s", market)
		}
		tx.updateSupplyIndex(market)
		tx.distributeSupplier(market, minter)
		return nil
	})
}

func (e *Engine) MintVerify(market, minter crypto.Address, amount, tokens *uint256.Int) error {
	return e.execute("mint_verify", func(tx *txn) error {
		tx.verifyMembership(minter)
		return nil
	})
}

// RedeemAllowed checks whether redeemer may burn redeemTokens of market.
func (e *Engine) RedeemAllowed(market, redeemer crypto.Address, redeemTokens *uint256.Int) error {
	return e.execute("redeem_allowed", func(tx *txn) error {
		if err := tx.redeemAllowed(market, redeemer, clone(redeemTokens)); err != nil {
			return err
		}
		tx.updateSupplyIndex(market)
		tx.distributeSupplier(market, redeemer)
		return nil
	})
}

// redeemAllowed is shared by redeem, transfer and exit. Accounts that never
// entered the market are not counting it as collateral and may always redeem.
func (tx *txn) redeemAllowed(market, redeemer crypto.Address, redeemTokens *uint256.Int) error {
	if !tx.market(market).Listed {
		return fail(NotListed, "%s", market)
	}
	if !tx.membership(redeemer).Contains(market) {
		return nil
	}
	liquidity, err := tx.hypotheticalLiquidity(redeemer, market, redeemTokens, zero())
	if err != nil {
		return err
	}
	if !liquidity.Shortfall.IsZero() {
		return fail(InsufficientLiquidity, "shortfall %s", liquidity.Shortfall.Dec())
	}
	return nil
}

// RedeemVerify rejects a redeem that paid out underlying for zero tokens.
func (e *Engine) RedeemVerify(market, redeemer crypto.Address, redeemAmount, redeemTokens *uint256.Int) error {
	return e.execute("redeem_verify", func(tx *txn) error {
		if (redeemTokens == nil || redeemTokens.IsZero()) && redeemAmount != nil && !redeemAmount.IsZero() {
			abort(InvariantViolation, "redeemTokens zero for amount %s", redeemAmount.Dec())
		}
		tx.verifyMembership(redeemer)
		return nil
	})
}

// BorrowAllowed checks whether borrower may take borrowAmount from market.
// caller is the identity invoking the hook; only the market itself may enrol
// a borrower that has not entered it.
func (e *Engine) BorrowAllowed(caller, market, borrower crypto.Address, borrowAmount *uint256.Int) error {
	return e.execute("borrow_allowed", func(tx *txn) error {
		return tx.borrowAllowed(caller, market, borrower, clone(borrowAmount))
	})
}

func (tx *txn) borrowAllowed(caller, market, borrower crypto.Address, borrowAmount *uint256.Int) error {
	m := tx.market(market)
	tx.guard("borrow", market, m.BorrowPaused)
	if !m.Listed {
		return fail(NotListed, "%s", market)
	}
	if !tx.membership(borrower).Contains(market) {
		if !caller.Equal(market) {
			return fail(Unauthorized, "only %s may enrol a new borrower", market)
		}
		if code := tx.addToMarket(market, borrower); code != NoError {
			return &Error{Code: code, Info: "enrol borrower"}
		}
		if !tx.membership(borrower).Contains(market) {
			abort(InvariantViolation, "enrolment of %s in %s did not stick", borrower, market)
		}
	}
	if tx.price(market).IsZero() {
		return fail(PriceUnavailable, "%s", market)
	}
	if m.BorrowCap != nil && !m.BorrowCap.IsZero() {
		nextTotalBorrows := add(tx.totalBorrows(market), borrowAmount)
		if !nextTotalBorrows.Lt(m.BorrowCap) {
			return fail(BorrowCapExceeded, "%s would reach cap %s", nextTotalBorrows.Dec(), m.BorrowCap.Dec())
		}
	}
	liquidity, err := tx.hypotheticalLiquidity(borrower, market, zero(), borrowAmount)
	if err != nil {
		return err
	}
	if !liquidity.Shortfall.IsZero() {
		return fail(InsufficientLiquidity, "shortfall %s", liquidity.Shortfall.Dec())
	}

	borrowIndex := tx.borrowIndex(market)
	tx.updateBorrowIndex(market, borrowIndex)
	tx.distributeBorrower(market, borrower, borrowIndex)
	return nil
}

func (e *Engine) BorrowVerify(market, borrower crypto.Address, borrowAmount *uint256.Int) error {
	return e.execute("borrow_verify", func(tx *txn) error {
		if !tx.membership(borrower).Contains(market) {
			abort(InvariantViolation, "%s borrowed from %s without membership", borrower, market)
		}
		tx.verifyMembership(borrower)
		return nil
	})
}

// RepayBorrowAllowed only requires a listed market: repaying never worsens
// solvency.
func (e *Engine) RepayBorrowAllowed(market, payer, borrower crypto.Address, repayAmount *uint256.Int) error {
	return e.execute("repay_borrow_allowed", func(tx *txn) error {
		if !tx.market(market).Listed {
			return fail(NotListed, "%s", market)
		}
		borrowIndex := tx.borrowIndex(market)
		tx.updateBorrowIndex(market, borrowIndex)
		tx.distributeBorrower(market, borrower, borrowIndex)
		return nil
	})
}

func (e *Engine) RepayBorrowVerify(market, payer, borrower crypto.Address, repayAmount, borrowerIndex *uint256.Int) error {
	return e.execute("repay_borrow_verify", func(tx *txn) error {
		tx.verifyMembership(payer, borrower)
		return nil
	})
}

// LiquidateBorrowAllowed checks whether liquidator may repay repayAmount of
// borrower's debt in borrowed and seize collateral.
func (e *Engine) LiquidateBorrowAllowed(borrowed, collateral, liquidator, borrower crypto.Address, repayAmount *uint256.Int) error {
	return e.execute("liquidate_borrow_allowed", func(tx *txn) error {
		return tx.liquidateBorrowAllowed(borrowed, collateral, borrower, clone(repayAmount))
	})
}

func (tx *txn) liquidateBorrowAllowed(borrowed, collateral, borrower crypto.Address, repayAmount *uint256.Int) error {
	borrowedMarket := tx.market(borrowed)
	if !borrowedMarket.Listed {
		return fail(NotListed, "%s", borrowed)
	}
	if !tx.market(collateral).Listed {
		return fail(NotListed, "%s", collateral)
	}
	borrowBalance := tx.borrowBalanceStored(borrowed, borrower)

	if tx.isDeprecated(borrowedMarket) {
		if repayAmount.Gt(borrowBalance) {
			return fail(TooMuchRepay, "repay %s above balance %s", repayAmount.Dec(), borrowBalance.Dec())
		}
		return nil
	}

	liquidity, err := tx.hypotheticalLiquidity(borrower, crypto.Address{}, zero(), zero())
	if err != nil {
		return err
	}
	if liquidity.Shortfall.IsZero() {
		return fail(InsufficientShortfall, "%s is solvent", borrower)
	}
	maxClose := mulScalarTruncate(tx.params().CloseFactor, borrowBalance)
	if repayAmount.Gt(maxClose) {
		return fail(TooMuchRepay, "repay %s above close limit %s", repayAmount.Dec(), maxClose.Dec())
	}
	return nil
}

func (e *Engine) LiquidateBorrowVerify(borrowed, collateral, liquidator, borrower crypto.Address, repayAmount, seizeTokens *uint256.Int) error {
	return e.execute("liquidate_borrow_verify", func(tx *txn) error {
		tx.verifyMembership(liquidator, borrower)
		return nil
	})
}

// SeizeAllowed checks whether liquidator may take seizeTokens of collateral
// from borrower.
func (e *Engine) SeizeAllowed(collateral, borrowed, liquidator, borrower crypto.Address, seizeTokens *uint256.Int) error {
	return e.execute("seize_allowed", func(tx *txn) error {
		tx.guard("seize", crypto.Address{}, tx.params().SeizePaused)
		if !tx.market(collateral).Listed {
			return fail(NotListed, "%s", collateral)
		}
		if !tx.market(borrowed).Listed {
			return fail(NotListed, "%s", borrowed)
		}
		collateralRegistry := tx.registryOf(collateral)
		borrowedRegistry := tx.registryOf(borrowed)
		if !collateralRegistry.Equal(borrowedRegistry) {
			return fail(RegistryMismatch, "%s reports to %s, %s reports to %s",
				collateral, collateralRegistry, borrowed, borrowedRegistry)
		}
		tx.updateSupplyIndex(collateral)
		tx.distributeSupplier(collateral, borrower)
		tx.distributeSupplier(collateral, liquidator)
		return nil
	})
}

func (tx *txn) registryOf(market crypto.Address) crypto.Address {
	registry, err := tx.marketToken(market).Comptroller()
	if err != nil {
		abort(CollaboratorFailure, "registry of %s: %v", market, err)
	}
	return registry
}

func (e *Engine) SeizeVerify(collateral, borrowed, liquidator, borrower crypto.Address, seizeTokens *uint256.Int) error {
	return e.execute("seize_verify", func(tx *txn) error {
		tx.verifyMembership(liquidator, borrower)
		return nil
	})
}

// TransferAllowed checks whether src may move transferTokens of market to
// dst. It is a redeem check on src.
func (e *Engine) TransferAllowed(market, src, dst crypto.Address, transferTokens *uint256.Int) error {
	return e.execute("transfer_allowed", func(tx *txn) error {
		tx.guard("transfer", crypto.Address{}, tx.params().TransferPaused)
		if err := tx.redeemAllowed(market, src, clone(transferTokens)); err != nil {
			return err
		}
		tx.updateSupplyIndex(market)
		tx.distributeSupplier(market, src)
		tx.distributeSupplier(market, dst)
		return nil
	})
}

func (e *Engine) TransferVerify(market, src, dst crypto.Address, transferTokens *uint256.Int) error {
	return e.execute("transfer_verify", func(tx *txn) error {
		tx.verifyMembership(src, dst)
		return nil
	})
}
