package comptroller

import (
	"log/slog"
	"strconv"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

func (tx *txn) requireAdmin(caller crypto.Address, action string) error {
	admin := tx.params().Admin
	if admin.IsZero() || !caller.Equal(admin) {
		return fail(Unauthorized, "%s: admin only", action)
	}
	return nil
}

// requirePauser lets the pause guardian or the admin engage a pause. Only the
// admin may release one.
func (tx *txn) requirePauser(caller crypto.Address, state bool, action string) error {
	params := tx.params()
	isAdmin := !params.Admin.IsZero() && caller.Equal(params.Admin)
	isGuardian := !params.PauseGuardian.IsZero() && caller.Equal(params.PauseGuardian)
	if !isAdmin && !isGuardian {
		return fail(Unauthorized, "%s: guardian or admin only", action)
	}
	if !state && !isAdmin {
		return fail(Unauthorized, "%s: only admin can unpause", action)
	}
	return nil
}

// Params returns the global configuration.
func (e *Engine) Params() (Params, error) {
	var params Params
	err := e.execute("params", func(tx *txn) error {
		params = tx.params()
		return nil
	})
	return params, err
}

func (e *Engine) adminCall(op string, caller crypto.Address, fn func(tx *txn) error) error {
	err := e.execute(op, func(tx *txn) error {
		if err := tx.requireAdmin(caller, op); err != nil {
			return err
		}
		return fn(tx)
	})
	if err == nil {
		e.logger.Info("comptroller parameter updated",
			slog.String("operation", op),
			slog.String("caller", caller.String()))
	}
	return err
}

// SetCloseFactor bounds the share of a borrow one liquidation may repay. The
// factor must lie in [0.05, 0.9].
func (e *Engine) SetCloseFactor(caller crypto.Address, factor Exp) error {
	return e.adminCall("set_close_factor", caller, func(tx *txn) error {
		return tx.setCloseFactor(factor)
	})
}

func (tx *txn) setCloseFactor(factor Exp) error {
	if factor.Cmp(closeFactorMin) < 0 || factor.Cmp(closeFactorMax) > 0 {
		return fail(InvalidParameter, "close factor %s outside [%s, %s]", factor, closeFactorMin, closeFactorMax)
	}
	params := tx.params()
	previous := params.CloseFactor
	params.CloseFactor = factor
	tx.putParams(params)
	tx.emit(ParameterChanged{Name: "close_factor", Previous: previous.String(), Current: factor.String()})
	return nil
}

// SetLiquidationIncentive sets the collateral bonus paid to liquidators. The
// incentive must lie in [1.0, 1.5].
func (e *Engine) SetLiquidationIncentive(caller crypto.Address, incentive Exp) error {
	return e.adminCall("set_liquidation_incentive", caller, func(tx *txn) error {
		return tx.setLiquidationIncentive(incentive)
	})
}

func (tx *txn) setLiquidationIncentive(incentive Exp) error {
	if incentive.Cmp(liquidationIncentiveMin) < 0 || incentive.Cmp(liquidationIncentiveMax) > 0 {
		return fail(InvalidParameter, "liquidation incentive %s outside [%s, %s]",
			incentive, liquidationIncentiveMin, liquidationIncentiveMax)
	}
	params := tx.params()
	previous := params.LiquidationIncentive
	params.LiquidationIncentive = incentive
	tx.putParams(params)
	tx.emit(ParameterChanged{Name: "liquidation_incentive", Previous: previous.String(), Current: incentive.String()})
	return nil
}

// SetMaxAssets caps how many markets one account may enter. Zero is uncapped.
func (e *Engine) SetMaxAssets(caller crypto.Address, maxAssets uint64) error {
	return e.adminCall("set_max_assets", caller, func(tx *txn) error {
		tx.setMaxAssets(maxAssets)
		return nil
	})
}

func (tx *txn) setMaxAssets(maxAssets uint64) {
	params := tx.params()
	previous := params.MaxAssets
	params.MaxAssets = maxAssets
	tx.putParams(params)
	tx.emit(ParameterChanged{
		Name:     "max_assets",
		Previous: strconv.FormatUint(previous, 10),
		Current:  strconv.FormatUint(maxAssets, 10),
	})
}

func (e *Engine) SetPriceOracle(caller, oracle crypto.Address) error {
	return e.adminCall("set_price_oracle", caller, func(tx *txn) error {
		return tx.setAddressParam("oracle", oracle, func(p *Params) *crypto.Address { return &p.Oracle })
	})
}

func (e *Engine) SetPauseGuardian(caller, guardian crypto.Address) error {
	return e.adminCall("set_pause_guardian", caller, func(tx *txn) error {
		return tx.setAddressParam("pause_guardian", guardian, func(p *Params) *crypto.Address { return &p.PauseGuardian })
	})
}

func (e *Engine) SetBorrowCapGuardian(caller, guardian crypto.Address) error {
	return e.adminCall("set_borrow_cap_guardian", caller, func(tx *txn) error {
		return tx.setAddressParam("borrow_cap_guardian", guardian, func(p *Params) *crypto.Address { return &p.BorrowCapGuardian })
	})
}

func (tx *txn) setAddressParam(name string, value crypto.Address, field func(*Params) *crypto.Address) error {
	if name == "oracle" && value.IsZero() {
		return fail(InvalidParameter, "oracle address required")
	}
	params := tx.params()
	slot := field(&params)
	previous := *slot
	*slot = value
	tx.putParams(params)
	tx.emit(ParameterChanged{Name: name, Previous: previous.String(), Current: value.String()})
	return nil
}

// SetMintPaused flips the mint switch of a listed market.
func (e *Engine) SetMintPaused(caller, market crypto.Address, state bool) error {
	return e.execute("set_mint_paused", func(tx *txn) error {
		return tx.setMarketPause(caller, market, "mint", state)
	})
}

// SetBorrowPaused flips the borrow switch of a listed market.
func (e *Engine) SetBorrowPaused(caller, market crypto.Address, state bool) error {
	return e.execute("set_borrow_paused", func(tx *txn) error {
		return tx.setMarketPause(caller, market, "borrow", state)
	})
}

func (tx *txn) setMarketPause(caller, market crypto.Address, action string, state bool) error {
	m := tx.market(market)
	if !m.Listed {
		return fail(NotListed, "%s", market)
	}
	if err := tx.requirePauser(caller, state, action); err != nil {
		return err
	}
	var previous bool
	switch action {
	case "mint":
		previous, m.MintPaused = m.MintPaused, state
	case "borrow":
		previous, m.BorrowPaused = m.BorrowPaused, state
	}
	tx.putMarket(m)
	tx.emit(PauseChanged{Action: action, Market: market, Previous: previous, Current: state})
	return nil
}

// SetTransferPaused flips the global transfer switch.
func (e *Engine) SetTransferPaused(caller crypto.Address, state bool) error {
	return e.execute("set_transfer_paused", func(tx *txn) error {
		return tx.setGlobalPause(caller, "transfer", state)
	})
}

// SetSeizePaused flips the global seize switch.
func (e *Engine) SetSeizePaused(caller crypto.Address, state bool) error {
	return e.execute("set_seize_paused", func(tx *txn) error {
		return tx.setGlobalPause(caller, "seize", state)
	})
}

func (tx *txn) setGlobalPause(caller crypto.Address, action string, state bool) error {
	if err := tx.requirePauser(caller, state, action); err != nil {
		return err
	}
	params := tx.params()
	var previous bool
	switch action {
	case "transfer":
		previous, params.TransferPaused = params.TransferPaused, state
	case "seize":
		previous, params.SeizePaused = params.SeizePaused, state
	}
	tx.putParams(params)
	tx.emit(PauseChanged{Action: action, Previous: previous, Current: state})
	return nil
}

// SetMarketBorrowCaps sets borrow caps for the given markets. A cap of zero
// removes the limit. The admin or the borrow-cap guardian may call it.
func (e *Engine) SetMarketBorrowCaps(caller crypto.Address, markets []crypto.Address, caps []*uint256.Int) error {
	return e.execute("set_market_borrow_caps", func(tx *txn) error {
		return tx.setMarketBorrowCaps(caller, markets, caps)
	})
}

func (tx *txn) setMarketBorrowCaps(caller crypto.Address, markets []crypto.Address, caps []*uint256.Int) error {
	params := tx.params()
	isAdmin := !params.Admin.IsZero() && caller.Equal(params.Admin)
	isGuardian := !params.BorrowCapGuardian.IsZero() && caller.Equal(params.BorrowCapGuardian)
	if !isAdmin && !isGuardian {
		return fail(Unauthorized, "set borrow caps: admin or borrow cap guardian only")
	}
	if len(markets) == 0 || len(markets) != len(caps) {
		return fail(InvalidParameter, "%d markets for %d caps", len(markets), len(caps))
	}
	for i, market := range markets {
		m := tx.market(market)
		if !m.Listed {
			return fail(NotListed, "%s", market)
		}
		previous := m.BorrowCap
		m.BorrowCap = clone(caps[i])
		tx.putMarket(m)
		tx.emit(BorrowCapChanged{Market: market, Previous: previous, Current: clone(caps[i])})
	}
	return nil
}
