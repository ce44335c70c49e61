package comptroller

import (
	"log/slog"

	"lendcore/crypto"
)

// ListMarket adds market to the registry with a zero collateral factor.
func (e *Engine) ListMarket(caller, market crypto.Address) error {
	err := e.execute("list_market", func(tx *txn) error {
		return tx.listMarket(caller, market)
	})
	if err == nil {
		e.logger.Info("market listed", slog.String("market", market.String()))
	}
	return err
}

func (tx *txn) listMarket(caller, market crypto.Address) error {
	if err := tx.requireAdmin(caller, "list market"); err != nil {
		return err
	}
	current := tx.market(market)
	if current.Listed {
		return fail(AlreadyListed, "%s", market)
	}
	if !tx.marketToken(market).IsMarket() {
		abort(CollaboratorFailure, "%s does not identify as a market", market)
	}
	all := tx.allMarkets()
	for _, existing := range all {
		if existing.Equal(market) {
			abort(InvariantViolation, "market %s already in registry", market)
		}
	}
	tx.putAllMarkets(append(all, market))
	tx.putMarket(Market{
		Address:   market,
		Listed:    true,
		BorrowCap: zero(),
	})
	tx.emit(MarketListed{Market: market})
	return nil
}

// SetCollateralFactor updates the fraction of market value counted as
// collateral. Raising it above zero requires an available price.
func (e *Engine) SetCollateralFactor(caller, market crypto.Address, factor Exp) error {
	err := e.execute("set_collateral_factor", func(tx *txn) error {
		return tx.setCollateralFactor(caller, market, factor)
	})
	if err == nil {
		e.logger.Info("collateral factor updated",
			slog.String("market", market.String()),
			slog.String("factor", factor.String()))
	}
	return err
}

func (tx *txn) setCollateralFactor(caller, market crypto.Address, factor Exp) error {
	if err := tx.requireAdmin(caller, "set collateral factor"); err != nil {
		return err
	}
	m := tx.market(market)
	if !m.Listed {
		return fail(NotListed, "%s", market)
	}
	if factor.Cmp(collateralFactorMax) > 0 {
		return fail(InvalidParameter, "collateral factor %s above %s", factor, collateralFactorMax)
	}
	if !factor.IsZero() && tx.price(market).IsZero() {
		return fail(PriceUnavailable, "%s", market)
	}
	previous := m.CollateralFactor
	m.CollateralFactor = factor
	tx.putMarket(m)
	tx.emit(ParameterChanged{
		Name:     "collateral_factor",
		Market:   market,
		Previous: previous.String(),
		Current:  factor.String(),
	})
	return nil
}

// EnterMarkets adds the markets to the account's liquidity calculation. The
// result holds one code per requested market; markets that fail do not
// prevent the others from being entered.
func (e *Engine) EnterMarkets(account crypto.Address, markets []crypto.Address) ([]Code, error) {
	var results []Code
	err := e.execute("enter_markets", func(tx *txn) error {
		results = make([]Code, 0, len(markets))
		for _, market := range markets {
			results = append(results, tx.addToMarket(market, account))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// addToMarket is idempotent. A MaxAssets of zero leaves membership uncapped.
func (tx *txn) addToMarket(market, account crypto.Address) Code {
	if !tx.market(market).Listed {
		return NotListed
	}
	membership := tx.membership(account)
	if membership.Contains(market) {
		return NoError
	}
	if limit := tx.params().MaxAssets; limit > 0 && uint64(membership.Len()) >= limit {
		return TooManyAssets
	}
	membership.add(market)
	tx.putMembership(account, membership)
	tx.emit(MembershipChanged{Market: market, Account: account, Entered: true})
	return NoError
}

// ExitMarket removes market from the account's assets. The account must owe
// nothing in the market and must stay solvent without its collateral there.
func (e *Engine) ExitMarket(account, market crypto.Address) error {
	return e.execute("exit_market", func(tx *txn) error {
		return tx.exitMarket(account, market)
	})
}

func (tx *txn) exitMarket(account, market crypto.Address) error {
	snapshot, err := tx.marketToken(market).AccountSnapshot(account)
	if err != nil {
		abort(CollaboratorFailure, "snapshot of %s in %s: %v", account, market, err)
	}
	if snapshot.BorrowBalance != nil && !snapshot.BorrowBalance.IsZero() {
		return fail(NonzeroBorrowBalance, "%s owes %s in %s", account, snapshot.BorrowBalance.Dec(), market)
	}
	if err := tx.redeemAllowed(market, account, clone(snapshot.TokenBalance)); err != nil {
		return fail(ExitMarketRejection, "%v", err)
	}
	membership := tx.membership(account)
	if !membership.remove(market) {
		return nil
	}
	tx.putMembership(account, membership)
	tx.emit(MembershipChanged{Market: market, Account: account, Entered: false})
	return nil
}

// AssetsIn lists the markets the account has entered.
func (e *Engine) AssetsIn(account crypto.Address) ([]crypto.Address, error) {
	var assets []crypto.Address
	err := e.execute("assets_in", func(tx *txn) error {
		assets = tx.membership(account).Assets()
		return nil
	})
	return assets, err
}

func (e *Engine) CheckMembership(account, market crypto.Address) (bool, error) {
	var member bool
	err := e.execute("check_membership", func(tx *txn) error {
		member = tx.membership(account).Contains(market)
		return nil
	})
	return member, err
}

// AllMarkets returns every listed market in listing order.
func (e *Engine) AllMarkets() ([]crypto.Address, error) {
	var markets []crypto.Address
	err := e.execute("all_markets", func(tx *txn) error {
		markets = tx.allMarkets()
		return nil
	})
	return markets, err
}

func (e *Engine) MarketInfo(market crypto.Address) (MarketInfo, error) {
	var info MarketInfo
	err := e.execute("market_info", func(tx *txn) error {
		m := tx.market(market)
		if !m.Listed {
			return fail(NotListed, "%s", market)
		}
		supply, _ := tx.rewardState(SupplySide, market)
		borrow, _ := tx.rewardState(BorrowSide, market)
		info = MarketInfo{
			Market:      m,
			RewardSpeed: tx.rewardSpeed(market),
			SupplyState: supply,
			BorrowState: borrow,
			Deprecated:  tx.isDeprecated(m),
		}
		return nil
	})
	return info, err
}

// IsDeprecated reports whether the market may be liquidated without a
// shortfall.
func (e *Engine) IsDeprecated(market crypto.Address) (bool, error) {
	var deprecated bool
	err := e.execute("is_deprecated", func(tx *txn) error {
		deprecated = tx.isDeprecated(tx.market(market))
		return nil
	})
	return deprecated, err
}

func (tx *txn) isDeprecated(m Market) bool {
	if !m.CollateralFactor.IsZero() || !m.BorrowPaused {
		return false
	}
	reserve, err := tx.marketToken(m.Address).ReserveFactor()
	if err != nil {
		abort(CollaboratorFailure, "reserve factor of %s: %v", m.Address, err)
	}
	return reserve.Cmp(fullReserveFactor) == 0
}

// verifyMembership asserts the structure of each account's membership and
// that every entered market is listed.
func (tx *txn) verifyMembership(accounts ...crypto.Address) {
	for _, account := range accounts {
		membership := tx.membership(account)
		if err := membership.verify(); err != nil {
			abort(InvariantViolation, "%s: %v", account, err)
		}
		for _, asset := range membership.assets {
			if !tx.market(asset).Listed {
				abort(InvariantViolation, "%s is a member of unlisted market %s", account, asset)
			}
		}
	}
}
