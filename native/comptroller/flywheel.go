package comptroller

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// updateSupplyIndex accrues the supply index of market up to the current
// block. With zero speed only the checkpoint block moves.
func (tx *txn) updateSupplyIndex(market crypto.Address) {
	state, _ := tx.rewardState(SupplySide, market)
	speed := tx.rewardSpeed(market)
	block := safe32(tx.height)
	if block <= state.Block {
		return
	}
	deltaBlocks := uint256.NewInt(uint64(block - state.Block))
	if !speed.IsZero() {
		supplyTokens := tx.totalSupply(market)
		accrued := mul(deltaBlocks, speed)
		ratio := Double{}
		if !supplyTokens.IsZero() {
			ratio = fraction(accrued, supplyTokens)
		}
		state.Index = safe224(addDouble(state.Index, ratio))
	}
	state.Block = block
	tx.putRewardState(SupplySide, market, state)
}

// updateBorrowIndex is updateSupplyIndex for the borrow side. Outstanding
// borrows are measured in borrow-index units.
func (tx *txn) updateBorrowIndex(market crypto.Address, marketBorrowIndex Exp) {
	state, _ := tx.rewardState(BorrowSide, market)
	speed := tx.rewardSpeed(market)
	block := safe32(tx.height)
	if block <= state.Block {
		return
	}
	deltaBlocks := uint256.NewInt(uint64(block - state.Block))
	if !speed.IsZero() {
		borrowAmount := divScalarByExp(tx.totalBorrows(market), marketBorrowIndex)
		accrued := mul(deltaBlocks, speed)
		ratio := Double{}
		if !borrowAmount.IsZero() {
			ratio = fraction(accrued, borrowAmount)
		}
		state.Index = safe224(addDouble(state.Index, ratio))
	}
	state.Block = block
	tx.putRewardState(BorrowSide, market, state)
}

// settleIndex moves the account's checkpoint to the market index and returns
// the delta to credit. A zero checkpoint is the never-settled sentinel and is
// treated as the initial index once the market has been seeded.
func (tx *txn) settleIndex(side Side, market, account crypto.Address) (Double, Double) {
	state, _ := tx.rewardState(side, market)
	accountIndex := tx.accountIndex(side, market, account)
	tx.putAccountIndex(side, market, account, state.Index)
	if accountIndex.IsZero() && !state.Index.IsZero() {
		accountIndex = initialIndex
	}
	return subDouble(state.Index, accountIndex), state.Index
}

func (tx *txn) distributeSupplier(market, supplier crypto.Address) {
	delta, index := tx.settleIndex(SupplySide, market, supplier)
	supplierTokens := tx.balanceOf(market, supplier)
	tx.credit(SupplySide, market, supplier, mulDoubleScalar(supplierTokens, delta), index)
}

func (tx *txn) distributeBorrower(market, borrower crypto.Address, marketBorrowIndex Exp) {
	delta, index := tx.settleIndex(BorrowSide, market, borrower)
	borrowerAmount := zero()
	if !delta.IsZero() {
		borrowerAmount = divScalarByExp(tx.borrowBalanceStored(market, borrower), marketBorrowIndex)
	}
	tx.credit(BorrowSide, market, borrower, mulDoubleScalar(borrowerAmount, delta), index)
}

func (tx *txn) credit(side Side, market, account crypto.Address, amount *uint256.Int, index Double) {
	accrued := add(tx.accrued(account), amount)
	tx.putAccrued(account, accrued)
	tx.emit(RewardDistributed{
		Side:         side,
		Market:       market,
		Account:      account,
		Delta:        amount,
		Index:        index,
		AccruedAfter: accrued,
	})
	if !amount.IsZero() {
		tx.engine.metrics.AddDistributed(side.String(), amount.Float64())
	}
}

// SetRewardSpeed sets the per-block reward rate of market. Pending accrual at
// the old rate is settled first; a market receiving its first non-zero speed
// has both indices seeded at the initial index.
func (e *Engine) SetRewardSpeed(caller, market crypto.Address, speed *uint256.Int) error {
	err := e.execute("set_reward_speed", func(tx *txn) error {
		return tx.setRewardSpeed(caller, market, clone(speed))
	})
	if err == nil {
		e.logger.Info("reward speed updated",
			slog.String("market", market.String()),
			slog.String("speed", clone(speed).Dec()))
	}
	return err
}

func (tx *txn) setRewardSpeed(caller, market crypto.Address, speed *uint256.Int) error {
	if err := tx.requireAdmin(caller, "set reward speed"); err != nil {
		return err
	}
	if !tx.market(market).Listed {
		return fail(NotListed, "%s", market)
	}
	current := tx.rewardSpeed(market)
	if current.Eq(speed) {
		return nil
	}
	if !current.IsZero() {
		borrowIndex := tx.borrowIndex(market)
		tx.updateSupplyIndex(market)
		tx.updateBorrowIndex(market, borrowIndex)
	} else if !speed.IsZero() {
		tx.seedRewardState(SupplySide, market)
		tx.seedRewardState(BorrowSide, market)
	}
	tx.putRewardSpeed(market, speed)
	tx.emit(RewardSpeedChanged{Market: market, Previous: current, Current: speed})
	return nil
}

// seedRewardState initialises an unseeded side. A seeded side keeps its index
// and only has its checkpoint advanced, so a gap spent at zero speed is never
// paid at the new speed.
func (tx *txn) seedRewardState(side Side, market crypto.Address) {
	state, _ := tx.rewardState(side, market)
	block := safe32(tx.height)
	if state.Index.IsZero() {
		tx.putRewardState(side, market, RewardMarketState{Index: initialIndex, Block: block})
		return
	}
	if block > state.Block {
		state.Block = block
		tx.putRewardState(side, market, state)
	}
}

// Claim settles holders in markets on the requested sides and pays out each
// holder's full accrued balance. A holder whose balance the treasury cannot
// cover, or whose transfer the token refuses, is skipped and keeps the
// accrual.
func (e *Engine) Claim(holders, markets []crypto.Address, borrowers, suppliers bool) error {
	return e.execute("claim", func(tx *txn) error {
		return tx.claim(holders, markets, borrowers, suppliers)
	})
}

// ClaimAll claims for holder across every listed market on both sides.
func (e *Engine) ClaimAll(holder crypto.Address) error {
	return e.execute("claim_all", func(tx *txn) error {
		return tx.claim([]crypto.Address{holder}, tx.allMarkets(), true, true)
	})
}

func (tx *txn) claim(holders, markets []crypto.Address, borrowers, suppliers bool) error {
	for _, market := range markets {
		if !tx.market(market).Listed {
			return fail(NotListed, "%s", market)
		}
		if borrowers {
			borrowIndex := tx.borrowIndex(market)
			tx.updateBorrowIndex(market, borrowIndex)
			for _, holder := range holders {
				tx.distributeBorrower(market, holder, borrowIndex)
			}
		}
		if suppliers {
			tx.updateSupplyIndex(market)
			for _, holder := range holders {
				tx.distributeSupplier(market, holder)
			}
		}
	}
	for _, holder := range holders {
		accrued := tx.accrued(holder)
		tx.putAccrued(holder, tx.grant(holder, accrued, true))
	}
	return nil
}

// grant reserves amount from the treasury and returns what is still owed:
// zero when the payout is queued, amount in full when the balance is short.
// The transfer itself runs only after the call commits.
func (tx *txn) grant(recipient crypto.Address, amount *uint256.Int, claim bool) *uint256.Int {
	if amount.IsZero() {
		return amount
	}
	budget := tx.treasuryBudget()
	if amount.Gt(budget) {
		tx.engine.metrics.IncPayoutSkipped()
		return amount
	}
	tx.treasury = new(uint256.Int).Sub(budget, amount)
	tx.payouts = append(tx.payouts, payout{recipient: recipient, amount: clone(amount), claim: claim})
	return zero()
}

// treasuryBudget is the treasury balance less the payouts already queued by
// this call.
func (tx *txn) treasuryBudget() *uint256.Int {
	if tx.treasury == nil {
		tx.token = tx.rewardToken()
		balance, err := tx.token.BalanceOf(tx.engine.self)
		if err != nil {
			abort(CollaboratorFailure, "treasury balance: %v", err)
		}
		tx.treasury = clone(balance)
	}
	return tx.treasury
}

// settlePayouts runs the transfers a committed call queued. A refused claim
// payout is credited back to the holder in a follow-up batch, so the accrual
// is kept for a later claim. A refused grant is reported to the caller.
func (e *Engine) settlePayouts(op string, tx *txn) error {
	if len(tx.payouts) == 0 {
		return nil
	}
	refund := newTxn(e)
	var failed error
	for _, p := range tx.payouts {
		ok, err := tx.token.Transfer(p.recipient, clone(p.amount))
		if err == nil && ok {
			e.metrics.AddPaid(p.amount.Float64())
			e.emitter.Emit(RewardGranted{Symbol: e.reward.Symbol, Recipient: p.recipient, Amount: clone(p.amount), Claim: p.claim})
			continue
		}
		e.metrics.IncPayoutSkipped()
		e.logger.Warn("reward transfer refused",
			slog.String("operation", op),
			slog.String("recipient", p.recipient.String()),
			slog.String("amount", p.amount.Dec()),
			slog.Bool("ok", ok),
			slog.Any("error", err))
		if p.claim {
			refund.putAccrued(p.recipient, add(refund.accrued(p.recipient), p.amount))
			continue
		}
		if failed == nil {
			failed = &Error{Code: CollaboratorFailure, Fatal: true,
				Info: fmt.Sprintf("transfer %s to %s: ok=%t err=%v", p.amount.Dec(), p.recipient, ok, err)}
		}
	}
	digest, writes, err := refund.commit()
	if err != nil {
		e.logger.Error("reward refund lost", slog.String("operation", op), slog.Any("error", err))
		return &Error{Code: StorageFailure, Fatal: true, Info: err.Error()}
	}
	if writes > 0 {
		e.digest = digest
		e.metrics.ObserveCommit(writes)
	}
	return failed
}

// GrantReward transfers amount of the reward token to recipient outside the
// flywheel. The treasury must cover it in full.
func (e *Engine) GrantReward(caller, recipient crypto.Address, amount *uint256.Int) error {
	err := e.execute("grant_reward", func(tx *txn) error {
		if err := tx.requireAdmin(caller, "grant reward"); err != nil {
			return err
		}
		if remaining := tx.grant(recipient, clone(amount), false); !remaining.IsZero() {
			abort(InsufficientRewards, "treasury cannot cover %s", remaining.Dec())
		}
		return nil
	})
	if err == nil {
		e.logger.Info("reward granted",
			slog.String("recipient", recipient.String()),
			slog.String("amount", clone(amount).Dec()))
	}
	return err
}

// UpdateContributorRewards credits a contributor for the blocks elapsed since
// its last settlement.
func (e *Engine) UpdateContributorRewards(contributor crypto.Address) error {
	return e.execute("update_contributor_rewards", func(tx *txn) error {
		tx.updateContributorRewards(contributor)
		return nil
	})
}

func (tx *txn) updateContributorRewards(contributor crypto.Address) {
	speed := tx.contributorSpeed(contributor)
	last := tx.contributorBlock(contributor)
	if speed.IsZero() || tx.height <= last {
		return
	}
	deltaBlocks := uint256.NewInt(tx.height - last)
	accrued := add(tx.accrued(contributor), mul(deltaBlocks, speed))
	tx.putAccrued(contributor, accrued)
	tx.putContributorBlock(contributor, tx.height)
}

// SetContributorSpeed settles the contributor and sets its linear rate. A
// zero speed also drops the contributor's block checkpoint.
func (e *Engine) SetContributorSpeed(caller, contributor crypto.Address, speed *uint256.Int) error {
	err := e.execute("set_contributor_speed", func(tx *txn) error {
		if err := tx.requireAdmin(caller, "set contributor speed"); err != nil {
			return err
		}
		speed := clone(speed)
		previous := tx.contributorSpeed(contributor)
		tx.updateContributorRewards(contributor)
		if speed.IsZero() {
			tx.clearContributorBlock(contributor)
		} else {
			tx.putContributorBlock(contributor, tx.height)
		}
		tx.putContributorSpeed(contributor, speed)
		tx.emit(RewardSpeedChanged{Contributor: contributor, Previous: previous, Current: speed})
		return nil
	})
	if err == nil {
		e.logger.Info("contributor speed updated",
			slog.String("contributor", contributor.String()),
			slog.String("speed", clone(speed).Dec()))
	}
	return err
}

// --- views ---

func (e *Engine) RewardAccrued(account crypto.Address) (*uint256.Int, error) {
	var accrued *uint256.Int
	err := e.execute("reward_accrued", func(tx *txn) error {
		accrued = tx.accrued(account)
		return nil
	})
	return accrued, err
}

func (e *Engine) RewardSpeed(market crypto.Address) (*uint256.Int, error) {
	var speed *uint256.Int
	err := e.execute("reward_speed", func(tx *txn) error {
		speed = tx.rewardSpeed(market)
		return nil
	})
	return speed, err
}

func (e *Engine) ContributorSpeed(contributor crypto.Address) (*uint256.Int, error) {
	var speed *uint256.Int
	err := e.execute("contributor_speed", func(tx *txn) error {
		speed = tx.contributorSpeed(contributor)
		return nil
	})
	return speed, err
}

// RewardState returns the stored checkpoint of one market side. Unseeded
// sides return the zero state.
func (e *Engine) RewardState(side Side, market crypto.Address) (RewardMarketState, error) {
	var state RewardMarketState
	err := e.execute("reward_state", func(tx *txn) error {
		state, _ = tx.rewardState(side, market)
		return nil
	})
	return state, err
}

// RewardIndexOf returns the index at which account was last settled.
func (e *Engine) RewardIndexOf(side Side, market, account crypto.Address) (Double, error) {
	var index Double
	err := e.execute("reward_index_of", func(tx *txn) error {
		index = tx.accountIndex(side, market, account)
		return nil
	})
	return index, err
}
