package comptroller

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/storage"
)

const (
	paramsKey     = "comptroller/params"
	allMarketsKey = "comptroller/markets"
)

func marketKey(market crypto.Address) string {
	return "comptroller/market/" + market.Key()
}

func assetsKey(account crypto.Address) string {
	return "comptroller/assets/" + account.Key()
}

func speedKey(market crypto.Address) string {
	return "comptroller/speed/" + market.Key()
}

func rewardStateKey(side Side, market crypto.Address) string {
	return "comptroller/reward/" + side.String() + "/" + market.Key()
}

func accountIndexKey(side Side, market, account crypto.Address) string {
	return "comptroller/index/" + side.String() + "/" + market.Key() + "/" + account.Key()
}

func accruedKey(account crypto.Address) string {
	return "comptroller/accrued/" + account.Key()
}

func contributorSpeedKey(contributor crypto.Address) string {
	return "comptroller/contributor/speed/" + contributor.Key()
}

func contributorBlockKey(contributor crypto.Address) string {
	return "comptroller/contributor/block/" + contributor.Key()
}

// --- persisted records ---

type storedParams struct {
	Admin                string
	PauseGuardian        string
	BorrowCapGuardian    string
	Oracle               string
	CloseFactor          *big.Int
	LiquidationIncentive *big.Int
	MaxAssets            uint64
	TransferPaused       bool
	SeizePaused          bool
}

type storedMarket struct {
	Address          string
	Listed           bool
	CollateralFactor *big.Int
	BorrowCap        *big.Int
	MintPaused       bool
	BorrowPaused     bool
}

type storedRewardState struct {
	Index *big.Int
	Block uint64
}

type storedAmount struct {
	Value *big.Int
}

type storedHeight struct {
	Height uint64
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		abort(StorageFailure, "stored value %s out of range", v)
	}
	return out
}

func encodeAddress(addr crypto.Address) string {
	if len(addr.Bytes()) == 0 {
		return ""
	}
	return addr.String()
}

func decodeAddress(s string) crypto.Address {
	if s == "" {
		return crypto.Address{}
	}
	addr, err := crypto.DecodeAddress(s)
	if err != nil {
		abort(StorageFailure, "stored address %q: %v", s, err)
	}
	return addr
}

// txn buffers the reads and writes of one engine call. Nothing reaches the
// database until commit, and effects are released only after the batch lands.
type txn struct {
	engine  *Engine
	db      storage.Database
	height  uint64
	writes  map[string][]byte
	effects []events.Event

	token    RewardToken
	treasury *uint256.Int
	payouts  []payout
}

// payout is a reward-token transfer owed once the call commits.
type payout struct {
	recipient crypto.Address
	amount    *uint256.Int
	claim     bool
}

func newTxn(e *Engine) *txn {
	return &txn{
		engine: e,
		db:     e.db,
		height: e.height.Load(),
		writes: make(map[string][]byte),
	}
}

func (tx *txn) load(key string, out interface{}) bool {
	raw, staged := tx.writes[key]
	if staged {
		if raw == nil {
			return false
		}
	} else {
		var err error
		raw, err = tx.db.Get([]byte(key))
		if errors.Is(err, storage.ErrNotFound) {
			return false
		}
		if err != nil {
			abort(StorageFailure, "read %s: %v", key, err)
		}
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		abort(StorageFailure, "decode %s: %v", key, err)
	}
	return true
}

func (tx *txn) store(key string, value interface{}) {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		abort(StorageFailure, "encode %s: %v", key, err)
	}
	tx.writes[key] = encoded
}

func (tx *txn) remove(key string) {
	tx.writes[key] = nil
}

func (tx *txn) emit(evt events.Event) {
	if evt != nil {
		tx.effects = append(tx.effects, evt)
	}
}

// commit writes every staged key in one batch, in key order, and returns a
// blake3 digest over the written entries.
func (tx *txn) commit() ([32]byte, int, error) {
	var digest [32]byte
	if len(tx.writes) == 0 {
		return digest, 0, nil
	}
	keys := make([]string, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hasher := blake3.New(32, nil)
	batch := tx.db.NewBatch()
	for _, key := range keys {
		value := tx.writes[key]
		hasher.Write([]byte(key))
		hasher.Write([]byte{0})
		if value == nil {
			batch.Delete([]byte(key))
			hasher.Write([]byte{0})
			continue
		}
		batch.Put([]byte(key), value)
		hasher.Write([]byte{1})
		hasher.Write(value)
	}
	if err := batch.Write(); err != nil {
		return digest, 0, err
	}
	copy(digest[:], hasher.Sum(nil))
	return digest, len(keys), nil
}

// --- typed accessors ---

func (tx *txn) hasParams() bool {
	var stored storedParams
	return tx.load(paramsKey, &stored)
}

func (tx *txn) params() Params {
	var stored storedParams
	if !tx.load(paramsKey, &stored) {
		abort(InvariantViolation, "parameters missing")
	}
	return Params{
		Admin:                decodeAddress(stored.Admin),
		PauseGuardian:        decodeAddress(stored.PauseGuardian),
		BorrowCapGuardian:    decodeAddress(stored.BorrowCapGuardian),
		Oracle:               decodeAddress(stored.Oracle),
		CloseFactor:          NewExp(fromBig(stored.CloseFactor)),
		LiquidationIncentive: NewExp(fromBig(stored.LiquidationIncentive)),
		MaxAssets:            stored.MaxAssets,
		TransferPaused:       stored.TransferPaused,
		SeizePaused:          stored.SeizePaused,
	}
}

func (tx *txn) putParams(p Params) {
	tx.store(paramsKey, &storedParams{
		Admin:                encodeAddress(p.Admin),
		PauseGuardian:        encodeAddress(p.PauseGuardian),
		BorrowCapGuardian:    encodeAddress(p.BorrowCapGuardian),
		Oracle:               encodeAddress(p.Oracle),
		CloseFactor:          toBig(&p.CloseFactor.m),
		LiquidationIncentive: toBig(&p.LiquidationIncentive.m),
		MaxAssets:            p.MaxAssets,
		TransferPaused:       p.TransferPaused,
		SeizePaused:          p.SeizePaused,
	})
}

// market returns the stored market. Unknown markets come back unlisted.
func (tx *txn) market(addr crypto.Address) Market {
	var stored storedMarket
	if !tx.load(marketKey(addr), &stored) {
		return Market{Address: addr, BorrowCap: zero()}
	}
	return Market{
		Address:          decodeAddress(stored.Address),
		Listed:           stored.Listed,
		CollateralFactor: NewExp(fromBig(stored.CollateralFactor)),
		BorrowCap:        fromBig(stored.BorrowCap),
		MintPaused:       stored.MintPaused,
		BorrowPaused:     stored.BorrowPaused,
	}
}

func (tx *txn) putMarket(m Market) {
	tx.store(marketKey(m.Address), &storedMarket{
		Address:          encodeAddress(m.Address),
		Listed:           m.Listed,
		CollateralFactor: toBig(&m.CollateralFactor.m),
		BorrowCap:        toBig(m.BorrowCap),
		MintPaused:       m.MintPaused,
		BorrowPaused:     m.BorrowPaused,
	})
}

func (tx *txn) allMarkets() []crypto.Address {
	var stored []string
	if !tx.load(allMarketsKey, &stored) {
		return nil
	}
	out := make([]crypto.Address, 0, len(stored))
	for _, s := range stored {
		out = append(out, decodeAddress(s))
	}
	return out
}

func (tx *txn) putAllMarkets(markets []crypto.Address) {
	stored := make([]string, 0, len(markets))
	for _, m := range markets {
		stored = append(stored, encodeAddress(m))
	}
	tx.store(allMarketsKey, stored)
}

func (tx *txn) membership(account crypto.Address) *Membership {
	var stored []string
	if !tx.load(assetsKey(account), &stored) {
		return newMembership(nil)
	}
	assets := make([]crypto.Address, 0, len(stored))
	for _, s := range stored {
		assets = append(assets, decodeAddress(s))
	}
	m := newMembership(assets)
	if m.Len() != len(stored) {
		abort(InvariantViolation, "duplicate market in assets of %s", account)
	}
	return m
}

func (tx *txn) putMembership(account crypto.Address, m *Membership) {
	if err := m.verify(); err != nil {
		abort(InvariantViolation, "%s: %v", account, err)
	}
	if m.Len() == 0 {
		tx.remove(assetsKey(account))
		return
	}
	stored := make([]string, 0, m.Len())
	for _, asset := range m.assets {
		stored = append(stored, encodeAddress(asset))
	}
	tx.store(assetsKey(account), stored)
}

func (tx *txn) loadAmount(key string) *uint256.Int {
	var stored storedAmount
	if !tx.load(key, &stored) {
		return zero()
	}
	return fromBig(stored.Value)
}

func (tx *txn) storeAmount(key string, v *uint256.Int) {
	tx.store(key, &storedAmount{Value: toBig(v)})
}

func (tx *txn) rewardSpeed(market crypto.Address) *uint256.Int {
	return tx.loadAmount(speedKey(market))
}

func (tx *txn) putRewardSpeed(market crypto.Address, speed *uint256.Int) {
	tx.storeAmount(speedKey(market), speed)
}

// rewardState returns the checkpoint and whether it has been seeded.
func (tx *txn) rewardState(side Side, market crypto.Address) (RewardMarketState, bool) {
	var stored storedRewardState
	if !tx.load(rewardStateKey(side, market), &stored) {
		return RewardMarketState{}, false
	}
	if stored.Block > uint64(^uint32(0)) {
		abort(StorageFailure, "stored reward block %d exceeds 32 bits", stored.Block)
	}
	return RewardMarketState{Index: NewDouble(fromBig(stored.Index)), Block: uint32(stored.Block)}, true
}

func (tx *txn) putRewardState(side Side, market crypto.Address, state RewardMarketState) {
	safe224(state.Index)
	tx.store(rewardStateKey(side, market), &storedRewardState{
		Index: toBig(&state.Index.m),
		Block: uint64(state.Block),
	})
}

func (tx *txn) accountIndex(side Side, market, account crypto.Address) Double {
	return NewDouble(tx.loadAmount(accountIndexKey(side, market, account)))
}

func (tx *txn) putAccountIndex(side Side, market, account crypto.Address, index Double) {
	tx.storeAmount(accountIndexKey(side, market, account), &index.m)
}

func (tx *txn) accrued(account crypto.Address) *uint256.Int {
	return tx.loadAmount(accruedKey(account))
}

func (tx *txn) putAccrued(account crypto.Address, amount *uint256.Int) {
	tx.storeAmount(accruedKey(account), amount)
}

func (tx *txn) contributorSpeed(contributor crypto.Address) *uint256.Int {
	return tx.loadAmount(contributorSpeedKey(contributor))
}

func (tx *txn) putContributorSpeed(contributor crypto.Address, speed *uint256.Int) {
	if speed.IsZero() {
		tx.remove(contributorSpeedKey(contributor))
		return
	}
	tx.storeAmount(contributorSpeedKey(contributor), speed)
}

// contributorBlock returns the last settled block, zero when unset.
func (tx *txn) contributorBlock(contributor crypto.Address) uint64 {
	var stored storedHeight
	if !tx.load(contributorBlockKey(contributor), &stored) {
		return 0
	}
	return stored.Height
}

func (tx *txn) putContributorBlock(contributor crypto.Address, height uint64) {
	tx.store(contributorBlockKey(contributor), &storedHeight{Height: height})
}

func (tx *txn) clearContributorBlock(contributor crypto.Address) {
	tx.remove(contributorBlockKey(contributor))
}

// --- collaborators ---

func (tx *txn) marketToken(addr crypto.Address) MarketToken {
	token, err := tx.engine.resolver.Market(addr)
	if err != nil || token == nil {
		abort(CollaboratorFailure, "resolve market %s: %v", addr, err)
	}
	return token
}

// price returns the oracle price for market. A zero Exp means unavailable.
func (tx *txn) price(market crypto.Address) Exp {
	params := tx.params()
	if params.Oracle.IsZero() {
		return Exp{}
	}
	oracle, err := tx.engine.resolver.Oracle(params.Oracle)
	if err != nil || oracle == nil {
		abort(CollaboratorFailure, "resolve oracle %s: %v", params.Oracle, err)
	}
	price, err := oracle.UnderlyingPrice(market)
	if err != nil {
		abort(CollaboratorFailure, "price of %s: %v", market, err)
	}
	return NewExp(price)
}

func (tx *txn) rewardToken() RewardToken {
	token := tx.engine.reward.Token
	if token.IsZero() {
		abort(CollaboratorFailure, "reward token not configured")
	}
	handle, err := tx.engine.resolver.RewardToken(token)
	if err != nil || handle == nil {
		abort(CollaboratorFailure, "resolve reward token %s: %v", token, err)
	}
	return handle
}

func (tx *txn) totalSupply(market crypto.Address) *uint256.Int {
	v, err := tx.marketToken(market).TotalSupply()
	if err != nil {
		abort(CollaboratorFailure, "total supply of %s: %v", market, err)
	}
	return clone(v)
}

func (tx *txn) totalBorrows(market crypto.Address) *uint256.Int {
	v, err := tx.marketToken(market).TotalBorrows()
	if err != nil {
		abort(CollaboratorFailure, "total borrows of %s: %v", market, err)
	}
	return clone(v)
}

func (tx *txn) borrowIndex(market crypto.Address) Exp {
	v, err := tx.marketToken(market).BorrowIndex()
	if err != nil {
		abort(CollaboratorFailure, "borrow index of %s: %v", market, err)
	}
	return v
}

func (tx *txn) balanceOf(market, account crypto.Address) *uint256.Int {
	v, err := tx.marketToken(market).BalanceOf(account)
	if err != nil {
		abort(CollaboratorFailure, "balance of %s in %s: %v", account, market, err)
	}
	return clone(v)
}

func (tx *txn) borrowBalanceStored(market, account crypto.Address) *uint256.Int {
	v, err := tx.marketToken(market).BorrowBalanceStored(account)
	if err != nil {
		abort(CollaboratorFailure, "borrow balance of %s in %s: %v", account, market, err)
	}
	return clone(v)
}
