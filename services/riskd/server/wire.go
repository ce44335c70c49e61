package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"lendcore/crypto"
	"lendcore/native/comptroller"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return false
	}
	return true
}

// fields parses request values, keeping the first failure.
type fields struct {
	err error
}

func (f *fields) address(name, value string) crypto.Address {
	if f.err != nil {
		return crypto.Address{}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		f.err = fmt.Errorf("%s required", name)
		return crypto.Address{}
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return addr
}

func (f *fields) addresses(name string, values []string) []crypto.Address {
	out := make([]crypto.Address, 0, len(values))
	for i, value := range values {
		out = append(out, f.address(fmt.Sprintf("%s[%d]", name, i), value))
	}
	return out
}

// amount parses a base-10 integer. Empty means zero.
func (f *fields) amount(name, value string) *uint256.Int {
	if f.err != nil {
		return new(uint256.Int)
	}
	v, err := comptroller.ParseAmount(value)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
		return new(uint256.Int)
	}
	return v
}

func (f *fields) exp(name, value string) comptroller.Exp {
	if f.err != nil {
		return comptroller.Exp{}
	}
	if strings.TrimSpace(value) == "" {
		f.err = fmt.Errorf("%s required", name)
		return comptroller.Exp{}
	}
	v, err := comptroller.ParseExp(value)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (f *fields) ok(w http.ResponseWriter) bool {
	if f.err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", f.err.Error())
		return false
	}
	return true
}

// hookRequest carries the arguments of every policy and verify hook. Each
// hook reads the fields it needs.
type hookRequest struct {
	Market        string `json:"market"`
	Borrowed      string `json:"borrowed"`
	Collateral    string `json:"collateral"`
	Minter        string `json:"minter"`
	Redeemer      string `json:"redeemer"`
	Borrower      string `json:"borrower"`
	Payer         string `json:"payer"`
	Liquidator    string `json:"liquidator"`
	Src           string `json:"src"`
	Dst           string `json:"dst"`
	Amount        string `json:"amount"`
	Tokens        string `json:"tokens"`
	RedeemAmount  string `json:"redeem_amount"`
	RedeemTokens  string `json:"redeem_tokens"`
	RepayAmount   string `json:"repay_amount"`
	SeizeTokens   string `json:"seize_tokens"`
	BorrowerIndex string `json:"borrower_index"`
}

type allowedResponse struct {
	Allowed bool `json:"allowed"`
}

type membershipRequest struct {
	Markets []string `json:"markets"`
}

type exitRequest struct {
	Market string `json:"market"`
}

type marketResult struct {
	Market string `json:"market"`
	Code   string `json:"code"`
}

type enterResponse struct {
	Results []marketResult `json:"results"`
}

type liquidityResponse struct {
	Account   string `json:"account"`
	Liquidity string `json:"liquidity"`
	Shortfall string `json:"shortfall"`
}

func newLiquidityResponse(account crypto.Address, l comptroller.Liquidity) liquidityResponse {
	return liquidityResponse{Account: account.String(), Liquidity: decimal(l.Liquidity), Shortfall: decimal(l.Shortfall)}
}

type hypotheticalRequest struct {
	Account      string `json:"account"`
	Market       string `json:"market"`
	RedeemTokens string `json:"redeem_tokens"`
	BorrowAmount string `json:"borrow_amount"`
}

type assetsResponse struct {
	Account string   `json:"account"`
	Assets  []string `json:"assets"`
}

type rewardsResponse struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Accrued string `json:"accrued"`
}

type rewardStateView struct {
	Index string `json:"index"`
	Block uint32 `json:"block"`
}

func newRewardStateView(s comptroller.RewardMarketState) rewardStateView {
	return rewardStateView{Index: s.Index.String(), Block: s.Block}
}

type marketView struct {
	Address          string          `json:"address"`
	CollateralFactor string          `json:"collateral_factor"`
	BorrowCap        string          `json:"borrow_cap"`
	MintPaused       bool            `json:"mint_paused"`
	BorrowPaused     bool            `json:"borrow_paused"`
	Deprecated       bool            `json:"deprecated"`
	RewardSpeed      string          `json:"reward_speed"`
	SupplyState      rewardStateView `json:"supply_state"`
	BorrowState      rewardStateView `json:"borrow_state"`
}

func newMarketView(info comptroller.MarketInfo) marketView {
	return marketView{
		Address:          info.Address.String(),
		CollateralFactor: info.CollateralFactor.String(),
		BorrowCap:        decimal(info.BorrowCap),
		MintPaused:       info.MintPaused,
		BorrowPaused:     info.BorrowPaused,
		Deprecated:       info.Deprecated,
		RewardSpeed:      decimal(info.RewardSpeed),
		SupplyState:      newRewardStateView(info.SupplyState),
		BorrowState:      newRewardStateView(info.BorrowState),
	}
}

type marketsResponse struct {
	Markets []marketView `json:"markets"`
}

type seizeTokensRequest struct {
	Borrowed    string `json:"borrowed"`
	Collateral  string `json:"collateral"`
	RepayAmount string `json:"repay_amount"`
}

type seizeTokensResponse struct {
	SeizeTokens string `json:"seize_tokens"`
}

type claimRequest struct {
	Holders   []string `json:"holders"`
	Markets   []string `json:"markets"`
	Borrowers *bool    `json:"borrowers"`
	Suppliers *bool    `json:"suppliers"`
}

type paramsView struct {
	Admin                string `json:"admin"`
	PauseGuardian        string `json:"pause_guardian"`
	BorrowCapGuardian    string `json:"borrow_cap_guardian"`
	Oracle               string `json:"oracle"`
	CloseFactor          string `json:"close_factor"`
	LiquidationIncentive string `json:"liquidation_incentive"`
	MaxAssets            uint64 `json:"max_assets"`
	TransferPaused       bool   `json:"transfer_paused"`
	SeizePaused          bool   `json:"seize_paused"`
}

func newParamsView(p comptroller.Params) paramsView {
	return paramsView{
		Admin:                optional(p.Admin),
		PauseGuardian:        optional(p.PauseGuardian),
		BorrowCapGuardian:    optional(p.BorrowCapGuardian),
		Oracle:               optional(p.Oracle),
		CloseFactor:          p.CloseFactor.String(),
		LiquidationIncentive: p.LiquidationIncentive.String(),
		MaxAssets:            p.MaxAssets,
		TransferPaused:       p.TransferPaused,
		SeizePaused:          p.SeizePaused,
	}
}

type statusResponse struct {
	Initialized bool   `json:"initialized"`
	Comptroller string `json:"comptroller"`
	BlockHeight uint64 `json:"block_height"`
	LastCommit  string `json:"last_commit"`
}

func digestHex(d [32]byte) string { return hex.EncodeToString(d[:]) }

type valueRequest struct {
	Value string `json:"value"`
}

type maxAssetsRequest struct {
	Value uint64 `json:"value"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type pauseRequest struct {
	Action string `json:"action"`
	Market string `json:"market"`
	Paused bool   `json:"paused"`
}

type borrowCapsRequest struct {
	Markets []string `json:"markets"`
	Caps    []string `json:"caps"`
}

type grantRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func optional(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}
