package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendcore/crypto"
)

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	var f fields
	addr := f.address("address", chi.URLParam(r, "addr"))
	return addr, f.ok(w)
}

// handleEnterMarkets enrols the authenticated subject in the requested
// markets and reports one code per market.
func (s *Server) handleEnterMarkets(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	markets := f.addresses("markets", req.Markets)
	if !f.ok(w) {
		return
	}
	codes, err := s.engine.EnterMarkets(principal(r).Subject, markets)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := enterResponse{Results: make([]marketResult, 0, len(codes))}
	for i, code := range codes {
		resp.Results = append(resp.Results, marketResult{Market: markets[i].String(), Code: code.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExitMarket(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	market := f.address("market", req.Market)
	if !f.ok(w) {
		return
	}
	if err := s.engine.ExitMarket(principal(r).Subject, market); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	liquidity, err := s.engine.AccountLiquidity(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidityResponse(account, liquidity))
}

func (s *Server) handleHypothetical(w http.ResponseWriter, r *http.Request) {
	var req hypotheticalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	account := f.address("account", req.Account)
	market := f.address("market", req.Market)
	redeem := f.amount("redeem_tokens", req.RedeemTokens)
	borrow := f.amount("borrow_amount", req.BorrowAmount)
	if !f.ok(w) {
		return
	}
	liquidity, err := s.engine.HypotheticalAccountLiquidity(account, market, redeem, borrow)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidityResponse(account, liquidity))
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	assets, err := s.engine.AssetsIn(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := assetsResponse{Account: account.String(), Assets: make([]string, 0, len(assets))}
	for _, asset := range assets {
		resp.Assets = append(resp.Assets, asset.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	accrued, err := s.engine.RewardAccrued(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{
		Account: account.String(),
		Symbol:  s.engine.RewardConfig().Symbol,
		Accrued: decimal(accrued),
	})
}
