package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleHook runs a policy hook. A denial is reported with the failure code
// so the calling market can revert.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		f   fields
		run func() error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "mint":
		market, minter, amount := f.address("market", req.Market), f.address("minter", req.Minter), f.amount("amount", req.Amount)
		run = func() error { return s.engine.MintAllowed(market, minter, amount) }
	case "redeem":
		market, redeemer, tokens := f.address("market", req.Market), f.address("redeemer", req.Redeemer), f.amount("redeem_tokens", req.RedeemTokens)
		run = func() error { return s.engine.RedeemAllowed(market, redeemer, tokens) }
	case "borrow":
		caller := principal(r).Subject
		market, borrower, amount := f.address("market", req.Market), f.address("borrower", req.Borrower), f.amount("amount", req.Amount)
		run = func() error { return s.engine.BorrowAllowed(caller, market, borrower, amount) }
	case "repay":
		market, payer, borrower, amount := f.address("market", req.Market), f.address("payer", req.Payer), f.address("borrower", req.Borrower), f.amount("amount", req.Amount)
		run = func() error { return s.engine.RepayBorrowAllowed(market, payer, borrower, amount) }
	case "liquidate":
		borrowed, collateral := f.address("borrowed", req.Borrowed), f.address("collateral", req.Collateral)
		liquidator, borrower := f.address("liquidator", req.Liquidator), f.address("borrower", req.Borrower)
		repay := f.amount("repay_amount", req.RepayAmount)
		run = func() error {
			return s.engine.LiquidateBorrowAllowed(borrowed, collateral, liquidator, borrower, repay)
		}
	case "seize":
		collateral, borrowed := f.address("collateral", req.Collateral), f.address("borrowed", req.Borrowed)
		liquidator, borrower := f.address("liquidator", req.Liquidator), f.address("borrower", req.Borrower)
		tokens := f.amount("seize_tokens", req.SeizeTokens)
		run = func() error { return s.engine.SeizeAllowed(collateral, borrowed, liquidator, borrower, tokens) }
	case "transfer":
		market, src, dst, tokens := f.address("market", req.Market), f.address("src", req.Src), f.address("dst", req.Dst), f.amount("tokens", req.Tokens)
		run = func() error { return s.engine.TransferAllowed(market, src, dst, tokens) }
	default:
		writeProblem(w, http.StatusNotFound, "unknown_hook", action)
		return
	}
	if !f.ok(w) {
		return
	}
	if err := run(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allowedResponse{Allowed: true})
}

// handleVerify runs a post-action verify hook.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		f   fields
		run func() error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "mint":
		market, minter := f.address("market", req.Market), f.address("minter", req.Minter)
		amount, tokens := f.amount("amount", req.Amount), f.amount("tokens", req.Tokens)
		run = func() error { return s.engine.MintVerify(market, minter, amount, tokens) }
	case "redeem":
		market, redeemer := f.address("market", req.Market), f.address("redeemer", req.Redeemer)
		amount, tokens := f.amount("redeem_amount", req.RedeemAmount), f.amount("redeem_tokens", req.RedeemTokens)
		run = func() error { return s.engine.RedeemVerify(market, redeemer, amount, tokens) }
	case "borrow":
		market, borrower, amount := f.address("market", req.Market), f.address("borrower", req.Borrower), f.amount("amount", req.Amount)
		run = func() error { return s.engine.BorrowVerify(market, borrower, amount) }
	case "repay":
		market, payer, borrower := f.address("market", req.Market), f.address("payer", req.Payer), f.address("borrower", req.Borrower)
		amount, index := f.amount("amount", req.Amount), f.amount("borrower_index", req.BorrowerIndex)
		run = func() error { return s.engine.RepayBorrowVerify(market, payer, borrower, amount, index) }
	case "liquidate":
		borrowed, collateral := f.address("borrowed", req.Borrowed), f.address("collateral", req.Collateral)
		liquidator, borrower := f.address("liquidator", req.Liquidator), f.address("borrower", req.Borrower)
		repay, seize := f.amount("repay_amount", req.RepayAmount), f.amount("seize_tokens", req.SeizeTokens)
		run = func() error {
			return s.engine.LiquidateBorrowVerify(borrowed, collateral, liquidator, borrower, repay, seize)
		}
	case "seize":
		collateral, borrowed := f.address("collateral", req.Collateral), f.address("borrowed", req.Borrowed)
		liquidator, borrower := f.address("liquidator", req.Liquidator), f.address("borrower", req.Borrower)
		tokens := f.amount("seize_tokens", req.SeizeTokens)
		run = func() error { return s.engine.SeizeVerify(collateral, borrowed, liquidator, borrower, tokens) }
	case "transfer":
		market, src, dst, tokens := f.address("market", req.Market), f.address("src", req.Src), f.address("dst", req.Dst), f.amount("tokens", req.Tokens)
		run = func() error { return s.engine.TransferVerify(market, src, dst, tokens) }
	default:
		writeProblem(w, http.StatusNotFound, "unknown_hook", action)
		return
	}
	if !f.ok(w) {
		return
	}
	if err := run(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allowedResponse{Allowed: true})
}
