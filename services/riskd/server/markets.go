package server

import (
	"net/http"
)

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.AllMarkets()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := marketsResponse{Markets: make([]marketView, 0, len(markets))}
	for _, market := range markets {
		info, err := s.engine.MarketInfo(market)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Markets = append(resp.Markets, newMarketView(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	info, err := s.engine.MarketInfo(market)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(info))
}

func (s *Server) handleSeizeTokens(w http.ResponseWriter, r *http.Request) {
	var req seizeTokensRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	borrowed := f.address("borrowed", req.Borrowed)
	collateral := f.address("collateral", req.Collateral)
	repay := f.amount("repay_amount", req.RepayAmount)
	if !f.ok(w) {
		return
	}
	tokens, err := s.engine.CalculateSeizeTokens(borrowed, collateral, repay)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seizeTokensResponse{SeizeTokens: decimal(tokens)})
}
