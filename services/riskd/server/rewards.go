package server

import (
	"net/http"
)

// handleClaim settles and pays holders. Without markets every listed market
// is claimed; both sides are claimed unless switched off.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	holders := f.addresses("holders", req.Holders)
	markets := f.addresses("markets", req.Markets)
	if !f.ok(w) {
		return
	}
	if len(holders) == 0 {
		holders = append(holders, principal(r).Subject)
	}
	borrowers := req.Borrowers == nil || *req.Borrowers
	suppliers := req.Suppliers == nil || *req.Suppliers

	var err error
	switch {
	case len(markets) == 0 && len(holders) == 1 && borrowers && suppliers:
		err = s.engine.ClaimAll(holders[0])
	case len(markets) == 0:
		if markets, err = s.engine.AllMarkets(); err == nil {
			err = s.engine.Claim(holders, markets, borrowers, suppliers)
		}
	default:
		err = s.engine.Claim(holders, markets, borrowers, suppliers)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContributorUpdate(w http.ResponseWriter, r *http.Request) {
	contributor, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	if err := s.engine.UpdateContributorRewards(contributor); err != nil {
		writeEngineError(w, err)
		return
	}
	accrued, err := s.engine.RewardAccrued(contributor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{
		Account: contributor.String(),
		Symbol:  s.engine.RewardConfig().Symbol,
		Accrued: decimal(accrued),
	})
}
