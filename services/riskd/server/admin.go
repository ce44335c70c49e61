package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.engine.Params()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newParamsView(params))
}

// respond writes 204 or the engine failure.
func respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMarket(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	market := f.address("address", req.Address)
	if !f.ok(w) {
		return
	}
	if err := s.engine.ListMarket(principal(r).Subject, market); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleCollateralFactor(w http.ResponseWriter, r *http.Request) {
	market, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	factor := f.exp("value", req.Value)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetCollateralFactor(principal(r).Subject, market, factor))
}

func (s *Server) handleRewardSpeed(w http.ResponseWriter, r *http.Request) {
	market, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	speed := f.amount("value", req.Value)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetRewardSpeed(principal(r).Subject, market, speed))
}

func (s *Server) handleContributorSpeed(w http.ResponseWriter, r *http.Request) {
	contributor, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	speed := f.amount("value", req.Value)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetContributorSpeed(principal(r).Subject, contributor, speed))
}

func (s *Server) handleCloseFactor(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	factor := f.exp("value", req.Value)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetCloseFactor(principal(r).Subject, factor))
}

func (s *Server) handleLiquidationIncentive(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	incentive := f.exp("value", req.Value)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetLiquidationIncentive(principal(r).Subject, incentive))
}

func (s *Server) handleMaxAssets(w http.ResponseWriter, r *http.Request) {
	var req maxAssetsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respond(w, s.engine.SetMaxAssets(principal(r).Subject, req.Value))
}

func (s *Server) setAddress(w http.ResponseWriter, r *http.Request, set func(caller, value crypto.Address) error) {
	var req addressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	value := f.address("address", req.Address)
	if !f.ok(w) {
		return
	}
	respond(w, set(principal(r).Subject, value))
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	s.setAddress(w, r, s.engine.SetPriceOracle)
}

func (s *Server) handlePauseGuardian(w http.ResponseWriter, r *http.Request) {
	s.setAddress(w, r, s.engine.SetPauseGuardian)
}

func (s *Server) handleBorrowCapGuardian(w http.ResponseWriter, r *http.Request) {
	s.setAddress(w, r, s.engine.SetBorrowCapGuardian)
}

// handlePause flips one pause switch. mint and borrow are per market;
// transfer and seize are global.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := principal(r).Subject
	action := strings.ToLower(strings.TrimSpace(req.Action))
	var f fields
	switch action {
	case "mint", "borrow":
		market := f.address("market", req.Market)
		if !f.ok(w) {
			return
		}
		if action == "mint" {
			respond(w, s.engine.SetMintPaused(caller, market, req.Paused))
			return
		}
		respond(w, s.engine.SetBorrowPaused(caller, market, req.Paused))
	case "transfer":
		respond(w, s.engine.SetTransferPaused(caller, req.Paused))
	case "seize":
		respond(w, s.engine.SetSeizePaused(caller, req.Paused))
	default:
		writeProblem(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("unknown pause action %q", req.Action))
	}
}

func (s *Server) handleBorrowCaps(w http.ResponseWriter, r *http.Request) {
	var req borrowCapsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	markets := f.addresses("markets", req.Markets)
	caps := make([]*uint256.Int, 0, len(req.Caps))
	for i, value := range req.Caps {
		caps = append(caps, f.amount(fmt.Sprintf("caps[%d]", i), value))
	}
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.SetMarketBorrowCaps(principal(r).Subject, markets, caps))
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var f fields
	recipient := f.address("recipient", req.Recipient)
	amount := f.amount("amount", req.Amount)
	if !f.ok(w) {
		return
	}
	respond(w, s.engine.GrantReward(principal(r).Subject, recipient, amount))
}
