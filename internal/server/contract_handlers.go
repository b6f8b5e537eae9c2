package server

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"RebalanceSentinel/internal/contract"
)

type portfolioResponse struct {
	Portfolio        *contract.Portfolio `json:"portfolio"`
	NeedsRebalancing bool                `json:"needs_rebalancing"`
	Status           map[string]uint32   `json:"status"`
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w)
	if !ok {
		return
	}

	var resp portfolioResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		p, err := s.contract.GetPortfolio(ctx, owner)
		resp.Portfolio = p
		return err
	})
	g.Go(func() error {
		needs, err := s.contract.NeedsRebalancing(ctx, owner)
		resp.NeedsRebalancing = needs
		return err
	})
	g.Go(func() error {
		status, err := s.contract.GetPortfolioStatus(ctx, owner)
		resp.Status = status
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createPortfolioRequest struct {
	Allocations      []contract.Allocation `json:"allocations"`
	DriftThresholdBP uint32                `json:"drift_threshold_bp"`
}

type receiptResponse struct {
	Receipt contract.Receipt          `json:"receipt"`
	Result  *contract.RebalanceResult `json:"result,omitempty"`
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w)
	if !ok {
		return
	}
	var req createPortfolioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := s.contract.CreatePortfolio(r.Context(), owner, req.Allocations, req.DriftThresholdBP)
	s.afterWrite(r.Context(), w, receipt, nil, err)
}

type updateAllocationsRequest struct {
	Allocations []contract.Allocation `json:"allocations"`
}

func (s *Server) handleUpdateAllocations(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w)
	if !ok {
		return
	}
	var req updateAllocationsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := s.contract.UpdateAllocations(r.Context(), owner, req.Allocations)
	s.afterWrite(r.Context(), w, receipt, nil, err)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w)
	if !ok {
		return
	}
	receipt, result, err := s.contract.RebalancePortfolio(r.Context(), owner)
	s.afterWrite(r.Context(), w, receipt, result, err)
}

type toggleStatusRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleToggleStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w)
	if !ok {
		return
	}
	var req toggleStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := s.contract.TogglePortfolioStatus(r.Context(), owner, req.Active)
	s.afterWrite(r.Context(), w, receipt, nil, err)
}

// afterWrite answers a contract write and, once it settled, refreshes the
// snapshot so drift reflects the new on-chain state.
func (s *Server) afterWrite(ctx context.Context, w http.ResponseWriter, receipt contract.Receipt, result *contract.RebalanceResult, err error) {
	if err != nil {
		if errors.Is(err, contract.ErrTransactionPending) {
			writeJSON(w, http.StatusAccepted, receiptResponse{Receipt: receipt})
			return
		}
		s.writeContractError(w, err)
		return
	}
	s.refreshAfterChange(ctx)
	writeJSON(w, http.StatusOK, receiptResponse{Receipt: receipt, Result: result})
}

func (s *Server) writeContractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contract.ErrInvalidAllocation),
		errors.Is(err, contract.ErrInvalidDriftThreshold),
		errors.Is(err, contract.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contract.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, contract.ErrNotInitialized):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contract.ErrNoRebalanceNeeded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
	default:
		s.log.Error().Err(err).Msg("contract call failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
