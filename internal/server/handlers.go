package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"RebalanceSentinel/internal/calculator"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/session"
	"RebalanceSentinel/internal/snapshot"
)

const defaultPerformanceDays = 30

type healthResponse struct {
	Status      string            `json:"status"`
	Generation  uint64            `json:"generation"`
	PriceStatus model.PriceStatus `json:"price_status,omitempty"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
	Stale       bool              `json:"stale"`
	Connected   bool              `json:"connected"`
	System      systemStats       `json:"system"`
}

type systemStats struct {
	RSSBytes       uint64  `json:"rss_bytes"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// readSystemStats never blocks on CPU sampling; zero values mean unavailable.
func (s *Server) readSystemStats() systemStats {
	var stats systemStats
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemUsedPercent = vm.UsedPercent
	} else {
		s.log.Debug().Err(err).Msg("read memory statistics")
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			stats.RSSBytes = info.RSS
		}
	}
	return stats
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Stale:     true,
		Connected: s.sessions.State().Connected(),
		System:    s.readSystemStats(),
	}
	if snap := s.snapshots.Latest(); snap != nil {
		resp.Generation = snap.Generation
		resp.PriceStatus = snap.PriceStatus
		resp.SettledAt = &snap.SettledAt
		resp.Stale = snap.IsStale(s.now(), s.snapshots.StaleAfter())
	}
	writeJSON(w, http.StatusOK, resp)
}

// current returns the snapshot to serve and whether its prices are stale.
// It writes an error response and returns nil when there is nothing to serve.
func (s *Server) current(w http.ResponseWriter, r *http.Request) (*model.Snapshot, bool) {
	snap, err := s.snapshots.Current(r.Context())
	if snap == nil {
		msg := "no snapshot available yet"
		if err != nil {
			msg = err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return nil, false
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("serving stale snapshot")
	}
	return snap, snap.IsStale(s.now(), s.snapshots.StaleAfter())
}

type snapshotResponse struct {
	*model.Snapshot
	Stale bool `json:"stale"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current(w, r)
	if snap == nil {
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, Stale: stale})
}

type pricesResponse struct {
	PriceStatus model.PriceStatus  `json:"price_status"`
	PricesAt    time.Time          `json:"prices_at"`
	Stale       bool               `json:"stale"`
	Quotes      []model.AssetQuote `json:"quotes"`
	Sources     map[string]int     `json:"sources"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current(w, r)
	if snap == nil {
		return
	}
	resp := pricesResponse{
		PriceStatus: snap.PriceStatus,
		PricesAt:    snap.PricesAt,
		Stale:       stale,
		Quotes:      make([]model.AssetQuote, 0, len(snap.Quotes)),
		Sources:     make(map[string]int),
	}
	for _, code := range snap.Quotes.Codes() {
		resp.Quotes = append(resp.Quotes, snap.Quotes[code])
	}
	for src, n := range snap.Quotes.CountBySource() {
		resp.Sources[string(src)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type driftResponse struct {
	TargetOrigin model.TargetOrigin       `json:"target_origin"`
	Targets      []model.TargetAllocation `json:"targets"`
	Drift        *model.DriftReport       `json:"drift"`
	Stale        bool                     `json:"stale"`
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current(w, r)
	if snap == nil {
		return
	}
	writeJSON(w, http.StatusOK, driftResponse{
		TargetOrigin: snap.TargetOrigin,
		Targets:      snap.Targets,
		Drift:        snap.Drift,
		Stale:        stale,
	})
}

type tradesResponse struct {
	NeedsRebalance bool          `json:"needs_rebalance"`
	Trades         []model.Trade `json:"trades"`
	Stale          bool          `json:"stale"`
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current(w, r)
	if snap == nil {
		return
	}
	trades := snap.Trades
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{NeedsRebalance: snap.NeedsRebalance(), Trades: trades, Stale: stale})
}

type performanceResponse struct {
	Account string                       `json:"account"`
	Report  calculator.PerformanceReport `json:"report"`
	History []model.ValuePoint           `json:"history"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	account, ok := s.owner(w)
	if !ok {
		return
	}
	days := defaultPerformanceDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	points, err := s.history.ValueHistory(account, s.now().AddDate(0, 0, -days), 0)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load value history")
		writeError(w, http.StatusInternalServerError, "failed to load value history")
		return
	}
	report, err := calculator.Performance(points, calculator.DefaultRiskFreeRate)
	if err != nil {
		if errors.Is(err, calculator.ErrNotEnoughData) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, performanceResponse{Account: account, Report: report, History: points})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.RunNow(r.Context(), model.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, snapshot.ErrStaleGeneration):
			writeError(w, http.StatusConflict, "superseded by a newer refresh")
		case errors.Is(err, context.Canceled):
			// client went away
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap})
}

type sessionResponse struct {
	Session  model.SessionState `json:"session"`
	Snapshot *model.Snapshot    `json:"snapshot,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{Session: s.sessions.State()})
}

type connectRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := s.sessions.Connect(req.Account)
	if err != nil {
		if errors.Is(err, session.ErrInvalidAccount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("connect wallet")
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: state, Snapshot: s.refreshAfterChange(r.Context())})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.sessions.Disconnect()
	writeJSON(w, http.StatusOK, sessionResponse{Session: s.sessions.State(), Snapshot: s.refreshAfterChange(r.Context())})
}

// refreshAfterChange re-runs the pipeline so the next read reflects the new
// account or targets. Failures are logged; the change itself already succeeded.
func (s *Server) refreshAfterChange(ctx context.Context) *model.Snapshot {
	snap, err := s.snapshots.RunNow(ctx, model.TriggerManual)
	if err != nil {
		s.log.Warn().Err(err).Msg("refresh after change failed")
		return nil
	}
	return snap
}

// owner returns the connected account or writes a 409.
func (s *Server) owner(w http.ResponseWriter) (string, bool) {
	account, err := s.sessions.Account()
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusConflict, "no wallet connected")
			return "", false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", false
	}
	return account, true
}
