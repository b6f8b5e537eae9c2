// Package server exposes snapshots, the wallet session and contract actions over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"RebalanceSentinel/internal/contract"
	"RebalanceSentinel/internal/metrics"
	"RebalanceSentinel/internal/model"
)

// Snapshots serves committed snapshots and runs cycles on demand.
type Snapshots interface {
	Latest() *model.Snapshot
	Current(ctx context.Context) (*model.Snapshot, error)
	RunNow(ctx context.Context, trigger model.TriggerType) (*model.Snapshot, error)
	StaleAfter() time.Duration
}

// Sessions holds the connected wallet.
type Sessions interface {
	State() model.SessionState
	Account() (string, error)
	Connect(account string) (model.SessionState, error)
	Disconnect()
}

// History returns recorded portfolio values.
type History interface {
	ValueHistory(account string, since time.Time, limit int) ([]model.ValuePoint, error)
}

// PortfolioContract is the on-chain portfolio the session's account owns.
type PortfolioContract interface {
	GetPortfolio(ctx context.Context, owner string) (*contract.Portfolio, error)
	NeedsRebalancing(ctx context.Context, owner string) (bool, error)
	GetPortfolioStatus(ctx context.Context, owner string) (map[string]uint32, error)
	CreatePortfolio(ctx context.Context, owner string, allocs []contract.Allocation, driftThresholdBP uint32) (contract.Receipt, error)
	UpdateAllocations(ctx context.Context, owner string, allocs []contract.Allocation) (contract.Receipt, error)
	RebalancePortfolio(ctx context.Context, owner string) (contract.Receipt, *contract.RebalanceResult, error)
	TogglePortfolioStatus(ctx context.Context, owner string, active bool) (contract.Receipt, error)
}

// Config holds server dependencies. Contract may be nil.
type Config struct {
	Addr      string
	Log       zerolog.Logger
	Snapshots Snapshots
	Sessions  Sessions
	History   History
	Contract  PortfolioContract
}

// Server is the HTTP API.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	snapshots Snapshots
	sessions  Sessions
	history   History
	contract  PortfolioContract
	now       func() time.Time
}

// New creates the server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		snapshots: cfg.Snapshots,
		sessions:  cfg.Sessions,
		history:   cfg.History,
		contract:  cfg.Contract,
		now:       time.Now,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	// contract writes wait for the transaction to settle
	s.router.Use(middleware.Timeout(75 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/prices", s.handlePrices)
		r.Get("/drift", s.handleDrift)
		r.Get("/trades", s.handleTrades)
		r.Get("/performance", s.handlePerformance)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/", s.handleConnect)
			r.Delete("/", s.handleDisconnect)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Use(s.requireContract)
			r.Get("/", s.handleGetPortfolio)
			r.Post("/", s.handleCreatePortfolio)
			r.Put("/allocations", s.handleUpdateAllocations)
			r.Post("/rebalance", s.handleRebalance)
			r.Post("/status", s.handleToggleStatus)
		})
	})
}

// Handler returns the root handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) requireContract(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.contract == nil {
			writeError(w, http.StatusServiceUnavailable, "contract is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
