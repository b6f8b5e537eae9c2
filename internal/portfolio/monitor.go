// Package portfolio runs refresh cycles: fetch, value, evaluate, publish.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"RebalanceSentinel/internal/calculator"
	"RebalanceSentinel/internal/metrics"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/pricefeed"
	"RebalanceSentinel/internal/recorder"
	"RebalanceSentinel/internal/session"
	"RebalanceSentinel/internal/snapshot"
)

// HoldingsSource loads an account's balances.
type HoldingsSource interface {
	Holdings(ctx context.Context, account string) ([]model.Holding, error)
}

// PriceResolver resolves quotes for a set of asset codes.
type PriceResolver interface {
	Resolve(ctx context.Context, codes []string) (model.QuoteSet, error)
}

// AccountProvider returns the connected account or session.ErrNotConnected.
type AccountProvider interface {
	Account() (string, error)
}

// Options tunes a Monitor.
type Options struct {
	// Watchlist is always priced, even without a connected account.
	Watchlist []string
	// DriftThreshold applies when the target source does not carry one.
	DriftThreshold decimal.Decimal
	// FetchTimeout bounds the holdings and targets requests.
	FetchTimeout time.Duration
}

// Monitor runs refresh cycles and commits their snapshots to the store.
type Monitor struct {
	accounts AccountProvider
	holdings HoldingsSource
	targets  TargetSource
	prices   PriceResolver
	store    *snapshot.Store
	rec      recorder.Recorder
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

// NewMonitor wires a monitor. A nil recorder disables history.
func NewMonitor(
	accounts AccountProvider,
	holdings HoldingsSource,
	targets TargetSource,
	prices PriceResolver,
	store *snapshot.Store,
	rec recorder.Recorder,
	opts Options,
	log zerolog.Logger,
) *Monitor {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = pricefeed.DefaultAttemptTimeout
	}
	return &Monitor{
		accounts: accounts,
		holdings: holdings,
		targets:  targets,
		prices:   prices,
		store:    store,
		rec:      rec,
		opts:     opts,
		now:      time.Now,
		log:      log.With().Str("component", "monitor").Logger(),
	}
}

// Store returns the snapshot store the monitor commits to.
func (m *Monitor) Store() *snapshot.Store { return m.store }

// Refresh runs one cycle. It returns the committed snapshot, or an error when
// the holdings fetch failed, the caller cancelled, or a newer cycle
// superseded this one (snapshot.ErrStaleGeneration).
func (m *Monitor) Refresh(ctx context.Context, trigger model.TriggerType) (*model.Snapshot, error) {
	started := m.now()
	cycleCtx, tok := m.store.Begin(ctx)
	log := m.log.With().Uint64("generation", uint64(tok)).Str("trigger", string(trigger)).Logger()

	snap, err := m.run(cycleCtx, tok, trigger, started, log)
	elapsed := m.now().Sub(started)
	if err != nil {
		m.store.Abandon(tok)
		outcome := "failed"
		if errors.Is(err, snapshot.ErrStaleGeneration) || m.store.Generation() != tok {
			outcome = "stale"
			err = fmt.Errorf("%w: %v", snapshot.ErrStaleGeneration, err)
			log.Debug().Err(err).Msg("cycle superseded")
		} else {
			log.Error().Err(err).Msg("refresh cycle failed")
		}
		metrics.RecordCycle(string(trigger), outcome, elapsed)
		return nil, err
	}

	metrics.RecordCycle(string(trigger), "settled", elapsed)
	metrics.SetPortfolio(snap.TotalValue().InexactFloat64(), worstDrift(snap), snap.NeedsRebalance())

	if err := m.rec.RecordSnapshot(snap); err != nil {
		log.Error().Err(err).Msg("failed to record snapshot")
	}

	log.Info().
		Str("price_status", string(snap.PriceStatus)).
		Int("quotes", len(snap.Quotes)).
		Int("holdings", len(snap.Valuation.Holdings)).
		Str("total_value", snap.TotalValue().StringFixed(2)).
		Bool("needs_rebalance", snap.NeedsRebalance()).
		Dur("elapsed", elapsed).
		Msg("refresh cycle settled")
	return snap, nil
}

func (m *Monitor) run(ctx context.Context, tok snapshot.Token, trigger model.TriggerType, started time.Time, log zerolog.Logger) (*model.Snapshot, error) {
	account, err := m.accounts.Account()
	if err != nil && !errors.Is(err, session.ErrNotConnected) {
		return nil, err
	}

	// Fetching: holdings and targets are independent.
	var (
		holdings []model.Holding
		targets  TargetSet
	)
	if account != "" {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, m.opts.FetchTimeout)
			defer cancel()
			h, err := m.holdings.Holdings(fctx, account)
			if err != nil {
				return err
			}
			holdings = h
			return nil
		})
		if m.targets != nil {
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(gctx, m.opts.FetchTimeout)
				defer cancel()
				set, err := m.targets.Targets(fctx, account)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("no target allocations, skipping drift")
					}
					return nil
				}
				targets = set
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	quotes, err := m.prices.Resolve(ctx, priceCodes(m.opts.Watchlist, holdings, targets.Allocations))
	switch {
	case err == nil:
	case errors.Is(err, pricefeed.ErrNoPriceData), errors.Is(err, pricefeed.ErrEmptyAssetSet):
		log.Warn().Err(err).Msg("continuing without prices")
		quotes = model.QuoteSet{}
	default:
		return nil, err
	}

	// Valuing.
	valuation := calculator.Value(holdings, quotes)

	snap := &model.Snapshot{
		ID:           uuid.New(),
		Trigger:      trigger,
		Account:      account,
		Quotes:       quotes,
		PriceStatus:  quotes.Status(),
		PricesAt:     quotes.OldestAt(),
		Valuation:    valuation,
		TargetOrigin: model.TargetsNone,
		StartedAt:    started,
	}

	// Evaluating.
	if account != "" && len(targets.Allocations) > 0 {
		threshold := targets.Threshold
		if err := calculator.ValidateThreshold(threshold); err != nil {
			if !threshold.IsZero() {
				log.Warn().Err(err).Str("origin", string(targets.Origin)).Msg("ignoring target threshold")
			}
			threshold = m.opts.DriftThreshold
		}
		report, err := calculator.EvaluateDrift(valuation.Holdings, targets.Allocations, threshold)
		if err != nil {
			return nil, err
		}
		snap.Targets = targets.Allocations
		snap.TargetOrigin = targets.Origin
		snap.Drift = &report
		snap.Trades = calculator.PlanTrades(valuation, targets.Allocations)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap.SettledAt = m.now()
	if err := m.store.Commit(tok, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// priceCodes is the sorted union of the watchlist, held and targeted codes.
func priceCodes(watchlist []string, holdings []model.Holding, targets []model.TargetAllocation) []string {
	seen := make(map[string]struct{})
	add := func(code string) {
		if code != "" {
			seen[code] = struct{}{}
		}
	}
	for _, c := range watchlist {
		add(c)
	}
	for _, h := range holdings {
		add(h.AssetCode)
	}
	for _, t := range targets {
		add(t.AssetCode)
	}
	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func worstDrift(snap *model.Snapshot) float64 {
	if snap.Drift == nil || len(snap.Drift.Records) == 0 {
		return 0
	}
	return snap.Drift.Records[0].Drift.InexactFloat64()
}
