package pricefeed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"RebalanceSentinel/internal/metrics"
	"RebalanceSentinel/internal/model"
)

// DefaultAttemptTimeout bounds each tier's network call.
const DefaultAttemptTimeout = 8 * time.Second

// Resolver walks an ordered list of sources, asking each tier only for the
// codes its predecessors left unpriced.
type Resolver struct {
	sources        []PriceSource
	attemptTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger
}

// NewResolver creates a resolver. Sources are tried in the given order.
func NewResolver(log zerolog.Logger, attemptTimeout time.Duration, sources ...PriceSource) *Resolver {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Resolver{
		sources:        sources,
		attemptTimeout: attemptTimeout,
		now:            time.Now,
		log:            log.With().Str("component", "price_resolver").Logger(),
	}
}

// WithClock replaces the timestamp source. Used by tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns a quote for every code some tier could price. Tier failures
// are logged and skipped. An empty result comes back with ErrNoPriceData.
// Only cancellation of ctx by the caller aborts resolution.
func (r *Resolver) Resolve(ctx context.Context, codes []string) (model.QuoteSet, error) {
	pending := normalizeCodes(codes)
	if len(pending) == 0 {
		return nil, ErrEmptyAssetSet
	}

	quotes := make(model.QuoteSet, len(pending))
	for _, src := range r.sources {
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		served, err := r.attempt(ctx, src, pending)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn().Err(err).Str("source", src.Name()).Int("requested", len(pending)).
				Msg("price source unavailable, falling through")
			metrics.SetQuotesResolved(string(src.Tier()), 0)
			continue
		}

		for _, q := range served {
			quotes[q.AssetCode] = q
		}
		metrics.SetQuotesResolved(string(src.Tier()), len(served))
		r.log.Debug().Str("source", src.Name()).Int("requested", len(pending)).Int("served", len(served)).
			Msg("price tier settled")

		pending = unresolved(pending, quotes)
	}

	if len(pending) > 0 {
		r.log.Warn().Strs("assets", pending).Msg("assets left unpriced after all tiers")
	}
	if len(quotes) == 0 {
		return quotes, ErrNoPriceData
	}
	return quotes, nil
}

// attempt runs one tier under its own timeout and converts the raw price map
// into quotes for the requested codes only.
func (r *Resolver) attempt(ctx context.Context, src PriceSource, codes []string) ([]model.AssetQuote, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	start := time.Now()
	prices, err := src.TryResolve(attemptCtx, codes)
	if err != nil {
		metrics.RecordSourceAttempt(src.Name(), "error", time.Since(start))
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.Name(), err)
	}
	metrics.RecordSourceAttempt(src.Name(), "ok", time.Since(start))

	stamp := r.now()
	served := make([]model.AssetQuote, 0, len(codes))
	for _, code := range codes {
		price, ok := prices[code]
		if !ok || !price.IsPositive() {
			continue
		}
		served = append(served, model.AssetQuote{
			AssetCode: code,
			Price:     price,
			Timestamp: stamp,
			Source:    src.Tier(),
		})
	}
	return served, nil
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func unresolved(codes []string, quotes model.QuoteSet) []string {
	var out []string
	for _, c := range codes {
		if _, ok := quotes[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
