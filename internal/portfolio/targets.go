package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/contract"
	"RebalanceSentinel/internal/model"
)

// ErrNoTargets is returned when no source could provide target allocations.
var ErrNoTargets = errors.New("portfolio: no target allocations available")

// TargetSet is one source's answer: allocations, the drift threshold that
// goes with them (zero means the monitor's default) and where they came from.
type TargetSet struct {
	Allocations []model.TargetAllocation
	Threshold   decimal.Decimal
	Origin      model.TargetOrigin
}

// TargetSource supplies target allocations for an account.
type TargetSource interface {
	Targets(ctx context.Context, account string) (TargetSet, error)
}

// PortfolioReader is the read side of the contract client.
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, owner string) (*contract.Portfolio, error)
}

// ContractTargets reads targets stored in the rebalancer contract.
type ContractTargets struct {
	Reader PortfolioReader
}

func (c *ContractTargets) Targets(ctx context.Context, account string) (TargetSet, error) {
	p, err := c.Reader.GetPortfolio(ctx, account)
	if err != nil {
		return TargetSet{}, err
	}
	if len(p.Allocations) == 0 {
		return TargetSet{}, fmt.Errorf("contract portfolio for %s has no allocations", account)
	}
	return TargetSet{
		Allocations: p.Targets(),
		Threshold:   p.DriftThresholdPercent(),
		Origin:      model.TargetsFromContract,
	}, nil
}

// ConfigTargets serves a fixed allocation from configuration.
type ConfigTargets struct {
	Allocations []model.TargetAllocation
	Threshold   decimal.Decimal
}

func (c *ConfigTargets) Targets(_ context.Context, _ string) (TargetSet, error) {
	if len(c.Allocations) == 0 {
		return TargetSet{}, ErrNoTargets
	}
	out := make([]model.TargetAllocation, len(c.Allocations))
	copy(out, c.Allocations)
	return TargetSet{Allocations: out, Threshold: c.Threshold, Origin: model.TargetsFromConfig}, nil
}

// FallbackTargets asks each source in order and returns the first answer.
type FallbackTargets struct {
	sources []TargetSource
	log     zerolog.Logger
}

// NewFallbackTargets skips nil sources.
func NewFallbackTargets(log zerolog.Logger, sources ...TargetSource) *FallbackTargets {
	f := &FallbackTargets{log: log.With().Str("component", "targets").Logger()}
	for _, s := range sources {
		if s != nil {
			f.sources = append(f.sources, s)
		}
	}
	return f
}

func (f *FallbackTargets) Targets(ctx context.Context, account string) (TargetSet, error) {
	for _, src := range f.sources {
		set, err := src.Targets(ctx, account)
		if err == nil {
			return set, nil
		}
		if ctx.Err() != nil {
			return TargetSet{}, ctx.Err()
		}
		f.log.Warn().Err(err).Str("source", fmt.Sprintf("%T", src)).Msg("target source failed, trying next")
	}
	return TargetSet{}, ErrNoTargets
}
