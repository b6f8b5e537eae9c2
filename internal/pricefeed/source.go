package pricefeed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

var (
	// ErrEmptyAssetSet is returned when Resolve is called without asset codes.
	ErrEmptyAssetSet = errors.New("pricefeed: empty asset set")
	// ErrNoPriceData is returned when no tier could price any requested asset.
	// It is a soft error: the caller still receives an empty quote set.
	ErrNoPriceData = errors.New("pricefeed: no price data available")
	// ErrSourceUnavailable wraps a single tier's failure. The resolver absorbs it.
	ErrSourceUnavailable = errors.New("pricefeed: source unavailable")
)

// PriceSource is one tier of the fallback chain. TryResolve returns whatever
// subset of codes it could price; callers filter out non-positive values.
type PriceSource interface {
	Name() string
	Tier() model.QuoteSource
	TryResolve(ctx context.Context, codes []string) (map[string]decimal.Decimal, error)
}

func parsePositive(raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
