package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

// DefaultStaticPrices is the last-resort table used when both feeds fail.
var DefaultStaticPrices = map[string]decimal.Decimal{
	"XLM":  decimal.RequireFromString("0.12"),
	"USDC": decimal.RequireFromString("1.00"),
	"AQUA": decimal.RequireFromString("0.05"),
	"yXLM": decimal.RequireFromString("0.12"),
	"USDT": decimal.RequireFromString("1.00"),
	"BTC":  decimal.RequireFromString("45000"),
}

// StaticSource serves a fixed price table. It never fails.
type StaticSource struct {
	Table map[string]decimal.Decimal
}

// NewStaticSource copies table so later edits by the caller do not leak in.
func NewStaticSource(table map[string]decimal.Decimal) *StaticSource {
	if len(table) == 0 {
		table = DefaultStaticPrices
	}
	copied := make(map[string]decimal.Decimal, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &StaticSource{Table: copied}
}

func (s *StaticSource) Name() string            { return "static" }
func (s *StaticSource) Tier() model.QuoteSource { return model.SourceStatic }

func (s *StaticSource) TryResolve(_ context.Context, codes []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(codes))
	for _, c := range codes {
		if p, ok := s.Table[c]; ok {
			prices[c] = p
		}
	}
	return prices, nil
}
