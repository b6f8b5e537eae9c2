package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource identifies which price tier served a quote.
type QuoteSource string

const (
	SourcePrimary   QuoteSource = "PRIMARY"
	SourceSecondary QuoteSource = "SECONDARY"
	SourceStatic    QuoteSource = "STATIC"
)

// Live reports whether the quote came from a network feed rather than the constant table.
func (s QuoteSource) Live() bool {
	return s == SourcePrimary || s == SourceSecondary
}

// AssetQuote is one asset's resolved USD price.
type AssetQuote struct {
	AssetCode string          `json:"asset_code"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    QuoteSource     `json:"source"`
}

// QuoteSet maps asset code to quote. An asset nobody could price has no entry.
type QuoteSet map[string]AssetQuote

// Price returns the quoted price, or zero when the asset is unpriced.
func (q QuoteSet) Price(code string) (decimal.Decimal, bool) {
	quote, ok := q[code]
	if !ok {
		return decimal.Zero, false
	}
	return quote.Price, true
}

// Codes returns the priced asset codes in ascending order.
func (q QuoteSet) Codes() []string {
	codes := make([]string, 0, len(q))
	for code := range q {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// OldestAt returns the earliest quote timestamp, or the zero time for an empty set.
func (q QuoteSet) OldestAt() time.Time {
	var oldest time.Time
	for _, quote := range q {
		if oldest.IsZero() || quote.Timestamp.Before(oldest) {
			oldest = quote.Timestamp
		}
	}
	return oldest
}

// CountBySource tallies quotes per tier.
func (q QuoteSet) CountBySource() map[QuoteSource]int {
	counts := make(map[QuoteSource]int, 3)
	for _, quote := range q {
		counts[quote.Source]++
	}
	return counts
}

// PriceStatus summarizes how trustworthy a quote set is for display.
type PriceStatus string

const (
	PriceLive        PriceStatus = "live"
	PriceFallback    PriceStatus = "fallback"
	PriceUnavailable PriceStatus = "unavailable"
)

// Status is live when every quote came from a feed, fallback when any came
// from the static table, and unavailable when the set is empty.
func (q QuoteSet) Status() PriceStatus {
	if len(q) == 0 {
		return PriceUnavailable
	}
	for _, quote := range q {
		if !quote.Source.Live() {
			return PriceFallback
		}
	}
	return PriceLive
}
