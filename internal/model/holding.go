package model

import "github.com/shopspring/decimal"

// DustThreshold is the smallest balance that takes part in valuation (one stroop).
var DustThreshold = decimal.New(1, -7)

// Holding is the raw balance of one asset held by the connected account.
// An empty Issuer means the network-native asset.
type Holding struct {
	AssetCode string          `json:"asset_code"`
	Issuer    string          `json:"issuer,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Native reports whether the holding is the network-native asset.
func (h Holding) Native() bool { return h.Issuer == "" }

// IsDust reports whether the balance is too small to value.
func (h Holding) IsDust() bool { return h.Amount.LessThan(DustThreshold) }

// ValuedHolding is a Holding enriched with its price and share of the portfolio.
type ValuedHolding struct {
	Holding
	Price          decimal.Decimal `json:"price"`
	Priced         bool            `json:"priced"`
	Value          decimal.Decimal `json:"value"`
	CurrentPercent decimal.Decimal `json:"current_percent"`
}

// Valuation is the output of one valuation pass.
type Valuation struct {
	TotalValue decimal.Decimal `json:"total_value"`
	Holdings   []ValuedHolding `json:"holdings"`
}
