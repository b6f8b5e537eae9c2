package model

import "github.com/shopspring/decimal"

// TriggerType indicates what started a refresh cycle.
type TriggerType string

const (
	TriggerInitial  TriggerType = "INITIAL"
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerManual   TriggerType = "MANUAL"
	TriggerStale    TriggerType = "STALE"
)

// TargetAllocation is the contract-stored target share of one asset, in percent.
type TargetAllocation struct {
	AssetCode     string          `json:"asset_code"`
	TargetPercent decimal.Decimal `json:"target_percent"`
}

// DriftRecord compares one asset's current and target allocation.
type DriftRecord struct {
	AssetCode      string          `json:"asset_code"`
	CurrentPercent decimal.Decimal `json:"current_percent"`
	TargetPercent  decimal.Decimal `json:"target_percent"`
	Drift          decimal.Decimal `json:"drift"`
}

// DriftReport is the output of one drift evaluation.
type DriftReport struct {
	Records          []DriftRecord   `json:"records"`
	NeedsRebalance   bool            `json:"needs_rebalance"`
	ThresholdPercent decimal.Decimal `json:"threshold_percent"`
	TotalDrift       decimal.Decimal `json:"total_drift"`
}

// TradeAction is the direction of a suggested rebalancing trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// Trade is one suggested move toward the target allocation. Amount is in USD.
type Trade struct {
	AssetCode string          `json:"asset_code"`
	Action    TradeAction     `json:"action"`
	Amount    decimal.Decimal `json:"amount"`
	Percent   decimal.Decimal `json:"percent"`
}
