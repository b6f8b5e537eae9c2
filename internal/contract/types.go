// Package contract talks to the portfolio-rebalancer Soroban contract.
package contract

import (
	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

// Basis-point limits enforced by the contract.
const (
	BasisPointsTotal      uint32 = 10000
	MinAllocationBP       uint32 = 100
	MinDriftThresholdBP   uint32 = 100
	MaxDriftThresholdBP   uint32 = 5000
	MinAllocations               = 2
	MaxAllocations               = 10
	basisPointsPerPercent        = 100
)

// AssetInfo identifies a token the contract can hold.
type AssetInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

// Allocation is one target share in basis points (10000 = 100%).
type Allocation struct {
	Asset    AssetInfo `json:"asset"`
	TargetBP uint32    `json:"target_percent"`
}

// Portfolio is the contract-side record for one owner.
type Portfolio struct {
	Owner            string       `json:"owner"`
	Allocations      []Allocation `json:"allocations"`
	DriftThresholdBP uint32       `json:"drift_threshold"`
	LastRebalance    uint64       `json:"last_rebalance"`
	IsActive         bool         `json:"is_active"`
}

// RebalanceResult is returned by rebalance_portfolio.
type RebalanceResult struct {
	TradesExecuted uint32 `json:"trades_executed"`
	TotalGasUsed   uint64 `json:"total_gas_used"`
	Timestamp      uint64 `json:"timestamp"`
}

// Targets converts the allocations to percent targets keyed by symbol.
func (p *Portfolio) Targets() []model.TargetAllocation {
	out := make([]model.TargetAllocation, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		out = append(out, model.TargetAllocation{
			AssetCode:     a.Asset.Symbol,
			TargetPercent: BasisPointsToPercent(a.TargetBP),
		})
	}
	return out
}

// DriftThresholdPercent returns the stored threshold in percent.
func (p *Portfolio) DriftThresholdPercent() decimal.Decimal {
	return BasisPointsToPercent(p.DriftThresholdBP)
}

// BasisPointsToPercent converts 2550 to 25.5.
func BasisPointsToPercent(bp uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(bp)).Div(decimal.NewFromInt(basisPointsPerPercent))
}

// PercentToBasisPoints converts 25.5 to 2550, rounding to the nearest basis point.
func PercentToBasisPoints(pct decimal.Decimal) uint32 {
	bp := pct.Mul(decimal.NewFromInt(basisPointsPerPercent)).Round(0)
	if bp.IsNegative() {
		return 0
	}
	return uint32(bp.IntPart())
}
