package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

// MinTradePercent is the smallest allocation gap worth a trade, in percent points.
var MinTradePercent = decimal.RequireFromString("0.1")

// PlanTrades lists the buys and sells that would move the valuation onto the
// targets. Gaps of MinTradePercent or less are ignored. Trades are ordered by
// gap size descending, then asset code ascending.
func PlanTrades(valuation model.Valuation, targets []model.TargetAllocation) []model.Trade {
	current := CurrentAllocations(valuation.Holdings)
	currentValue := make(map[string]decimal.Decimal, len(valuation.Holdings))
	for _, h := range valuation.Holdings {
		currentValue[h.AssetCode] = currentValue[h.AssetCode].Add(h.Value)
	}
	target := targetMap(targets)

	var trades []model.Trade
	for _, code := range unionCodes(current, target) {
		gap := target[code].Sub(current[code])
		if gap.Abs().LessThanOrEqual(MinTradePercent) {
			continue
		}
		targetValue := target[code].Div(hundred).Mul(valuation.TotalValue)
		amount := targetValue.Sub(currentValue[code])
		action := model.ActionSell
		if amount.IsPositive() {
			action = model.ActionBuy
		}
		trades = append(trades, model.Trade{
			AssetCode: code,
			Action:    action,
			Amount:    amount.Abs(),
			Percent:   gap.Abs(),
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if c := trades[i].Percent.Cmp(trades[j].Percent); c != 0 {
			return c > 0
		}
		return trades[i].AssetCode < trades[j].AssetCode
	})
	return trades
}
