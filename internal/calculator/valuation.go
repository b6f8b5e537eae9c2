package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Value prices every non-dust holding and computes its share of the total.
// Holdings without a quote stay in the output with zero value. The result is
// ordered by value descending, then asset code and issuer ascending.
func Value(holdings []model.Holding, quotes model.QuoteSet) model.Valuation {
	valued := make([]model.ValuedHolding, 0, len(holdings))
	total := decimal.Zero

	for _, h := range holdings {
		if h.IsDust() {
			continue
		}
		price, priced := quotes.Price(h.AssetCode)
		value := h.Amount.Mul(price)
		total = total.Add(value)
		valued = append(valued, model.ValuedHolding{
			Holding: h,
			Price:   price,
			Priced:  priced,
			Value:   value,
		})
	}

	for i := range valued {
		valued[i].CurrentPercent = percentOf(valued[i].Value, total)
	}

	sort.SliceStable(valued, func(i, j int) bool {
		a, b := valued[i], valued[j]
		if c := a.Value.Cmp(b.Value); c != 0 {
			return c > 0
		}
		if a.AssetCode != b.AssetCode {
			return a.AssetCode < b.AssetCode
		}
		return a.Issuer < b.Issuer
	})

	return model.Valuation{TotalValue: total, Holdings: valued}
}

// percentOf is zero whenever total is not positive.
func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total)
}

// CurrentAllocations sums valued holdings per asset code. Two trustlines for
// the same code under different issuers count as one asset.
func CurrentAllocations(holdings []model.ValuedHolding) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		out[h.AssetCode] = out[h.AssetCode].Add(h.CurrentPercent)
	}
	return out
}
