package calculator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

// ErrInvalidThreshold is returned for a drift threshold outside (0, 100].
var ErrInvalidThreshold = errors.New("drift threshold must be in (0, 100]")

// ValidateThreshold guards the drift threshold at the boundary.
func ValidateThreshold(threshold decimal.Decimal) error {
	if !threshold.IsPositive() || threshold.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrInvalidThreshold, threshold.String())
	}
	return nil
}

// EvaluateDrift compares current and target allocations over the union of
// their asset codes. A side that lacks an asset counts as 0%. Rebalancing is
// needed only when some drift is strictly greater than the threshold.
func EvaluateDrift(valued []model.ValuedHolding, targets []model.TargetAllocation, threshold decimal.Decimal) (model.DriftReport, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return model.DriftReport{}, err
	}

	current := CurrentAllocations(valued)
	target := targetMap(targets)

	records := make([]model.DriftRecord, 0, len(current)+len(target))
	total := decimal.Zero
	needs := false
	for _, code := range unionCodes(current, target) {
		cur, tgt := current[code], target[code]
		drift := cur.Sub(tgt).Abs()
		if drift.GreaterThan(threshold) {
			needs = true
		}
		total = total.Add(drift)
		records = append(records, model.DriftRecord{
			AssetCode:      code,
			CurrentPercent: cur,
			TargetPercent:  tgt,
			Drift:          drift,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if c := records[i].Drift.Cmp(records[j].Drift); c != 0 {
			return c > 0
		}
		return records[i].AssetCode < records[j].AssetCode
	})

	return model.DriftReport{
		Records:          records,
		NeedsRebalance:   needs,
		ThresholdPercent: threshold,
		TotalDrift:       TotalDrift(records),
	}, nil
}

// TotalDrift is half the sum of absolute drifts: every percent that is
// overweight somewhere is underweight somewhere else.
func TotalDrift(records []model.DriftRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Drift)
	}
	return sum.Div(decimal.NewFromInt(2))
}

func targetMap(targets []model.TargetAllocation) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(targets))
	for _, t := range targets {
		out[t.AssetCode] = out[t.AssetCode].Add(t.TargetPercent)
	}
	return out
}

func unionCodes(a, b map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var codes []string
	for _, m := range []map[string]decimal.Decimal{a, b} {
		for code := range m {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}
