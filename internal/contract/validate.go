package contract

import (
	"fmt"
	"strings"
)

// ValidateAllocations applies the contract's allocation rules before a
// transaction is built: 2 to 10 entries, each at least 1%, no duplicates,
// summing to exactly 100%.
func ValidateAllocations(allocs []Allocation) error {
	if len(allocs) < MinAllocations || len(allocs) > MaxAllocations {
		return fmt.Errorf("%w: need %d to %d allocations, got %d", ErrInvalidAllocation, MinAllocations, MaxAllocations, len(allocs))
	}

	seen := make(map[string]struct{}, len(allocs))
	var total uint32
	for _, a := range allocs {
		key := strings.ToUpper(a.Asset.Symbol)
		if a.Asset.Address != "" {
			key = a.Asset.Address
		}
		if key == "" {
			return fmt.Errorf("%w: allocation without asset", ErrInvalidAllocation)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate asset %s", ErrInvalidAllocation, key)
		}
		seen[key] = struct{}{}

		if a.TargetBP < MinAllocationBP || a.TargetBP > BasisPointsTotal {
			return fmt.Errorf("%w: %s target %s%% outside 1-100%%", ErrInvalidAllocation, a.Asset.Symbol, BasisPointsToPercent(a.TargetBP))
		}
		total += a.TargetBP
	}
	if total != BasisPointsTotal {
		return fmt.Errorf("%w: targets sum to %s%%, want 100%%", ErrInvalidAllocation, BasisPointsToPercent(total))
	}
	return nil
}

// ValidateDriftThreshold accepts 1% to 50%.
func ValidateDriftThreshold(bp uint32) error {
	if bp < MinDriftThresholdBP || bp > MaxDriftThresholdBP {
		return fmt.Errorf("%w: %s%% outside 1-50%%", ErrInvalidDriftThreshold, BasisPointsToPercent(bp))
	}
	return nil
}
