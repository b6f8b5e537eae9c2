package contract

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized        = errors.New("contract: not initialized")
	ErrUnauthorized          = errors.New("contract: unauthorized")
	ErrInvalidAllocation     = errors.New("contract: invalid allocation")
	ErrInsufficientBalance   = errors.New("contract: insufficient balance")
	ErrInvalidAsset          = errors.New("contract: invalid asset")
	ErrSwapFailed            = errors.New("contract: swap failed")
	ErrInvalidDriftThreshold = errors.New("contract: invalid drift threshold")
	ErrNoRebalanceNeeded     = errors.New("contract: no rebalance needed")
	ErrOracle                = errors.New("contract: oracle error")

	// ErrTransactionFailed is returned when a submitted transaction ends in FAILED.
	ErrTransactionFailed = errors.New("contract: transaction failed")
	// ErrTransactionPending is returned when polling gives up before the transaction settles.
	ErrTransactionPending = errors.New("contract: transaction still pending")
)

// codeErrors maps the contract's numeric error codes to sentinels.
var codeErrors = map[int]error{
	1:  ErrNotInitialized,
	3:  ErrUnauthorized,
	4:  ErrInvalidAllocation,
	5:  ErrInsufficientBalance,
	6:  ErrInvalidAsset,
	7:  ErrSwapFailed,
	8:  ErrInvalidDriftThreshold,
	9:  ErrNoRebalanceNeeded,
	10: ErrOracle,
}

// CallError is a failure reported by the contract or the gateway in front of it.
type CallError struct {
	Method  string
	Code    int
	Message string
}

func (e *CallError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("contract %s: error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("contract %s: %s", e.Method, e.Message)
}

// Is matches the sentinel for the contract error code.
func (e *CallError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}
