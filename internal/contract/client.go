package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Client exposes the rebalancer contract's methods for one contract id.
type Client struct {
	contractID string
	invoker    Invoker
	tracker    *TxTracker
	log        zerolog.Logger
}

// NewClient creates a contract client. A nil tracker makes writes return as
// soon as the transaction is submitted.
func NewClient(contractID string, invoker Invoker, tracker *TxTracker, log zerolog.Logger) (*Client, error) {
	if contractID == "" {
		return nil, errors.New("contract id is required")
	}
	if invoker == nil {
		return nil, errors.New("contract invoker is required")
	}
	return &Client{
		contractID: contractID,
		invoker:    invoker,
		tracker:    tracker,
		log:        log.With().Str("component", "contract").Str("contract_id", contractID).Logger(),
	}, nil
}

// ContractID returns the id the client was created for.
func (c *Client) ContractID() string { return c.contractID }

// GetPortfolio reads the owner's portfolio.
func (c *Client) GetPortfolio(ctx context.Context, owner string) (*Portfolio, error) {
	raw, err := c.read(ctx, owner, "get_portfolio", owner)
	if err != nil {
		return nil, err
	}
	var p Portfolio
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}
	return &p, nil
}

// NeedsRebalancing asks the contract whether the owner's drift exceeds its threshold.
func (c *Client) NeedsRebalancing(ctx context.Context, owner string) (bool, error) {
	raw, err := c.read(ctx, owner, "needs_rebalancing", owner)
	if err != nil {
		return false, err
	}
	res := gjson.ParseBytes(raw)
	if res.Type != gjson.True && res.Type != gjson.False {
		return false, fmt.Errorf("needs_rebalancing: unexpected result %s", res.Raw)
	}
	return res.Bool(), nil
}

// GetPortfolioStatus returns the contract's view of current allocations,
// asset address to basis points.
func (c *Client) GetPortfolioStatus(ctx context.Context, owner string) (map[string]uint32, error) {
	raw, err := c.read(ctx, owner, "get_portfolio_status", owner)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return nil, fmt.Errorf("get_portfolio_status: unexpected result %s", res.Raw)
	}
	status := make(map[string]uint32)
	res.ForEach(func(key, value gjson.Result) bool {
		status[key.String()] = uint32(value.Uint())
		return true
	})
	return status, nil
}

// CreatePortfolio validates and submits create_portfolio.
func (c *Client) CreatePortfolio(ctx context.Context, owner string, allocs []Allocation, driftThresholdBP uint32) (Receipt, error) {
	if err := ValidateAllocations(allocs); err != nil {
		return Receipt{}, err
	}
	if err := ValidateDriftThreshold(driftThresholdBP); err != nil {
		return Receipt{}, err
	}
	return c.write(ctx, owner, "create_portfolio", owner, allocs, driftThresholdBP)
}

// UpdateAllocations validates and submits update_allocations.
func (c *Client) UpdateAllocations(ctx context.Context, owner string, allocs []Allocation) (Receipt, error) {
	if err := ValidateAllocations(allocs); err != nil {
		return Receipt{}, err
	}
	return c.write(ctx, owner, "update_allocations", owner, allocs)
}

// RebalancePortfolio submits rebalance_portfolio. The result is filled in
// when the settled transaction carries a return value.
func (c *Client) RebalancePortfolio(ctx context.Context, owner string) (Receipt, *RebalanceResult, error) {
	receipt, err := c.write(ctx, owner, "rebalance_portfolio", owner)
	if err != nil {
		return receipt, nil, err
	}
	if receipt.ReturnValue == "" {
		return receipt, nil, nil
	}
	var result RebalanceResult
	if err := json.Unmarshal([]byte(receipt.ReturnValue), &result); err != nil {
		c.log.Warn().Err(err).Str("hash", receipt.Hash).Msg("could not parse rebalance result")
		return receipt, nil, nil
	}
	return receipt, &result, nil
}

// TogglePortfolioStatus pauses or resumes the owner's portfolio.
func (c *Client) TogglePortfolioStatus(ctx context.Context, owner string, active bool) (Receipt, error) {
	return c.write(ctx, owner, "toggle_portfolio_status", owner, active)
}

// WaitForTransaction blocks until hash settles. Without a tracker it returns
// a NOT_FOUND receipt immediately.
func (c *Client) WaitForTransaction(ctx context.Context, hash string) (Receipt, error) {
	if c.tracker == nil {
		return Receipt{Hash: hash, Status: TxNotFound}, nil
	}
	return c.tracker.Wait(ctx, hash)
}

func (c *Client) read(ctx context.Context, owner, method string, args ...any) ([]byte, error) {
	raw, err := c.invoker.Simulate(ctx, Call{
		ContractID: c.contractID,
		Method:     method,
		Source:     owner,
		Args:       args,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

func (c *Client) write(ctx context.Context, owner, method string, args ...any) (Receipt, error) {
	hash, err := c.invoker.Submit(ctx, Call{
		ContractID: c.contractID,
		Method:     method,
		Source:     owner,
		Args:       args,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", method, err)
	}
	c.log.Info().Str("method", method).Str("hash", hash).Msg("transaction submitted")

	receipt, err := c.WaitForTransaction(ctx, hash)
	if err != nil {
		c.log.Error().Err(err).Str("method", method).Str("hash", hash).Msg("transaction did not succeed")
		return receipt, err
	}
	return receipt, nil
}
