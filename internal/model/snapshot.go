package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TargetOrigin records where a cycle's target allocations came from.
type TargetOrigin string

const (
	TargetsFromContract TargetOrigin = "contract"
	TargetsFromConfig   TargetOrigin = "config"
	TargetsNone         TargetOrigin = "none"
)

// Snapshot is one complete, internally consistent result of a refresh cycle.
// Snapshots are never mutated after commit.
type Snapshot struct {
	ID           uuid.UUID          `json:"id"`
	Generation   uint64             `json:"generation"`
	Trigger      TriggerType        `json:"trigger"`
	Account      string             `json:"account,omitempty"`
	Quotes       QuoteSet           `json:"quotes"`
	PriceStatus  PriceStatus        `json:"price_status"`
	PricesAt     time.Time          `json:"prices_at"`
	Valuation    Valuation          `json:"valuation"`
	Targets      []TargetAllocation `json:"targets,omitempty"`
	TargetOrigin TargetOrigin       `json:"target_origin"`
	Drift        *DriftReport       `json:"drift,omitempty"`
	Trades       []Trade            `json:"trades,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	SettledAt    time.Time          `json:"settled_at"`
}

// NeedsRebalance is false when no drift report was produced.
func (s *Snapshot) NeedsRebalance() bool {
	return s != nil && s.Drift != nil && s.Drift.NeedsRebalance
}

// TotalValue returns the portfolio value in USD.
func (s *Snapshot) TotalValue() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return s.Valuation.TotalValue
}

// IsStale reports whether the snapshot's prices are older than maxAge at now.
// A nil snapshot is always stale.
func (s *Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if s == nil || s.PricesAt.IsZero() {
		return true
	}
	return now.Sub(s.PricesAt) > maxAge
}

// ValuePoint is one recorded total portfolio value.
type ValuePoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}
