package pricefeed

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/model"
)

// MockSource returns controllable fixed data for development and testing.
type MockSource struct {
	SourceName string
	SourceTier model.QuoteSource
	Prices     map[string]decimal.Decimal
	Err        error
	// Block, when set, is waited on before answering (or until ctx is done).
	Block <-chan struct{}

	mu    sync.Mutex
	calls [][]string
}

func (m *MockSource) Name() string {
	if m.SourceName == "" {
		return "mock"
	}
	return m.SourceName
}

func (m *MockSource) Tier() model.QuoteSource { return m.SourceTier }

func (m *MockSource) TryResolve(ctx context.Context, codes []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), codes...))
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]decimal.Decimal)
	for _, c := range codes {
		if p, ok := m.Prices[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

// Calls returns the code lists this source was asked for, in order.
func (m *MockSource) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}
