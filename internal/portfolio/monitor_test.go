package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RebalanceSentinel/internal/contract"
	"RebalanceSentinel/internal/horizon"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/pricefeed"
	"RebalanceSentinel/internal/session"
	"RebalanceSentinel/internal/snapshot"
)

const account = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedAccount string

func (a fixedAccount) Account() (string, error) {
	if a == "" {
		return "", session.ErrNotConnected
	}
	return string(a), nil
}

type fakeHoldings struct {
	holdings []model.Holding
	err      error
}

func (f *fakeHoldings) Holdings(_ context.Context, _ string) ([]model.Holding, error) {
	return f.holdings, f.err
}

// gatedHoldings blocks its first call until release is closed.
type gatedHoldings struct {
	fakeHoldings
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedHoldings) Holdings(ctx context.Context, account string) ([]model.Holding, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeHoldings.Holdings(ctx, account)
}

type fakeReader struct {
	portfolio *contract.Portfolio
	err       error
}

func (f *fakeReader) GetPortfolio(_ context.Context, _ string) (*contract.Portfolio, error) {
	return f.portfolio, f.err
}

type captureRecorder struct {
	mu    sync.Mutex
	snaps []*model.Snapshot
}

func (c *captureRecorder) RecordSnapshot(s *model.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
	return nil
}
func (c *captureRecorder) ValueHistory(string, time.Time, int) ([]model.ValuePoint, error) {
	return nil, nil
}
func (c *captureRecorder) Prune(time.Time) (int64, error) { return 0, nil }
func (c *captureRecorder) Close() error                   { return nil }

func testResolver(primary pricefeed.PriceSource) *pricefeed.Resolver {
	return pricefeed.NewResolver(zerolog.Nop(), time.Second, primary, pricefeed.NewStaticSource(nil))
}

var halfHalf = []model.TargetAllocation{
	{AssetCode: "XLM", TargetPercent: d("50")},
	{AssetCode: "USDC", TargetPercent: d("50")},
}

func opts() Options {
	return Options{Watchlist: []string{"XLM", "USDC"}, DriftThreshold: d("5"), FetchTimeout: time.Second}
}

func TestRefresh_PricesOnlyWithoutAccount(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary,
		Prices: map[string]decimal.Decimal{"XLM": d("0.11"), "USDC": d("1")}}
	holdings := &fakeHoldings{err: errors.New("must not be called")}
	store := snapshot.NewStore()

	m := NewMonitor(fixedAccount(""), holdings, &ConfigTargets{Allocations: halfHalf}, testResolver(primary), store, nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerInitial)
	require.NoError(t, err)

	assert.Empty(t, snap.Account)
	assert.Equal(t, model.PriceLive, snap.PriceStatus)
	assert.Len(t, snap.Quotes, 2)
	assert.Nil(t, snap.Drift)
	assert.Equal(t, model.TargetsNone, snap.TargetOrigin)
	assert.True(t, snap.TotalValue().IsZero())
	assert.Same(t, snap, store.Latest())
	assert.Equal(t, [][]string{{"USDC", "XLM"}}, primary.Calls())
}

func TestRefresh_FullCycle(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary,
		Prices: map[string]decimal.Decimal{"XLM": d("0.12"), "USDC": d("1")}}
	holdings := &fakeHoldings{holdings: []model.Holding{
		{AssetCode: "XLM", Amount: d("375")},
		{AssetCode: "USDC", Issuer: "GA5Z", Amount: d("55")},
		{AssetCode: "AQUA", Issuer: "GAQ", Amount: d("0.00000001")},
	}}
	rec := &captureRecorder{}
	store := snapshot.NewStore()

	m := NewMonitor(fixedAccount(account), holdings, &ConfigTargets{Allocations: halfHalf}, testResolver(primary), store, rec, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, account, snap.Account)
	assert.True(t, snap.TotalValue().Equal(d("100")))
	require.Len(t, snap.Valuation.Holdings, 2)
	assert.Equal(t, "USDC", snap.Valuation.Holdings[0].AssetCode)

	require.NotNil(t, snap.Drift)
	assert.False(t, snap.NeedsRebalance())
	for _, r := range snap.Drift.Records {
		assert.True(t, r.Drift.Equal(d("5")), r.AssetCode)
	}
	assert.Equal(t, model.TargetsFromConfig, snap.TargetOrigin)
	assert.Len(t, snap.Trades, 2)
	assert.Equal(t, model.PriceFallback, snap.PriceStatus) // AQUA came from the static table
	assert.Equal(t, uint64(1), snap.Generation)

	require.Len(t, rec.snaps, 1)
	assert.Same(t, snap, rec.snaps[0])
}

func TestRefresh_ContractTargetsAndThreshold(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary,
		Prices: map[string]decimal.Decimal{"XLM": d("0.12"), "USDC": d("1")}}
	holdings := &fakeHoldings{holdings: []model.Holding{
		{AssetCode: "XLM", Amount: d("375")},
		{AssetCode: "USDC", Amount: d("55")},
	}}
	reader := &fakeReader{portfolio: &contract.Portfolio{
		Allocations: []contract.Allocation{
			{Asset: contract.AssetInfo{Symbol: "XLM"}, TargetBP: 5000},
			{Asset: contract.AssetInfo{Symbol: "USDC"}, TargetBP: 5000},
		},
		DriftThresholdBP: 490,
	}}
	targets := NewFallbackTargets(zerolog.Nop(), &ContractTargets{Reader: reader}, &ConfigTargets{Allocations: halfHalf})

	m := NewMonitor(fixedAccount(account), holdings, targets, testResolver(primary), snapshot.NewStore(), nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.TargetsFromContract, snap.TargetOrigin)
	assert.True(t, snap.Drift.ThresholdPercent.Equal(d("4.9")))
	assert.True(t, snap.NeedsRebalance())
}

func TestRefresh_OutOfRangeContractThresholdUsesDefault(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary,
		Prices: map[string]decimal.Decimal{"XLM": d("0.12"), "USDC": d("1")}}
	holdings := &fakeHoldings{holdings: []model.Holding{
		{AssetCode: "XLM", Amount: d("375")},
		{AssetCode: "USDC", Amount: d("55")},
	}}
	reader := &fakeReader{portfolio: &contract.Portfolio{
		Allocations: []contract.Allocation{
			{Asset: contract.AssetInfo{Symbol: "XLM"}, TargetBP: 5000},
			{Asset: contract.AssetInfo{Symbol: "USDC"}, TargetBP: 5000},
		},
		DriftThresholdBP: 12000,
	}}
	targets := NewFallbackTargets(zerolog.Nop(), &ContractTargets{Reader: reader}, &ConfigTargets{Allocations: halfHalf})

	m := NewMonitor(fixedAccount(account), holdings, targets, testResolver(primary), snapshot.NewStore(), nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.TargetsFromContract, snap.TargetOrigin)
	assert.True(t, snap.Drift.ThresholdPercent.Equal(d("5")))
	assert.False(t, snap.NeedsRebalance())
}

func TestRefresh_ContractFailureFallsBackToConfig(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary, Err: errors.New("down")}
	holdings := &fakeHoldings{holdings: []model.Holding{{AssetCode: "XLM", Amount: d("100")}}}
	targets := NewFallbackTargets(zerolog.Nop(), &ContractTargets{Reader: &fakeReader{err: contract.ErrUnauthorized}}, nil, &ConfigTargets{Allocations: halfHalf})

	m := NewMonitor(fixedAccount(account), holdings, targets, testResolver(primary), snapshot.NewStore(), nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.TargetsFromConfig, snap.TargetOrigin)
	assert.Equal(t, model.PriceFallback, snap.PriceStatus)
	assert.Equal(t, model.SourceStatic, snap.Quotes["XLM"].Source)
	assert.True(t, snap.TotalValue().Equal(d("12")))
	assert.True(t, snap.NeedsRebalance())
}

func TestRefresh_NoTargetsSkipsDrift(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary}
	holdings := &fakeHoldings{holdings: []model.Holding{{AssetCode: "XLM", Amount: d("100")}}}
	targets := NewFallbackTargets(zerolog.Nop(), &ConfigTargets{})

	m := NewMonitor(fixedAccount(account), holdings, targets, testResolver(primary), snapshot.NewStore(), nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)
	assert.Nil(t, snap.Drift)
	assert.Equal(t, model.TargetsNone, snap.TargetOrigin)
	assert.True(t, snap.TotalValue().Equal(d("12")))
}

func TestRefresh_NoPriceDataStillSettles(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary, Err: errors.New("down")}
	resolver := pricefeed.NewResolver(zerolog.Nop(), time.Second, primary)
	holdings := &fakeHoldings{holdings: []model.Holding{{AssetCode: "XLM", Amount: d("100")}}}

	m := NewMonitor(fixedAccount(account), holdings, &ConfigTargets{Allocations: halfHalf}, resolver, snapshot.NewStore(), nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.PriceUnavailable, snap.PriceStatus)
	assert.Empty(t, snap.Quotes)
	assert.True(t, snap.TotalValue().IsZero())
	require.Len(t, snap.Valuation.Holdings, 1)
	assert.True(t, snap.Valuation.Holdings[0].CurrentPercent.IsZero())
	assert.True(t, snap.IsStale(time.Now(), time.Hour))
}

func TestRefresh_HoldingsFailureIsFatal(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary}
	holdings := &fakeHoldings{err: horizon.ErrAccountFetchFailed}
	store := snapshot.NewStore()

	m := NewMonitor(fixedAccount(account), holdings, &ConfigTargets{Allocations: halfHalf}, testResolver(primary), store, nil, opts(), zerolog.Nop())
	snap, err := m.Refresh(context.Background(), model.TriggerSchedule)
	require.ErrorIs(t, err, horizon.ErrAccountFetchFailed)
	assert.Nil(t, snap)
	assert.Nil(t, store.Latest())
	assert.Empty(t, primary.Calls())
}

func TestRefresh_StaleCycleNeverOverwrites(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary,
		Prices: map[string]decimal.Decimal{"XLM": d("0.12"), "USDC": d("1")}}
	holdings := &gatedHoldings{
		fakeHoldings: fakeHoldings{holdings: []model.Holding{{AssetCode: "XLM", Amount: d("100")}}},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	store := snapshot.NewStore()
	m := NewMonitor(fixedAccount(account), holdings, &ConfigTargets{Allocations: halfHalf}, testResolver(primary), store, nil, opts(), zerolog.Nop())

	type result struct {
		snap *model.Snapshot
		err  error
	}
	older := make(chan result, 1)
	go func() {
		s, err := m.Refresh(context.Background(), model.TriggerSchedule)
		older <- result{s, err}
	}()
	<-holdings.entered

	newer, err := m.Refresh(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newer.Generation)

	close(holdings.release)
	res := <-older
	require.ErrorIs(t, res.err, snapshot.ErrStaleGeneration)
	assert.Nil(t, res.snap)
	assert.Same(t, newer, store.Latest())
}

func TestRefresh_CallerCancel(t *testing.T) {
	primary := &pricefeed.MockSource{SourceTier: model.SourcePrimary, Block: make(chan struct{})}
	store := snapshot.NewStore()
	m := NewMonitor(fixedAccount(""), &fakeHoldings{}, nil, testResolver(primary), store, nil, opts(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Refresh(ctx, model.TriggerManual)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, store.Latest())
}

func TestPriceCodes(t *testing.T) {
	codes := priceCodes(
		[]string{"XLM", "USDC"},
		[]model.Holding{{AssetCode: "AQUA"}, {AssetCode: "XLM"}},
		[]model.TargetAllocation{{AssetCode: "yXLM"}, {AssetCode: ""}},
	)
	assert.Equal(t, []string{"AQUA", "USDC", "XLM", "yXLM"}, codes)
}
