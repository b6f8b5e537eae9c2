package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RebalanceSentinel/internal/contract"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/session"
	"RebalanceSentinel/internal/snapshot"
)

const account = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSnapshots struct {
	mu      sync.Mutex
	snap    *model.Snapshot
	err     error
	runErr  error
	runs    []model.TriggerType
	current int
}

func (f *fakeSnapshots) Latest() *model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSnapshots) Current(context.Context) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current++
	return f.snap, f.err
}

func (f *fakeSnapshots) RunNow(_ context.Context, trigger model.TriggerType) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, trigger)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.snap, nil
}

func (f *fakeSnapshots) StaleAfter() time.Duration { return 10 * time.Minute }

type fakeHistory struct {
	points []model.ValuePoint
	since  time.Time
}

func (f *fakeHistory) ValueHistory(_ string, since time.Time, _ int) ([]model.ValuePoint, error) {
	f.since = since
	return f.points, nil
}

type fakeContract struct {
	portfolio *contract.Portfolio
	err       error
	writeErr  error
	allocs    []contract.Allocation
	active    *bool
}

func (f *fakeContract) GetPortfolio(context.Context, string) (*contract.Portfolio, error) {
	return f.portfolio, f.err
}

func (f *fakeContract) NeedsRebalancing(context.Context, string) (bool, error) { return true, nil }

func (f *fakeContract) GetPortfolioStatus(context.Context, string) (map[string]uint32, error) {
	return map[string]uint32{"XLM": 4000, "USDC": 6000}, nil
}

func (f *fakeContract) CreatePortfolio(_ context.Context, _ string, allocs []contract.Allocation, bp uint32) (contract.Receipt, error) {
	if err := contract.ValidateAllocations(allocs); err != nil {
		return contract.Receipt{}, err
	}
	if err := contract.ValidateDriftThreshold(bp); err != nil {
		return contract.Receipt{}, err
	}
	f.allocs = allocs
	return contract.Receipt{Hash: "abc", Status: contract.TxSuccess}, f.writeErr
}

func (f *fakeContract) UpdateAllocations(_ context.Context, _ string, allocs []contract.Allocation) (contract.Receipt, error) {
	f.allocs = allocs
	return contract.Receipt{Hash: "def", Status: contract.TxSuccess}, f.writeErr
}

func (f *fakeContract) RebalancePortfolio(context.Context, string) (contract.Receipt, *contract.RebalanceResult, error) {
	if f.writeErr != nil {
		return contract.Receipt{Hash: "ghi"}, nil, f.writeErr
	}
	return contract.Receipt{Hash: "ghi", Status: contract.TxSuccess}, &contract.RebalanceResult{TradesExecuted: 2}, nil
}

func (f *fakeContract) TogglePortfolioStatus(_ context.Context, _ string, active bool) (contract.Receipt, error) {
	f.active = &active
	return contract.Receipt{Hash: "jkl", Status: contract.TxSuccess}, f.writeErr
}

type fixture struct {
	srv       *Server
	snapshots *fakeSnapshots
	sessions  *session.Manager
	history   *fakeHistory
	contract  *fakeContract
	now       time.Time
}

func testSnapshot(now time.Time) *model.Snapshot {
	return &model.Snapshot{
		ID:         uuid.New(),
		Generation: 3,
		Trigger:    model.TriggerSchedule,
		Account:    account,
		Quotes: model.QuoteSet{
			"XLM":  {AssetCode: "XLM", Price: d("0.12"), Timestamp: now, Source: model.SourcePrimary},
			"USDC": {AssetCode: "USDC", Price: d("1"), Timestamp: now, Source: model.SourceStatic},
		},
		PriceStatus:  model.PriceFallback,
		PricesAt:     now,
		TargetOrigin: model.TargetsFromConfig,
		Drift: &model.DriftReport{
			Records:          []model.DriftRecord{{AssetCode: "XLM", CurrentPercent: d("30"), TargetPercent: d("50"), Drift: d("20")}},
			NeedsRebalance:   true,
			ThresholdPercent: d("5"),
			TotalDrift:       d("20"),
		},
		Trades:    []model.Trade{{AssetCode: "XLM", Action: model.ActionBuy, Amount: d("20"), Percent: d("20")}},
		SettledAt: now,
	}
}

func newFixture(t *testing.T, withContract bool) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	sessions, err := session.NewManager("", "testnet", account, zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{
		snapshots: &fakeSnapshots{snap: testSnapshot(now)},
		sessions:  sessions,
		history:   &fakeHistory{},
		now:       now,
	}
	cfg := Config{Log: zerolog.Nop(), Snapshots: f.snapshots, Sessions: sessions, History: f.history}
	if withContract {
		f.contract = &fakeContract{}
		cfg.Contract = f.contract
	}
	f.srv = New(cfg)
	f.srv.now = func() time.Time { return now }
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec, body := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["generation"])
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, true, body["connected"])
	assert.Zero(t, f.snapshots.current, "health never refreshes")
}

func TestSnapshotEndpoints(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account, body["account"])
	assert.Equal(t, "fallback", body["price_status"])
	assert.Equal(t, false, body["stale"])

	rec, body = f.do(t, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	quotes := body["quotes"].([]any)
	require.Len(t, quotes, 2)
	assert.Equal(t, "USDC", quotes[0].(map[string]any)["asset_code"])
	assert.Equal(t, "0.12", quotes[1].(map[string]any)["price"])
	assert.Equal(t, map[string]any{"PRIMARY": float64(1), "STATIC": float64(1)}, body["sources"])

	rec, body = f.do(t, http.MethodGet, "/api/drift", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "config", body["target_origin"])
	assert.Equal(t, true, body["drift"].(map[string]any)["needs_rebalance"])

	rec, body = f.do(t, http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["needs_rebalance"])
	assert.Len(t, body["trades"], 1)
}

func TestSnapshot_StaleAndUnavailable(t *testing.T) {
	f := newFixture(t, false)
	f.srv.now = func() time.Time { return f.now.Add(time.Hour) }
	f.snapshots.err = errors.New("horizon down")

	rec, body := f.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["stale"])

	f.snapshots.snap = nil
	rec, body = f.do(t, http.MethodGet, "/api/prices", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "horizon down", body["error"])
}

func TestTrades_EmptyListNotNull(t *testing.T) {
	f := newFixture(t, false)
	f.snapshots.snap.Trades = nil
	_, body := f.do(t, http.MethodGet, "/api/trades", "")
	assert.Equal(t, []any{}, body["trades"])
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, false)
	rec, body := f.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["generation"])
	assert.Equal(t, []model.TriggerType{model.TriggerManual}, f.snapshots.runs)

	f.snapshots.runErr = snapshot.ErrStaleGeneration
	rec, _ = f.do(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.snapshots.runErr = errors.New("horizon: status 502")
	rec, _ = f.do(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPerformance(t *testing.T) {
	f := newFixture(t, false)
	base := f.now.AddDate(0, 0, -2)
	f.history.points = []model.ValuePoint{
		{At: base, Value: 100},
		{At: base.Add(24 * time.Hour), Value: 90},
		{At: base.Add(48 * time.Hour), Value: 110},
	}

	rec, body := f.do(t, http.MethodGet, "/api/performance?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := body["report"].(map[string]any)
	assert.InDelta(t, 10.0, report["total_return_percent"], 1e-9)
	assert.InDelta(t, 10.0, report["max_drawdown_percent"], 1e-9)
	assert.Equal(t, f.now.AddDate(0, 0, -7), f.history.since)

	rec, _ = f.do(t, http.MethodGet, "/api/performance?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.history.points = f.history.points[:1]
	rec, _ = f.do(t, http.MethodGet, "/api/performance", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.sessions.Disconnect()
	rec, _ = f.do(t, http.MethodGet, "/api/performance", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSession(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account, body["session"].(map[string]any)["account"])

	rec, _ = f.do(t, http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.sessions.State().Connected())

	rec, body = f.do(t, http.MethodPost, "/api/session", `{"account":"GABC"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid stellar account")

	rec, _ = f.do(t, http.MethodPost, "/api/session", `{"wallet":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other := "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
	rec, body = f.do(t, http.MethodPost, "/api/session", `{"account":"`+other+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, other, body["session"].(map[string]any)["account"])
	assert.NotNil(t, body["snapshot"])
	assert.Len(t, f.snapshots.runs, 2, "connect and disconnect both refresh")
}

func TestPortfolio_NotConfigured(t *testing.T) {
	f := newFixture(t, false)
	rec, _ := f.do(t, http.MethodGet, "/api/portfolio", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPortfolio_Get(t *testing.T) {
	f := newFixture(t, true)
	f.contract.portfolio = &contract.Portfolio{Owner: account, DriftThresholdBP: 500, IsActive: true}

	rec, body := f.do(t, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["needs_rebalancing"])
	assert.Equal(t, float64(500), body["portfolio"].(map[string]any)["drift_threshold"])
	assert.Equal(t, float64(4000), body["status"].(map[string]any)["XLM"])

	f.contract.err = &contract.CallError{Method: "get_portfolio", Code: 1, Message: "not initialized"}
	rec, _ = f.do(t, http.MethodGet, "/api/portfolio", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortfolio_Writes(t *testing.T) {
	f := newFixture(t, true)

	create := `{"allocations":[
		{"asset":{"address":"CA1","symbol":"XLM","decimals":7},"target_percent":6000},
		{"asset":{"address":"CA2","symbol":"USDC","decimals":7},"target_percent":4000}],
		"drift_threshold_bp":500}`
	rec, body := f.do(t, http.MethodPost, "/api/portfolio", create)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", body["receipt"].(map[string]any)["hash"])
	assert.Len(t, f.contract.allocs, 2)

	bad := strings.Replace(create, "4000", "3000", 1)
	rec, _ = f.do(t, http.MethodPost, "/api/portfolio", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/portfolio/status", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.contract.active)
	assert.False(t, *f.contract.active)

	rec, body = f.do(t, http.MethodPost, "/api/portfolio/rebalance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["result"].(map[string]any)["trades_executed"])

	f.contract.writeErr = &contract.CallError{Method: "rebalance_portfolio", Code: 9, Message: "no rebalance needed"}
	rec, _ = f.do(t, http.MethodPost, "/api/portfolio/rebalance", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.contract.writeErr = &contract.CallError{Method: "update_allocations", Code: 3, Message: "unauthorized"}
	rec, _ = f.do(t, http.MethodPut, "/api/portfolio/allocations", `{"allocations":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.contract.writeErr = contract.ErrTransactionPending
	rec, body = f.do(t, http.MethodPut, "/api/portfolio/allocations", `{"allocations":[]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "def", body["receipt"].(map[string]any)["hash"])

	// one refresh per settled write
	assert.Len(t, f.snapshots.runs, 3)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodGet, "/api/health", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rebalance_sentinel_http_requests_total")
}
