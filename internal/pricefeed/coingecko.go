package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"RebalanceSentinel/internal/httpclient"
	"RebalanceSentinel/internal/model"
)

// DefaultCoinGeckoIDs translates asset codes to CoinGecko coin ids.
// Wrapped XLM shares the XLM id.
var DefaultCoinGeckoIDs = map[string]string{
	"XLM":  "stellar",
	"USDC": "usd-coin",
	"AQUA": "aquarius",
	"yXLM": "stellar",
	"USDT": "tether",
	"BTC":  "bitcoin",
}

// CoinGeckoSource is the secondary tier: CoinGecko's simple price endpoint.
type CoinGeckoSource struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	IDMap   map[string]string // asset code -> CoinGecko id
	Limiter *rate.Limiter
}

// NewCoinGeckoSource creates the secondary source. requestsPerMinute <= 0 disables limiting.
func NewCoinGeckoSource(baseURL, apiKey, proxyURL string, idMap map[string]string, requestsPerMinute int) *CoinGeckoSource {
	if len(idMap) == 0 {
		idMap = DefaultCoinGeckoIDs
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &CoinGeckoSource{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  httpclient.New(proxyURL, 30*time.Second),
		IDMap:   idMap,
		Limiter: limiter,
	}
}

func (s *CoinGeckoSource) Name() string            { return "coingecko" }
func (s *CoinGeckoSource) Tier() model.QuoteSource { return model.SourceSecondary }

func (s *CoinGeckoSource) ids(codes []string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range codes {
		id, ok := s.IDMap[c]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TryResolve prices every code that has an id mapping. Codes without one are skipped.
func (s *CoinGeckoSource) TryResolve(ctx context.Context, codes []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	ids := s.ids(codes)
	if len(ids) == 0 {
		return prices, nil
	}

	if err := s.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("coingecko rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coingecko read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("coingecko: status %d, body: %s", resp.StatusCode, string(body))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("coingecko: invalid json")
	}

	byID := make(map[string]gjson.Result)
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		byID[key.String()] = value
		return true
	})

	for _, c := range codes {
		id, ok := s.IDMap[c]
		if !ok {
			continue
		}
		entry, ok := byID[id]
		if !ok {
			continue
		}
		if price, ok := parsePositive(entry.Get("usd").String()); ok {
			prices[c] = price
		}
	}
	return prices, nil
}
