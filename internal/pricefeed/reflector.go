package pricefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"RebalanceSentinel/internal/httpclient"
	"RebalanceSentinel/internal/model"
)

// ReflectorSource is the primary tier: the Reflector oracle's batched price endpoint.
type ReflectorSource struct {
	BaseURL string
	Client  *http.Client
}

// NewReflectorSource creates the primary source with optional proxy support.
func NewReflectorSource(baseURL, proxyURL string) *ReflectorSource {
	return &ReflectorSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  httpclient.New(proxyURL, 30*time.Second),
	}
}

func (s *ReflectorSource) Name() string            { return "reflector" }
func (s *ReflectorSource) Tier() model.QuoteSource { return model.SourcePrimary }

type reflectorAsset struct {
	Asset string `json:"asset"`
}

type reflectorRequest struct {
	Assets []reflectorAsset `json:"assets"`
}

// TryResolve issues one POST /prices for every requested code.
func (s *ReflectorSource) TryResolve(ctx context.Context, codes []string) (map[string]decimal.Decimal, error) {
	payload := reflectorRequest{Assets: make([]reflectorAsset, len(codes))}
	for i, c := range codes {
		payload.Assets[i] = reflectorAsset{Asset: c}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/prices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reflector fetch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reflector read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("reflector: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("reflector: invalid json")
	}

	entries := gjson.GetBytes(respBody, "prices")
	if !entries.IsArray() {
		return nil, fmt.Errorf("reflector: missing prices array")
	}

	wanted := codeSet(codes)
	prices := make(map[string]decimal.Decimal, len(codes))
	entries.ForEach(func(_, entry gjson.Result) bool {
		asset := entry.Get("asset").String()
		if _, ok := wanted[asset]; !ok {
			return true
		}
		if price, ok := parsePositive(entry.Get("price").String()); ok {
			prices[asset] = price
		}
		return true
	})
	return prices, nil
}
