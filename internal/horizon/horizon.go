// Package horizon reads account balances from a Stellar Horizon server.
package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"RebalanceSentinel/internal/httpclient"
	"RebalanceSentinel/internal/model"
)

var (
	// ErrAccountFetchFailed is returned when balances could not be loaded.
	// It is fatal for the refresh cycle that asked.
	ErrAccountFetchFailed = errors.New("horizon: account fetch failed")
	// ErrAccountNotFound is returned for an account that does not exist on the network.
	ErrAccountNotFound = errors.New("horizon: account not found")
)

const (
	assetTypeNative       = "native"
	assetTypeAlphanum4    = "credit_alphanum4"
	assetTypeAlphanum12   = "credit_alphanum12"
	nativeAssetCode       = "XLM"
	DefaultRequestTimeout = 30 * time.Second
)

// Client loads holdings over GET {base}/accounts/{id}.
type Client struct {
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Horizon client with optional proxy support.
func NewClient(baseURL, proxyURL string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  httpclient.New(proxyURL, DefaultRequestTimeout),
		log:     log.With().Str("component", "horizon").Logger(),
	}
}

type accountResponse struct {
	ID       string          `json:"id"`
	Balances []balanceRecord `json:"balances"`
}

type balanceRecord struct {
	AssetType   string          `json:"asset_type"`
	AssetCode   string          `json:"asset_code"`
	AssetIssuer string          `json:"asset_issuer"`
	Balance     decimal.Decimal `json:"balance"`
}

// Holdings returns every native and issued-asset balance of the account.
// Liquidity-pool shares and unknown asset types are skipped.
func (c *Client) Holdings(ctx context.Context, accountID string) ([]model.Holding, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrAccountFetchFailed)
	}
	u := fmt.Sprintf("%s/accounts/%s", c.BaseURL, url.PathEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrAccountFetchFailed, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w: %s", ErrAccountFetchFailed, ErrAccountNotFound, accountID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrAccountFetchFailed, resp.StatusCode, string(body))
	}

	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrAccountFetchFailed, err)
	}

	holdings := make([]model.Holding, 0, len(account.Balances))
	for _, b := range account.Balances {
		switch b.AssetType {
		case assetTypeNative:
			holdings = append(holdings, model.Holding{AssetCode: nativeAssetCode, Amount: b.Balance})
		case assetTypeAlphanum4, assetTypeAlphanum12:
			if b.AssetCode == "" {
				continue
			}
			holdings = append(holdings, model.Holding{
				AssetCode: b.AssetCode,
				Issuer:    b.AssetIssuer,
				Amount:    b.Balance,
			})
		default:
			c.log.Debug().Str("asset_type", b.AssetType).Msg("skipping balance")
		}
	}
	return holdings, nil
}
