package horizon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func TestHoldings_ParsesBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/"+testAccount, r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "` + testAccount + `",
			"balances": [
				{"balance": "250.5000000", "asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"},
				{"balance": "12.0000000", "asset_type": "liquidity_pool_shares", "liquidity_pool_id": "abc"},
				{"balance": "1000.0000000", "asset_type": "credit_alphanum12", "asset_code": "yXLMTOKEN", "asset_issuer": "GISSUER"},
				{"balance": "100.0000000", "asset_type": "native"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "", zerolog.Nop())
	holdings, err := c.Holdings(context.Background(), testAccount)
	require.NoError(t, err)
	require.Len(t, holdings, 3)

	assert.Equal(t, "USDC", holdings[0].AssetCode)
	assert.Equal(t, "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN", holdings[0].Issuer)
	assert.Equal(t, "250.5", holdings[0].Amount.String())

	assert.Equal(t, "yXLMTOKEN", holdings[1].AssetCode)

	assert.Equal(t, "XLM", holdings[2].AssetCode)
	assert.True(t, holdings[2].Native())
	assert.Equal(t, "100", holdings[2].Amount.String())
}

func TestHoldings_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"status":404}`, notFound: true},
		{name: "server error", status: http.StatusBadGateway, body: `oops`},
		{name: "malformed", status: http.StatusOK, body: `{"balances": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", zerolog.Nop()).Holdings(context.Background(), testAccount)
			require.ErrorIs(t, err, ErrAccountFetchFailed)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrAccountNotFound))
		})
	}
}

func TestHoldings_EmptyAccount(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", "", zerolog.Nop()).Holdings(context.Background(), "")
	require.ErrorIs(t, err, ErrAccountFetchFailed)
}
