package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// TxStatus is the getTransaction status reported by Soroban RPC.
type TxStatus string

const (
	TxSuccess  TxStatus = "SUCCESS"
	TxFailed   TxStatus = "FAILED"
	TxNotFound TxStatus = "NOT_FOUND"
)

// Receipt describes a submitted transaction.
type Receipt struct {
	Hash        string   `json:"hash"`
	Status      TxStatus `json:"status"`
	Ledger      int64    `json:"ledger,omitempty"`
	ReturnValue string   `json:"return_value,omitempty"`
}

// TxTracker polls Soroban RPC until a transaction settles.
type TxTracker struct {
	RPCURL       string
	Client       *http.Client
	PollInterval time.Duration
	MaxAttempts  int

	nextID atomic.Int64
}

// NewTxTracker creates a tracker that polls every two seconds for up to a minute.
func NewTxTracker(rpcURL string) *TxTracker {
	return &TxTracker{
		RPCURL:       strings.TrimRight(rpcURL, "/"),
		Client:       &http.Client{Timeout: 15 * time.Second},
		PollInterval: 2 * time.Second,
		MaxAttempts:  30,
	}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// Lookup performs one getTransaction call.
func (t *TxTracker) Lookup(ctx context.Context, hash string) (Receipt, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      t.nextID.Add(1),
		Method:  "getTransaction",
		Params:  map[string]any{"hash": hash},
	})
	if err != nil {
		return Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("soroban rpc: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("soroban rpc read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("soroban rpc: status %d, body: %s", resp.StatusCode, string(body))
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return Receipt{}, fmt.Errorf("soroban rpc: %s", e.Get("message").String())
	}

	result := gjson.GetBytes(body, "result")
	return Receipt{
		Hash:        hash,
		Status:      TxStatus(result.Get("status").String()),
		Ledger:      result.Get("ledger").Int(),
		ReturnValue: result.Get("returnValueJson").Raw,
	}, nil
}

// Wait polls Lookup until the transaction is SUCCESS or FAILED. Transient
// lookup errors count as a pending attempt.
func (t *TxTracker) Wait(ctx context.Context, hash string) (Receipt, error) {
	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	last := Receipt{Hash: hash, Status: TxNotFound}
	for attempt := 1; ; attempt++ {
		receipt, err := t.Lookup(ctx, hash)
		if err == nil {
			last = receipt
			switch receipt.Status {
			case TxSuccess:
				return receipt, nil
			case TxFailed:
				return receipt, fmt.Errorf("%w: %s", ErrTransactionFailed, hash)
			}
		} else if ctx.Err() != nil {
			return last, ctx.Err()
		}

		if attempt >= t.MaxAttempts {
			return last, fmt.Errorf("%w: %s after %d attempts", ErrTransactionPending, hash, attempt)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
