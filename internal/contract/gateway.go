package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"RebalanceSentinel/internal/httpclient"
)

// Call is one contract method invocation. Args are passed as JSON values;
// building and signing the transaction is the signer's job.
type Call struct {
	ContractID string `json:"contract_id"`
	Method     string `json:"method"`
	Source     string `json:"source"`
	Args       []any  `json:"args"`
}

// Invoker runs contract calls. Simulate evaluates a read-only call and
// returns its JSON result; Submit signs and sends a state-changing call and
// returns the transaction hash.
type Invoker interface {
	Simulate(ctx context.Context, call Call) ([]byte, error)
	Submit(ctx context.Context, call Call) (string, error)
}

// HTTPGateway is an Invoker backed by a signer bridge that exposes
// POST /simulate and POST /submit.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPGateway creates a gateway client with optional proxy support.
func NewHTTPGateway(baseURL, apiKey, proxyURL string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  httpclient.New(proxyURL, 30*time.Second),
	}
}

// Simulate returns the raw "result" value of the simulation.
func (g *HTTPGateway) Simulate(ctx context.Context, call Call) ([]byte, error) {
	body, err := g.post(ctx, "/simulate", call)
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return nil, &CallError{Method: call.Method, Message: "simulation returned no result"}
	}
	return []byte(result.Raw), nil
}

// Submit returns the hash of the submitted transaction.
func (g *HTTPGateway) Submit(ctx context.Context, call Call) (string, error) {
	body, err := g.post(ctx, "/submit", call)
	if err != nil {
		return "", err
	}
	hash := gjson.GetBytes(body, "hash").String()
	if hash == "" {
		return "", &CallError{Method: call.Method, Message: "submit returned no transaction hash"}
	}
	return hash, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, call Call) ([]byte, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", call.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("gateway %s: status %d, invalid json", call.Method, resp.StatusCode)
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return nil, &CallError{
			Method:  call.Method,
			Code:    int(e.Get("code").Int()),
			Message: e.Get("message").String(),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway %s: status %d, body: %s", call.Method, resp.StatusCode, string(body))
	}
	return body, nil
}
