package vaultclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const defaultMaxResponseBytes int64 = 1 << 20

type httpClient struct {
	baseURL      *url.URL
	authToken    string
	hc           *http.Client
	maxRespBytes int64
}

func newHTTPClient(cfg Config) (*httpClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url scheme must be http or https", ErrInvalidConfig)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	maxResp := cfg.MaxResponseBytes
	if maxResp <= 0 {
		maxResp = defaultMaxResponseBytes
	}

	return &httpClient{
		baseURL:      u,
		authToken:    strings.TrimSpace(cfg.AuthToken),
		hc:           hc,
		maxRespBytes: maxResp,
	}, nil
}

type depositRequestBody struct {
	Amount      string `json:"amount"`
	UserAddress string `json:"userAddress"`
	BridgeTx    string `json:"bridgeTx"`
}

type depositResponseBody struct {
	TxID  string `json:"txId"`
	Error string `json:"error,omitempty"`
}

func (c *httpClient) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	body, err := json.Marshal(depositRequestBody{
		Amount:      req.Amount,
		UserAddress: req.UserAddress.Hex(),
		BridgeTx:    req.BridgeTx,
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: marshal request: %w", err)
	}

	u := *c.baseURL
	u.Path = path.Join(u.Path, "v1", "deposits")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRespBytes))
	if err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: read response: %w", err)
	}

	var out depositResponseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return DepositResult{}, fmt.Errorf("%w: %s", ErrDepositFailed, reason)
	}
	if strings.TrimSpace(out.TxID) == "" {
		return DepositResult{}, fmt.Errorf("%w: empty tx id in response", ErrDepositFailed)
	}
	return DepositResult{TxID: out.TxID}, nil
}
