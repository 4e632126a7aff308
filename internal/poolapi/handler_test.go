package poolapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/archive"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
	"github.com/poolshare-fi/pool-gateway/internal/gatewayclient"
	"github.com/poolshare-fi/pool-gateway/internal/lifecycle"
	"github.com/poolshare-fi/pool-gateway/internal/pool"
	"github.com/poolshare-fi/pool-gateway/internal/vaultclient"
)

const testAddress = "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"

type recordingLauncher struct {
	mu   sync.Mutex
	recs []deposit.Record
}

func (l *recordingLauncher) Launch(rec deposit.Record) {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
}

func baseConfig() Config {
	return Config{
		SourceChains:     []string{"ethereum", "polygon"},
		DestinationChain: "base",
		EstimatedSeconds: 12,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v: %s", method, path, err, rr.Body.String())
		}
	}
	return rr.Code, out
}

func TestHandler_DepositLifecycle(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	gateway, err := gatewayclient.New(gatewayclient.Config{Driver: gatewayclient.DriverSim, SimLatency: time.Millisecond})
	if err != nil {
		t.Fatalf("gatewayclient.New: %v", err)
	}
	vault, err := vaultclient.New(vaultclient.Config{Driver: vaultclient.DriverSim, SimLatency: time.Millisecond})
	if err != nil {
		t.Fatalf("vaultclient.New: %v", err)
	}
	orch := lifecycle.New(store, gateway, vault, nil, lifecycle.Config{SettleDelay: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(orch.Close)

	h, err := NewHandler(baseConfig(), store, nil, orch, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodPost, "/v1/deposits",
		`{"amount":"1000000","sourceChain":"ethereum","userAddress":"`+testAddress+`"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d: %v", code, resp)
	}
	if resp["status"] != "pending" {
		t.Fatalf("create: status field %v", resp["status"])
	}
	if resp["estimatedSeconds"] != float64(12) {
		t.Fatalf("create: estimatedSeconds %v", resp["estimatedSeconds"])
	}
	id, _ := resp["depositId"].(string)
	if !strings.HasPrefix(id, "0x") {
		t.Fatalf("create: depositId %q", id)
	}

	deadline := time.Now().Add(5 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		code, last = doJSON(t, h, http.MethodGet, "/v1/deposits/"+id, "")
		if code != http.StatusOK {
			t.Fatalf("status: code %d: %v", code, last)
		}
		if last["status"] == "vault_complete" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if last["status"] != "vault_complete" {
		t.Fatalf("deposit never settled: %v", last)
	}
	bridgeTx, _ := last["bridgeTx"].(string)
	vaultTx, _ := last["vaultTx"].(string)
	if !strings.HasPrefix(bridgeTx, "0x") || !strings.HasPrefix(vaultTx, "0x") {
		t.Fatalf("tx hashes missing: %v", last)
	}
	if _, ok := last["error"]; ok {
		t.Fatalf("settled deposit carries error: %v", last)
	}
}

func TestHandler_BridgeFailureSurfacesReason(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	gateway, err := gatewayclient.New(gatewayclient.Config{Driver: gatewayclient.DriverSim, SimFailure: "attestation timeout"})
	if err != nil {
		t.Fatalf("gatewayclient.New: %v", err)
	}
	vault, err := vaultclient.New(vaultclient.Config{Driver: vaultclient.DriverSim})
	if err != nil {
		t.Fatalf("vaultclient.New: %v", err)
	}
	orch := lifecycle.New(store, gateway, vault, nil, lifecycle.Config{SettleDelay: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(orch.Close)

	h, err := NewHandler(baseConfig(), store, nil, orch, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodPost, "/v1/deposits",
		`{"amount":"5","sourceChain":"polygon","userAddress":"`+testAddress+`"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d: %v", code, resp)
	}
	id, _ := resp["depositId"].(string)

	deadline := time.Now().Add(5 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		_, last = doJSON(t, h, http.MethodGet, "/v1/deposits/"+id, "")
		if last["status"] == "failed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if last["status"] != "failed" {
		t.Fatalf("deposit never failed: %v", last)
	}
	reason, _ := last["error"].(string)
	if !strings.Contains(reason, "bridge transfer failed") {
		t.Fatalf("error field: %q", reason)
	}
	if _, ok := last["bridgeTx"]; ok {
		t.Fatalf("bridgeTx set on bridge failure: %v", last)
	}
}

func TestHandler_DepositValidation(t *testing.T) {
	t.Parallel()

	launcher := &recordingLauncher{}
	h, err := NewHandler(baseConfig(), deposit.NewMemoryStore(), nil, launcher, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing amount", `{"sourceChain":"ethereum","userAddress":"` + testAddress + `"}`, "missing_field"},
		{"zero amount", `{"amount":"0","sourceChain":"ethereum","userAddress":"` + testAddress + `"}`, "invalid_amount"},
		{"decimal amount", `{"amount":"12.5","sourceChain":"ethereum","userAddress":"` + testAddress + `"}`, "invalid_amount"},
		{"unsupported chain", `{"amount":"10","sourceChain":"solana","userAddress":"` + testAddress + `"}`, "unsupported_chain"},
		{"bad address", `{"amount":"10","sourceChain":"ethereum","userAddress":"0x1234"}`, "invalid_address"},
		{"unknown field", `{"amount":"10","sourceChain":"ethereum","userAddress":"` + testAddress + `","extra":1}`, "invalid_json"},
	}
	for _, tc := range cases {
		code, resp := doJSON(t, h, http.MethodPost, "/v1/deposits", tc.body)
		if code != http.StatusBadRequest {
			t.Fatalf("%s: status %d: %v", tc.name, code, resp)
		}
		if resp["error"] != tc.want {
			t.Fatalf("%s: error %v, want %s", tc.name, resp["error"], tc.want)
		}
	}

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	if len(launcher.recs) != 0 {
		t.Fatalf("rejected requests launched tasks: %d", len(launcher.recs))
	}
}

func TestHandler_DepositNotFound(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(baseConfig(), deposit.NewMemoryStore(), nil, &recordingLauncher{}, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodGet, "/v1/deposits/0xmissing", "")
	if code != http.StatusNotFound {
		t.Fatalf("status %d: %v", code, resp)
	}
	if resp["error"] != "not_found" {
		t.Fatalf("error: %v", resp["error"])
	}
}

func TestHandler_Pool(t *testing.T) {
	t.Parallel()

	pools := pool.NewMemoryStore()
	if err := pools.Put(context.Background(), pool.Pool{ID: "usdc-base", Name: "USDC Yield", Chain: "base", Asset: "USDC", APRBps: 412}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	h, err := NewHandler(baseConfig(), deposit.NewMemoryStore(), pools, &recordingLauncher{}, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodGet, "/v1/pools/usdc-base", "")
	if code != http.StatusOK {
		t.Fatalf("status %d: %v", code, resp)
	}
	p, _ := resp["pool"].(map[string]any)
	if p["name"] != "USDC Yield" || p["aprBps"] != float64(412) {
		t.Fatalf("pool body: %v", resp)
	}

	code, resp = doJSON(t, h, http.MethodGet, "/v1/pools/unknown", "")
	if code != http.StatusNotFound || resp["error"] != "not_found" {
		t.Fatalf("missing pool: status %d: %v", code, resp)
	}
}

func TestHandler_ArchivedDeposit(t *testing.T) {
	t.Parallel()

	archived, err := archive.New(archive.Config{Driver: archive.DriverMemory})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	if err := archived.Put(context.Background(), archive.Snapshot{
		DepositID: "0xold",
		Status:    "vault_complete",
		Amount:    "777",
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	h, err := NewHandler(baseConfig(), deposit.NewMemoryStore(), nil, &recordingLauncher{}, archived)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodGet, "/v1/archive/deposits/0xold", "")
	if code != http.StatusOK {
		t.Fatalf("status %d: %v", code, resp)
	}
	snap, _ := resp["snapshot"].(map[string]any)
	if snap["amount"] != "777" || snap["status"] != "vault_complete" {
		t.Fatalf("snapshot body: %v", resp)
	}

	code, resp = doJSON(t, h, http.MethodGet, "/v1/archive/deposits/0xnope", "")
	if code != http.StatusNotFound || resp["error"] != "not_found" {
		t.Fatalf("missing snapshot: status %d: %v", code, resp)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RateLimitPerIPPerSecond = 0.0001
	cfg.RateLimitBurst = 1
	fixed := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cfg.Now = func() time.Time { return fixed }

	h, err := NewHandler(cfg, deposit.NewMemoryStore(), nil, &recordingLauncher{}, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, _ := doJSON(t, h, http.MethodGet, "/v1/config", "")
	if code != http.StatusOK {
		t.Fatalf("first request: status %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After: %q", rr.Header().Get("Retry-After"))
	}

	// Health checks bypass the limiter.
	hreq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	hrr := httptest.NewRecorder()
	h.ServeHTTP(hrr, hreq)
	if hrr.Code != http.StatusOK {
		t.Fatalf("healthz throttled: status %d", hrr.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 2, 2)

	if !l.Allow("a", now) || !l.Allow("a", now) {
		t.Fatal("burst denied")
	}
	if l.Allow("a", now) {
		t.Fatal("request beyond burst allowed")
	}
	if !l.Allow("a", now.Add(time.Second)) {
		t.Fatal("refill not applied after one second")
	}

	if !l.Allow("b", now.Add(2*time.Second)) {
		t.Fatal("second client denied")
	}
	// Third client exceeds the tracking cap and evicts the stalest entry.
	if !l.Allow("c", now.Add(3*time.Second)) {
		t.Fatal("third client denied")
	}
	// "a" was evicted, so it returns with a fresh bucket.
	if !l.Allow("a", now.Add(3*time.Second)) {
		t.Fatal("evicted client not re-admitted")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"host port", "10.1.2.3:4567", nil, "10.1.2.3"},
		{"ipv6 host port", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"bare host", "10.1.2.3", nil, "10.1.2.3"},
		{"empty", "", nil, "unknown"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "9.9.9.9"}, "9.9.9.9"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := clientIP(req); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestHandler_Config(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(baseConfig(), deposit.NewMemoryStore(), nil, &recordingLauncher{}, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	code, resp := doJSON(t, h, http.MethodGet, "/v1/config", "")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resp["destinationChain"] != "base" {
		t.Fatalf("destinationChain: %v", resp["destinationChain"])
	}
	chains, _ := resp["sourceChains"].([]any)
	if len(chains) != 2 {
		t.Fatalf("sourceChains: %v", resp["sourceChains"])
	}
}
