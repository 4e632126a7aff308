// Package poolapi exposes the public deposit and pool endpoints.
package poolapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/archive"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
	"github.com/poolshare-fi/pool-gateway/internal/depositid"
	"github.com/poolshare-fi/pool-gateway/internal/depositrequest"
	"github.com/poolshare-fi/pool-gateway/internal/pool"
)

var ErrInvalidConfig = errors.New("poolapi: invalid config")

// Launcher starts the lifecycle task for an accepted deposit.
type Launcher interface {
	Launch(rec deposit.Record)
}

type Config struct {
	SourceChains     []string
	DestinationChain string
	// EstimatedSeconds is the advertised end-to-end settlement estimate
	// returned on deposit creation.
	EstimatedSeconds int64

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	MaxBodyBytes int64

	Now   func() time.Time
	NewID func(now time.Time) (string, error)
}

func NewHandler(cfg Config, deposits deposit.Store, pools pool.Store, launcher Launcher, archived archive.Store) (http.Handler, error) {
	if deposits == nil {
		return nil, fmt.Errorf("%w: nil deposit store", ErrInvalidConfig)
	}
	if launcher == nil {
		return nil, fmt.Errorf("%w: nil launcher", ErrInvalidConfig)
	}
	if len(cfg.SourceChains) == 0 {
		return nil, fmt.Errorf("%w: no source chains", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.DestinationChain) == "" {
		return nil, fmt.Errorf("%w: missing destination chain", ErrInvalidConfig)
	}
	if cfg.EstimatedSeconds <= 0 {
		cfg.EstimatedSeconds = 30
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = depositid.New
	}

	h := &handler{
		cfg:      cfg,
		deposits: deposits,
		pools:    pools,
		launcher: launcher,
		archived: archived,
		validate: depositrequest.Config{
			SourceChains:     cfg.SourceChains,
			DestinationChain: cfg.DestinationChain,
		},
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/config", h.handleConfig)
	mux.HandleFunc("POST /v1/deposits", h.handleDepositCreate)
	mux.HandleFunc("GET /v1/deposits/{depositId}", h.handleDepositStatus)
	mux.HandleFunc("GET /v1/pools/{poolId}", h.handlePool)
	mux.HandleFunc("GET /v1/archive/deposits/{depositId}", h.handleArchivedDeposit)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		ip := clientIP(r)
		allowed := h.limiter.Allow(ip, now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"version": "v1",
				"error":   "rate_limited",
			})
			return
		}

		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg Config

	deposits deposit.Store
	pools    pool.Store
	launcher Launcher
	archived archive.Store
	validate depositrequest.Config
	limiter  *ipRateLimiter
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":          "v1",
		"sourceChains":     h.cfg.SourceChains,
		"destinationChain": h.cfg.DestinationChain,
		"estimatedSeconds": h.cfg.EstimatedSeconds,
	})
}

type depositCreateRequestBody struct {
	Amount      string `json:"amount"`
	SourceChain string `json:"sourceChain"`
	UserAddress string `json:"userAddress"`
}

func (h *handler) handleDepositCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, ok := decodeJSONBody[depositCreateRequestBody](w, r)
	if !ok {
		return
	}

	norm, err := depositrequest.Validate(h.validate, depositrequest.Raw{
		Amount:      body.Amount,
		SourceChain: body.SourceChain,
		UserAddress: body.UserAddress,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   validationErrorCode(err),
		})
		return
	}

	now := h.cfg.Now().UTC()
	id, err := h.cfg.NewID(now)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}

	rec := deposit.Record{
		ID:               id,
		SourceChain:      norm.SourceChain,
		DestinationChain: norm.DestinationChain,
		Amount:           norm.Amount,
		UserAddress:      norm.UserAddress,
		Status:           deposit.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.deposits.Create(r.Context(), rec); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}
	h.launcher.Launch(rec)

	writeJSON(w, http.StatusCreated, map[string]any{
		"version":          "v1",
		"depositId":        rec.ID,
		"status":           rec.Status.String(),
		"estimatedSeconds": h.cfg.EstimatedSeconds,
	})
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, depositrequest.ErrMissingField):
		return "missing_field"
	case errors.Is(err, depositrequest.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, depositrequest.ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(err, depositrequest.ErrInvalidAddress):
		return "invalid_address"
	default:
		return "invalid_request"
	}
}

func (h *handler) handleDepositStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("depositId"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_deposit_id",
		})
		return
	}

	rec, err := h.deposits.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, deposit.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"version":   "v1",
				"error":     "not_found",
				"depositId": id,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}

	resp := map[string]any{
		"version":          "v1",
		"depositId":        rec.ID,
		"status":           rec.Status.String(),
		"sourceChain":      rec.SourceChain,
		"destinationChain": rec.DestinationChain,
		"amount":           rec.Amount,
		"userAddress":      rec.UserAddress.Hex(),
		"createdAt":        rec.CreatedAt.UnixMilli(),
		"updatedAt":        rec.UpdatedAt.UnixMilli(),
	}
	if rec.BridgeTx != "" {
		resp["bridgeTx"] = rec.BridgeTx
	}
	if rec.VaultTx != "" {
		resp["vaultTx"] = rec.VaultTx
	}
	if rec.FailReason != "" {
		resp["error"] = rec.FailReason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handlePool(w http.ResponseWriter, r *http.Request) {
	if h.pools == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"version": "v1",
			"error":   "pool_lookup_unavailable",
		})
		return
	}

	id := strings.TrimSpace(r.PathValue("poolId"))
	p, err := h.pools.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"version": "v1",
				"error":   "not_found",
				"poolId":  id,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"pool":    p,
	})
}

func (h *handler) handleArchivedDeposit(w http.ResponseWriter, r *http.Request) {
	if h.archived == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"version": "v1",
			"error":   "archive_unavailable",
		})
		return
	}

	id := strings.TrimSpace(r.PathValue("depositId"))
	snap, err := h.archived.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"version":   "v1",
				"error":     "not_found",
				"depositId": id,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"snapshot": snap,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_json",
		})
		return out, false
	}
	return out, true
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}

	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	return host
}

// ipRateLimiter is a per-client token bucket. One bucket per IP, capped at
// maxTracked entries with stalest-seen eviction.
type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTracked      int
	buckets         map[string]bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newIPRateLimiter(refillPerSecond float64, burst float64, maxTracked int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTracked:      maxTracked,
		buckets:         make(map[string]bucket),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= l.maxTracked {
			l.evictStalest()
		}
		l.buckets[ip] = bucket{tokens: l.burst - 1, seen: now}
		return true
	}

	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.refillPerSecond)
	}
	b.seen = now

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	l.buckets[ip] = b
	return allowed
}

func (l *ipRateLimiter) evictStalest() {
	var stalest string
	for ip, b := range l.buckets {
		if stalest == "" || b.seen.Before(l.buckets[stalest].seen) {
			stalest = ip
		}
	}
	delete(l.buckets, stalest)
}
