package gatewayclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DriverHTTP = "http"
	DriverSim  = "sim"
)

var (
	ErrInvalidConfig  = errors.New("gatewayclient: invalid config")
	ErrTransferFailed = errors.New("gatewayclient: transfer failed")
)

// TransferRequest asks the cross-chain gateway to burn amount on the source
// chain and mint the equivalent on the destination chain.
type TransferRequest struct {
	SourceChain      string
	DestinationChain string
	Amount           string
	UserAddress      common.Address
}

type TransferResult struct {
	// TxID identifies the completed cross-chain transfer.
	TxID string
}

// Client is the cross-chain bridging collaborator. Transfer is
// long-running; callers bound it with ctx.
type Client interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

type Config struct {
	Driver string

	// HTTP fields.
	BaseURL          string
	AuthToken        string
	HTTPClient       *http.Client
	MaxResponseBytes int64

	// Sim fields.
	SimLatency time.Duration
	// SimFailure makes every simulated transfer fail with this reason.
	SimFailure string
}

// New creates a gateway client for the configured driver.
func New(cfg Config) (Client, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverSim:
		return newSimClient(cfg), nil
	case DriverHTTP:
		return newHTTPClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverSim
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
