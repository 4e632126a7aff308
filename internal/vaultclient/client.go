package vaultclient

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DriverHTTP = "http"
	DriverSim  = "sim"
)

var (
	ErrInvalidConfig = errors.New("vaultclient: invalid config")
	ErrDepositFailed = errors.New("vaultclient: deposit failed")
)

// DepositRequest asks the vault contract to accept bridged funds and issue
// pool shares to the user.
type DepositRequest struct {
	Amount      string
	UserAddress common.Address
	// BridgeTx identifies the completed cross-chain transfer backing this
	// deposit.
	BridgeTx string
}

type DepositResult struct {
	TxID string
}

// Client is the vault collaborator on the destination chain.
type Client interface {
	Deposit(ctx context.Context, req DepositRequest) (DepositResult, error)
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
	SimFailure string
}

func New(cfg Config) (Client, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "", DriverSim:
		return &simClient{latency: cfg.SimLatency, failure: cfg.SimFailure}, nil
	case DriverHTTP:
		return newHTTPClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

type simClient struct {
	latency time.Duration
	failure string
}

func (c *simClient) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return DepositResult{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return DepositResult{}, err
	}
	if c.failure != "" {
		return DepositResult{}, fmt.Errorf("%w: %s", ErrDepositFailed, c.failure)
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return DepositResult{}, fmt.Errorf("vaultclient: read nonce: %w", err)
	}
	h := crypto.Keccak256Hash(
		[]byte("vault-deposit"),
		[]byte(req.Amount),
		req.UserAddress.Bytes(),
		[]byte(req.BridgeTx),
		nonce[:],
	)
	return DepositResult{TxID: h.Hex()}, nil
}
