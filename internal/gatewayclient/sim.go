package gatewayclient

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// simClient stands in for the real bridging service: it waits the
// configured latency and returns a deterministic-looking transaction hash.
type simClient struct {
	latency time.Duration
	failure string
}

func newSimClient(cfg Config) *simClient {
	return &simClient{
		latency: cfg.SimLatency,
		failure: cfg.SimFailure,
	}
}

func (c *simClient) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := sleepCtx(ctx, c.latency); err != nil {
		return TransferResult{}, err
	}
	if c.failure != "" {
		return TransferResult{}, fmt.Errorf("%w: %s", ErrTransferFailed, c.failure)
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return TransferResult{}, fmt.Errorf("gatewayclient: read nonce: %w", err)
	}
	h := crypto.Keccak256Hash(
		[]byte("gateway-transfer"),
		[]byte(req.SourceChain),
		[]byte(req.DestinationChain),
		[]byte(req.Amount),
		req.UserAddress.Bytes(),
		nonce[:],
	)
	return TransferResult{TxID: h.Hex()}, nil
}
