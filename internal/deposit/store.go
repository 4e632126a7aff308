package deposit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("deposit: not found")
	ErrDuplicateID       = errors.New("deposit: duplicate id")
	ErrInvalidTransition = errors.New("deposit: invalid transition")
)

// Store is the single source of truth for deposit lifecycle state. Every
// mutation is a single atomic step; transition methods enforce the
// forward-only state machine and are idempotent when re-applied with the
// same values.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)

	MarkGatewayComplete(ctx context.Context, id string, bridgeTx string) error
	MarkVaultComplete(ctx context.Context, id string, vaultTx string) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// DeleteOlderThan evicts records created before cutoff regardless of
	// status, up to limit (limit <= 0 means no limit), returning the
	// evicted records.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)
}
