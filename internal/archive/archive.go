// Package archive keeps a cold copy of deposit records evicted by retention.
// Snapshots are JSON documents keyed by deposit id; S3 is the production
// driver, memory backs local runs and tests.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/deposit"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrNotFound      = errors.New("archive: not found")
	ErrTooLarge      = errors.New("archive: snapshot too large")
)

// Snapshot is the archived projection of an evicted deposit record.
type Snapshot struct {
	DepositID        string `json:"depositId"`
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	Amount           string `json:"amount"`
	UserAddress      string `json:"userAddress"`
	Status           string `json:"status"`
	BridgeTx         string `json:"bridgeTx,omitempty"`
	VaultTx          string `json:"vaultTx,omitempty"`
	Error            string `json:"error,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	EvictedAt        int64  `json:"evictedAt"`
}

// SnapshotOf projects a deposit record at eviction time. Timestamps are epoch
// milliseconds.
func SnapshotOf(rec deposit.Record, evictedAt time.Time) Snapshot {
	return Snapshot{
		DepositID:        rec.ID,
		SourceChain:      rec.SourceChain,
		DestinationChain: rec.DestinationChain,
		Amount:           rec.Amount,
		UserAddress:      rec.UserAddress.Hex(),
		Status:           rec.Status.String(),
		BridgeTx:         rec.BridgeTx,
		VaultTx:          rec.VaultTx,
		Error:            rec.FailReason,
		CreatedAt:        rec.CreatedAt.UnixMilli(),
		EvictedAt:        evictedAt.UnixMilli(),
	}
}

// Store persists eviction snapshots.
type Store interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, depositID string) (Snapshot, error)
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes read back by Get. Defaults to 1 MiB when <= 0.
	MaxGetSize int64

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "", DriverMemory:
		return newMemoryStore(), nil
	case DriverS3:
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func snapshotKey(prefix, depositID string) (string, error) {
	depositID = strings.TrimSpace(depositID)
	if depositID == "" {
		return "", fmt.Errorf("%w: empty deposit id", ErrInvalidConfig)
	}
	if strings.ContainsAny(depositID, "/ \t\n") {
		return "", fmt.Errorf("%w: malformed deposit id %q", ErrInvalidConfig, depositID)
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return depositID + ".json", nil
	}
	return prefix + "/" + depositID + ".json", nil
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal snapshot %q: %w", snap.DepositID, err)
	}
	return raw, nil
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("archive: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
