package deposit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("deposit: create: empty id")
	}
	if rec.Status == StatusUnknown {
		rec.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) MarkGatewayComplete(_ context.Context, id string, bridgeTx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusGatewayComplete && rec.BridgeTx == bridgeTx {
		return nil
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: %s -> gateway_complete", ErrInvalidTransition, rec.Status)
	}

	rec.Status = StatusGatewayComplete
	rec.BridgeTx = bridgeTx
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) MarkVaultComplete(_ context.Context, id string, vaultTx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusVaultComplete && rec.VaultTx == vaultTx {
		return nil
	}
	if rec.Status != StatusGatewayComplete {
		return fmt.Errorf("%w: %s -> vault_complete", ErrInvalidTransition, rec.Status)
	}

	rec.Status = StatusVaultComplete
	rec.VaultTx = vaultTx
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusFailed {
		return nil
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, rec.Status)
	}

	// BridgeTx stays set when the gateway stage already completed: funds
	// were bridged, and the inconsistency must remain observable.
	rec.Status = StatusFailed
	rec.FailReason = reason
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Record
	kept := s.order[:0]
	for _, id := range s.order {
		rec := s.records[id]
		if rec.CreatedAt.Before(cutoff) && (limit <= 0 || len(evicted) < limit) {
			evicted = append(evicted, rec)
			delete(s.records, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return evicted, nil
}

var _ Store = (*MemoryStore)(nil)
