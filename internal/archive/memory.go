package archive

import (
	"context"
	"fmt"
	"sync"
)

type memoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func newMemoryStore() Store {
	return &memoryStore{snaps: make(map[string]Snapshot)}
}

func (m *memoryStore) Put(_ context.Context, snap Snapshot) error {
	if _, err := snapshotKey("", snap.DepositID); err != nil {
		return err
	}
	m.mu.Lock()
	m.snaps[snap.DepositID] = snap
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, depositID string) (Snapshot, error) {
	if _, err := snapshotKey("", depositID); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	snap, ok := m.snaps[depositID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, depositID)
	}
	return snap, nil
}
