// Package pool holds metadata for the liquidity pools deposits settle into.
// Pools are operator-seeded documents, not derived state.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("pool: not found")

type Pool struct {
	ID           string `json:"poolId"`
	Name         string `json:"name"`
	Chain        string `json:"chain"`
	Asset        string `json:"asset"`
	VaultAddress string `json:"vaultAddress"`
	// APRBps is the advertised annual rate in basis points.
	APRBps    int64     `json:"aprBps"`
	TVL       string    `json:"tvl"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p Pool) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pool: empty id")
	}
	if strings.TrimSpace(p.Chain) == "" {
		return fmt.Errorf("pool %s: empty chain", p.ID)
	}
	return nil
}

type Store interface {
	Get(ctx context.Context, id string) (Pool, error)
	Put(ctx context.Context, p Pool) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	pools map[string]Pool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pools: make(map[string]Pool)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Pool, error) {
	s.mu.RLock()
	p, ok := s.pools[id]
	s.mu.RUnlock()
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *MemoryStore) Put(_ context.Context, p Pool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pools[p.ID] = p
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
