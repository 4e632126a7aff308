package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poolshare-fi/pool-gateway/internal/archive"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
)

type recordingCanceller struct {
	mu  sync.Mutex
	ids []string
}

func (c *recordingCanceller) Cancel(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func seedRecord(t *testing.T, store deposit.Store, id string, status deposit.Status, createdAt time.Time) {
	t.Helper()
	rec := deposit.Record{
		ID:               id,
		SourceChain:      "ethereum",
		DestinationChain: "base",
		Amount:           "100",
		UserAddress:      common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"),
		Status:           deposit.StatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
	switch status {
	case deposit.StatusPending:
	case deposit.StatusGatewayComplete:
		if err := store.MarkGatewayComplete(context.Background(), id, "0xb"); err != nil {
			t.Fatalf("MarkGatewayComplete %s: %v", id, err)
		}
	case deposit.StatusVaultComplete:
		if err := store.MarkGatewayComplete(context.Background(), id, "0xb"); err != nil {
			t.Fatalf("MarkGatewayComplete %s: %v", id, err)
		}
		if err := store.MarkVaultComplete(context.Background(), id, "0xv"); err != nil {
			t.Fatalf("MarkVaultComplete %s: %v", id, err)
		}
	case deposit.StatusFailed:
		if err := store.MarkFailed(context.Background(), id, "seeded"); err != nil {
			t.Fatalf("MarkFailed %s: %v", id, err)
		}
	default:
		t.Fatalf("unsupported seed status %v", status)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepOnce_EvictsRegardlessOfStatus(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	archived, err := archive.New(archive.Config{Driver: archive.DriverMemory})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	tasks := &recordingCanceller{}

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)

	seedRecord(t, store, "0xold-pending", deposit.StatusPending, old)
	seedRecord(t, store, "0xold-done", deposit.StatusVaultComplete, old)
	seedRecord(t, store, "0xfresh", deposit.StatusPending, now.Add(-time.Minute))

	s, err := New(store, tasks, archived, Config{
		Interval: time.Minute,
		MaxAge:   time.Hour,
		Now:      func() time.Time { return now },
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("evicted %d records, want 2", n)
	}

	for _, id := range []string{"0xold-pending", "0xold-done"} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, deposit.ErrNotFound) {
			t.Fatalf("%s still present: %v", id, err)
		}
		snap, err := archived.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("archive Get %s: %v", id, err)
		}
		if snap.EvictedAt != now.UnixMilli() {
			t.Fatalf("%s evictedAt: %d", id, snap.EvictedAt)
		}
	}
	if _, err := store.Get(context.Background(), "0xfresh"); err != nil {
		t.Fatalf("fresh record evicted: %v", err)
	}

	tasks.mu.Lock()
	defer tasks.mu.Unlock()
	if len(tasks.ids) != 2 {
		t.Fatalf("cancelled %v, want both evicted ids", tasks.ids)
	}
}

func TestSweepOnce_BatchLimit(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"0xa", "0xb", "0xc"} {
		seedRecord(t, store, id, deposit.StatusFailed, now.Add(-3*time.Hour))
	}

	s, err := New(store, nil, nil, Config{
		Interval:   time.Minute,
		MaxAge:     time.Hour,
		BatchLimit: 2,
		Now:        func() time.Time { return now },
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("first sweep evicted %d, want 2", n)
	}
	n, err = s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce #2: %v", err)
	}
	if n != 1 {
		t.Fatalf("second sweep evicted %d, want 1", n)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	if _, err := New(store, nil, nil, Config{MaxAge: time.Hour}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing interval: got %v", err)
	}
	if _, err := New(store, nil, nil, Config{Interval: time.Minute}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing max age: got %v", err)
	}
	if _, err := New(store, nil, nil, Config{Interval: time.Minute, MaxAge: time.Hour, BatchLimit: -1}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("negative batch limit: got %v", err)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	s, err := New(store, nil, nil, Config{Interval: 5 * time.Millisecond, MaxAge: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
