// Package retention evicts deposit records past their retention window.
// Eviction is purely age based: in-flight deposits are evicted too, with
// their lifecycle tasks cancelled and a snapshot written to the archive.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/archive"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
)

var ErrInvalidConfig = errors.New("retention: invalid config")

// Canceller stops the lifecycle task for an evicted deposit.
type Canceller interface {
	Cancel(id string)
}

type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxAge is the retention window measured from record creation.
	MaxAge time.Duration
	// BatchLimit caps evictions per sweep. Zero means unlimited.
	BatchLimit int

	Now func() time.Time
}

type Sweeper struct {
	cfg      Config
	store    deposit.Store
	tasks    Canceller
	archived archive.Store
	log      *slog.Logger
}

func New(store deposit.Store, tasks Canceller, archived archive.Store, cfg Config, log *slog.Logger) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive", ErrInvalidConfig)
	}
	if cfg.BatchLimit < 0 {
		return nil, fmt.Errorf("%w: batch limit must be >= 0", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		store:    store,
		tasks:    tasks,
		archived: archived,
		log:      log,
	}, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.SweepOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("retention sweep", "err", err)
			continue
		}
		if n > 0 {
			s.log.Info("retention sweep evicted records", "count", n)
		}
	}
}

// SweepOnce evicts one batch of expired records and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.cfg.Now().Add(-s.cfg.MaxAge)
	evicted, err := s.store.DeleteOlderThan(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("retention: delete older than %s: %w", cutoff.Format(time.RFC3339), err)
	}

	now := s.cfg.Now()
	for _, rec := range evicted {
		if s.tasks != nil {
			s.tasks.Cancel(rec.ID)
		}
		if !rec.Status.Terminal() {
			s.log.Warn("evicted in-flight deposit",
				"depositId", rec.ID,
				"status", rec.Status.String(),
				"createdAt", rec.CreatedAt.Format(time.RFC3339))
		}
		if s.archived == nil {
			continue
		}
		// Archiving is best effort. The row is already gone; a failed Put
		// loses the snapshot but must not abort the sweep.
		if err := s.archived.Put(ctx, archive.SnapshotOf(rec, now)); err != nil {
			if ctx.Err() != nil {
				return len(evicted), nil
			}
			s.log.Error("archive evicted deposit", "depositId", rec.ID, "err", err)
		}
	}
	return len(evicted), nil
}
