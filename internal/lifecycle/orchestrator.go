// Package lifecycle drives accepted deposits through the bridge and vault
// stages. Each deposit runs as its own task; the retention sweeper cancels
// tasks whose records it evicts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/deposit"
	"github.com/poolshare-fi/pool-gateway/internal/gatewayclient"
	"github.com/poolshare-fi/pool-gateway/internal/lifecycleevent"
	"github.com/poolshare-fi/pool-gateway/internal/queue"
	"github.com/poolshare-fi/pool-gateway/internal/vaultclient"
)

type Config struct {
	// SettleDelay is the wait before contacting the gateway, covering source
	// chain confirmation depth.
	SettleDelay time.Duration

	// Topic receives lifecycle events. Empty disables publishing.
	Topic string

	Now func() time.Time
}

type Orchestrator struct {
	cfg     Config
	store   deposit.Store
	gateway gatewayclient.Client
	vault   vaultclient.Client
	events  queue.Producer
	log     *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func New(store deposit.Store, gateway gatewayclient.Client, vault vaultclient.Client, events queue.Producer, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		vault:      vault,
		events:     events,
		log:        log,
		baseCtx:    ctx,
		cancelBase: cancel,
		tasks:      make(map[string]context.CancelFunc),
	}
}

// Launch starts the lifecycle task for a freshly created pending deposit.
func (o *Orchestrator) Launch(rec deposit.Record) {
	ctx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	if _, exists := o.tasks[rec.ID]; exists {
		o.mu.Unlock()
		cancel()
		o.log.Warn("lifecycle task already running", "depositId", rec.ID)
		return
	}
	o.tasks[rec.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.tasks, rec.ID)
			o.mu.Unlock()
		}()
		o.run(ctx, rec)
	}()
}

// Cancel stops the task for a deposit, if one is still running. Used when the
// record is evicted out from under the task.
func (o *Orchestrator) Cancel(id string) {
	o.mu.Lock()
	cancel, ok := o.tasks[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels all running tasks and waits for them to unwind.
func (o *Orchestrator) Close() {
	o.cancelBase()
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, rec deposit.Record) {
	log := o.log.With("depositId", rec.ID)

	o.publish(ctx, rec)

	if o.cfg.SettleDelay > 0 {
		t := time.NewTimer(o.cfg.SettleDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	// The record may have been evicted or mutated while we waited.
	cur, err := o.store.Get(ctx, rec.ID)
	if err != nil {
		if !errors.Is(err, deposit.ErrNotFound) && ctx.Err() == nil {
			log.Error("refresh record", "err", err)
		}
		return
	}
	if cur.Status != deposit.StatusPending {
		log.Warn("skipping bridge stage", "status", cur.Status.String())
		return
	}

	bridgeRes, err := o.gateway.Transfer(ctx, gatewayclient.TransferRequest{
		SourceChain:      cur.SourceChain,
		DestinationChain: cur.DestinationChain,
		Amount:           cur.Amount,
		UserAddress:      cur.UserAddress,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(ctx, cur.ID, fmt.Sprintf("bridge transfer failed: %v", err), log)
		return
	}

	if err := o.store.MarkGatewayComplete(ctx, cur.ID, bridgeRes.TxID); err != nil {
		if ctx.Err() == nil {
			log.Warn("mark gateway complete", "err", err)
		}
		return
	}
	log.Info("bridge transfer complete", "bridgeTx", bridgeRes.TxID)
	o.publishCurrent(ctx, cur.ID, log)

	vaultRes, err := o.vault.Deposit(ctx, vaultclient.DepositRequest{
		Amount:      cur.Amount,
		UserAddress: cur.UserAddress,
		BridgeTx:    bridgeRes.TxID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(ctx, cur.ID, fmt.Sprintf("vault deposit failed: %v", err), log)
		return
	}

	if err := o.store.MarkVaultComplete(ctx, cur.ID, vaultRes.TxID); err != nil {
		if ctx.Err() == nil {
			log.Warn("mark vault complete", "err", err)
		}
		return
	}
	log.Info("deposit settled", "vaultTx", vaultRes.TxID)
	o.publishCurrent(ctx, cur.ID, log)
}

func (o *Orchestrator) fail(ctx context.Context, id, reason string, log *slog.Logger) {
	if err := o.store.MarkFailed(ctx, id, reason); err != nil {
		// An evicted record is not an error: the sweeper got there first.
		if errors.Is(err, deposit.ErrNotFound) || ctx.Err() != nil {
			return
		}
		log.Error("mark failed", "reason", reason, "err", err)
		return
	}
	log.Warn("deposit failed", "reason", reason)
	o.publishCurrent(ctx, id, log)
}

func (o *Orchestrator) publishCurrent(ctx context.Context, id string, log *slog.Logger) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("load record for event", "err", err)
		}
		return
	}
	o.publish(ctx, rec)
}

// publish emits a lifecycle event. Best effort: a broker outage must not stall
// the deposit itself.
func (o *Orchestrator) publish(ctx context.Context, rec deposit.Record) {
	if o.events == nil || o.cfg.Topic == "" {
		return
	}
	payload, err := lifecycleevent.Build(rec, o.cfg.Now()).Encode()
	if err != nil {
		o.log.Error("encode lifecycle event", "depositId", rec.ID, "err", err)
		return
	}
	if err := o.events.Publish(ctx, o.cfg.Topic, payload); err != nil && ctx.Err() == nil {
		o.log.Warn("publish lifecycle event", "depositId", rec.ID, "status", rec.Status.String(), "err", err)
	}
}
