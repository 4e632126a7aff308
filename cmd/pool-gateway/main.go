package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolshare-fi/pool-gateway/internal/archive"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
	depositpg "github.com/poolshare-fi/pool-gateway/internal/deposit/postgres"
	"github.com/poolshare-fi/pool-gateway/internal/gatewayclient"
	"github.com/poolshare-fi/pool-gateway/internal/lifecycle"
	"github.com/poolshare-fi/pool-gateway/internal/pool"
	poolpg "github.com/poolshare-fi/pool-gateway/internal/pool/postgres"
	"github.com/poolshare-fi/pool-gateway/internal/poolapi"
	"github.com/poolshare-fi/pool-gateway/internal/queue"
	"github.com/poolshare-fi/pool-gateway/internal/retention"
	"github.com/poolshare-fi/pool-gateway/internal/vaultclient"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN; empty runs with in-memory stores")

		sourceChains     = flag.String("source-chains", "ethereum,polygon", "accepted source chains (comma-separated)")
		destinationChain = flag.String("destination-chain", "base", "destination chain deposits settle on")
		settleDelay      = flag.Duration("settle-delay", 2*time.Second, "wait for source chain confirmation before bridging")
		estimatedSecs    = flag.Int64("estimated-seconds", 0, "advertised settlement estimate; 0 derives it from configured latencies")

		gatewayDriver     = flag.String("gateway-driver", gatewayclient.DriverSim, "bridge gateway driver (http|sim)")
		gatewayURL        = flag.String("gateway-url", "", "bridge gateway base URL (http driver)")
		gatewayAuthToken  = flag.String("gateway-auth-token", "", "bearer token for the bridge gateway (http driver)")
		gatewayLatency    = flag.Duration("gateway-sim-latency", 3*time.Second, "simulated bridge transfer latency")
		gatewaySimFailure = flag.String("gateway-sim-failure", "", "inject a bridge failure with this reason (sim driver)")

		vaultDriver     = flag.String("vault-driver", vaultclient.DriverSim, "vault driver (http|sim)")
		vaultURL        = flag.String("vault-url", "", "vault base URL (http driver)")
		vaultAuthToken  = flag.String("vault-auth-token", "", "bearer token for the vault (http driver)")
		vaultLatency    = flag.Duration("vault-sim-latency", 2*time.Second, "simulated vault deposit latency")
		vaultSimFailure = flag.String("vault-sim-failure", "", "inject a vault failure with this reason (sim driver)")

		retentionMaxAge = flag.Duration("retention-max-age", time.Hour, "retention window for deposit records")
		sweepInterval   = flag.Duration("sweep-interval", 5*time.Minute, "interval between retention sweeps")
		sweepBatchLimit = flag.Int("sweep-batch-limit", 1000, "maximum evictions per sweep; 0 is unlimited")

		queueDriver    = flag.String("queue-driver", queue.DriverKafka, "lifecycle event driver (kafka|stdio)")
		queueBrokers   = flag.String("queue-brokers", "", "kafka brokers (comma-separated); empty disables lifecycle events")
		lifecycleTopic = flag.String("lifecycle-topic", "deposits.lifecycle.v1", "queue topic for lifecycle events")

		archiveDriver = flag.String("archive-driver", archive.DriverMemory, "eviction archive driver (s3|memory)")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for eviction snapshots (s3 driver)")
		archivePrefix = flag.String("archive-prefix", "deposits", "key prefix for eviction snapshots")

		poolSeedFile = flag.String("pool-seed-file", "", "JSON file with pool documents to publish at startup")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if len(queue.SplitCommaList(*sourceChains)) == 0 {
		fmt.Fprintln(os.Stderr, "error: --source-chains must name at least one chain")
		os.Exit(2)
	}
	if strings.TrimSpace(*destinationChain) == "" {
		fmt.Fprintln(os.Stderr, "error: --destination-chain must be non-empty")
		os.Exit(2)
	}
	if *settleDelay < 0 {
		fmt.Fprintln(os.Stderr, "error: --settle-delay must be >= 0")
		os.Exit(2)
	}
	if *retentionMaxAge <= 0 || *sweepInterval <= 0 || *sweepBatchLimit < 0 {
		fmt.Fprintln(os.Stderr, "error: retention settings must be positive (batch limit >= 0)")
		os.Exit(2)
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		depositStore deposit.Store
		poolStore    pool.Store
	)
	if strings.TrimSpace(*postgresDSN) != "" {
		db, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer db.Close()

		ds, err := depositpg.New(db)
		if err != nil {
			log.Error("init deposit store", "err", err)
			os.Exit(2)
		}
		if err := ds.EnsureSchema(ctx); err != nil {
			log.Error("ensure deposit schema", "err", err)
			os.Exit(2)
		}
		depositStore = ds

		ps := poolpg.New(db)
		if err := ps.EnsureSchema(ctx); err != nil {
			log.Error("ensure pool schema", "err", err)
			os.Exit(2)
		}
		poolStore = ps
	} else {
		log.Warn("running with in-memory stores; records will not survive restart")
		depositStore = deposit.NewMemoryStore()
		poolStore = pool.NewMemoryStore()
	}

	if strings.TrimSpace(*poolSeedFile) != "" {
		n, err := pool.SeedFromFile(ctx, poolStore, *poolSeedFile)
		if err != nil {
			log.Error("seed pools", "err", err)
			os.Exit(2)
		}
		log.Info("seeded pool catalog", "count", n)
	}

	archiveCfg := archive.Config{
		Driver: *archiveDriver,
		Prefix: *archivePrefix,
		Bucket: *archiveBucket,
	}
	if strings.TrimSpace(strings.ToLower(*archiveDriver)) == archive.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("load aws config", "err", err)
			os.Exit(2)
		}
		archiveCfg.S3Client = s3.NewFromConfig(awsCfg)
	}
	archiveStore, err := archive.New(archiveCfg)
	if err != nil {
		log.Error("init archive", "err", err)
		os.Exit(2)
	}

	var events queue.Producer
	if strings.TrimSpace(*queueBrokers) != "" || strings.TrimSpace(strings.ToLower(*queueDriver)) == queue.DriverStdio {
		events, err = queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer events.Close()
		log.Info("lifecycle events enabled", "driver", *queueDriver, "topic", *lifecycleTopic)
	} else {
		log.Warn("lifecycle events disabled; no queue brokers configured")
	}

	gateway, err := gatewayclient.New(gatewayclient.Config{
		Driver:     *gatewayDriver,
		BaseURL:    *gatewayURL,
		AuthToken:  *gatewayAuthToken,
		SimLatency: *gatewayLatency,
		SimFailure: *gatewaySimFailure,
	})
	if err != nil {
		log.Error("init gateway client", "err", err)
		os.Exit(2)
	}
	vault, err := vaultclient.New(vaultclient.Config{
		Driver:     *vaultDriver,
		BaseURL:    *vaultURL,
		AuthToken:  *vaultAuthToken,
		SimLatency: *vaultLatency,
		SimFailure: *vaultSimFailure,
	})
	if err != nil {
		log.Error("init vault client", "err", err)
		os.Exit(2)
	}

	orch := lifecycle.New(depositStore, gateway, vault, events, lifecycle.Config{
		SettleDelay: *settleDelay,
		Topic:       *lifecycleTopic,
	}, log)
	defer orch.Close()

	sweeper, err := retention.New(depositStore, orch, archiveStore, retention.Config{
		Interval:   *sweepInterval,
		MaxAge:     *retentionMaxAge,
		BatchLimit: *sweepBatchLimit,
	}, log)
	if err != nil {
		log.Error("init retention sweeper", "err", err)
		os.Exit(2)
	}
	go sweeper.Run(ctx)

	estimated := *estimatedSecs
	if estimated <= 0 {
		total := *settleDelay + *gatewayLatency + *vaultLatency
		estimated = int64((total + time.Second - 1) / time.Second)
		if estimated <= 0 {
			estimated = 1
		}
	}

	handler, err := poolapi.NewHandler(poolapi.Config{
		SourceChains:            queue.SplitCommaList(*sourceChains),
		DestinationChain:        strings.ToLower(strings.TrimSpace(*destinationChain)),
		EstimatedSeconds:        estimated,
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
	}, depositStore, poolStore, orch, archiveStore)
	if err != nil {
		log.Error("init pool api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("pool-gateway listening", "addr", *listenAddr, "destinationChain", *destinationChain, "retentionMaxAge", retentionMaxAge.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
