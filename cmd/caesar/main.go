package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caesar-terminal/caesar/internal/adapter"
	"github.com/caesar-terminal/caesar/internal/adapter/poly"
	"github.com/caesar-terminal/caesar/internal/config"
	"github.com/caesar-terminal/caesar/internal/engine"
)

// redisClientAdapter satisfies adapter.RedisClient with a real *redis.Client.
type redisClientAdapter struct{ c *redis.Client }

func (r redisClientAdapter) HSet(ctx context.Context, key string, values ...any) error {
	return r.c.HSet(ctx, key, values...).Err()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Printf("caesar starting (env=%s)", cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bc := adapter.NewBroadcaster[adapter.PolyEvent](cfg.Stream.EventBufferSize)

	heartbeat := adapter.DefaultWSConfig("")
	heartbeat.HeartbeatInterval = time.Duration(cfg.Stream.HeartbeatInterval) * time.Second
	heartbeat.HeartbeatTimeout = 3 * heartbeat.HeartbeatInterval
	heartbeat.BackoffInitial = time.Duration(cfg.Stream.ReconnectInitial) * time.Millisecond
	heartbeat.BackoffMax = time.Duration(cfg.Stream.ReconnectMax) * time.Millisecond

	connCfg := adapter.ConnectorConfig{
		MarketURL:            cfg.Stream.WSMarketURL,
		UserURL:              cfg.Stream.WSUserURL,
		Heartbeat:            heartbeat,
		PostReconnectCoolOff: cfg.Stream.PostReconnectCoolOff,
	}
	if apiKey := os.Getenv("CAESAR_POLY_API_KEY"); apiKey != "" {
		auth, err := poly.NewUserAuth(apiKey, os.Getenv("CAESAR_POLY_SECRET"), os.Getenv("CAESAR_POLY_PASSPHRASE"))
		if err != nil {
			log.Fatalf("failed to build user-channel auth: %v", err)
		}
		connCfg.Auth = auth
	} else {
		connCfg.UserURL = ""
	}

	conn := adapter.NewConnector(connCfg)

	mgr := poly.NewManager(poly.ManagerConfig{
		Updater:         poly.UpdaterConfig{AutoSyncOnHashMismatch: cfg.Stream.AutoSyncOnHashMismatch},
		Recorder:        poly.RecorderConfig{RootPath: cfg.Stream.RecorderRootPath, QueueCapacity: cfg.Stream.RecorderQueueCap, HashAlgorithm: cfg.Stream.HashAlgorithm},
		RecorderEnabled: cfg.Stream.RecorderEnabled,
	}, bc)

	sub := poly.NewSubscriptionController(conn)
	conn.OnResubscribe(sub.Reassert)

	resyncSource := &restSnapshotSource{marketURL: cfg.Stream.WSMarketURL}
	resync := poly.NewResyncCoordinator(poly.ResyncConfig{}, resyncSource, mgr, bc)
	resync.BindContext(ctx)
	mgr.RequestResync = resync.RequestSync

	cbCfg := adapter.DefaultCircuitBreakerConfig()
	cb := adapter.NewCircuitBreaker(cbCfg, bc.Subscribe())

	gate := engine.NewValidator(cb)
	_ = gate // wired for pre-flight validation by the execution pipeline (out of this binary's scope)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	rw := adapter.NewRedisWriter(redisClientAdapter{rdb}, bc.Subscribe())

	if err := conn.Open(ctx); err != nil {
		log.Fatalf("failed to open connector: %v", err)
	}
	cb.WatchConnection(conn.Market())

	go cb.Run(ctx)
	go rw.Run(ctx)
	go mgr.Run(ctx, conn.Market().Inbound())

	log.Printf("caesar streaming engine running")
	<-ctx.Done()

	log.Println("caesar shutting down")
	conn.Close()
	bc.Publish(adapter.PolyEvent{Kind: adapter.EventSystem, System: adapter.SystemShutdown, Timestamp: time.Now()})
	bc.Close()
}

// restSnapshotSource is a placeholder adapter.SnapshotSource; a production
// deployment points this at Polymarket's CLOB REST API. Left unimplemented
// here since HTTP client wiring is outside this repository's scope — the
// Resync Coordinator itself is fully implemented and testable against
// poly.ReplaySource or a fake in tests.
type restSnapshotSource struct {
	marketURL string
}

func (s *restSnapshotSource) FetchBook(ctx context.Context, asset adapter.AssetId) ([]adapter.PriceLevel, []adapter.PriceLevel, string, *adapter.FixedDecimal, error) {
	return nil, nil, "", nil, fmt.Errorf("restSnapshotSource: not configured for asset %s", asset)
}
