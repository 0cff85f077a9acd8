package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openspot/openspot/params"
	"github.com/openspot/openspot/pkg/api"
	"github.com/openspot/openspot/pkg/core"
	"github.com/openspot/openspot/pkg/events"
	"github.com/openspot/openspot/pkg/storage/memory"
	"github.com/openspot/openspot/pkg/storage/postgres"
	"github.com/openspot/openspot/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Store: PostgreSQL, or in-memory dev mode ----
	var store core.Store
	if cfg.DB.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.DB.URL)
		if err != nil {
			sugar.Fatalw("db_connect_failed", "err", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			sugar.Fatalw("db_schema_failed", "err", err)
		}
		store = postgres.NewStore(pool, sugar, postgres.WithLockTimeout(cfg.DB.LockTimeout))
		sugar.Infow("store_ready", "backend", "postgres")
	} else {
		store = memory.NewStore()
		sugar.Warnw("store_ready", "backend", "memory", "note", "dev mode, state is not persisted")
	}

	// ---- Events: durable outbox, optional Kafka broadcaster ----
	outbox, err := events.OpenOutbox(cfg.Events.OutboxPath, sugar)
	if err != nil {
		sugar.Fatalw("outbox_open_failed", "err", err)
	}
	defer outbox.Close()

	if len(cfg.Events.Brokers) > 0 {
		broadcaster := events.NewBroadcaster(outbox, cfg.Events.Brokers, cfg.Events.Topic, sugar)
		broadcaster.Start(ctx)
		defer broadcaster.Close()
	} else {
		sugar.Info("kafka disabled, events retained in outbox")
	}

	// ---- Core ----
	clock := util.RealClock{}
	engine := core.NewEngine(clock, sugar)

	// ---- API ----
	// Sinks fan out after commit: durable outbox first, then WebSocket
	// subscribers and the orderbook cache invalidator.
	hub := api.NewHub(sugar)
	cache := api.NewBookCache(cfg.Market.OrderbookTTL, clock)
	sinks := core.MultiSink{outbox, hub, cache}
	svc := core.NewService(store, engine, sinks, cfg.Market.Symbols, clock, sugar)
	server := api.NewServer(svc, hub, cache, sugar)

	sugar.Infow("spotd_starting", "addr", cfg.HTTP.Addr, "symbols", cfg.Market.Symbols)
	if err := server.Start(ctx, cfg.HTTP.Addr); err != nil {
		sugar.Fatalw("server_failed", "err", err)
	}
	sugar.Info("spotd stopped")
}
