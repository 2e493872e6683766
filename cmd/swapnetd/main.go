package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/swapnet-io/swapnet/params"
	"github.com/swapnet-io/swapnet/pkg/api"
	"github.com/swapnet-io/swapnet/pkg/engine"
	"github.com/swapnet-io/swapnet/pkg/events"
	"github.com/swapnet-io/swapnet/pkg/oracle"
	"github.com/swapnet-io/swapnet/pkg/storage"
	"github.com/swapnet-io/swapnet/pkg/util"
	"github.com/swapnet-io/swapnet/pkg/venue"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	clock := util.RealClock{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Oracle ----
	// Devnet: a static oracle seeded from DEVNET_PAIRS, optionally fronted by
	// the shared Redis cache.
	static := oracle.NewStaticOracle(clock)
	seedDevnetPrices(static)

	var priceOracle oracle.Oracle = static
	var previewer engine.Previewer = static
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		cache := oracle.NewRedisCache(static, rdb, cfg.Engine.PriceMaxAge)
		priceOracle = cache
		previewer = cache
		sugar.Infow("price_cache_enabled", "addr", cfg.Redis.Addr)
	}

	// ---- Archive ----
	var store storage.Store
	if cfg.Storage.Path != "" {
		ps, err := storage.NewPebbleStore(cfg.Storage.Path)
		if err != nil {
			sugar.Fatalw("archive_open_failed", "path", cfg.Storage.Path, "err", err)
		}
		defer ps.Close()
		store = ps
	} else {
		store = storage.NewInMemoryStore()
	}

	// ---- Engine ----
	ledger := engine.NewLedger()
	escrow := engine.NewEscrow()
	netting := engine.NewNettingEngine(sugar)

	slippageBps := int64(30)
	simVenue := venue.NewSimVenue(priceOracle, slippageBps, sugar)

	executor := engine.NewExecutor(ledger, escrow, simVenue, sugar)
	executor.Workers = cfg.Engine.SettleWorkers
	executor.VenueTimeout = cfg.Engine.VenueTimeout

	coord := engine.NewCoordinator(
		engine.CoordinatorConfig{
			EpochDuration: cfg.Engine.EpochDuration,
			MaxRequests:   cfg.Engine.MaxRequests,
			PriceMaxAge:   cfg.Engine.PriceMaxAge,
		},
		ledger, escrow, netting, executor,
		oracle.PriceFunc(ctx, priceOracle),
		clock, sugar,
	)
	coord.Archive = store
	coord.Previewer = previewer

	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar)
		defer pub.Close()
		coord.Events = pub
		sugar.Infow("event_stream_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- API ----
	server := api.NewServer(coord, ledger, store)
	coord.Notify = server

	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("engine_started",
		"epoch_duration", cfg.Engine.EpochDuration,
		"price_max_age", cfg.Engine.PriceMaxAge,
		"settle_workers", cfg.Engine.SettleWorkers,
	)

	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		sugar.Errorw("coordinator_stopped", "err", err)
	}
	sugar.Info("shutdown complete")
}

// seedDevnetPrices loads "PAIR=price" entries from DEVNET_PAIRS, e.g.
// DEVNET_PAIRS="ETH-USDC=2000,BTC-USDC=60000". Prices are whole quote units
// per base unit.
func seedDevnetPrices(static *oracle.StaticOracle) {
	raw := os.Getenv("DEVNET_PAIRS")
	if raw == "" {
		raw = "ETH-USDC=2000"
	}
	for _, entry := range splitList(raw) {
		pair, px, ok := parsePairPrice(entry)
		if !ok {
			log.Printf("[devnet] bad DEVNET_PAIRS entry: %q", entry)
			continue
		}
		static.SetPrice(pair, px)
	}
}
