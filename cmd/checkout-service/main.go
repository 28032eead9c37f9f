package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	cartapp "github.com/storefront/checkout-service/internal/cart/application"
	carthttp "github.com/storefront/checkout-service/internal/cart/infrastructure/http"
	cartpg "github.com/storefront/checkout-service/internal/cart/infrastructure/postgres"
	catalogpg "github.com/storefront/checkout-service/internal/catalog/infrastructure/postgres"
	"github.com/storefront/checkout-service/internal/config"
	invapp "github.com/storefront/checkout-service/internal/inventory/application"
	invpg "github.com/storefront/checkout-service/internal/inventory/infrastructure/postgres"
	orderapp "github.com/storefront/checkout-service/internal/order/application"
	orderhttp "github.com/storefront/checkout-service/internal/order/infrastructure/http"
	orderkafka "github.com/storefront/checkout-service/internal/order/infrastructure/kafka"
	orderpg "github.com/storefront/checkout-service/internal/order/infrastructure/postgres"
	"github.com/storefront/checkout-service/internal/store"
	"github.com/storefront/checkout-service/pkg/cache"
	"github.com/storefront/checkout-service/pkg/idempotency"
	"github.com/storefront/checkout-service/pkg/logging"
	"github.com/storefront/checkout-service/pkg/metrics"
	"github.com/storefront/checkout-service/pkg/outbox"
	"github.com/storefront/checkout-service/pkg/shutdown"
	"github.com/storefront/checkout-service/pkg/tracing"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.Load()

	tp, err := tracing.Init(ctx, "checkout-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)

	// Cache backend is picked once at startup; correctness never depends on it.
	var c cache.Cache
	switch cfg.CacheBackend {
	case "memory":
		mem := cache.NewMemory()
		defer mem.Close()
		c = mem
	default:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		c = cache.NewRedis(rdb)
	}

	guard := idempotency.NewGuard(idempotency.NewPostgresRecords(st), func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	})

	variants := catalogpg.NewRepository(st)
	stocks := invpg.NewRepository(st)
	ledger := invapp.NewLedger(stocks)
	carts := cartpg.NewRepository(st)
	orders := orderpg.NewRepository(log, st)
	outboxStore := orderpg.NewOutboxStore(log, st)

	cartSvc := cartapp.NewService(log, st, carts, variants, ledger, guard, c, cfg.CacheTTL)
	orderSvc := orderapp.NewService(log, st, orders, carts, variants, ledger, outboxStore, guard, c, cfg.CacheTTL)

	// Outbox relay ships order events to kafka.
	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "checkout-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	m := metrics.New("checkout")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Handle("/metrics", metrics.Handler())
	carthttp.NewHandler(log, cartSvc).Register(r)
	orderhttp.NewHandler(log, orderSvc, m).Register(r)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("checkout-service shutdown complete")
}
