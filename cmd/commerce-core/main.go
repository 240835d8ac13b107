package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/eleganza/commerce-core/internal/catalog"
	"github.com/eleganza/commerce-core/internal/config"
	inventoryapp "github.com/eleganza/commerce-core/internal/inventory/application"
	inventorykafka "github.com/eleganza/commerce-core/internal/inventory/infrastructure/kafka"
	inventorypg "github.com/eleganza/commerce-core/internal/inventory/infrastructure/postgres"
	ledgerpg "github.com/eleganza/commerce-core/internal/ledger/postgres"
	orderapp "github.com/eleganza/commerce-core/internal/order/application"
	orderhttp "github.com/eleganza/commerce-core/internal/order/infrastructure/http"
	orderpg "github.com/eleganza/commerce-core/internal/order/infrastructure/postgres"
	paymentapp "github.com/eleganza/commerce-core/internal/payment/application"
	paymentpg "github.com/eleganza/commerce-core/internal/payment/infrastructure/postgres"
	platformkafka "github.com/eleganza/commerce-core/internal/platform/kafka"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
	"github.com/eleganza/commerce-core/pkg/idempotency"
	"github.com/eleganza/commerce-core/pkg/logging"
	"github.com/eleganza/commerce-core/pkg/outbox"
	"github.com/eleganza/commerce-core/pkg/shutdown"
	"github.com/eleganza/commerce-core/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres
	db, err := platform.Connect(ctx, cfg.PostgresURL, cfg.LockTimeout)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	// Kafka producer and outbox relay
	writer := platformkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()
	outboxStore := platform.NewOutboxStore(log, db)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, cfg.ServiceName+"-relay")

	// Redis idempotency for the consumer
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	// Stores and services
	catalogStore := catalog.NewStore(db)
	ledgerStore := ledgerpg.NewStore(log, db)

	inventoryRepo := inventorypg.NewRepository(log, db)
	inventorySvc := inventoryapp.NewService(log, inventoryRepo, cfg.LowStockThreshold, cfg.BulkBatchSize)

	paymentRepo := paymentpg.NewRepository(log, db)
	paymentSvc := paymentapp.NewService(log, paymentRepo, ledgerStore)

	orderRepo := orderpg.NewRepository(log, db)
	orderSvc := orderapp.NewService(log, orderRepo, catalogStore, paymentSvc, cfg.DefaultCurrency)

	handler := orderhttp.NewHandler(log, orderSvc, paymentSvc, inventorySvc, ledgerStore, catalogStore)

	consumer := inventorykafka.NewConsumer(log, cfg.KafkaBrokers, cfg.OutboxTopic,
		cfg.ServiceName+"-notifications", inventorykafka.LogNotifier{Log: log}, idem)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("consumer stopped with error", "err", err)
		}
	}()
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
	log.Info("shutdown complete", "service", cfg.ServiceName)
}
