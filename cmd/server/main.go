package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/card"
	"storefront/internal/checkout"
	"storefront/internal/ledger"
	"storefront/internal/redisclient"
	"storefront/internal/securestore"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const relayQueueSize = 1024

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	// Postgres holds the catalog, the transaction log and processed
	// catalog commands. Without it only the static catalog can run.
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		if cfg.Catalog.Source == config.CatalogSourcePostgres {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		logger.Warn("Database unavailable, transaction log disabled", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Database connected")
	}

	var catalog service.ProductCatalog = service.NewStaticCatalog(service.SampleProducts())
	var catalogWriter service.CatalogWriter
	if cfg.Catalog.Source == config.CatalogSourcePostgres {
		seeded, err := service.SeedCatalog(ctx, db, db)
		if err != nil {
			logger.Fatal("Failed to seed catalog", zap.Error(err))
		}
		if seeded > 0 {
			logger.Info("Catalog seeded", zap.Int("products", seeded))
		}
		catalog = db
		catalogWriter = db
	}

	products, err := catalog.Products(ctx)
	if err != nil {
		logger.Fatal("Failed to load catalog", zap.Error(err))
	}
	inventory, err := ledger.New(products)
	if err != nil {
		logger.Fatal("Failed to build inventory ledger", zap.Error(err))
	}
	cartService := service.NewCartService(inventory, catalogWriter)
	logger.Info("Inventory ledger ready", zap.Int("products", len(products)))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.SecureStore.Backend == config.SecureStoreRedis {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Warn("Redis unavailable, stock mirror disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	var secure checkout.SecureStore = securestore.NewMemoryStore()
	if cfg.SecureStore.Backend == config.SecureStoreRedis {
		sealer, err := newSealer(cfg.SecureStore.KeyHex, logger)
		if err != nil {
			logger.Fatal("Failed to initialize secure store", zap.Error(err))
		}
		secure = securestore.NewRedisStore(redisClient, sealer, cfg.SecureStore.Name)
	}

	validator := card.NewValidator(
		card.WithCVVLength(card.FixedCVVLength(cfg.Checkout.CVVLength)),
		card.WithExpiryWindow(cfg.Checkout.ExpiryWindowYears),
	)
	paymentService := service.NewPaymentService(
		time.Duration(cfg.Checkout.GatewayDelayMillis)*time.Millisecond,
		cfg.Checkout.GatewaySuccessRate,
	)
	orchestrator := checkout.NewOrchestrator(inventory, validator, paymentService, secure,
		checkout.WithTimeout(time.Duration(cfg.Checkout.PaymentTimeoutSeconds)*time.Second),
		checkout.WithLogger(logger),
	)

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	relayOpts := []worker.RelayOption{worker.WithEventSink(broker.NewEventPublisher(producer))}
	if redisClient != nil {
		mirror := service.NewStockMirror(redisClient)
		if err := mirror.SyncAll(ctx, cartService.Snapshot()); err != nil {
			logger.Error("Failed to sync stock mirror", zap.Error(err))
		}
		relayOpts = append(relayOpts, worker.WithStockSink(mirror))
	}
	if db != nil {
		relayOpts = append(relayOpts, worker.WithTransactionSink(service.NewTransactionLog(db)))
	}
	relay := worker.NewRelayWorker(relayQueueSize, relayOpts...)
	inventory.Subscribe(relay.OnLedgerChange)
	orchestrator.Subscribe(relay.OnCheckoutStatus)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(workerCtx)
	}()

	var catalogWorker *worker.CatalogWorker
	if cfg.Kafka.CatalogCommands {
		var events worker.EventStore
		if db != nil {
			events = db
		}
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCatalog, cfg.Kafka.ConsumerGroup)
		catalogWorker = worker.NewCatalogWorker(consumer, cartService, events)
		go func() {
			if err := catalogWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Catalog worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, orchestrator, validator)
	if db != nil {
		handler.AddReadinessCheck("postgres", db)
		handler.SetTransactionReader(db)
	}
	if catalogWriter != nil {
		handler.SetCatalogReader(db)
	}
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
		handler.SetStockMirror(redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if catalogWorker != nil {
		if err := catalogWorker.Stop(); err != nil {
			logger.Error("Error stopping catalog worker", zap.Error(err))
		}
	}
	<-relayDone

	logger.Info("Server exited")
}

// newSealer uses the configured key, or a per-process key that makes saved
// payments unreadable after a restart
func newSealer(keyHex string, logger *zap.Logger) (*securestore.Sealer, error) {
	if keyHex != "" {
		return securestore.NewSealer(keyHex)
	}
	logger.Warn("SECURE_STORE_KEY not set, using an ephemeral key")
	return securestore.NewRandomSealer()
}
