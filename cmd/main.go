package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/cache"
	"github.com/fjod/go_cart/inventory-service/internal/config"
	"github.com/fjod/go_cart/inventory-service/internal/health"
	inventoryhttp "github.com/fjod/go_cart/inventory-service/internal/http"
	"github.com/fjod/go_cart/inventory-service/internal/logger"
	"github.com/fjod/go_cart/inventory-service/internal/metrics"
	"github.com/fjod/go_cart/inventory-service/internal/publisher"
	"github.com/fjod/go_cart/inventory-service/internal/receiving"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/reservation"
	"github.com/fjod/go_cart/inventory-service/internal/store"
	"github.com/fjod/go_cart/inventory-service/internal/sweeper"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()

	appLogger, err := logger.New(logger.Config{
		IsDevelopment:     cfg.IsDevelopment(),
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("inventory service stopped with error", zap.Error(err))
	}
	appLogger.Info("Inventory service stopped")
}

func run(cfg *config.Config, appLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB holds products, orders and purchase orders
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
	appLogger.Info("Connected to MongoDB", zap.String("db_name", cfg.Mongo.DBName))

	mongoStore := store.NewMongoStore(mongoDB)
	orders := repository.NewMongoOrderRepository(mongoDB)
	purchaseOrders := repository.NewMongoPurchaseOrderRepository(mongoDB)
	if err := mongoStore.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create product indexes: %w", err)
	}
	if err := orders.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	var stock store.StockStore = mongoStore
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		stock = cache.NewCachedStore(mongoStore, cache.NewRedisCache(redisClient, cfg.Redis.TTL), appLogger)
		appLogger.Info("Redis stock cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	auditLog, closeAudit, err := openAuditLog(cfg.Audit, appLogger)
	if err != nil {
		return err
	}
	defer closeAudit()

	var pub publisher.Publisher = publisher.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger)
		appLogger.Info("Kafka publisher enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() { _ = pub.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := reservation.NewEngine(stock, auditLog, appLogger,
		reservation.WithWindow(cfg.Reservation.Window),
		reservation.WithPublisher(pub),
		reservation.WithMetrics(m),
		reservation.WithOrders(orders))
	receiver := receiving.NewService(stock, auditLog, pub, m, appLogger,
		receiving.WithPurchaseOrders(purchaseOrders))

	handler := inventoryhttp.NewHandler(inventoryhttp.Deps{
		Reservations:   engine,
		Receiver:       receiver,
		Orders:         orders,
		PurchaseOrders: purchaseOrders,
		Stock:          stock,
		Audit:          auditLog,
		Logger:         appLogger,
		Timeout:        cfg.Server.RequestTimeout,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      inventoryhttp.NewRouter(handler, appLogger, reg, cfg.Server.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	healthServer := health.NewServer(appLogger)
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCHealthPort)
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return healthServer.Serve(lis)
	})

	if cfg.Reservation.SweeperEnabled {
		sw := sweeper.New(orders, engine, m, appLogger, sweeper.Config{
			Interval:  cfg.Reservation.SweeperInterval,
			BatchSize: cfg.Reservation.SweeperBatch,
		})
		g.Go(func() error {
			return sw.Run(gctx)
		})
	}

	healthServer.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down inventory service...")
		healthServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		healthServer.Stop()
		return err
	})

	return g.Wait()
}

// openAuditLog selects the ledger backend. The memory driver is meant for local runs only.
func openAuditLog(cfg config.AuditConfig, appLogger *zap.Logger) (audit.Log, func(), error) {
	if cfg.Driver == "memory" {
		appLogger.Warn("Audit ledger is in-memory; entries are lost on restart")
		return audit.NewMemoryLog(), func() {}, nil
	}

	if cfg.Driver == audit.DriverSQLite && !strings.HasPrefix(cfg.DSN, ":memory:") && !strings.HasPrefix(cfg.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	sqlLog, err := audit.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	if err := sqlLog.RunMigrations(cfg.MigrationsPath); err != nil {
		_ = sqlLog.Close()
		return nil, nil, fmt.Errorf("migrate audit log: %w", err)
	}
	appLogger.Info("Audit ledger ready", zap.String("driver", cfg.Driver))

	return sqlLog, func() { _ = sqlLog.Close() }, nil
}
