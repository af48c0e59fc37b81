package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-product-orders/internal/config"
	"github.com/ariefcatur/go-product-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-product-orders/internal/kafka"
	"github.com/ariefcatur/go-product-orders/internal/logging"
	"github.com/ariefcatur/go-product-orders/internal/orders"
	"github.com/ariefcatur/go-product-orders/internal/postgres"
	"github.com/ariefcatur/go-product-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one writer for every order topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}
	svc, err := orders.NewService(orders.ServiceDeps{
		Products:    repo,
		Orders:      repo,
		Cache:       &redisx.OrderCache{RDB: rdb},
		Idempotency: &redisx.IdempotencyStore{RDB: rdb},
		Events: &kafkax.EventPublisher{
			Producer: prod,
			Service:  cfg.ServiceName,
			TraceID:  middleware.GetReqID,
		},
		PageLimit: cfg.PageLimit,
		CacheTTL:  cfg.OrderCacheTTL,
	})
	if err != nil {
		logger.Fatal("orders service", zap.Error(err))
	}
	catalog := &orders.Catalog{Products: repo}

	auth := httpx.Authenticator([]byte(cfg.JWTSecret))
	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{Service: svc, Auth: auth}).Register(router)
	(&httpx.ProductsHandler{Catalog: catalog, Auth: auth}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush the inbox
	prod.WaitClosed() // writer closed
	cancel()
}
