package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-product-orders/internal/config"
	"github.com/ariefcatur/go-product-orders/internal/inventory"
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

	svc := &inventory.Service{
		Incidents:   &inventory.IncidentRepo{DB: db},
		Products:    &orders.Repo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-reconciler",
		Log:         logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicStockInconsistent,
		cfg.ReconcilerWorkers, logger.Named("kafka"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("reconciler started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicStockInconsistent),
			zap.Int("workers", cfg.ReconcilerWorkers),
		)
		if err := cons.Start(ctx, svc.HandleStockInconsistent); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
