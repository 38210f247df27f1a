package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crosslogic/credit-plane/internal/billing"
	"github.com/crosslogic/credit-plane/internal/config"
	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/internal/gateway"
	"github.com/crosslogic/credit-plane/internal/notifications"
	"github.com/crosslogic/credit-plane/internal/pricing"
	"github.com/crosslogic/credit-plane/internal/store"
	"github.com/crosslogic/credit-plane/internal/verify"
	"github.com/crosslogic/credit-plane/pkg/cache"
	"github.com/crosslogic/credit-plane/pkg/database"
	"github.com/crosslogic/credit-plane/pkg/events"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting credit plane")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	redisCache, err := cache.NewCache(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()
	logger.Info("connected to Redis")

	eventBus := events.NewBus(logger)

	balances := store.NewPostgresBalanceStore(db, logger)

	var reservations credits.ReservationStore
	switch cfg.Credits.ReservationBackend {
	case "redis":
		reservations = store.NewRedisReservationStore(redisCache)
	default:
		reservations = store.NewPostgresReservationStore(db, logger)
	}
	logger.Info("initialized reservation store",
		zap.String("backend", cfg.Credits.ReservationBackend),
	)

	calculator := pricing.NewPostgresCalculator(db, logger, pricing.Rate{})
	queue := verify.NewRedisQueue(redisCache, logger)
	dispatcher := credits.NewDispatcher(queue, eventBus, logger)

	engine := credits.NewEngine(balances, reservations, calculator, dispatcher, eventBus, logger)
	engine.SetMaxUpdateRetries(cfg.Credits.MaxUpdateRetries)
	logger.Info("initialized credit engine")

	var webhookHandler *billing.WebhookHandler
	if cfg.Stripe.WebhookSecret != "" {
		webhookHandler = billing.NewWebhookHandler(cfg.Stripe.WebhookSecret, engine, redisCache, eventBus, logger)
		logger.Info("initialized stripe webhook handler")
	}

	if cfg.Monitoring.SlackWebhookURL != "" && cfg.Monitoring.NotifyOnNegatives {
		notifier := notifications.NewSlackNotifier(cfg.Monitoring.SlackWebhookURL, cfg.Monitoring.SlackChannel, logger)
		notifier.Register(eventBus)
		logger.Info("initialized slack notifier")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := verify.NewConsumer(redisCache, engine, logger, cfg.Credits.VerificationPollInterval)
	consumer.Start(ctx)

	gw := gateway.NewGateway(engine, webhookHandler, cfg.Monitoring.AdminAPIToken, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("credit plane stopped")
}
