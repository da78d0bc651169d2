package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"lucky-wheel/internal/auth"
	"lucky-wheel/internal/cache"
	"lucky-wheel/internal/config"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/events"
	"lucky-wheel/internal/handlers"
	"lucky-wheel/internal/middleware"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	"lucky-wheel/internal/scheduler"
	"lucky-wheel/internal/selector"
	adminsvc "lucky-wheel/internal/services/admin"
	"lucky-wheel/internal/services/fulfillment"
	"lucky-wheel/internal/services/payment"
	"lucky-wheel/internal/services/wheel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Quota counter and pending flags live in Redis when configured so
	// several replicas share them; SQL otherwise.
	var (
		counter        quota.Counter   = store
		pendingBackend pending.Backend = store
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		counter = quota.NewRedisCounter(client, "")
		pendingBackend = pending.NewRedisBackend(client, "")
		logger.Info("using redis for quota and pending state", "addr", opts.Addr)
	}

	var publisher events.Publisher = events.Nop
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close failed", "error", err)
		}
	}()

	var rewards fulfillment.Backend = store
	if cfg.FulfillmentBackendURL != "" {
		rewards = fulfillment.NewHTTPBackend(cfg.FulfillmentBackendURL, cfg.FulfillmentBackendToken)
		logger.Info("delivering rewards to remote backend", "url", cfg.FulfillmentBackendURL)
	}

	jwtMgr := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
	catalogs := cache.NewCatalogCache(cfg.CatalogCacheTTL, store.LoadCatalog)
	if _, err := catalogs.Get(ctx); err != nil {
		logger.Error("catalog load failed", "error", err)
		os.Exit(1)
	}
	ledger := quota.NewDailyLedger(counter, store, cfg.GlobalDailyLimit, cfg.Timezone)
	tracker := pending.NewTracker(pendingBackend, cfg.PendingLeaseTTL)
	envSvc := adminsvc.NewEnvService(cfg.EnvFilePath)

	wheelSvc := wheel.NewService(wheel.Deps{
		Catalogs:   catalogs,
		Ledger:     ledger,
		Tracker:    tracker,
		Selector:   selector.New(selector.CryptoFloat),
		Payments:   payment.NewVerifier(cfg.PaymentSecret, cfg.PaymentIssuer, store),
		Spins:      store,
		Dispatcher: fulfillment.NewDispatcher(rewards, nil, logger),
		Events:     publisher,
		Logger:     logger,
	})

	quotaRunner := scheduler.NewQuotaRunner(store, ledger, cfg.QuotaScheduleTick, logger)
	quotaRunner.Start(ctx)
	defer quotaRunner.Stop()

	if cfg.PendingLeaseTTL > 0 {
		sweeper := scheduler.NewLeaseSweeper(wheelSvc, cfg.LeaseSweepInterval, 100, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	handler := handlers.NewHandler(handlers.Deps{
		Config:   cfg,
		Store:    store,
		Wheel:    wheelSvc,
		Ledger:   ledger,
		Tracker:  tracker,
		Catalogs: catalogs,
		Env:      envSvc,
		JWT:      jwtMgr,
		Logger:   logger,
	})
	handlers.RegisterRoutes(r, handler, jwtMgr, cfg.AdminAllowedIPs)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "dailyLimit", cfg.GlobalDailyLimit, "timezone", cfg.Timezone.String(), "leaseTTL", cfg.PendingLeaseTTL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
