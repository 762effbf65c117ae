package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/flowledger/flowledger/internal/app"
	"github.com/flowledger/flowledger/internal/ledger"
	"github.com/flowledger/flowledger/internal/notify"
	"github.com/flowledger/flowledger/internal/observability"
	"github.com/flowledger/flowledger/internal/platform/cache"
	"github.com/flowledger/flowledger/internal/platform/db"
	"github.com/flowledger/flowledger/internal/platform/kv"
	"github.com/flowledger/flowledger/internal/syncq"
	"github.com/flowledger/flowledger/internal/timeline"
	"github.com/flowledger/flowledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, cleanup, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		logger.Error("init kv store", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	bus, err := notify.NewBus(ctx, store, logger)
	if err != nil {
		logger.Error("restore notifications", slog.Any("error", err))
		os.Exit(1)
	}

	records, err := ledger.NewStore(ctx, store, logger, ledger.WithPersistFailureHandler(func(persistErr error) {
		bus.Create(context.Background(), "storage", "Failed to persist custody records: "+persistErr.Error(), notify.SeverityCritical)
	}))
	if err != nil {
		logger.Error("restore custody records", slog.Any("error", err))
		os.Exit(1)
	}

	endpoint := syncq.NewHTTPEndpoint(cfg.RemoteAPIURL, &http.Client{Timeout: cfg.SyncAttemptTimeout})
	queue, err := syncq.NewQueue(ctx, store, endpoint, logger, syncq.Config{
		MaxRetries:     cfg.SyncMaxRetries,
		AttemptTimeout: cfg.SyncAttemptTimeout,
		BackoffBase:    cfg.SyncBackoffBase,
		BackoffCap:     cfg.SyncBackoffCap,
	}, syncq.StartOnline(cfg.StartOnline))
	if err != nil {
		logger.Error("restore sync queue", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	bus.Subscribe(func(notify.Event) {
		metrics.SetUnreadNotifications(bus.UnreadCount())
	})
	metrics.SetUnreadNotifications(bus.UnreadCount())

	// Surface queue lifecycle as notifications and gauge updates.
	queue.AddListener(func(event syncq.Event) {
		status := queue.Status()
		metrics.SetQueueDepth("pending", status.Pending)
		metrics.SetQueueDepth("failed", status.Failed)
		switch event.Kind {
		case "sync_success":
			metrics.ObserveDelivery("success")
		case "sync_failed":
			metrics.ObserveDelivery("failure")
			if event.Item != nil && event.Item.Status == syncq.StatusFailed {
				bus.Create(context.Background(), "sync",
					fmt.Sprintf("Operation %s failed after %d attempts", event.Item.Operation, event.Item.RetryCount),
					notify.SeverityWarning)
			}
		case "persist_error":
			bus.Create(context.Background(), "sync", "Failed to persist sync queue: "+event.Error, notify.SeverityCritical)
		case "offline":
			bus.Create(context.Background(), "sync", "Connection lost, operations will queue locally", notify.SeverityWarning)
		case "online":
			bus.Create(context.Background(), "sync", "Connection restored, syncing queued operations", notify.SeverityInfo)
		}
	})

	analyticsCache := timeline.NewCache(redisClient, cfg.AnalyticsCacheTTL)
	go analyticsCache.ListenForInvalidation(ctx)
	timelineService := timeline.NewService(records, analyticsCache)

	ledgerService := ledger.NewService(records, queue, bus, logger, ledger.WithInvalidator(timelineService))

	ledgerHandler := ledger.NewHandler(logger, ledgerService)
	timelineHandler := timeline.NewHandler(logger, timelineService)
	syncHandler := syncq.NewHandler(logger, queue)
	notifyHandler := notify.NewHandler(bus)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledgerHandler,
		TimelineHandler: timelineHandler,
		SyncHandler:     syncHandler,
		NotifyHandler:   notifyHandler,
		JobsHandler:     jobsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// buildStore selects the persistence backend from configuration.
func buildStore(ctx context.Context, cfg *app.Config, redisClient *redis.Client) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case "postgres":
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := kv.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "memory":
		return kv.NewMemoryStore(), func() {}, nil
	default:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis backend selected but redis is unavailable")
		}
		return kv.NewRedisStore(redisClient), func() {}, nil
	}
}
