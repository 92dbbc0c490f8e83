package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/api"
	"github.com/t77yq/market-watch/internal/config"
	"github.com/t77yq/market-watch/internal/logger"
	"github.com/t77yq/market-watch/internal/market"
	"github.com/t77yq/market-watch/internal/monitor"
	"github.com/t77yq/market-watch/internal/notify"
	"github.com/t77yq/market-watch/internal/portfolio"
	"github.com/t77yq/market-watch/internal/scheduler"
	"github.com/t77yq/market-watch/internal/service"
	"github.com/t77yq/market-watch/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	configPath := os.Getenv("MARKETWATCH_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Storage
	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer storage.Close(db)

	alertStore, err := storage.NewGormStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to create alert store", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, preferences fall back to defaults", zap.Error(err))
	}
	pingCancel()
	prefStore := storage.NewRedisPreferenceStore(redisClient, logger)

	// NATS
	nc, err := connectNATS(cfg.App.Name, cfg.NATS, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	events, err := service.NewEventPublisher(js, logger)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}

	// Notifications
	pushHost, err := notify.NewNATSPushHost(nc, js, cfg.Notify.PermissionTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create push host", zap.Error(err))
	}
	dispatcherOpts := []notify.DispatcherOption{
		notify.WithAmbient(notify.NewToastChannel(nc, logger)),
		notify.WithProminent(notify.NewPromptChannel(pushHost, logger)),
	}
	if cfg.Notify.Email.Enabled {
		dispatcherOpts = append(dispatcherOpts, notify.WithEmail(notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.Notify.Email.Host,
			Port:     cfg.Notify.Email.Port,
			Username: cfg.Notify.Email.Username,
			Password: cfg.Notify.Email.Password,
			From:     cfg.Notify.Email.From,
		}, logger)))
	}
	dispatcher := notify.NewDispatcher(prefStore, logger, dispatcherOpts...)

	// Market data
	marketClient := market.NewClient(market.ClientConfig{
		BaseURL:    cfg.Market.BaseURL,
		APIKey:     cfg.Market.APIKey,
		APIKeyName: cfg.Market.APIKeyHeader,
		VsCurrency: cfg.Market.VsCurrency,
		Timeout:    cfg.Market.FetchTimeout,
	}, logger)
	provider := market.NewProvider(marketClient, cfg.Market.FetchTimeout, logger)

	deps := monitor.Dependencies{
		Store:     alertStore,
		Provider:  provider,
		Notifier:  dispatcher,
		Publisher: events,
		OnTick: func(r *monitor.TickResult) {
			if r.Err != nil || r.Fired() > 0 || r.Failed() > 0 {
				logger.Info("Tick finished",
					zap.String("owner_id", r.OwnerID),
					zap.Int("evaluated", r.Evaluated),
					zap.Int("fired", r.Fired()),
					zap.Int("failed", r.Failed()),
					zap.Duration("duration", r.FinishedAt.Sub(r.StartedAt)),
					zap.Error(r.Err))
			}
		},
	}
	if cfg.Portfolio.BaseURL != "" {
		deps.Valuer = portfolio.NewClient(cfg.Portfolio.BaseURL, cfg.Portfolio.Timeout, logger)
	}

	engine := monitor.NewEngine(monitor.Config{
		Interval:        cfg.Engine.Interval,
		Concurrency:     cfg.Engine.Concurrency,
		PersistAttempts: cfg.Engine.PersistAttempts,
		Retry:           scheduler.DefaultBackoff(),
		DeepLinkBase:    cfg.Engine.DeepLinkBase,
	}, deps, logger)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scope := monitor.StoreOwners{Store: alertStore}
	if err := engine.Start(ctx, scope); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	statsPublisher := monitor.NewStatsPublisher(alertStore, events, scope, cfg.Engine.StatsInterval, logger)
	statsPublisher.Start(ctx)

	handlers := api.NewHandlers(alertStore, prefStore, logger)
	server := api.NewServer(cfg.HTTP.Addr, api.NewRouter(handlers, logger), logger)
	server.Start()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	statsPublisher.Stop()
	engine.Stop()

	logger.Info("Server shut down gracefully")
}

func connectNATS(name string, cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	err := scheduler.Retry(context.Background(), scheduler.DefaultBackoff(), 5, func(attempt int) error {
		var err error
		nc, err = nats.Connect(strings.Join(cfg.URLs, ","), opts...)
		if err != nil {
			logger.Warn("Failed to connect to NATS, retrying...",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
