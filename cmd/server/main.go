// Command server receives live-status webhooks from streaming providers,
// keeps the live-status store current and notifies subscribers when a
// streamer goes live.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"streamhook/internal/api"
	"streamhook/internal/config"
	"streamhook/internal/database"
	"streamhook/internal/ingestion"
	"streamhook/internal/livestatus"
	"streamhook/internal/notify"
	"streamhook/internal/observability/logging"
	"streamhook/internal/observability/metrics"
	"streamhook/internal/redisconn"
	"streamhook/internal/revalidate"
	"streamhook/internal/server"
	"streamhook/internal/webhook"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	recorder := metrics.Default()

	var redisClient redis.UniversalClient
	if cfg.Redis.Configured() {
		client, err := redisconn.New(ctx, redisOptions(cfg.Redis))
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		logger.Info("redis connected")
	}

	var pool *pgxpool.Pool
	if cfg.Directory.Driver == "postgres" {
		opened, err := database.Open(ctx, databaseOptions(cfg.Postgres))
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := database.Close(closeCtx, opened); err != nil {
				logger.Warn("postgres pool did not close cleanly", "error", err)
			}
		}()
		if err := database.Migrate(ctx, opened); err != nil {
			return err
		}
		pool = opened
		logger.Info("postgres connected", "tables", database.Tables())
	}

	streamers, registry, err := buildCatalog(cfg.Directory, pool)
	if err != nil {
		return err
	}
	store, err := buildStore(cfg.Store, redisClient, logger)
	if err != nil {
		return err
	}
	if cfg.Store.Reconcile {
		report, err := livestatus.NewReconciler(store, streamers, logging.WithComponent(logger, "reconciler")).Run(ctx)
		if err != nil {
			logger.Warn("live status reconciliation failed", "error", err)
		} else {
			logger.Info("live status reconciled", "checked", report.Checked, "initialized", report.Initialized, "failed", report.Failed)
		}
	}

	pushSender, err := buildPushSender(cfg.Notify, logger)
	if err != nil {
		return err
	}
	emailSender, err := buildEmailSender(cfg.Notify, logger)
	if err != nil {
		return err
	}
	fanout, err := notify.New(notify.Config{
		Subscribers: registry,
		Streamers:   streamers,
		Push:        pushSender,
		Email:       emailSender,
		SiteURL:     cfg.Notify.SiteURL,
		DefaultIcon: cfg.Notify.DefaultIcon,
		Concurrency: cfg.Notify.Concurrency,
		Logger:      logging.WithComponent(logger, "notify"),
		Metrics:     recorder,
	})
	if err != nil {
		return err
	}

	processorCfg := ingestion.Config{
		Streamers: streamers,
		Store:     store,
		Notifier:  fanout,
		Logger:    logging.WithComponent(logger, "ingestion"),
		Metrics:   recorder,
	}
	var worker *revalidate.Worker
	if cfg.Revalidate.Enabled() {
		queue, err := buildQueue(ctx, cfg.Revalidate, redisClient, logger)
		if err != nil {
			return err
		}
		worker, err = revalidate.NewWorker(revalidate.WorkerConfig{
			Queue:          queue,
			FrontendURL:    cfg.Revalidate.FrontendURL,
			Secret:         cfg.Revalidate.Secret,
			MaxAttempts:    cfg.Revalidate.MaxAttempts,
			InitialBackoff: cfg.Revalidate.InitialBackoff,
			MaxBackoff:     cfg.Revalidate.MaxBackoff,
			Timeout:        cfg.Revalidate.Timeout,
			Logger:         logging.WithComponent(logger, "revalidate"),
			Metrics:        recorder,
		})
		if err != nil {
			return err
		}
		processorCfg.Revalidation = queue
	}
	processor, err := ingestion.NewProcessor(processorCfg)
	if err != nil {
		return err
	}

	policy := webhook.Policy{Environment: cfg.Mode}
	webhookLogger := logging.WithComponent(logger, "webhook")
	handler := &api.Handler{
		Twitch: webhook.NewTwitch(webhook.TwitchConfig{
			Secret:       cfg.Twitch.WebhookSecret,
			Policy:       policy,
			ReplayWindow: cfg.Twitch.ReplayWindow,
			Logger:       webhookLogger,
			Metrics:      recorder,
		}),
		Kick: webhook.NewKick(webhook.KickConfig{
			Keys: webhook.NewKeyCache(webhook.KeyCacheConfig{
				URL:     cfg.Kick.PublicKeyURL,
				TTL:     cfg.Kick.KeyCacheTTL,
				Timeout: cfg.Kick.FetchTimeout,
				Logger:  webhookLogger,
			}),
			Policy:  policy,
			Logger:  webhookLogger,
			Metrics: recorder,
		}),
		Processor:     processor,
		Store:         store,
		Streamers:     streamers,
		InternalToken: cfg.InternalToken,
		HealthChecks:  healthChecks(redisClient, pool),
		Logger:        logger,
		Metrics:       recorder,
	}
	if cfg.InternalToken == "" {
		logger.Warn("internal live-status API disabled; set STREAMHOOK_INTERNAL_TOKEN to enable it")
	}

	srv, err := server.New(handler, server.Config{
		Addr:            cfg.Addr,
		TLS:             server.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile},
		RateLimit:       rateLimitOptions(cfg.RateLimit, redisClient),
		Logger:          logger,
		Metrics:         recorder,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnShutdown: func(ctx context.Context) {
			if err := processor.Wait(ctx); err != nil {
				logger.Warn("notification fanouts still running at shutdown", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	logger.Info("starting streamhook", "mode", cfg.Mode, "addr", cfg.Addr, "store", cfg.Store.Driver, "directory", cfg.Directory.Driver)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx, nil)
	})
	if worker != nil {
		group.Go(func() error {
			return worker.Run(groupCtx)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
