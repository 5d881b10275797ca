package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"streamhook/internal/api"
	"streamhook/internal/config"
	"streamhook/internal/database"
	"streamhook/internal/directory"
	"streamhook/internal/email"
	"streamhook/internal/livestatus"
	"streamhook/internal/notify"
	"streamhook/internal/observability/logging"
	"streamhook/internal/push"
	"streamhook/internal/redisconn"
	"streamhook/internal/revalidate"
	"streamhook/internal/server"
	"streamhook/internal/subscriptions"
)

func redisOptions(cfg config.RedisConfig) redisconn.Config {
	return redisconn.Config{
		Addr:        cfg.Addr,
		Addrs:       cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		MasterName:  cfg.MasterName,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		TLS: redisconn.TLSConfig{
			CAFile:             cfg.TLSCAFile,
			CertFile:           cfg.TLSCertFile,
			KeyFile:            cfg.TLSKeyFile,
			ServerName:         cfg.TLSServerName,
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}
}

func databaseOptions(cfg config.PostgresConfig) database.Config {
	return database.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdle,
		HealthCheck:     cfg.HealthCheck,
		AcquireTimeout:  cfg.AcquireTimeout,
		ApplicationName: cfg.ApplicationName,
	}
}

func rateLimitOptions(cfg config.RateLimitConfig, client redis.UniversalClient) server.RateLimitConfig {
	return server.RateLimitConfig{
		GlobalRPS:     cfg.GlobalRPS,
		GlobalBurst:   cfg.GlobalBurst,
		WebhookLimit:  cfg.WebhookLimit,
		WebhookWindow: cfg.WebhookWindow,
		Redis:         client,
	}
}

// buildCatalog returns the streamer directory and the subscription registry,
// which always share a backend.
func buildCatalog(cfg config.DirectoryConfig, pool *pgxpool.Pool) (directory.Directory, subscriptions.Registry, error) {
	switch cfg.Driver {
	case "postgres":
		if pool == nil {
			return nil, nil, fmt.Errorf("postgres directory requires a connection pool")
		}
		streamers, err := directory.NewPostgresDirectory(pool)
		if err != nil {
			return nil, nil, err
		}
		registry, err := subscriptions.NewPostgresRegistry(pool)
		if err != nil {
			return nil, nil, err
		}
		return streamers, registry, nil
	case "memory", "":
		streamers := directory.NewMemoryDirectory()
		if cfg.SeedPath != "" {
			seeded, err := directory.LoadSeed(cfg.SeedPath)
			if err != nil {
				return nil, nil, err
			}
			streamers = seeded
		}
		registry := subscriptions.NewMemoryRegistry()
		if cfg.SubscriptionSeedPath != "" {
			seeded, err := subscriptions.LoadSeed(cfg.SubscriptionSeedPath)
			if err != nil {
				return nil, nil, err
			}
			registry = seeded
		}
		return streamers, registry, nil
	default:
		return nil, nil, fmt.Errorf("unsupported directory driver %q", cfg.Driver)
	}
}

func buildStore(cfg config.StoreConfig, client redis.UniversalClient, logger *slog.Logger) (livestatus.Store, error) {
	switch cfg.Driver {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis store requires a redis connection")
		}
		return livestatus.NewRedisStore(livestatus.RedisStoreConfig{
			Client:          client,
			TTL:             cfg.TTL,
			ReadConcurrency: cfg.ReadConcurrency,
			Logger:          logging.WithComponent(logger, "livestatus"),
		})
	case "memory", "":
		return livestatus.NewMemoryStore(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func buildPushSender(cfg config.NotifyConfig, logger *slog.Logger) (notify.PushSender, error) {
	pushLogger := logging.WithComponent(logger, "push")
	switch cfg.PushDriver {
	case "webpush":
		return push.NewWebPushSender(push.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
			TTL:        time.Duration(cfg.PushTTL) * time.Second,
			Logger:     pushLogger,
		})
	case "log", "":
		return push.NewLogSender(pushLogger), nil
	default:
		return nil, fmt.Errorf("unsupported push driver %q", cfg.PushDriver)
	}
}

func buildEmailSender(cfg config.NotifyConfig, logger *slog.Logger) (notify.EmailSender, error) {
	switch cfg.EmailDriver {
	case "mailgun":
		return email.NewMailgunSender(email.MailgunConfig{
			Domain:  cfg.MailgunDomain,
			APIKey:  cfg.MailgunAPIKey,
			Sender:  cfg.MailgunSender,
			APIBase: cfg.MailgunAPIBase,
		})
	case "log", "":
		return email.NewLogSender(logging.WithComponent(logger, "email")), nil
	default:
		return nil, fmt.Errorf("unsupported email driver %q", cfg.EmailDriver)
	}
}

func buildQueue(ctx context.Context, cfg config.RevalidateConfig, client redis.UniversalClient, logger *slog.Logger) (revalidate.Queue, error) {
	switch cfg.QueueDriver {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis revalidation queue requires a redis connection")
		}
		return revalidate.NewRedisQueue(ctx, revalidate.RedisQueueConfig{
			Client: client,
			Stream: cfg.Stream,
			Group:  cfg.Group,
			Buffer: cfg.Buffer,
			Logger: logging.WithComponent(logger, "revalidate"),
		})
	case "memory", "":
		return revalidate.NewMemoryQueue(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unsupported revalidation queue driver %q", cfg.QueueDriver)
	}
}

func healthChecks(client redis.UniversalClient, pool *pgxpool.Pool) []api.HealthCheck {
	var checks []api.HealthCheck
	if client != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return client.Ping(ctx).Err()
		}})
	}
	if pool != nil {
		checks = append(checks, api.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		}})
	}
	return checks
}
