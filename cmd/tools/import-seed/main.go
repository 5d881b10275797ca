// Command import-seed loads development JSON seeds (streamers and
// subscriptions) into Postgres so the postgres directory driver can serve them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streamhook/internal/database"
	"streamhook/internal/directory"
	"streamhook/internal/observability/logging"
	"streamhook/internal/subscriptions"
)

func main() {
	streamersPath := flag.String("streamers", "", "path to a {\"streamers\":[...]} seed file")
	subscriptionsPath := flag.String("subscriptions", "", "path to a {\"subscriptions\":[...]} seed file")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall import timeout")
	flag.Parse()

	logger := logging.New(logging.Config{Format: string(logging.FormatText)})

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("STREAMHOOK_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMHOOK_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}
	if *streamersPath == "" && *subscriptionsPath == "" {
		logger.Error("nothing to import", "hint", "set --streamers and/or --subscriptions")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, logger, dsn, *streamersPath, *subscriptionsPath); err != nil {
		logger.Error("import failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dsn, streamersPath, subscriptionsPath string) error {
	var streamerSeed directory.Seed
	if streamersPath != "" {
		if err := readSeed(streamersPath, &streamerSeed); err != nil {
			return err
		}
	}
	var subscriptionSeed subscriptions.Seed
	if subscriptionsPath != "" {
		if err := readSeed(subscriptionsPath, &subscriptionSeed); err != nil {
			return err
		}
	}
	logger.Info("loaded seeds", "streamers", len(streamerSeed.Streamers), "subscriptions", len(subscriptionSeed.Subscriptions))

	pool, err := database.Open(ctx, database.Config{DSN: dsn, ApplicationName: "streamhook-import"})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	streamers, err := directory.NewPostgresDirectory(pool)
	if err != nil {
		return err
	}
	registry, err := subscriptions.NewPostgresRegistry(pool)
	if err != nil {
		return err
	}

	for _, streamer := range streamerSeed.Streamers {
		saved, err := streamers.Save(ctx, streamer)
		if err != nil {
			return fmt.Errorf("save streamer %q: %w", streamer.Name, err)
		}
		stored, err := streamers.FindOne(ctx, saved.ID)
		if err != nil {
			return fmt.Errorf("verify streamer %d: %w", saved.ID, err)
		}
		if len(stored.Services) != len(streamer.Services) {
			return fmt.Errorf("verify streamer %d: expected %d services, found %d", saved.ID, len(streamer.Services), len(stored.Services))
		}
		logger.Info("imported streamer", "streamer_id", saved.ID, "name", saved.Name, "services", len(stored.Services))
	}

	for _, entry := range subscriptionSeed.Subscriptions {
		saved, err := registry.Save(ctx, entry.StreamerID, entry.Subscriber)
		if err != nil {
			return fmt.Errorf("save subscription of user %d to streamer %d: %w", entry.UserID, entry.StreamerID, err)
		}
		logger.Info("imported subscription", "subscription_id", saved.SubscriptionID, "user_id", saved.UserID, "streamer_id", entry.StreamerID, "endpoints", len(saved.Endpoints))
	}

	logger.Info("import completed", "streamers", len(streamerSeed.Streamers), "subscriptions", len(subscriptionSeed.Subscriptions))
	return nil
}

func readSeed(path string, dest any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
