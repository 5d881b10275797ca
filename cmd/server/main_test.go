package main

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"streamhook/internal/config"
	"streamhook/internal/email"
	"streamhook/internal/livestatus"
	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
	"streamhook/internal/push"
)

func newRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBuildStoreSelectsDriver(t *testing.T) {
	store, err := buildStore(config.StoreConfig{Driver: "memory", TTL: time.Hour}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*livestatus.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := buildStore(config.StoreConfig{Driver: "redis"}, nil, logging.Discard()); err == nil {
		t.Fatal("expected redis store without a client to fail")
	}

	store, err = buildStore(config.StoreConfig{Driver: "redis", TTL: time.Hour}, newRedis(t), logging.Discard())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	if _, ok := store.(*livestatus.RedisStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}

	if _, err := buildStore(config.StoreConfig{Driver: "etcd"}, nil, logging.Discard()); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
}

func TestBuildCatalogLoadsSeeds(t *testing.T) {
	dir := t.TempDir()
	streamersPath := filepath.Join(dir, "streamers.json")
	subscriptionsPath := filepath.Join(dir, "subscriptions.json")
	writeFile(t, streamersPath, `{"streamers":[{"id":7,"name":"Alpha","services":[{"service":"twitch","username":"alpha"}]}]}`)
	writeFile(t, subscriptionsPath, `{"subscriptions":[{"streamerId":7,"subscriptionId":1,"userId":3,"notificationMethod":"email","email":"fan@example.com"}]}`)

	streamers, registry, err := buildCatalog(config.DirectoryConfig{
		Driver:               "memory",
		SeedPath:             streamersPath,
		SubscriptionSeedPath: subscriptionsPath,
	}, nil)
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}

	streamer, err := streamers.FindByUsername(context.Background(), models.ServiceTwitch, "ALPHA")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if streamer.ID != 7 {
		t.Fatalf("expected streamer 7, got %d", streamer.ID)
	}
	subscribers, err := registry.FindActiveSubscriptionsWithDeliveryTargets(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindActiveSubscriptionsWithDeliveryTargets: %v", err)
	}
	if len(subscribers) != 1 || subscribers[0].Email != "fan@example.com" {
		t.Fatalf("expected one seeded subscriber, got %+v", subscribers)
	}
}

func TestBuildCatalogPostgresRequiresPool(t *testing.T) {
	if _, _, err := buildCatalog(config.DirectoryConfig{Driver: "postgres"}, nil); err == nil {
		t.Fatal("expected postgres catalog without a pool to fail")
	}
}

func TestBuildPushSender(t *testing.T) {
	sender, err := buildPushSender(config.NotifyConfig{PushDriver: "log"}, logging.Discard())
	if err != nil {
		t.Fatalf("log sender: %v", err)
	}
	if _, ok := sender.(*push.LogSender); !ok {
		t.Fatalf("expected log sender, got %T", sender)
	}

	public, private, err := push.GenerateVAPIDKeys(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}
	sender, err = buildPushSender(config.NotifyConfig{
		PushDriver:      "webpush",
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		VAPIDSubject:    "mailto:ops@example.com",
		PushTTL:         60,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("webpush sender: %v", err)
	}
	if _, ok := sender.(*push.WebPushSender); !ok {
		t.Fatalf("expected webpush sender, got %T", sender)
	}

	if _, err := buildPushSender(config.NotifyConfig{PushDriver: "webpush", VAPIDSubject: "mailto:ops@example.com"}, logging.Discard()); err == nil {
		t.Fatal("expected webpush without keys to fail")
	}
}

func TestBuildEmailSender(t *testing.T) {
	sender, err := buildEmailSender(config.NotifyConfig{EmailDriver: "log"}, logging.Discard())
	if err != nil {
		t.Fatalf("log sender: %v", err)
	}
	if _, ok := sender.(*email.LogSender); !ok {
		t.Fatalf("expected log sender, got %T", sender)
	}

	sender, err = buildEmailSender(config.NotifyConfig{
		EmailDriver:   "mailgun",
		MailgunDomain: "mg.example.com",
		MailgunAPIKey: "key-test",
		MailgunSender: "Streamhook <alerts@mg.example.com>",
	}, logging.Discard())
	if err != nil {
		t.Fatalf("mailgun sender: %v", err)
	}
	if _, ok := sender.(*email.MailgunSender); !ok {
		t.Fatalf("expected mailgun sender, got %T", sender)
	}

	if _, err := buildEmailSender(config.NotifyConfig{EmailDriver: "smtp"}, logging.Discard()); err == nil {
		t.Fatal("expected unknown email driver to fail")
	}
}

func TestBuildQueue(t *testing.T) {
	ctx := context.Background()
	if _, err := buildQueue(ctx, config.RevalidateConfig{QueueDriver: "memory", Buffer: 4}, nil, logging.Discard()); err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	if _, err := buildQueue(ctx, config.RevalidateConfig{QueueDriver: "redis"}, nil, logging.Discard()); err == nil {
		t.Fatal("expected redis queue without a client to fail")
	}
	if _, err := buildQueue(ctx, config.RevalidateConfig{QueueDriver: "redis", Stream: "test:revalidate", Group: "workers"}, newRedis(t), logging.Discard()); err != nil {
		t.Fatalf("redis queue: %v", err)
	}
}

func TestHealthChecksProbeConfiguredDependencies(t *testing.T) {
	if checks := healthChecks(nil, nil); len(checks) != 0 {
		t.Fatalf("expected no checks without dependencies, got %d", len(checks))
	}

	checks := healthChecks(newRedis(t), nil)
	if len(checks) != 1 || checks[0].Name != "redis" {
		t.Fatalf("expected a redis check, got %+v", checks)
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Fatalf("redis check: %v", err)
	}
}

func TestRateLimitOptionsCarryRedisClient(t *testing.T) {
	client := newRedis(t)
	opts := rateLimitOptions(config.RateLimitConfig{WebhookLimit: 10, WebhookWindow: time.Minute}, client)
	if opts.Redis != client || opts.WebhookLimit != 10 || opts.WebhookWindow != time.Minute {
		t.Fatalf("unexpected rate limit options: %+v", opts)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
