// Package config resolves runtime settings from STREAMHOOK_* environment
// variables, an optional .env file and a handful of command-line overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STREAMHOOK_"

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds every setting consumed by cmd/server.
type Config struct {
	Mode            string        `env:"MODE" envDefault:"development"`
	Addr            string        `env:"ADDR"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	TLSCertFile     string        `env:"TLS_CERT"`
	TLSKeyFile      string        `env:"TLS_KEY"`
	InternalToken   string        `env:"INTERNAL_TOKEN"`

	Twitch     TwitchConfig     `envPrefix:"TWITCH_"`
	Kick       KickConfig       `envPrefix:"KICK_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Postgres   PostgresConfig   `envPrefix:"POSTGRES_"`
	Store      StoreConfig      `envPrefix:"STORE_"`
	Directory  DirectoryConfig  `envPrefix:"DIRECTORY_"`
	Notify     NotifyConfig     `envPrefix:"NOTIFY_"`
	Revalidate RevalidateConfig `envPrefix:"REVALIDATE_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
}

type TwitchConfig struct {
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	ReplayWindow  time.Duration `env:"REPLAY_WINDOW" envDefault:"10m"`
}

type KickConfig struct {
	PublicKeyURL string        `env:"PUBLIC_KEY_URL" envDefault:"https://api.kick.com/public/v1/public-key"`
	KeyCacheTTL  time.Duration `env:"KEY_CACHE_TTL" envDefault:"1h"`
	FetchTimeout time.Duration `env:"KEY_FETCH_TIMEOUT" envDefault:"5s"`
}

// RedisConfig describes the shared Redis connection used by the live-status
// store and the revalidation queue.
type RedisConfig struct {
	Addr          string        `env:"ADDR"`
	Addrs         []string      `env:"ADDRS" envSeparator:","`
	Username      string        `env:"USERNAME"`
	Password      string        `env:"PASSWORD"`
	MasterName    string        `env:"MASTER_NAME"`
	PoolSize      int           `env:"POOL_SIZE"`
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	TLSCAFile     string        `env:"TLS_CA"`
	TLSCertFile   string        `env:"TLS_CERT"`
	TLSKeyFile    string        `env:"TLS_KEY"`
	TLSServerName string        `env:"TLS_SERVER_NAME"`
	TLSSkipVerify bool          `env:"TLS_SKIP_VERIFY"`
}

// Configured reports whether at least one Redis address is present.
func (c RedisConfig) Configured() bool {
	if strings.TrimSpace(c.Addr) != "" {
		return true
	}
	for _, addr := range c.Addrs {
		if strings.TrimSpace(addr) != "" {
			return true
		}
	}
	return false
}

type PostgresConfig struct {
	DSN             string        `env:"DSN"`
	MaxConns        int32         `env:"MAX_CONNS"`
	MinConns        int32         `env:"MIN_CONNS"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME"`
	MaxConnIdle     time.Duration `env:"MAX_CONN_IDLE"`
	HealthCheck     time.Duration `env:"HEALTH_INTERVAL"`
	AcquireTimeout  time.Duration `env:"ACQUIRE_TIMEOUT" envDefault:"5s"`
	ApplicationName string        `env:"APP_NAME" envDefault:"streamhook"`
}

type StoreConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"memory"`
	TTL             time.Duration `env:"TTL" envDefault:"168h"`
	ReadConcurrency int           `env:"READ_CONCURRENCY" envDefault:"16"`
	Reconcile       bool          `env:"RECONCILE" envDefault:"true"`
}

// DirectoryConfig selects where streamers and subscriptions are read from.
// The memory driver loads both from optional JSON seed files.
type DirectoryConfig struct {
	Driver               string `env:"DRIVER" envDefault:"memory"`
	SeedPath             string `env:"SEED_PATH"`
	SubscriptionSeedPath string `env:"SUBSCRIPTION_SEED_PATH"`
}

type NotifyConfig struct {
	Concurrency     int    `env:"CONCURRENCY" envDefault:"8"`
	SiteURL         string `env:"SITE_URL" envDefault:"http://localhost:3000"`
	DefaultIcon     string `env:"DEFAULT_ICON" envDefault:"/icons/streamer-default.png"`
	PushDriver      string `env:"PUSH_DRIVER" envDefault:"log"`
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT" envDefault:"mailto:notifications@localhost"`
	PushTTL         int    `env:"PUSH_TTL" envDefault:"3600"`
	EmailDriver     string `env:"EMAIL_DRIVER" envDefault:"log"`
	MailgunDomain   string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey   string `env:"MAILGUN_API_KEY"`
	MailgunSender   string `env:"MAILGUN_SENDER"`
	MailgunAPIBase  string `env:"MAILGUN_API_BASE"`
}

type RevalidateConfig struct {
	FrontendURL    string        `env:"FRONTEND_URL"`
	Secret         string        `env:"SECRET"`
	QueueDriver    string        `env:"QUEUE_DRIVER" envDefault:"memory"`
	Stream         string        `env:"STREAM" envDefault:"streamhook:revalidate"`
	Group          string        `env:"GROUP" envDefault:"revalidate-workers"`
	Buffer         int           `env:"BUFFER" envDefault:"256"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// RateLimitConfig bounds inbound traffic. Webhook counters live in Redis when
// it is configured.
type RateLimitConfig struct {
	GlobalRPS     float64       `env:"GLOBAL_RPS"`
	GlobalBurst   int           `env:"GLOBAL_BURST"`
	WebhookLimit  int           `env:"WEBHOOK_LIMIT" envDefault:"600"`
	WebhookWindow time.Duration `env:"WEBHOOK_WINDOW" envDefault:"1m"`
}

// Enabled reports whether a frontend was configured to receive revalidations.
func (c RevalidateConfig) Enabled() bool {
	return strings.TrimSpace(c.FrontendURL) != ""
}

// Production reports whether the service runs with production rules.
func (c Config) Production() bool {
	return c.Mode == ModeProduction
}

// Load parses the process environment. args are command-line arguments
// without the program name; flags take precedence over the environment.
func Load(args []string) (Config, error) {
	return load(args, os.Environ())
}

func load(args []string, environ []string) (Config, error) {
	fs := flag.NewFlagSet("streamhook", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", "", "HTTP listen address")
	mode := fs.String("mode", "", "runtime mode (development or production)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "optional dotenv file")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	values := environMap(environ)
	if path := strings.TrimSpace(*envFile); path != "" {
		dotenv, err := readDotenv(path)
		if err != nil {
			return Config{}, err
		}
		for key, value := range dotenv {
			if _, exists := values[key]; !exists {
				values[key] = value
			}
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: values}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Mode = modeValue(*mode, cfg.Mode)
	cfg.LogLevel = firstNonEmpty(*logLevel, cfg.LogLevel)
	cfg.Addr = firstNonEmpty(*addr, cfg.Addr, defaultListenForMode(cfg.Mode))
	cfg.Postgres.DSN = firstNonEmpty(cfg.Postgres.DSN, values["DATABASE_URL"])
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Directory.Driver = strings.ToLower(strings.TrimSpace(cfg.Directory.Driver))
	cfg.Revalidate.QueueDriver = strings.ToLower(strings.TrimSpace(cfg.Revalidate.QueueDriver))
	cfg.Notify.PushDriver = strings.ToLower(strings.TrimSpace(cfg.Notify.PushDriver))
	cfg.Notify.EmailDriver = strings.ToLower(strings.TrimSpace(cfg.Notify.EmailDriver))
	return cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode %q", c.Mode))
	}

	switch c.Store.Driver {
	case "memory":
		if c.Production() {
			errs = append(errs, errors.New("production mode requires the redis live-status store"))
		}
	case "redis":
		if !c.Redis.Configured() {
			errs = append(errs, errors.New("redis store selected without STREAMHOOK_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver %q", c.Store.Driver))
	}
	if c.Store.TTL <= 0 {
		errs = append(errs, errors.New("store ttl must be positive"))
	}

	switch c.Directory.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres directory selected without STREAMHOOK_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported directory driver %q", c.Directory.Driver))
	}

	switch c.Notify.PushDriver {
	case "log":
	case "webpush":
		if c.Notify.VAPIDPublicKey == "" || c.Notify.VAPIDPrivateKey == "" {
			errs = append(errs, errors.New("webpush driver requires VAPID keys"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported push driver %q", c.Notify.PushDriver))
	}

	switch c.Notify.EmailDriver {
	case "log":
	case "mailgun":
		if c.Notify.MailgunDomain == "" || c.Notify.MailgunAPIKey == "" {
			errs = append(errs, errors.New("mailgun driver requires domain and api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported email driver %q", c.Notify.EmailDriver))
	}

	switch c.Revalidate.QueueDriver {
	case "memory":
	case "redis":
		if !c.Redis.Configured() {
			errs = append(errs, errors.New("redis revalidation queue selected without STREAMHOOK_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported revalidation queue driver %q", c.Revalidate.QueueDriver))
	}

	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.WebhookLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("both TLS certificate and key must be provided"))
	}
	return errors.Join(errs...)
}

func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat env file: %w", err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

func environMap(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		values[key] = value
	}
	return values
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = ModeDevelopment
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == ModeProduction {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
