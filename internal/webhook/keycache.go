package webhook

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/requests"
	"golang.org/x/sync/singleflight"
)

// DefaultKickPublicKeyURL is the well-known endpoint publishing Kick's
// webhook signing key.
const DefaultKickPublicKeyURL = "https://api.kick.com/public/v1/public-key"

// KeyCacheConfig configures a KeyCache.
type KeyCacheConfig struct {
	URL     string
	TTL     time.Duration
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
	Now     func() time.Time
}

// KeyCache fetches and caches a provider's RSA public key. A refresh failure
// keeps serving the previously fetched key when one exists. Only one fetch
// runs at a time; while an expired key is being refreshed, other callers get
// the expired key instead of waiting on the network.
type KeyCache struct {
	url     string
	ttl     time.Duration
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time

	group      singleflight.Group
	refreshing atomic.Bool

	mu        sync.Mutex
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// NewKeyCache applies defaults of one hour TTL and a five second fetch timeout.
func NewKeyCache(cfg KeyCacheConfig) *KeyCache {
	c := &KeyCache{
		url:     strings.TrimSpace(cfg.URL),
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if c.url == "" {
		c.url = DefaultKickPublicKeyURL
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// PublicKey returns the cached key, fetching it when absent or expired.
func (c *KeyCache) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	c.mu.Lock()
	key, fetchedAt := c.key, c.fetchedAt
	c.mu.Unlock()

	if key != nil {
		if c.now().Sub(fetchedAt) < c.ttl {
			return key, nil
		}
		if !c.refreshing.CompareAndSwap(false, true) {
			return key, nil
		}
		defer c.refreshing.Store(false)
	}

	v, err, _ := c.group.Do("public-key", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

// refresh fetches a new key, falling back to the stored one on failure. The
// fetch is detached from the caller's cancellation; its timeout still applies.
func (c *KeyCache) refresh(ctx context.Context) (*rsa.PublicKey, error) {
	key, err := c.fetch(context.WithoutCancel(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.key != nil {
			c.logger.Warn("public key refresh failed; serving cached key", "url", c.url, "error", err)
			return c.key, nil
		}
		return nil, err
	}
	c.key = key
	c.fetchedAt = c.now()
	return key, nil
}

func (c *KeyCache) fetch(ctx context.Context) (*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body string
	err := requests.URL(c.url).
		Client(c.client).
		Accept("application/json").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch public key: %w", err)
	}
	return ParsePublicKey([]byte(body))
}

type publicKeyResponse struct {
	Data struct {
		PublicKey string `json:"public_key"`
	} `json:"data"`
}

// ParsePublicKey accepts either {"data":{"public_key":"<PEM>"}} or a bare PEM
// document holding a PKIX or PKCS#1 RSA public key.
func ParsePublicKey(body []byte) (*rsa.PublicKey, error) {
	pemData := body
	var envelope publicKeyResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data.PublicKey != "" {
		pemData = []byte(envelope.Data.PublicKey)
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		return key, nil
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key: unexpected type %T", parsed)
		}
		return key, nil
	}
}
