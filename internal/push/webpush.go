package push

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/golang-jwt/jwt/v5"

	"streamhook/internal/models"
)

const (
	defaultTTL         = 24 * time.Hour
	defaultTimeout     = 10 * time.Second
	vapidTokenLifetime = 12 * time.Hour
)

// WebPushConfig configures a WebPushSender. Keys use the base64url encoding
// produced by GenerateVAPIDKeys.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        time.Duration
	Client     *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
	Random     io.Reader
}

// WebPushSender encrypts notifications for a subscription and posts them to
// its push service with a VAPID authorization header.
type WebPushSender struct {
	key       *ecdsa.PrivateKey
	publicKey string
	subject   string
	ttl       time.Duration
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
	random    io.Reader
}

func NewWebPushSender(cfg WebPushConfig) (*WebPushSender, error) {
	key, publicKey, err := parseVAPIDKeys(cfg.PublicKey, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		return nil, errors.New("push: vapid subject is required")
	}
	sender := &WebPushSender{
		key:       key,
		publicKey: publicKey,
		subject:   subject,
		ttl:       cfg.TTL,
		client:    cfg.Client,
		logger:    cfg.Logger,
		now:       cfg.Now,
		random:    cfg.Random,
	}
	if sender.ttl <= 0 {
		sender.ttl = defaultTTL
	}
	if sender.client == nil {
		sender.client = &http.Client{Timeout: defaultTimeout}
	}
	if sender.logger == nil {
		sender.logger = slog.Default()
	}
	if sender.now == nil {
		sender.now = time.Now
	}
	if sender.random == nil {
		sender.random = rand.Reader
	}
	return sender, nil
}

// Send delivers one notification. A 404 or 410 from the push service yields
// an error wrapping ErrEndpointGone.
func (s *WebPushSender) Send(ctx context.Context, endpoint models.PushEndpoint, notification models.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("push: encode payload: %w", err)
	}
	body, err := encrypt(payload, endpoint.P256dh, endpoint.Auth, s.random)
	if err != nil {
		return err
	}
	authorization, err := s.authorization(endpoint.Endpoint)
	if err != nil {
		return err
	}

	var status int
	err = requests.
		URL(endpoint.Endpoint).
		Client(s.client).
		Post().
		BodyBytes(body).
		ContentType("application/octet-stream").
		Header("Content-Encoding", "aes128gcm").
		Header("TTL", strconv.Itoa(int(s.ttl.Seconds()))).
		Header("Urgency", "high").
		Header("Authorization", authorization).
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			switch {
			case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
				return fmt.Errorf("%w: status %d", ErrEndpointGone, res.StatusCode)
			case res.StatusCode < 200 || res.StatusCode > 299:
				return fmt.Errorf("push: unexpected status %d", res.StatusCode)
			}
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "push delivered", "endpoint_id", endpoint.ID, "status", status)
	return nil
}

func (s *WebPushSender) authorization(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("push: invalid endpoint %q", endpoint)
	}
	claims := jwt.MapClaims{
		"aud": parsed.Scheme + "://" + parsed.Host,
		"exp": s.now().Add(vapidTokenLifetime).Unix(),
		"sub": s.subject,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("push: sign vapid token: %w", err)
	}
	return "vapid t=" + token + ", k=" + s.publicKey, nil
}

// GenerateVAPIDKeys returns a new application server key pair as base64url
// strings (uncompressed public point, raw private scalar).
func GenerateVAPIDKeys(random io.Reader) (publicKey, privateKey string, err error) {
	if random == nil {
		random = rand.Reader
	}
	key, err := ecdh.P256().GenerateKey(random)
	if err != nil {
		return "", "", fmt.Errorf("push: generate vapid key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(key.Bytes()), nil
}

func parseVAPIDKeys(publicKey, privateKey string) (*ecdsa.PrivateKey, string, error) {
	if strings.TrimSpace(privateKey) == "" {
		return nil, "", errors.New("push: vapid private key is required")
	}
	raw, err := decodeKey(privateKey)
	if err != nil {
		return nil, "", fmt.Errorf("push: decode vapid private key: %w", err)
	}
	private, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("push: parse vapid private key: %w", err)
	}
	point := private.PublicKey().Bytes()
	derived := base64.RawURLEncoding.EncodeToString(point)
	if strings.TrimSpace(publicKey) != "" {
		supplied, err := decodeKey(publicKey)
		if err != nil {
			return nil, "", fmt.Errorf("push: decode vapid public key: %w", err)
		}
		if base64.RawURLEncoding.EncodeToString(supplied) != derived {
			return nil, "", errors.New("push: vapid public key does not match private key")
		}
	}
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(point[1:33]),
			Y:     new(big.Int).SetBytes(point[33:]),
		},
		D: new(big.Int).SetBytes(raw),
	}
	return key, derived, nil
}
