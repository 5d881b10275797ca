package webhook

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamhook/internal/models"
	"streamhook/internal/observability/metrics"
)

// Kick webhook headers.
const (
	KickSignatureHeader = "Kick-Signature"
	KickEventTypeHeader = "Kick-Event-Type"
)

// KickLivestreamStatusEvent is the only Kick event type that changes live state.
const KickLivestreamStatusEvent = "livestream.status.updated"

// PublicKeySource yields the key used to verify Kick signatures.
type PublicKeySource interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// KickConfig configures the Kick provider.
type KickConfig struct {
	Keys    PublicKeySource
	Policy  Policy
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Kick implements Provider for Kick webhooks.
type Kick struct {
	keys    PublicKeySource
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewKick(cfg KickConfig) *Kick {
	k := &Kick{
		keys:    cfg.Keys,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	if k.metrics == nil {
		k.metrics = metrics.Default()
	}
	if k.now == nil {
		k.now = time.Now
	}
	return k
}

func (k *Kick) Service() models.Service { return models.ServiceKick }

// Verify checks the base64 RSA PKCS#1 v1.5 SHA-256 signature over the raw
// body. A missing or undecodable signature is always rejected; an unavailable
// key passes only when the policy allows unverified traffic.
func (k *Kick) Verify(ctx context.Context, raw []byte, header http.Header) error {
	encoded := strings.TrimSpace(header.Get(KickSignatureHeader))
	if encoded == "" {
		k.metrics.ObserveSignatureFailure(string(models.ServiceKick), "missing_header")
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, KickSignatureHeader)
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		k.metrics.ObserveSignatureFailure(string(models.ServiceKick), "undecodable")
		return fmt.Errorf("%w: decode signature: %v", ErrInvalidSignature, err)
	}

	if k.keys == nil {
		return k.unavailable(fmt.Errorf("no public key source configured"))
	}
	key, err := k.keys.PublicKey(ctx)
	if err != nil {
		return k.unavailable(err)
	}

	digest := sha256.Sum256(raw)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		k.metrics.ObserveSignatureFailure(string(models.ServiceKick), "mismatch")
		return ErrInvalidSignature
	}
	return nil
}

func (k *Kick) unavailable(cause error) error {
	k.metrics.ObserveSignatureFailure(string(models.ServiceKick), "key_unavailable")
	if k.policy.AllowUnverified() {
		k.logger.Warn("kick public key unavailable; accepting unverified webhook", "environment", k.policy.Environment, "error", cause)
		return nil
	}
	k.logger.Error("kick public key unavailable; rejecting webhook", "environment", k.policy.Environment, "error", cause)
	return fmt.Errorf("%w: %v", ErrVerificationUnavailable, cause)
}

// Handshake always returns nil; Kick has no subscription handshake.
func (k *Kick) Handshake(*http.Request, []byte) (*Handshake, error) {
	return nil, nil
}

type kickFields struct {
	Username    string `json:"username"`
	ChannelSlug string `json:"channel_slug"`
	IsLive      *bool  `json:"is_live"`
	Timestamp   string `json:"timestamp"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
}

type kickPayload struct {
	kickFields
	Data        *kickFields `json:"data"`
	Broadcaster *kickFields `json:"broadcaster"`
}

// Normalize accepts the nested data.*, the flat legacy and the broadcaster.*
// payload shapes.
func (k *Kick) Normalize(raw []byte, header http.Header) (models.LiveStatusEvent, error) {
	if eventType := strings.TrimSpace(header.Get(KickEventTypeHeader)); eventType != "" && eventType != KickLivestreamStatusEvent {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: event type %q", ErrUnsupportedEvent, eventType)
	}

	var payload kickPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	shapes := make([]kickFields, 0, 3)
	if payload.Data != nil {
		shapes = append(shapes, *payload.Data)
	}
	shapes = append(shapes, payload.kickFields)
	if payload.Broadcaster != nil {
		shapes = append(shapes, *payload.Broadcaster)
	}

	var (
		username string
		isLive   *bool
	)
	for _, shape := range shapes {
		if username == "" {
			username = normalizeUsername(firstNonEmpty(shape.Username, shape.ChannelSlug))
		}
		if isLive == nil && shape.IsLive != nil {
			isLive = shape.IsLive
		}
	}
	if username == "" {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: missing username or channel_slug", ErrInvalidPayload)
	}
	if isLive == nil {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: missing is_live", ErrInvalidPayload)
	}

	candidates := make([]string, 0, len(shapes)*2)
	for _, shape := range shapes {
		candidates = append(candidates, shape.Timestamp)
		if *isLive {
			candidates = append(candidates, shape.StartedAt)
		} else {
			candidates = append(candidates, shape.EndedAt)
		}
	}
	observedAt, ok := parseTimestamp(candidates...)
	if !ok {
		observedAt = k.now().UTC()
	}

	return models.LiveStatusEvent{
		Username:   username,
		Service:    models.ServiceKick,
		IsLive:     *isLive,
		ObservedAt: observedAt,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
