package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamhook/internal/models"
	"streamhook/internal/observability/metrics"
)

// Twitch EventSub headers.
const (
	TwitchMessageIDHeader        = "Twitch-Eventsub-Message-Id"
	TwitchMessageTimestampHeader = "Twitch-Eventsub-Message-Timestamp"
	TwitchMessageSignatureHeader = "Twitch-Eventsub-Message-Signature"
	TwitchMessageTypeHeader      = "Twitch-Eventsub-Message-Type"
)

// Twitch EventSub message types.
const (
	TwitchMessageNotification = "notification"
	TwitchMessageVerification = "webhook_callback_verification"
	TwitchMessageRevocation   = "revocation"
)

const twitchSignaturePrefix = "sha256="

// TwitchConfig configures the Twitch provider.
type TwitchConfig struct {
	Secret string
	Policy Policy
	// ReplayWindow rejects messages whose timestamp is older than the window.
	// Zero disables the check.
	ReplayWindow time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Now          func() time.Time
}

// Twitch implements Provider for Twitch EventSub webhooks.
type Twitch struct {
	secret       []byte
	policy       Policy
	replayWindow time.Duration
	logger       *slog.Logger
	metrics      *metrics.Recorder
	now          func() time.Time
}

// NewTwitch constructs the Twitch provider. A missing secret is logged once
// here: as a warning when unverified traffic is allowed, as an error otherwise.
func NewTwitch(cfg TwitchConfig) *Twitch {
	t := &Twitch{
		secret:       []byte(strings.TrimSpace(cfg.Secret)),
		policy:       cfg.Policy,
		replayWindow: cfg.ReplayWindow,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.metrics == nil {
		t.metrics = metrics.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}
	if len(t.secret) == 0 {
		if t.policy.AllowUnverified() {
			t.logger.Warn("twitch webhook secret not configured; signatures will not be verified", "environment", t.policy.Environment)
		} else {
			t.logger.Error("twitch webhook secret not configured; every twitch webhook will be rejected", "environment", t.policy.Environment)
		}
	}
	return t
}

func (t *Twitch) Service() models.Service { return models.ServiceTwitch }

// Verify checks the HMAC-SHA256 signature over id + timestamp + body.
func (t *Twitch) Verify(_ context.Context, raw []byte, header http.Header) error {
	if len(t.secret) == 0 {
		if t.policy.AllowUnverified() {
			return nil
		}
		t.metrics.ObserveSignatureFailure(string(models.ServiceTwitch), "missing_secret")
		return fmt.Errorf("%w: secret not configured", ErrInvalidSignature)
	}

	messageID := header.Get(TwitchMessageIDHeader)
	timestamp := header.Get(TwitchMessageTimestampHeader)
	signature := header.Get(TwitchMessageSignatureHeader)
	if messageID == "" || timestamp == "" || signature == "" {
		t.metrics.ObserveSignatureFailure(string(models.ServiceTwitch), "missing_header")
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}

	if !hmac.Equal([]byte(signature), []byte(t.sign(messageID, timestamp, raw))) {
		t.metrics.ObserveSignatureFailure(string(models.ServiceTwitch), "mismatch")
		return ErrInvalidSignature
	}

	if t.replayWindow > 0 {
		sent, ok := parseTimestamp(timestamp)
		if !ok {
			t.metrics.ObserveSignatureFailure(string(models.ServiceTwitch), "bad_timestamp")
			return fmt.Errorf("%w: unparseable message timestamp", ErrInvalidSignature)
		}
		if t.now().Sub(sent) > t.replayWindow {
			t.metrics.ObserveSignatureFailure(string(models.ServiceTwitch), "replay")
			return fmt.Errorf("%w: message older than %s", ErrInvalidSignature, t.replayWindow)
		}
	}
	return nil
}

func (t *Twitch) sign(messageID, timestamp string, raw []byte) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(raw)
	return twitchSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Sign computes the header value Twitch would send. Used by tooling and tests.
func (t *Twitch) Sign(messageID, timestamp string, raw []byte) string {
	return t.sign(messageID, timestamp, raw)
}

type twitchEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
		BroadcasterUserName  string `json:"broadcaster_user_name"`
		StartedAt            string `json:"started_at"`
	} `json:"event"`
}

// Handshake recognizes the GET subscription confirmation and the POST
// verification and revocation messages.
func (t *Twitch) Handshake(r *http.Request, raw []byte) (*Handshake, error) {
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		if query.Get("hub.mode") != "subscribe" {
			return nil, fmt.Errorf("%w: unexpected hub.mode %q", ErrBadHandshake, query.Get("hub.mode"))
		}
		challenge := query.Get("hub.challenge")
		if challenge == "" {
			return nil, fmt.Errorf("%w: missing hub.challenge", ErrBadHandshake)
		}
		return &Handshake{Kind: HandshakeSubscribe, Challenge: challenge}, nil
	}

	switch r.Header.Get(TwitchMessageTypeHeader) {
	case TwitchMessageVerification:
		var envelope twitchEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: decode verification: %v", ErrBadHandshake, err)
		}
		if envelope.Challenge == "" {
			return nil, fmt.Errorf("%w: missing challenge", ErrBadHandshake)
		}
		return &Handshake{
			Kind:             HandshakeVerification,
			Challenge:        envelope.Challenge,
			SubscriptionType: envelope.Subscription.Type,
		}, nil
	case TwitchMessageRevocation:
		var envelope twitchEnvelope
		_ = json.Unmarshal(raw, &envelope)
		return &Handshake{
			Kind:             HandshakeRevocation,
			Status:           envelope.Subscription.Status,
			SubscriptionType: envelope.Subscription.Type,
		}, nil
	default:
		return nil, nil
	}
}

// Normalize maps stream.online and stream.offline notifications onto a
// LiveStatusEvent keyed by the broadcaster login.
func (t *Twitch) Normalize(raw []byte, header http.Header) (models.LiveStatusEvent, error) {
	if messageType := header.Get(TwitchMessageTypeHeader); messageType != "" && messageType != TwitchMessageNotification {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: message type %q", ErrUnsupportedEvent, messageType)
	}
	var envelope twitchEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var isLive bool
	switch envelope.Subscription.Type {
	case "stream.online":
		isLive = true
	case "stream.offline":
		isLive = false
	default:
		return models.LiveStatusEvent{}, fmt.Errorf("%w: subscription type %q", ErrUnsupportedEvent, envelope.Subscription.Type)
	}

	username := normalizeUsername(envelope.Event.BroadcasterUserLogin)
	if username == "" {
		return models.LiveStatusEvent{}, fmt.Errorf("%w: missing broadcaster_user_login", ErrInvalidPayload)
	}

	// stream.online is dated by the broadcast start, which retries keep.
	candidates := []string{header.Get(TwitchMessageTimestampHeader), envelope.Event.StartedAt}
	if isLive {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}
	observedAt, ok := parseTimestamp(candidates...)
	if !ok {
		observedAt = t.now().UTC()
	}
	return models.LiveStatusEvent{
		Username:   username,
		Service:    models.ServiceTwitch,
		IsLive:     isLive,
		ObservedAt: observedAt,
	}, nil
}
