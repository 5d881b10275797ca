// Package webhook verifies and normalizes inbound live-status webhooks from
// streaming providers.
//
// Each provider is exposed through the Provider interface so the HTTP layer
// can run verify, handshake and normalize in a fixed order without knowing
// the provider's wire format.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"streamhook/internal/models"
)

var (
	// ErrInvalidSignature is returned when a payload fails verification.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrVerificationUnavailable wraps infrastructure failures (e.g. key
	// fetch) that prevented verification in an environment that fails closed.
	ErrVerificationUnavailable = errors.New("webhook: verification unavailable")
	// ErrInvalidPayload is returned when a verified body lacks required fields.
	ErrInvalidPayload = errors.New("webhook: invalid payload")
	// ErrUnsupportedEvent marks well-formed events that carry no live-status change.
	ErrUnsupportedEvent = errors.New("webhook: unsupported event")
	// ErrBadHandshake is returned for malformed subscription handshakes.
	ErrBadHandshake = errors.New("webhook: bad handshake")
)

// Provider is the capability set implemented once per streaming service.
type Provider interface {
	Service() models.Service
	// Verify checks the raw, unmodified request body against the provider's
	// signature headers.
	Verify(ctx context.Context, raw []byte, header http.Header) error
	// Handshake returns nil when the request is a regular event.
	Handshake(r *http.Request, raw []byte) (*Handshake, error)
	Normalize(raw []byte, header http.Header) (models.LiveStatusEvent, error)
}

// HandshakeKind enumerates the control messages a provider may send.
type HandshakeKind string

const (
	// HandshakeSubscribe is a GET subscription confirmation.
	HandshakeSubscribe HandshakeKind = "subscribe"
	// HandshakeVerification is a signed POST callback verification.
	HandshakeVerification HandshakeKind = "verification"
	// HandshakeRevocation notifies that the provider dropped the subscription.
	HandshakeRevocation HandshakeKind = "revocation"
)

// Handshake is a control message answered without touching live-status state.
type Handshake struct {
	Kind      HandshakeKind
	Challenge string
	// Status carries the subscription status reported with a revocation.
	Status           string
	SubscriptionType string
}

// Policy decides whether traffic may pass without cryptographic proof.
type Policy struct {
	Environment string
}

// AllowUnverified is true outside production. Production always fails closed.
func (p Policy) AllowUnverified() bool {
	return !strings.EqualFold(strings.TrimSpace(p.Environment), "production")
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseTimestamp(values ...string) (time.Time, bool) {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
