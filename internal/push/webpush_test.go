package push

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
)

type subscriberKeys struct {
	private *ecdh.PrivateKey
	auth    []byte
}

func newSubscriberKeys(t *testing.T) subscriberKeys {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return subscriberKeys{private: key, auth: auth}
}

func (k subscriberKeys) endpoint(url string) models.PushEndpoint {
	return models.PushEndpoint{
		ID:       11,
		DeviceID: 3,
		Endpoint: url,
		P256dh:   base64.RawURLEncoding.EncodeToString(k.private.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(k.auth),
	}
}

// decrypt is the user agent side of the aes128gcm exchange.
func (k subscriberKeys) decrypt(t *testing.T, body []byte) []byte {
	t.Helper()
	require.Greater(t, len(body), 21)
	salt := body[:16]
	rs := binary.BigEndian.Uint32(body[16:20])
	require.Equal(t, uint32(recordSize), rs)
	idLen := int(body[20])
	require.Equal(t, 65, idLen)
	asPublic := body[21 : 21+idLen]
	ciphertext := body[21+idLen:]

	serverKey, err := ecdh.P256().NewPublicKey(asPublic)
	require.NoError(t, err)
	shared, err := k.private.ECDH(serverKey)
	require.NoError(t, err)

	uaPublic := k.private.PublicKey().Bytes()
	info := append(append(append([]byte{}, webPushInfo...), uaPublic...), asPublic...)
	ikm, err := derive(shared, k.auth, info, 32)
	require.NoError(t, err)
	cek, err := derive(ikm, salt, cekInfo, 16)
	require.NoError(t, err)
	nonce, err := derive(ikm, salt, nonceInfo, 12)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	record, err := gcm.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, byte(0x02), record[len(record)-1])
	return record[:len(record)-1]
}

func newTestSender(t *testing.T) (*WebPushSender, string) {
	t.Helper()
	public, private, err := GenerateVAPIDKeys(nil)
	require.NoError(t, err)
	sender, err := NewWebPushSender(WebPushConfig{
		PublicKey:  public,
		PrivateKey: private,
		Subject:    "mailto:ops@example.com",
		TTL:        time.Hour,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return sender, public
}

func TestWebPushSenderEncryptsAndSigns(t *testing.T) {
	keys := newSubscriberKeys(t)
	sender, public := newTestSender(t)

	var (
		gotBody   []byte
		gotHeader http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	notification := models.Notification{Title: "Alpha", Body: "Alpha just started streaming", URL: "https://example.com/streamers/7"}
	require.NoError(t, sender.Send(context.Background(), keys.endpoint(server.URL+"/push/abc"), notification))

	assert.Equal(t, "aes128gcm", gotHeader.Get("Content-Encoding"))
	assert.Equal(t, "3600", gotHeader.Get("TTL"))

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(keys.decrypt(t, gotBody), &decoded))
	assert.Equal(t, notification, decoded)

	authorization := gotHeader.Get("Authorization")
	require.True(t, strings.HasPrefix(authorization, "vapid t="))
	parts := strings.SplitN(strings.TrimPrefix(authorization, "vapid t="), ", k=", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, public, parts[1])

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(parts[0], claims, func(*jwt.Token) (interface{}, error) {
		return &sender.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithoutClaimsValidation())
	require.NoError(t, err)
	assert.Equal(t, server.URL, claims["aud"])
	assert.Equal(t, "mailto:ops@example.com", claims["sub"])
}

func TestWebPushSenderReportsGoneEndpoints(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		keys := newSubscriberKeys(t)
		sender, _ := newTestSender(t)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := sender.Send(context.Background(), keys.endpoint(server.URL), models.Notification{Title: "x"})
		server.Close()

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEndpointGone), "status %d", status)
	}
}

func TestWebPushSenderOtherFailuresAreNotGone(t *testing.T) {
	keys := newSubscriberKeys(t)
	sender, _ := newTestSender(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := sender.Send(context.Background(), keys.endpoint(server.URL), models.Notification{Title: "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEndpointGone))
}

func TestWebPushSenderRejectsBadSubscriptionKeys(t *testing.T) {
	sender, _ := newTestSender(t)
	err := sender.Send(context.Background(), models.PushEndpoint{
		Endpoint: "https://push.example.com/x",
		P256dh:   "not-a-key",
		Auth:     "AAAA",
	}, models.Notification{Title: "x"})
	require.Error(t, err)
}

func TestNewWebPushSenderValidatesKeys(t *testing.T) {
	public, private, err := GenerateVAPIDKeys(nil)
	require.NoError(t, err)
	otherPublic, _, err := GenerateVAPIDKeys(nil)
	require.NoError(t, err)

	_, err = NewWebPushSender(WebPushConfig{PublicKey: public, PrivateKey: private})
	require.Error(t, err, "subject is required")

	_, err = NewWebPushSender(WebPushConfig{PublicKey: otherPublic, PrivateKey: private, Subject: "mailto:a@b.c"})
	require.Error(t, err)

	sender, err := NewWebPushSender(WebPushConfig{PrivateKey: private, Subject: "mailto:a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, public, sender.publicKey)
}

func TestEncryptRejectsOversizedPayload(t *testing.T) {
	keys := newSubscriberKeys(t)
	endpoint := keys.endpoint("https://push.example.com")
	_, err := encrypt(make([]byte, MaxPayload+1), endpoint.P256dh, endpoint.Auth, rand.Reader)
	require.Error(t, err)
}

func TestLogSenderAlwaysSucceeds(t *testing.T) {
	sender := NewLogSender(logging.Discard())
	require.NoError(t, sender.Send(context.Background(), models.PushEndpoint{ID: 1}, models.Notification{Title: "x"}))
}
