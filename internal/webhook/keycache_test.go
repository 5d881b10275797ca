package webhook

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/observability/logging"
)

func encodePKIX(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestParsePublicKeyFormats(t *testing.T) {
	key := generateKey(t)
	pemText := encodePKIX(t, &key.PublicKey)

	parsed, err := ParsePublicKey([]byte(pemText))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.PublicKey.N))

	envelope, err := json.Marshal(map[string]any{"data": map[string]string{"public_key": pemText}})
	require.NoError(t, err)
	parsed, err = ParsePublicKey(envelope)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.PublicKey.N))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	parsed, err = ParsePublicKey(pkcs1)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.E, parsed.E)

	_, err = ParsePublicKey([]byte("garbage"))
	require.Error(t, err)
}

func TestKeyCacheFetchesOncePerTTL(t *testing.T) {
	key := generateKey(t)
	pemText := encodePKIX(t, &key.PublicKey)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"public_key": pemText}})
	}))
	t.Cleanup(server.Close)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewKeyCache(KeyCacheConfig{
		URL:    server.URL,
		Client: server.Client(),
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
	})

	for i := 0; i < 3; i++ {
		_, err := cache.PublicKey(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(61 * time.Minute)
	_, err := cache.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestKeyCacheServesStaleKeyOnRefreshFailure(t *testing.T) {
	key := generateKey(t)
	pemText := encodePKIX(t, &key.PublicKey)
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(pemText))
	}))
	t.Cleanup(server.Close)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewKeyCache(KeyCacheConfig{URL: server.URL, Client: server.Client(), Logger: logging.Discard(), Now: func() time.Time { return now }})

	first, err := cache.PublicKey(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	now = now.Add(2 * time.Hour)
	second, err := cache.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestKeyCacheReportsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	cache := NewKeyCache(KeyCacheConfig{URL: server.URL, Client: server.Client(), Logger: logging.Discard()})
	_, err := cache.PublicKey(context.Background())
	require.Error(t, err)
}

func TestKeyCacheServesExpiredKeyWhileRefreshing(t *testing.T) {
	key := generateKey(t)
	pemText := encodePKIX(t, &key.PublicKey)
	var (
		hits     atomic.Int32
		block    atomic.Bool
		entered  = make(chan struct{}, 1)
		release  = make(chan struct{})
		nowNanos atomic.Int64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if block.Load() {
			entered <- struct{}{}
			<-release
		}
		_, _ = w.Write([]byte(pemText))
	}))
	t.Cleanup(server.Close)

	nowNanos.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	cache := NewKeyCache(KeyCacheConfig{
		URL:    server.URL,
		Client: server.Client(),
		Logger: logging.Discard(),
		Now:    func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() },
	})

	first, err := cache.PublicKey(context.Background())
	require.NoError(t, err)

	block.Store(true)
	nowNanos.Add(int64(2 * time.Hour))
	refreshed := make(chan error, 1)
	go func() {
		_, err := cache.PublicKey(context.Background())
		refreshed <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never reached the key endpoint")
	}

	start := time.Now()
	served, err := cache.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, served)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, <-refreshed)
	assert.Equal(t, int32(2), hits.Load())

	fresh, err := cache.PublicKey(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, int32(2), hits.Load())
}

func TestKeyCacheSharesColdFetch(t *testing.T) {
	key := generateKey(t)
	pemText := encodePKIX(t, &key.PublicKey)
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(pemText))
	}))
	t.Cleanup(server.Close)

	cache := NewKeyCache(KeyCacheConfig{URL: server.URL, Client: server.Client(), Logger: logging.Discard()})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.PublicKey(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}
