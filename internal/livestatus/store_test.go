package livestatus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var base = time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, clock *fakeClock) Store

func newRedisTestStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	store, err := NewRedisStore(RedisStoreConfig{
		Client: client,
		Logger: logging.Discard(),
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return store, server
}

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(DefaultTTL, WithMemoryClock(clock.Now))
		},
		"redis": func(t *testing.T, clock *fakeClock) Store {
			store, _ := newRedisTestStore(t, clock)
			return store
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store, clock *fakeClock)) {
	for name, factory := range factories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: base}
			fn(t, factory(t, clock), clock)
		})
	}
}

func assertAggregate(t *testing.T, cache models.StreamerLiveStatusCache) {
	t.Helper()
	assert.Equal(t, cache.Aggregate(), cache.IsLive, "aggregate must equal OR of services")
	seen := make(map[models.Service]bool)
	for _, status := range cache.Services {
		assert.False(t, seen[status.Service], "duplicate service %s", status.Service)
		seen[status.Service] = true
	}
}

func TestFirstSecondAndLastOfflineScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()

		result, err := store.Update(ctx, StatusUpdate{StreamerID: 7, Service: models.ServiceTwitch, IsLive: true, Username: "foo", ObservedAt: base})
		require.NoError(t, err)
		assert.True(t, result.BecameLive())
		assert.True(t, result.ServiceChanged)
		assert.Equal(t, int64(7), result.Cache.StreamerID)
		assert.True(t, result.Cache.IsLive)
		require.Len(t, result.Cache.Services, 1)
		assert.Equal(t, models.ServiceTwitch, result.Cache.Services[0].Service)
		assert.True(t, result.Cache.Services[0].IsLive)
		assertAggregate(t, result.Cache)

		clock.Advance(time.Minute)
		result, err = store.Update(ctx, StatusUpdate{StreamerID: 7, Service: models.ServiceKick, IsLive: false, Username: "bar", ObservedAt: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.False(t, result.AggregateChanged())
		assert.True(t, result.Cache.IsLive)
		assert.Len(t, result.Cache.Services, 2)
		assertAggregate(t, result.Cache)

		clock.Advance(time.Minute)
		result, err = store.Update(ctx, StatusUpdate{StreamerID: 7, Service: models.ServiceTwitch, IsLive: false, ObservedAt: base.Add(2 * time.Minute)})
		require.NoError(t, err)
		assert.True(t, result.WentOffline())
		assert.False(t, result.Cache.IsLive)
		twitch, ok := result.Cache.Service(models.ServiceTwitch)
		require.True(t, ok)
		assert.Equal(t, "foo", twitch.Username, "username kept when the event omits it")
		assertAggregate(t, result.Cache)

		cache, found, err := store.Get(ctx, 7)
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, cache.IsLive)
		assert.Len(t, cache.Services, 2)
		assert.Equal(t, DefaultTTL, cache.TTL)
	})
}

func TestUpdateIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		update := StatusUpdate{StreamerID: 3, Service: models.ServiceKick, IsLive: true, Username: "bar", ObservedAt: base}

		first, err := store.Update(ctx, update)
		require.NoError(t, err)
		clock.Advance(time.Second)
		second, err := store.Update(ctx, update)
		require.NoError(t, err)

		assert.True(t, first.BecameLive())
		assert.False(t, second.BecameLive())
		assert.False(t, second.ServiceChanged)
		assert.False(t, second.Stale)
		assert.Equal(t, first.Cache, second.Cache)

		stored, found, err := store.Get(ctx, 3)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, first.Cache, stored)

		// Same observation without a username is still a redelivery.
		update.Username = ""
		third, err := store.Update(ctx, update)
		require.NoError(t, err)
		assert.Equal(t, first.Cache, third.Cache)
	})
}

func TestUpdateWithSameTimestampAndNewStateApplies(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		_, err := store.Update(ctx, StatusUpdate{StreamerID: 6, Service: models.ServiceTwitch, IsLive: true, Username: "foo", ObservedAt: base})
		require.NoError(t, err)

		clock.Advance(time.Second)
		result, err := store.Update(ctx, StatusUpdate{StreamerID: 6, Service: models.ServiceTwitch, IsLive: false, Username: "foo", ObservedAt: base})
		require.NoError(t, err)
		assert.True(t, result.WentOffline())
		assert.True(t, result.ServiceChanged)
		assert.Equal(t, base.Add(time.Second), result.Cache.LastUpdated)
	})
}

func TestInitializeIfAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		services := []models.ServiceAccount{{Service: models.ServiceTwitch, Username: "foo"}}

		cache, created, err := store.InitializeIfAbsent(ctx, 12, services)
		require.NoError(t, err)
		assert.True(t, created)
		require.Len(t, cache.Services, 1)
		assert.False(t, cache.IsLive)

		_, err = store.Update(ctx, StatusUpdate{StreamerID: 12, Service: models.ServiceTwitch, IsLive: true, ObservedAt: base})
		require.NoError(t, err)

		cache, created, err = store.InitializeIfAbsent(ctx, 12, []models.ServiceAccount{{Service: models.ServiceKick, Username: "bar"}})
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, cache.IsLive, "existing record is returned unchanged")

		stored, _, err := store.Get(ctx, 12)
		require.NoError(t, err)
		assert.True(t, stored.IsLive)
		_, ok := stored.Service(models.ServiceKick)
		assert.False(t, ok)

		_, _, err = store.InitializeIfAbsent(ctx, 0, services)
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})
}

func TestServiceIsolation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		_, err := store.Update(ctx, StatusUpdate{StreamerID: 9, Service: models.ServiceTwitch, IsLive: true, Username: "foo", ObservedAt: base})
		require.NoError(t, err)
		before, _, err := store.Get(ctx, 9)
		require.NoError(t, err)

		_, err = store.Update(ctx, StatusUpdate{StreamerID: 9, Service: models.ServiceKick, IsLive: true, Username: "bar", ObservedAt: base.Add(time.Hour)})
		require.NoError(t, err)
		after, _, err := store.Get(ctx, 9)
		require.NoError(t, err)

		beforeTwitch, _ := before.Service(models.ServiceTwitch)
		afterTwitch, _ := after.Service(models.ServiceTwitch)
		assert.Equal(t, beforeTwitch, afterTwitch)
	})
}

func TestStaleEventIsIgnored(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		_, err := store.Update(ctx, StatusUpdate{StreamerID: 4, Service: models.ServiceTwitch, IsLive: false, ObservedAt: base.Add(10 * time.Minute)})
		require.NoError(t, err)

		result, err := store.Update(ctx, StatusUpdate{StreamerID: 4, Service: models.ServiceTwitch, IsLive: true, ObservedAt: base})
		require.NoError(t, err)
		assert.True(t, result.Stale)
		assert.False(t, result.BecameLive())
		assert.False(t, result.ServiceChanged)

		cache, _, err := store.Get(ctx, 4)
		require.NoError(t, err)
		assert.False(t, cache.IsLive)
	})
}

func TestInitializeDropsGhostServices(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		_, err := store.Update(ctx, StatusUpdate{StreamerID: 5, Service: models.ServiceYouTube, IsLive: true, ObservedAt: base})
		require.NoError(t, err)

		cache, err := store.Initialize(ctx, 5, []models.ServiceAccount{
			{Service: models.ServiceKick, Username: "bar"},
			{Service: models.ServiceTwitch, Username: "foo"},
			{Service: models.ServiceTwitch, Username: "dup"},
		})
		require.NoError(t, err)
		assert.False(t, cache.IsLive)
		require.Len(t, cache.Services, 2)
		assert.Equal(t, models.ServiceTwitch, cache.Services[0].Service)

		stored, found, err := store.Get(ctx, 5)
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, stored.IsLive)
		_, ok := stored.Service(models.ServiceYouTube)
		assert.False(t, ok, "youtube should not survive re-initialization")
		kick, _ := stored.Service(models.ServiceKick)
		assert.Equal(t, "bar", kick.Username)

		// An initialized service never shadows a real event, even an old one.
		result, err := store.Update(ctx, StatusUpdate{StreamerID: 5, Service: models.ServiceKick, IsLive: true, ObservedAt: base.Add(-time.Hour)})
		require.NoError(t, err)
		assert.False(t, result.Stale)
		assert.True(t, result.BecameLive())
	})
}

func TestGetManyAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		for _, id := range []int64{1, 2, 3} {
			_, err := store.Update(ctx, StatusUpdate{StreamerID: id, Service: models.ServiceTwitch, IsLive: id%2 == 1, ObservedAt: base})
			require.NoError(t, err)
		}

		batch, err := store.GetMany(ctx, []int64{1, 2, 3, 42})
		require.NoError(t, err)
		assert.Len(t, batch, 3)
		assert.True(t, batch[1].IsLive)
		assert.False(t, batch[2].IsLive)

		require.NoError(t, store.Delete(ctx, 2))
		_, found, err := store.Get(ctx, 2)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestConcurrentUpdatesKeepEveryService(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		services := []models.Service{models.ServiceTwitch, models.ServiceKick, models.ServiceYouTube}

		var (
			wg          sync.WaitGroup
			transitions atomic.Int32
		)
		for i := 0; i < 30; i++ {
			service := services[i%len(services)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := store.Update(ctx, StatusUpdate{StreamerID: 11, Service: service, IsLive: true, ObservedAt: base})
				if err != nil {
					t.Error(err)
					return
				}
				if result.BecameLive() {
					transitions.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), transitions.Load(), "exactly one update observes the transition")
		cache, found, err := store.Get(ctx, 11)
		require.NoError(t, err)
		require.True(t, found)
		assert.Len(t, cache.Services, 3)
		assertAggregate(t, cache)
	})
}

func TestUpdateRejectsInvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		_, err := store.Update(context.Background(), StatusUpdate{StreamerID: 0, Service: models.ServiceTwitch})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
		_, err = store.Update(context.Background(), StatusUpdate{StreamerID: 1, Service: "mixer"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})
}

func TestMemoryStoreExpiresRecords(t *testing.T) {
	clock := &fakeClock{now: base}
	store := NewMemoryStore(time.Hour, WithMemoryClock(clock.Now))
	_, err := store.Update(context.Background(), StatusUpdate{StreamerID: 1, Service: models.ServiceTwitch, IsLive: true})
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, found, _ := store.Get(context.Background(), 1)
	assert.True(t, found)

	clock.Advance(2 * time.Minute)
	_, found, _ = store.Get(context.Background(), 1)
	assert.False(t, found)
}

func TestRedisStoreRefreshesExpiry(t *testing.T) {
	clock := &fakeClock{now: base}
	store, server := newRedisTestStore(t, clock)
	ctx := context.Background()

	_, err := store.Update(ctx, StatusUpdate{StreamerID: 8, Service: models.ServiceTwitch, IsLive: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, server.TTL(Key(8)))

	server.FastForward(24 * time.Hour)
	_, err = store.Update(ctx, StatusUpdate{StreamerID: 8, Service: models.ServiceKick, IsLive: false})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, server.TTL(Key(8)))

	_, err = store.Initialize(ctx, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, server.TTL(Key(9)))
	assert.Equal(t, "0", server.HGet(Key(9), "isLive"))
}
