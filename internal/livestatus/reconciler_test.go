package livestatus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
)

type staticCatalog struct {
	streamers []models.Streamer
	err       error
}

func (c staticCatalog) FindAll(context.Context) ([]models.Streamer, error) {
	return c.streamers, c.err
}

func TestReconcilerInitializesMissingRecordsOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultTTL)
	_, err := store.Update(ctx, StatusUpdate{StreamerID: 1, Service: models.ServiceTwitch, IsLive: true})
	require.NoError(t, err)

	catalog := staticCatalog{streamers: []models.Streamer{
		{ID: 1, Services: []models.ServiceAccount{{Service: models.ServiceTwitch, Username: "foo"}}},
		{ID: 2, Services: []models.ServiceAccount{{Service: models.ServiceKick, Username: "bar"}}},
	}}

	report, err := NewReconciler(store, catalog, logging.Discard()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 2, Initialized: 1}, report)

	existing, _, _ := store.Get(ctx, 1)
	assert.True(t, existing.IsLive, "existing record must be left untouched")

	created, found, _ := store.Get(ctx, 2)
	require.True(t, found)
	require.Len(t, created.Services, 1)
	assert.Equal(t, "bar", created.Services[0].Username)
}

func TestReconcilerPropagatesCatalogFailure(t *testing.T) {
	_, err := NewReconciler(NewMemoryStore(0), staticCatalog{err: errors.New("db down")}, logging.Discard()).Run(context.Background())
	require.Error(t, err)
}

// raceStore merges a go-live for the same streamer right before the
// reconciler's initialize step reaches the store.
type raceStore struct {
	Store
	update StatusUpdate
}

func (s raceStore) InitializeIfAbsent(ctx context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, bool, error) {
	if _, err := s.Store.Update(ctx, s.update); err != nil {
		return models.StreamerLiveStatusCache{}, false, err
	}
	return s.Store.InitializeIfAbsent(ctx, streamerID, services)
}

func TestReconcilerKeepsUpdateMergedConcurrently(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		racing := raceStore{
			Store:  store,
			update: StatusUpdate{StreamerID: 3, Service: models.ServiceTwitch, IsLive: true, Username: "foo", ObservedAt: base},
		}
		catalog := staticCatalog{streamers: []models.Streamer{
			{ID: 3, Services: []models.ServiceAccount{{Service: models.ServiceTwitch, Username: "foo"}}},
		}}

		report, err := NewReconciler(racing, catalog, logging.Discard()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, ReconcileReport{Checked: 1}, report)

		cache, found, err := store.Get(ctx, 3)
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, cache.IsLive)
		twitch, ok := cache.Service(models.ServiceTwitch)
		require.True(t, ok)
		assert.True(t, twitch.IsLive)
	})
}
