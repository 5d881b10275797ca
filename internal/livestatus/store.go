// Package livestatus maintains the per-streamer projection of live state
// across every provider a streamer broadcasts on.
package livestatus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"streamhook/internal/models"
)

// DefaultTTL bounds how long a record survives without updates.
const DefaultTTL = 7 * 24 * time.Hour

// KeyPrefix namespaces live-status records in Redis.
const KeyPrefix = "streamer:live-status:"

var ErrInvalidUpdate = errors.New("livestatus: invalid update")

// Key returns the storage key for a streamer's record.
func Key(streamerID int64) string {
	return KeyPrefix + strconv.FormatInt(streamerID, 10)
}

// Store merges service-level events into streamer-level records. Update must
// be atomic per streamer: concurrent updates for different services of the
// same streamer may not lose each other's writes.
type Store interface {
	Update(ctx context.Context, update StatusUpdate) (UpdateResult, error)
	Initialize(ctx context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, error)
	// InitializeIfAbsent writes the initial record only when none exists,
	// checking and writing in one atomic step. It returns the stored record
	// and whether this call created it.
	InitializeIfAbsent(ctx context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, bool, error)
	Get(ctx context.Context, streamerID int64) (models.StreamerLiveStatusCache, bool, error)
	GetMany(ctx context.Context, streamerIDs []int64) (map[int64]models.StreamerLiveStatusCache, error)
	Delete(ctx context.Context, streamerID int64) error
}

// StatusUpdate is one verified, resolved service event.
type StatusUpdate struct {
	StreamerID int64
	Service    models.Service
	IsLive     bool
	Username   string
	ObservedAt time.Time
}

func (u StatusUpdate) validate() error {
	if u.StreamerID <= 0 {
		return fmt.Errorf("%w: streamer id %d", ErrInvalidUpdate, u.StreamerID)
	}
	if !u.Service.Valid() {
		return fmt.Errorf("%w: service %q", ErrInvalidUpdate, u.Service)
	}
	return nil
}

// UpdateResult reports the aggregate before and after a merge. Previous and
// Current are read and written inside the same atomic step, so exactly one
// of several concurrent duplicates observes a transition.
type UpdateResult struct {
	Previous       bool
	Current        bool
	ServiceChanged bool
	Stale          bool
	Cache          models.StreamerLiveStatusCache
}

// BecameLive reports an aggregate offline to online transition.
func (r UpdateResult) BecameLive() bool { return !r.Previous && r.Current }

// WentOffline reports an aggregate online to offline transition.
func (r UpdateResult) WentOffline() bool { return r.Previous && !r.Current }

func (r UpdateResult) AggregateChanged() bool { return r.Previous != r.Current }

// merge applies update to cache. Services initialized without an observation
// carry a zero LastUpdated and never shadow a real event.
func merge(cache models.StreamerLiveStatusCache, exists bool, update StatusUpdate, now time.Time, ttl time.Duration) (models.StreamerLiveStatusCache, UpdateResult) {
	if !exists {
		cache = models.StreamerLiveStatusCache{StreamerID: update.StreamerID}
	} else {
		cache = cache.Clone()
	}
	result := UpdateResult{Previous: exists && cache.IsLive}

	index := -1
	for i, status := range cache.Services {
		if status.Service == update.Service {
			index = i
			break
		}
	}

	if index >= 0 && cache.Services[index].LastUpdated.After(update.ObservedAt) {
		result.Current = result.Previous
		result.Stale = true
		result.Cache = cache
		return cache, result
	}

	entry := models.StreamerServiceStatus{
		Service:     update.Service,
		IsLive:      update.IsLive,
		LastUpdated: update.ObservedAt,
		Username:    update.Username,
	}
	if index >= 0 {
		previous := cache.Services[index]
		if entry.Username == "" {
			entry.Username = previous.Username
		}
		if sameStatus(previous, entry) {
			// A redelivered event leaves the record as it was.
			result.Current = result.Previous
			result.Cache = cache
			return cache, result
		}
		result.ServiceChanged = previous.IsLive != entry.IsLive
		cache.Services[index] = entry
	} else {
		result.ServiceChanged = true
		cache.Services = append(cache.Services, entry)
	}

	cache.SortServices()
	cache.IsLive = cache.Aggregate()
	cache.LastUpdated = now
	cache.TTL = ttl
	result.Current = cache.IsLive
	result.Cache = cache
	return cache, result
}

func sameStatus(a, b models.StreamerServiceStatus) bool {
	return a.Service == b.Service &&
		a.IsLive == b.IsLive &&
		a.Username == b.Username &&
		a.LastUpdated.Equal(b.LastUpdated)
}

// initial builds the record written by Initialize: every listed service
// offline and unobserved.
func initial(streamerID int64, services []models.ServiceAccount, now time.Time, ttl time.Duration) models.StreamerLiveStatusCache {
	cache := models.StreamerLiveStatusCache{
		StreamerID:  streamerID,
		LastUpdated: now,
		TTL:         ttl,
		Services:    make([]models.StreamerServiceStatus, 0, len(services)),
	}
	seen := make(map[models.Service]struct{}, len(services))
	for _, account := range services {
		if !account.Service.Valid() {
			continue
		}
		if _, dup := seen[account.Service]; dup {
			continue
		}
		seen[account.Service] = struct{}{}
		cache.Services = append(cache.Services, models.StreamerServiceStatus{
			Service:  account.Service,
			Username: account.Username,
		})
	}
	cache.SortServices()
	return cache
}

func normalizeUpdate(update StatusUpdate, now time.Time) StatusUpdate {
	if update.ObservedAt.IsZero() {
		update.ObservedAt = now
	}
	update.ObservedAt = update.ObservedAt.UTC()
	return update
}
