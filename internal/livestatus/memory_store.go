package livestatus

import (
	"context"
	"sync"
	"time"

	"streamhook/internal/models"
)

type memoryEntry struct {
	cache     models.StreamerLiveStatusCache
	expiresAt time.Time
}

// MemoryStore keeps records in process memory. TTL is enforced on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for TTL and timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store := &MemoryStore{entries: make(map[int64]memoryEntry), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *MemoryStore) Update(_ context.Context, update StatusUpdate) (UpdateResult, error) {
	if err := update.validate(); err != nil {
		return UpdateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	update = normalizeUpdate(update, now)
	entry, exists := s.live(update.StreamerID, now)
	cache, result := merge(entry.cache, exists, update, now, s.ttl)
	if !result.Stale {
		s.entries[update.StreamerID] = memoryEntry{cache: cache, expiresAt: now.Add(s.ttl)}
	}
	result.Cache = cache.Clone()
	return result, nil
}

func (s *MemoryStore) Initialize(_ context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, error) {
	if streamerID <= 0 {
		return models.StreamerLiveStatusCache{}, ErrInvalidUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cache := initial(streamerID, services, now, s.ttl)
	s.entries[streamerID] = memoryEntry{cache: cache, expiresAt: now.Add(s.ttl)}
	return cache.Clone(), nil
}

func (s *MemoryStore) InitializeIfAbsent(_ context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, bool, error) {
	if streamerID <= 0 {
		return models.StreamerLiveStatusCache{}, false, ErrInvalidUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if entry, ok := s.live(streamerID, now); ok {
		return entry.cache.Clone(), false, nil
	}
	cache := initial(streamerID, services, now, s.ttl)
	s.entries[streamerID] = memoryEntry{cache: cache, expiresAt: now.Add(s.ttl)}
	return cache.Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, streamerID int64) (models.StreamerLiveStatusCache, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(streamerID, s.now().UTC())
	if !ok {
		return models.StreamerLiveStatusCache{}, false, nil
	}
	return entry.cache.Clone(), true, nil
}

func (s *MemoryStore) GetMany(ctx context.Context, streamerIDs []int64) (map[int64]models.StreamerLiveStatusCache, error) {
	out := make(map[int64]models.StreamerLiveStatusCache, len(streamerIDs))
	for _, id := range streamerIDs {
		cache, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = cache
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, streamerID int64) error {
	s.mu.Lock()
	delete(s.entries, streamerID)
	s.mu.Unlock()
	return nil
}

// live must be called with s.mu held.
func (s *MemoryStore) live(streamerID int64, now time.Time) (memoryEntry, bool) {
	entry, ok := s.entries[streamerID]
	if !ok {
		return memoryEntry{}, false
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, streamerID)
		return memoryEntry{}, false
	}
	return entry, true
}
