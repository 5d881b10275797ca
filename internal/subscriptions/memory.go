package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"streamhook/internal/models"
)

type memorySubscription struct {
	streamerID int64
	active     bool
	subscriber models.Subscriber
}

// MemoryRegistry keeps subscriptions in process memory.
type MemoryRegistry struct {
	mu        sync.RWMutex
	subs      map[int64]*memorySubscription
	disabled  map[int64]struct{}
	nextSubID int64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		subs:     make(map[int64]*memorySubscription),
		disabled: make(map[int64]struct{}),
	}
}

// Subscribe records an active subscription and returns its id. A subscriber
// without SubscriptionID gets one assigned. Re-subscribing the same user to
// the same streamer reactivates and replaces the existing entry.
func (r *MemoryRegistry) Subscribe(streamerID int64, subscriber models.Subscriber) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subs {
		if sub.streamerID == streamerID && sub.subscriber.UserID == subscriber.UserID {
			subscriber.SubscriptionID = id
			sub.subscriber = cloneSubscriber(subscriber)
			sub.active = true
			return id
		}
	}
	if subscriber.SubscriptionID <= 0 {
		r.nextSubID++
		for r.subs[r.nextSubID] != nil {
			r.nextSubID++
		}
		subscriber.SubscriptionID = r.nextSubID
	}
	r.subs[subscriber.SubscriptionID] = &memorySubscription{
		streamerID: streamerID,
		active:     true,
		subscriber: cloneSubscriber(subscriber),
	}
	return subscriber.SubscriptionID
}

// Deactivate marks a subscription inactive without deleting it.
func (r *MemoryRegistry) Deactivate(subscriptionID int64) {
	r.mu.Lock()
	if sub, ok := r.subs[subscriptionID]; ok {
		sub.active = false
	}
	r.mu.Unlock()
}

func (r *MemoryRegistry) FindActiveSubscriptionsWithDeliveryTargets(_ context.Context, streamerID int64) ([]models.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Subscriber
	for _, sub := range r.subs {
		if sub.streamerID != streamerID || !sub.active {
			continue
		}
		subscriber := cloneSubscriber(sub.subscriber)
		endpoints := subscriber.Endpoints[:0]
		for _, endpoint := range subscriber.Endpoints {
			if _, gone := r.disabled[endpoint.ID]; gone {
				continue
			}
			endpoints = append(endpoints, endpoint)
		}
		subscriber.Endpoints = endpoints
		out = append(out, subscriber)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out, nil
}

func (r *MemoryRegistry) DisableEndpoint(_ context.Context, endpointID int64) error {
	r.mu.Lock()
	r.disabled[endpointID] = struct{}{}
	r.mu.Unlock()
	return nil
}

// SeedEntry is one subscription in a JSON seed file.
type SeedEntry struct {
	StreamerID int64 `json:"streamerId"`
	models.Subscriber
}

// Seed is the on-disk shape of development subscriptions.
type Seed struct {
	Subscriptions []SeedEntry `json:"subscriptions"`
}

// LoadSeed reads {"subscriptions":[...]} from path. Missing keys yield an
// empty registry.
func LoadSeed(path string) (*MemoryRegistry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read subscription seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode subscription seed: %w", err)
	}
	registry := NewMemoryRegistry()
	for _, entry := range seed.Subscriptions {
		registry.Subscribe(entry.StreamerID, entry.Subscriber)
	}
	return registry, nil
}

func cloneSubscriber(s models.Subscriber) models.Subscriber {
	s.Endpoints = append([]models.PushEndpoint(nil), s.Endpoints...)
	return s
}
