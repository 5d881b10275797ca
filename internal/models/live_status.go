package models

import (
	"sort"
	"time"
)

// StreamerServiceStatus is the live state of one streamer on one provider.
type StreamerServiceStatus struct {
	Service     Service   `json:"service"`
	IsLive      bool      `json:"isLive"`
	LastUpdated time.Time `json:"lastUpdated"`
	Username    string    `json:"username,omitempty"`
}

// StreamerLiveStatusCache is the per-streamer projection of every service
// status. IsLive is derived: it is true iff at least one service is live.
type StreamerLiveStatusCache struct {
	StreamerID  int64                   `json:"streamerId"`
	IsLive      bool                    `json:"isLive"`
	Services    []StreamerServiceStatus `json:"services"`
	LastUpdated time.Time               `json:"lastUpdated"`
	TTL         time.Duration           `json:"ttl"`
}

// Service returns the entry for the given provider.
func (c StreamerLiveStatusCache) Service(service Service) (StreamerServiceStatus, bool) {
	for _, status := range c.Services {
		if status.Service == service {
			return status, true
		}
	}
	return StreamerServiceStatus{}, false
}

// Aggregate recomputes the streamer-level flag from the service entries.
func (c StreamerLiveStatusCache) Aggregate() bool {
	for _, status := range c.Services {
		if status.IsLive {
			return true
		}
	}
	return false
}

// SortServices orders the service entries by provider rank.
func (c *StreamerLiveStatusCache) SortServices() {
	sort.SliceStable(c.Services, func(i, j int) bool {
		return c.Services[i].Service.Rank() < c.Services[j].Service.Rank()
	})
}

// Clone returns a deep copy safe to hand to callers.
func (c StreamerLiveStatusCache) Clone() StreamerLiveStatusCache {
	clone := c
	clone.Services = append([]StreamerServiceStatus(nil), c.Services...)
	return clone
}
