package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"streamhook/internal/models"
)

// MemoryDirectory is an in-process catalog for development and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[int64]models.Streamer
	byUsername map[usernameKey]int64
}

type usernameKey struct {
	service  models.Service
	username string
}

func NewMemoryDirectory(streamers ...models.Streamer) *MemoryDirectory {
	d := &MemoryDirectory{
		byID:       make(map[int64]models.Streamer),
		byUsername: make(map[usernameKey]int64),
	}
	for _, streamer := range streamers {
		d.Put(streamer)
	}
	return d
}

// Seed is the on-disk shape of a development catalog.
type Seed struct {
	Streamers []models.Streamer `json:"streamers"`
}

// LoadSeed reads a JSON seed file of the form {"streamers":[...]}.
func LoadSeed(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode directory seed: %w", err)
	}
	for _, streamer := range seed.Streamers {
		if streamer.ID <= 0 {
			return nil, fmt.Errorf("directory seed: streamer %q has no id", streamer.Name)
		}
	}
	return NewMemoryDirectory(seed.Streamers...), nil
}

// Put inserts or replaces a streamer and its service handles.
func (d *MemoryDirectory) Put(streamer models.Streamer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if previous, ok := d.byID[streamer.ID]; ok {
		for _, account := range previous.Services {
			delete(d.byUsername, keyFor(account.Service, account.Username))
		}
	}
	streamer.Services = append([]models.ServiceAccount(nil), streamer.Services...)
	d.byID[streamer.ID] = streamer
	for _, account := range streamer.Services {
		d.byUsername[keyFor(account.Service, account.Username)] = streamer.ID
	}
}

func (d *MemoryDirectory) FindByUsername(_ context.Context, service models.Service, username string) (models.Streamer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byUsername[keyFor(service, username)]
	if !ok {
		return models.Streamer{}, ErrNotFound
	}
	return cloneStreamer(d.byID[id]), nil
}

func (d *MemoryDirectory) FindOne(_ context.Context, id int64) (models.Streamer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	streamer, ok := d.byID[id]
	if !ok {
		return models.Streamer{}, ErrNotFound
	}
	return cloneStreamer(streamer), nil
}

func (d *MemoryDirectory) FindAll(context.Context) ([]models.Streamer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Streamer, 0, len(d.byID))
	for _, streamer := range d.byID {
		out = append(out, cloneStreamer(streamer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func keyFor(service models.Service, username string) usernameKey {
	return usernameKey{service: service, username: strings.ToLower(strings.TrimSpace(username))}
}

func cloneStreamer(s models.Streamer) models.Streamer {
	s.Services = append([]models.ServiceAccount(nil), s.Services...)
	return s
}
