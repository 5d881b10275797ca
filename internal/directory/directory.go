// Package directory resolves provider usernames to internal streamers.
package directory

import (
	"context"
	"errors"

	"streamhook/internal/models"
)

// ErrNotFound is returned when no streamer matches the lookup.
var ErrNotFound = errors.New("directory: streamer not found")

// Directory is the read port consumed by ingestion and fanout. Username
// matching is case-insensitive.
type Directory interface {
	FindByUsername(ctx context.Context, service models.Service, username string) (models.Streamer, error)
	FindOne(ctx context.Context, id int64) (models.Streamer, error)
	FindAll(ctx context.Context) ([]models.Streamer, error)
}
