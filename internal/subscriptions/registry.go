// Package subscriptions stores which users follow which streamers and how
// each user wants to be notified.
package subscriptions

import (
	"context"

	"streamhook/internal/models"
)

// Registry is the read port used by notification fanout.
type Registry interface {
	// FindActiveSubscriptionsWithDeliveryTargets returns every active
	// subscriber of the streamer joined with their active push endpoints.
	FindActiveSubscriptionsWithDeliveryTargets(ctx context.Context, streamerID int64) ([]models.Subscriber, error)
	// DisableEndpoint stops future deliveries to a push endpoint the push
	// service reported as gone.
	DisableEndpoint(ctx context.Context, endpointID int64) error
}
