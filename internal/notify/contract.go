//go:generate mockgen -destination=mock_contract_test.go -package=${GOPACKAGE} -source=contract.go
package notify

import (
	"context"

	"streamhook/internal/models"
)

// SubscriberSource loads the active subscribers of a streamer.
type SubscriberSource interface {
	FindActiveSubscriptionsWithDeliveryTargets(ctx context.Context, streamerID int64) ([]models.Subscriber, error)
}

// EndpointPruner is implemented by sources that can stop delivering to a
// push endpoint reported gone.
type EndpointPruner interface {
	DisableEndpoint(ctx context.Context, endpointID int64) error
}

// StreamerLookup resolves the streamer whose notification is being built.
type StreamerLookup interface {
	FindOne(ctx context.Context, id int64) (models.Streamer, error)
}

// PushSender delivers one notification to one push endpoint.
type PushSender interface {
	Send(ctx context.Context, endpoint models.PushEndpoint, notification models.Notification) error
}

// EmailSender delivers one notification to one inbox.
type EmailSender interface {
	Send(ctx context.Context, recipient string, notification models.Notification) (string, error)
}
