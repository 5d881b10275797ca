// Package push delivers notifications to browser push endpoints.
package push

import (
	"context"
	"errors"
	"log/slog"

	"streamhook/internal/models"
)

// ErrEndpointGone reports that the push service no longer accepts messages
// for an endpoint (HTTP 404 or 410). Callers should stop using it.
var ErrEndpointGone = errors.New("push: endpoint gone")

// LogSender logs notifications instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, endpoint models.PushEndpoint, notification models.Notification) error {
	s.logger.InfoContext(ctx, "push notification",
		"endpoint_id", endpoint.ID,
		"title", notification.Title,
		"body", notification.Body,
		"url", notification.URL,
	)
	return nil
}
