package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamhook/internal/ingestion"
	"streamhook/internal/livestatus"
	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
	"streamhook/internal/observability/metrics"
	"streamhook/internal/webhook"
)

// EventProcessor applies a normalized live-status event.
type EventProcessor interface {
	Apply(ctx context.Context, event models.LiveStatusEvent) (ingestion.Outcome, error)
}

// StreamerFinder loads a streamer for live-status re-initialization.
type StreamerFinder interface {
	FindOne(ctx context.Context, id int64) (models.Streamer, error)
}

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	Twitch        webhook.Provider
	Kick          webhook.Provider
	Processor     EventProcessor
	Store         livestatus.Store
	Streamers     StreamerFinder
	InternalToken string
	HealthChecks  []HealthCheck
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Routes returns the API router. Middleware is applied by the server.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Health)

	if h.Twitch != nil {
		r.Get("/webhooks/twitch", h.TwitchWebhook)
		r.Post("/webhooks/twitch", h.TwitchWebhook)
	}
	if h.Kick != nil {
		r.Post("/webhooks/kick", h.KickWebhook)
	}

	if h.InternalToken != "" && h.Store != nil {
		r.Route("/api/live-status", func(r chi.Router) {
			r.Use(h.requireInternalToken)
			r.Get("/", h.LiveStatusBatch)
			r.Get("/{streamerID}", h.LiveStatus)
			r.Put("/{streamerID}", h.ReinitializeLiveStatus)
			r.Delete("/{streamerID}", h.DeleteLiveStatus)
		})
	}
	return r
}

func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if logger := logging.LoggerFromContext(ctx); logger != nil {
		// The request logger already carries the request id.
		if provider, ok := logging.ProviderFromContext(ctx); ok {
			return logger.With("provider", provider)
		}
		return logger
	}
	base := h.Logger
	if base == nil {
		base = slog.Default()
	}
	return logging.WithContext(ctx, base)
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	components := make([]componentStatus, 0, len(h.HealthChecks))
	for _, check := range h.HealthChecks {
		status := componentStatus{Component: check.Name, Status: "ok"}
		if err := check.Check(ctx); err != nil {
			status.Status = "degraded"
			status.Error = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		components = append(components, status)
	}
	return components, overallStatus, statusCode
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, healthResponse{Status: status, Components: components})
}
