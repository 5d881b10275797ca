// Package ingestion applies normalized live-status events: it resolves the
// streamer, merges the event into the live-status store and triggers the
// follow-up work a transition requires.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamhook/internal/directory"
	"streamhook/internal/livestatus"
	"streamhook/internal/models"
	"streamhook/internal/notify"
	"streamhook/internal/observability/logging"
	"streamhook/internal/observability/metrics"
	"streamhook/internal/revalidate"
)

// ErrStreamerNotFound is returned when no streamer owns the event's username.
var ErrStreamerNotFound = errors.New("ingestion: streamer not found")

const defaultFanoutTimeout = 2 * time.Minute

// StreamerResolver maps a provider username to an internal streamer.
type StreamerResolver interface {
	FindByUsername(ctx context.Context, service models.Service, username string) (models.Streamer, error)
}

// Notifier fans a go-live out to subscribers.
type Notifier interface {
	NotifySubscribers(ctx context.Context, streamerID int64) (notify.Report, error)
}

// Publisher queues frontend revalidation jobs.
type Publisher interface {
	Publish(ctx context.Context, job revalidate.Job) error
}

// Config wires a Processor. Notifier and Revalidation are optional.
type Config struct {
	Streamers     StreamerResolver
	Store         livestatus.Store
	Notifier      Notifier
	Revalidation  Publisher
	FanoutTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Now           func() time.Time
}

// Outcome describes what applying one event did.
type Outcome struct {
	StreamerID       int64
	Result           livestatus.UpdateResult
	FanoutDispatched bool
}

type Processor struct {
	streamers     StreamerResolver
	store         livestatus.Store
	notifier      Notifier
	revalidation  Publisher
	fanoutTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Recorder
	now           func() time.Time

	inflight sync.WaitGroup
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Streamers == nil {
		return nil, errors.New("ingestion: streamer resolver is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("ingestion: live status store is required")
	}
	p := &Processor{
		streamers:     cfg.Streamers,
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		revalidation:  cfg.Revalidation,
		fanoutTimeout: cfg.FanoutTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}
	if p.fanoutTimeout <= 0 {
		p.fanoutTimeout = defaultFanoutTimeout
	}
	if p.logger == nil {
		p.logger = logging.WithComponent(nil, "ingestion")
	}
	if p.metrics == nil {
		p.metrics = metrics.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Apply resolves and merges one event. A go-live transition dispatches the
// subscriber fanout in the background; the caller never waits for delivery.
func (p *Processor) Apply(ctx context.Context, event models.LiveStatusEvent) (Outcome, error) {
	streamer, err := p.streamers.FindByUsername(ctx, event.Service, event.Username)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %s/%s", ErrStreamerNotFound, event.Service, event.Username)
		}
		return Outcome{}, fmt.Errorf("ingestion: resolve streamer: %w", err)
	}

	ctx = logging.ContextWithStreamerID(ctx, streamer.ID)
	logger := logging.WithContext(ctx, p.logger)

	result, err := p.store.Update(ctx, livestatus.StatusUpdate{
		StreamerID: streamer.ID,
		Service:    event.Service,
		IsLive:     event.IsLive,
		Username:   event.Username,
		ObservedAt: event.ObservedAt,
	})
	if err != nil {
		return Outcome{StreamerID: streamer.ID}, fmt.Errorf("ingestion: update live status: %w", err)
	}
	outcome := Outcome{StreamerID: streamer.ID, Result: result}

	if result.Stale {
		logger.Info("ignored stale event", "service", event.Service, "is_live", event.IsLive, "observed_at", event.ObservedAt)
		return outcome, nil
	}

	logger.Info("live status updated",
		"service", event.Service,
		"service_live", event.IsLive,
		"was_live", result.Previous,
		"is_live", result.Current,
	)

	switch {
	case result.BecameLive():
		p.metrics.StreamerWentLive()
		if p.notifier != nil {
			p.dispatchFanout(ctx, streamer.ID)
			outcome.FanoutDispatched = true
		}
	case result.WentOffline():
		p.metrics.StreamerWentOffline()
	}

	if result.ServiceChanged {
		p.publishRevalidation(ctx, logger, streamer.ID)
	}
	return outcome, nil
}

func (p *Processor) dispatchFanout(ctx context.Context, streamerID int64) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		fanoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fanoutTimeout)
		defer cancel()

		logger := logging.WithContext(fanoutCtx, p.logger)
		if _, err := p.notifier.NotifySubscribers(fanoutCtx, streamerID); err != nil {
			logger.Error("subscriber fanout failed", "error", err)
		}
	}()
}

func (p *Processor) publishRevalidation(ctx context.Context, logger *slog.Logger, streamerID int64) {
	if p.revalidation == nil {
		return
	}
	for _, job := range revalidate.JobsFor(streamerID, p.now()) {
		if err := p.revalidation.Publish(ctx, job); err != nil {
			logger.Warn("failed to queue revalidation", "path", job.Path, "error", err)
		}
	}
}

// Wait blocks until every dispatched fanout finishes or ctx ends.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
