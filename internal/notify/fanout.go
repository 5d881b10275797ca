// Package notify fans a streamer's go-live event out to every active
// subscriber over push and email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"streamhook/internal/models"
	"streamhook/internal/observability/metrics"
	"streamhook/internal/push"
)

const (
	channelPush  = "push"
	channelEmail = "email"

	defaultConcurrency = 8
)

// Report summarises one fanout. Failed deliveries are counted, never returned.
type Report struct {
	Subscribers int
	Attempted   int
	Delivered   int
	Failed      int
	Pruned      int
}

// Config wires a Fanout to its ports and transports. Push and Email may be
// nil, in which case that channel is skipped.
type Config struct {
	Subscribers SubscriberSource
	Streamers   StreamerLookup
	Push        PushSender
	Email       EmailSender
	SiteURL     string
	DefaultIcon string
	Concurrency int
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

type Fanout struct {
	subscribers SubscriberSource
	pruner      EndpointPruner
	streamers   StreamerLookup
	push        PushSender
	email       EmailSender
	siteURL     string
	defaultIcon string
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

func New(cfg Config) (*Fanout, error) {
	if cfg.Subscribers == nil {
		return nil, errors.New("notify: subscriber source is required")
	}
	if cfg.Streamers == nil {
		return nil, errors.New("notify: streamer lookup is required")
	}
	f := &Fanout{
		subscribers: cfg.Subscribers,
		streamers:   cfg.Streamers,
		push:        cfg.Push,
		email:       cfg.Email,
		siteURL:     strings.TrimRight(cfg.SiteURL, "/"),
		defaultIcon: cfg.DefaultIcon,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if pruner, ok := cfg.Subscribers.(EndpointPruner); ok {
		f.pruner = pruner
	}
	if f.concurrency <= 0 {
		f.concurrency = defaultConcurrency
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.metrics == nil {
		f.metrics = metrics.Default()
	}
	return f, nil
}

type delivery struct {
	channel    string
	subscriber models.Subscriber
	endpoint   models.PushEndpoint
}

// NotifySubscribers sends the go-live notification to every delivery target
// of every active subscriber. Only loading the subscribers or the streamer can
// fail the call; per-recipient failures are logged and counted.
func (f *Fanout) NotifySubscribers(ctx context.Context, streamerID int64) (Report, error) {
	subscribers, err := f.subscribers.FindActiveSubscriptionsWithDeliveryTargets(ctx, streamerID)
	if err != nil {
		return Report{}, fmt.Errorf("notify: load subscribers: %w", err)
	}
	report := Report{Subscribers: len(subscribers)}
	if len(subscribers) == 0 {
		return report, nil
	}

	streamer, err := f.streamers.FindOne(ctx, streamerID)
	if err != nil {
		return report, fmt.Errorf("notify: load streamer %d: %w", streamerID, err)
	}

	logger := f.logger.With("streamer_id", streamerID, "fanout_id", uuid.NewString())
	deliveries := f.plan(subscribers)
	report.Attempted = len(deliveries)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(f.concurrency)
	for _, d := range deliveries {
		d := d
		group.Go(func() error {
			delivered, pruned := f.deliver(ctx, logger, streamer, d)
			mu.Lock()
			defer mu.Unlock()
			if delivered {
				report.Delivered++
			} else {
				report.Failed++
			}
			if pruned {
				report.Pruned++
			}
			return nil
		})
	}
	_ = group.Wait()

	logger.Info("fanout completed",
		"subscribers", report.Subscribers,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"pruned", report.Pruned,
	)
	return report, nil
}

func (f *Fanout) plan(subscribers []models.Subscriber) []delivery {
	var deliveries []delivery
	for _, subscriber := range subscribers {
		if subscriber.Method.WantsPush() && f.push != nil {
			for _, endpoint := range subscriber.Endpoints {
				deliveries = append(deliveries, delivery{channel: channelPush, subscriber: subscriber, endpoint: endpoint})
			}
		}
		if subscriber.Method.WantsEmail() && f.email != nil && strings.TrimSpace(subscriber.Email) != "" {
			deliveries = append(deliveries, delivery{channel: channelEmail, subscriber: subscriber})
		}
	}
	return deliveries
}

func (f *Fanout) deliver(ctx context.Context, logger *slog.Logger, streamer models.Streamer, d delivery) (delivered, pruned bool) {
	notification := f.Render(streamer, d.subscriber.Locale)
	logger = logger.With("channel", d.channel, "user_id", d.subscriber.UserID)

	var err error
	switch d.channel {
	case channelPush:
		logger = logger.With("endpoint_id", d.endpoint.ID)
		err = f.push.Send(ctx, d.endpoint, notification)
	case channelEmail:
		_, err = f.email.Send(ctx, d.subscriber.Email, notification)
	}
	if err == nil {
		f.metrics.ObserveDelivery(d.channel, "delivered")
		return true, false
	}

	logger.Warn("notification delivery failed", "error", err)
	f.metrics.ObserveDelivery(d.channel, "failed")

	if d.channel == channelPush && errors.Is(err, push.ErrEndpointGone) && f.pruner != nil {
		if pruneErr := f.pruner.DisableEndpoint(ctx, d.endpoint.ID); pruneErr != nil {
			logger.Error("failed to disable gone endpoint", "error", pruneErr)
			return false, false
		}
		f.metrics.ObserveDelivery(d.channel, "pruned")
		return false, true
	}
	return false, false
}

// Render builds the notification for a streamer in the subscriber's locale.
func (f *Fanout) Render(streamer models.Streamer, locale string) models.Notification {
	name := strings.TrimSpace(streamer.Name)
	if name == "" {
		name = "Streamer " + strconv.FormatInt(streamer.ID, 10)
	}
	icon := streamer.LogoURL
	if icon == "" {
		icon = f.defaultIcon
	}
	return models.Notification{
		Title: name,
		Body:  LiveMessage(locale, name),
		Icon:  icon,
		URL:   f.siteURL + "/streamers/" + strconv.FormatInt(streamer.ID, 10),
		Tag:   "live-" + strconv.FormatInt(streamer.ID, 10),
	}
}
