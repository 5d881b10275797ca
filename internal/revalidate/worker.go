package revalidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"

	"streamhook/internal/observability/metrics"
)

// SecretHeader carries the shared secret expected by the frontend route.
const SecretHeader = "X-Revalidate-Secret"

var errPermanent = errors.New("revalidate: permanent failure")

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Queue          Queue
	FrontendURL    string
	Secret         string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	Client         *http.Client
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
}

// Worker drains the queue and POSTs each path to {FrontendURL}/api/revalidate.
type Worker struct {
	queue          Queue
	endpoint       string
	secret         string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	timeout        time.Duration
	client         *http.Client
	logger         *slog.Logger
	metrics        *metrics.Recorder
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("revalidate: queue is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if base == "" {
		return nil, errors.New("revalidate: frontend url is required")
	}
	w := &Worker{
		queue:          cfg.Queue,
		endpoint:       base + "/api/revalidate",
		secret:         cfg.Secret,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		timeout:        cfg.Timeout,
		client:         cfg.Client,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	if w.initialBackoff <= 0 {
		w.initialBackoff = 500 * time.Millisecond
	}
	if w.maxBackoff < w.initialBackoff {
		w.maxBackoff = 30 * time.Second
	}
	if w.timeout <= 0 {
		w.timeout = 5 * time.Second
	}
	if w.client == nil {
		w.client = &http.Client{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.metrics == nil {
		w.metrics = metrics.Default()
	}
	return w, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.queue.Subscribe()
	defer sub.Close()
	w.logger.Info("revalidation worker started", "endpoint", w.endpoint)
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-sub.Jobs():
			if !ok {
				return nil
			}
			if err := w.Process(ctx, job); err != nil && ctx.Err() != nil {
				// Interrupted by shutdown: leave it unacknowledged for redelivery.
				return nil
			}
			if err := sub.Ack(ctx, job); err != nil {
				w.logger.Warn("failed to acknowledge revalidation job", "path", job.Path, "error", err)
			}
		}
	}
}

// Process delivers one job, retrying transient failures with exponential
// backoff. Exhausted or permanent failures are logged and dropped.
func (w *Worker) Process(ctx context.Context, job Job) error {
	logger := w.logger.With("path", job.Path, "streamer_id", job.StreamerID)
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = w.post(ctx, job)
		if err == nil {
			w.metrics.ObserveRevalidation("success")
			logger.Debug("revalidated", "attempt", attempt)
			return nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil || attempt == w.maxAttempts {
			break
		}
		w.metrics.ObserveRevalidation("retry")
		delay := w.Backoff(attempt)
		logger.Warn("revalidation failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		sleep(ctx, delay)
	}
	w.metrics.ObserveRevalidation("dropped")
	logger.Error("revalidation dropped", "error", err)
	return err
}

// Backoff returns the delay after the given failed attempt (1-based).
func (w *Worker) Backoff(attempt int) time.Duration {
	delay := w.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	return delay
}

func (w *Worker) post(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	builder := requests.
		URL(w.endpoint).
		Client(w.client).
		Post().
		BodyJSON(map[string]string{"path": job.Path}).
		AddValidator(func(res *http.Response) error {
			switch {
			case res.StatusCode >= 200 && res.StatusCode < 300:
				return nil
			case res.StatusCode == http.StatusTooManyRequests, res.StatusCode == http.StatusRequestTimeout, res.StatusCode >= 500:
				return fmt.Errorf("revalidate: frontend returned %d", res.StatusCode)
			default:
				return fmt.Errorf("%w: frontend returned %d", errPermanent, res.StatusCode)
			}
		})
	if w.secret != "" {
		builder = builder.Header(SecretHeader, w.secret)
	}
	return builder.Fetch(ctx)
}
