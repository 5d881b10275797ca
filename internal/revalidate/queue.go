// Package revalidate asks the public frontend to rebuild pages whose live
// status changed. Jobs are queued so webhook handling never waits on the
// frontend.
package revalidate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrQueueFull is returned by Publish when a bounded queue has no capacity.
var ErrQueueFull = errors.New("revalidate: queue full")

// Job asks the frontend to revalidate one path.
type Job struct {
	// ID is the queue's delivery handle, set on received jobs only.
	ID         string    `json:"-"`
	Path       string    `json:"path"`
	StreamerID int64     `json:"streamerId,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (j Job) validate() error {
	if !strings.HasPrefix(j.Path, "/") {
		return errors.New("revalidate: job path must be absolute")
	}
	return nil
}

// JobsFor returns the jobs published when a streamer's status changes.
func JobsFor(streamerID int64, now time.Time) []Job {
	return []Job{
		{Path: "/", StreamerID: streamerID, EnqueuedAt: now},
		{Path: "/streamers/" + strconv.FormatInt(streamerID, 10), StreamerID: streamerID, EnqueuedAt: now},
	}
}

// Queue hands jobs from publishers to workers. Each job is delivered to one
// subscriber.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Subscribe() Subscription
}

// Subscription is a worker's view of the queue. Jobs is closed once the
// subscription stops. A received job stays owned by the subscriber until Ack;
// durable queues redeliver jobs that are never acknowledged.
type Subscription interface {
	Jobs() <-chan Job
	Ack(ctx context.Context, job Job) error
	Close()
}

// NewMemoryQueue returns a bounded in-process queue for single-instance
// deployments and tests.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &memoryQueue{jobs: make(chan Job, buffer)}
}

type memoryQueue struct {
	jobs chan Job
}

func (q *memoryQueue) Publish(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *memoryQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{
		queue:  q,
		cancel: cancel,
		ch:     make(chan Job),
	}
	go sub.run(ctx)
	return sub
}

type memorySubscription struct {
	once   sync.Once
	queue  *memoryQueue
	cancel context.CancelFunc
	ch     chan Job
}

func (s *memorySubscription) Jobs() <-chan Job {
	return s.ch
}

// Ack is a no-op: the memory queue forgets a job once it is handed out.
func (s *memorySubscription) Ack(context.Context, Job) error {
	return nil
}

func (s *memorySubscription) Close() {
	s.once.Do(s.cancel)
}

func (s *memorySubscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue.jobs:
			select {
			case s.ch <- job:
			case <-ctx.Done():
				// Hand the job back for the next subscriber.
				select {
				case s.queue.jobs <- job:
				default:
				}
				return
			}
		}
	}
}
