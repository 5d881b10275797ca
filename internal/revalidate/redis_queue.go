package revalidate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueueConfig configures the Redis Streams backed queue.
type RedisQueueConfig struct {
	Client       redis.UniversalClient
	Stream       string
	Group        string
	MaxLen       int64
	BlockTimeout time.Duration
	Buffer       int
	Logger       *slog.Logger

	// ClaimIdle is how long an entry may stay pending on any consumer before
	// another subscriber takes it over. ClaimInterval paces that sweep.
	ClaimIdle     time.Duration
	ClaimInterval time.Duration
}

// NewRedisQueue initialises a queue backed by a Redis stream and consumer
// group, so jobs survive restarts and are shared between instances.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (Queue, error) {
	if cfg.Client == nil {
		return nil, errors.New("revalidate: redis client is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "streamhook:revalidate"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "revalidate-workers"
	}
	queue := &redisQueue{
		client:       cfg.Client,
		stream:       stream,
		group:        group,
		maxLen:       cfg.MaxLen,
		blockTimeout: cfg.BlockTimeout,
		buffer:       cfg.Buffer,
		claimIdle:    cfg.ClaimIdle,
		claimEvery:   cfg.ClaimInterval,
		logger:       cfg.Logger,
	}
	if queue.maxLen <= 0 {
		queue.maxLen = 10000
	}
	if queue.blockTimeout <= 0 {
		queue.blockTimeout = 2 * time.Second
	}
	if queue.buffer <= 0 {
		queue.buffer = 32
	}
	if queue.claimIdle <= 0 {
		queue.claimIdle = 5 * time.Minute
	}
	if queue.claimEvery <= 0 {
		queue.claimEvery = 30 * time.Second
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

type redisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	maxLen       int64
	blockTimeout time.Duration
	buffer       int
	claimIdle    time.Duration
	claimEvery   time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

func (q *redisQueue) Publish(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("revalidate: marshal job: %w", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		queue:    q,
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Job, q.buffer),
		inflight: make(map[string]struct{}),
	}
	go sub.run(ctx)
	return sub
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	if err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err(); err != nil && !isBusyGroup(err) {
		return fmt.Errorf("revalidate: create consumer group: %w", err)
	}
	q.groupReady.Store(true)
	return nil
}

type redisSubscription struct {
	queue    *redisQueue
	consumer string
	cancel   context.CancelFunc

	once sync.Once
	ch   chan Job

	mu       sync.Mutex
	inflight map[string]struct{}
}

func (s *redisSubscription) Jobs() <-chan Job {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.once.Do(s.cancel)
}

// Ack removes the entry from the group's pending list.
func (s *redisSubscription) Ack(ctx context.Context, job Job) error {
	if job.ID == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.inflight, job.ID)
	s.mu.Unlock()
	if err := s.queue.client.XAck(context.WithoutCancel(ctx), s.queue.stream, s.queue.group, job.ID).Err(); err != nil {
		return fmt.Errorf("revalidate: ack %s: %w", job.ID, err)
	}
	return nil
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	logger := s.queue.logger
	var nextClaim time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.queue.ensureGroup(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("revalidate queue group ensure failed", "error", err)
			sleep(ctx, 200*time.Millisecond)
			continue
		}
		if now := time.Now(); !now.Before(nextClaim) {
			nextClaim = now.Add(s.queue.claimEvery)
			claimed, err := s.reclaim(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("revalidate queue reclaim failed", "error", err)
			}
			if !s.deliver(ctx, claimed) {
				return
			}
		}
		messages, err := s.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("revalidate queue read failed", "error", err)
			sleep(ctx, 200*time.Millisecond)
			continue
		}
		if !s.deliver(ctx, messages) {
			return
		}
	}
}

// deliver hands entries to the worker. Entries stay pending until Ack; on
// shutdown they are left for another subscriber to reclaim.
func (s *redisSubscription) deliver(ctx context.Context, messages []redis.XMessage) bool {
	for _, message := range messages {
		s.mu.Lock()
		_, busy := s.inflight[message.ID]
		s.mu.Unlock()
		if busy {
			continue
		}
		job, err := decodeJob(message)
		if err != nil {
			s.queue.logger.Error("revalidate queue decode failed", "id", message.ID, "error", err)
			s.drop(ctx, message.ID)
			continue
		}
		job.ID = message.ID
		s.mu.Lock()
		s.inflight[message.ID] = struct{}{}
		s.mu.Unlock()
		select {
		case s.ch <- job:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// reclaim takes over entries left pending by consumers that went away.
func (s *redisSubscription) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	messages, _, err := s.queue.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.queue.stream,
		Group:    s.queue.group,
		Consumer: s.consumer,
		MinIdle:  s.queue.claimIdle,
		Start:    "0-0",
		Count:    32,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return messages, nil
}

func (s *redisSubscription) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.queue.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.queue.group,
		Consumer: s.consumer,
		Streams:  []string{s.queue.stream, ">"},
		Count:    32,
		Block:    s.queue.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

func (s *redisSubscription) drop(ctx context.Context, id string) {
	if err := s.queue.client.XAck(context.WithoutCancel(ctx), s.queue.stream, s.queue.group, id).Err(); err != nil {
		s.queue.logger.Warn("revalidate queue ack failed", "id", id, "error", err)
	}
}

func decodeJob(message redis.XMessage) (Job, error) {
	raw, ok := message.Values["payload"].(string)
	if !ok || raw == "" {
		return Job{}, errors.New("missing payload")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, err
	}
	return job, job.validate()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buf)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
