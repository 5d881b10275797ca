package livestatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"streamhook/internal/models"
)

// Hash layout of a record:
//
//	streamerId   internal id
//	isLive       "1" or "0", recomputed on every update
//	lastUpdated  unix milliseconds of the last write
//	ttl          seconds
//	live:<svc>   "1" or "0"
//	ts:<svc>     unix milliseconds of the newest applied observation
//	user:<svc>   provider handle
const (
	fieldStreamerID  = "streamerId"
	fieldIsLive      = "isLive"
	fieldLastUpdated = "lastUpdated"
	fieldTTL         = "ttl"
	prefixLive       = "live:"
	prefixObserved   = "ts:"
	prefixUser       = "user:"
)

// mergeScript upserts one service, recomputes the aggregate from every live:*
// field and refreshes the expiry in a single server-side step. A redelivery of
// the stored observation only refreshes the expiry.
//
// KEYS[1] record key
// ARGV    streamerId, service, live, observedMs, username, nowMs, ttlSeconds
//
// Reply: previous aggregate, current aggregate, previous service state, stale
// flag, followed by the record's fields as HGETALL pairs.
var mergeScript = redis.NewScript(`
local key = KEYS[1]
local prev = redis.call('HGET', key, 'isLive') or ''
local prevService = redis.call('HGET', key, 'live:' .. ARGV[2]) or ''
local storedTs = redis.call('HGET', key, 'ts:' .. ARGV[2])
if storedTs and tonumber(storedTs) > tonumber(ARGV[4]) then
  local reply = {prev, prev, prevService, '1'}
  local fields = redis.call('HGETALL', key)
  for i = 1, #fields do reply[#reply + 1] = fields[i] end
  return reply
end
local storedUser = redis.call('HGET', key, 'user:' .. ARGV[2]) or ''
if storedTs and tonumber(storedTs) == tonumber(ARGV[4]) and prevService == ARGV[3]
  and (ARGV[5] == '' or ARGV[5] == storedUser) then
  redis.call('EXPIRE', key, tonumber(ARGV[7]))
  local reply = {prev, prev, prevService, '0'}
  local fields = redis.call('HGETALL', key)
  for i = 1, #fields do reply[#reply + 1] = fields[i] end
  return reply
end
redis.call('HSET', key,
  'streamerId', ARGV[1],
  'live:' .. ARGV[2], ARGV[3],
  'ts:' .. ARGV[2], ARGV[4],
  'lastUpdated', ARGV[6],
  'ttl', ARGV[7])
if ARGV[5] ~= '' then
  redis.call('HSET', key, 'user:' .. ARGV[2], ARGV[5])
end
local fields = redis.call('HGETALL', key)
local live = '0'
for i = 1, #fields, 2 do
  if string.sub(fields[i], 1, 5) == 'live:' and fields[i + 1] == '1' then
    live = '1'
    break
  end
end
redis.call('HSET', key, 'isLive', live)
redis.call('EXPIRE', key, tonumber(ARGV[7]))
local reply = {prev, live, prevService, '0'}
fields = redis.call('HGETALL', key)
for i = 1, #fields do reply[#reply + 1] = fields[i] end
return reply
`)

// initIfAbsentScript writes a fresh record unless the key already exists.
//
// KEYS[1] record key
// ARGV    ttlSeconds, then field/value pairs
//
// Reply: {"1"} when created, otherwise {"0"} followed by the existing record's
// fields as HGETALL pairs.
var initIfAbsentScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 1 then
  local reply = {'0'}
  local fields = redis.call('HGETALL', key)
  for i = 1, #fields do reply[#reply + 1] = fields[i] end
  return reply
end
redis.call('HSET', key, unpack(ARGV, 2))
redis.call('EXPIRE', key, tonumber(ARGV[1]))
return {'1'}
`)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Client          redis.UniversalClient
	TTL             time.Duration
	ReadConcurrency int
	Logger          *slog.Logger
	Now             func() time.Time
}

// RedisStore keeps one hash per streamer. Updates run as a Lua script so the
// merge never happens as a client-side read-modify-write.
type RedisStore struct {
	client          redis.UniversalClient
	ttl             time.Duration
	readConcurrency int
	logger          *slog.Logger
	now             func() time.Time
}

func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("livestatus: redis client is required")
	}
	store := &RedisStore{
		client:          cfg.Client,
		ttl:             cfg.TTL,
		readConcurrency: cfg.ReadConcurrency,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if store.ttl <= 0 {
		store.ttl = DefaultTTL
	}
	if store.ttl < time.Second {
		store.ttl = time.Second
	}
	if store.readConcurrency <= 0 {
		store.readConcurrency = 16
	}
	if store.logger == nil {
		store.logger = slog.Default()
	}
	if store.now == nil {
		store.now = time.Now
	}
	return store, nil
}

func (s *RedisStore) ttlSeconds() int64 {
	return int64(s.ttl / time.Second)
}

func (s *RedisStore) Update(ctx context.Context, update StatusUpdate) (UpdateResult, error) {
	if err := update.validate(); err != nil {
		return UpdateResult{}, err
	}
	now := s.now().UTC()
	update = normalizeUpdate(update, now)

	reply, err := mergeScript.Run(ctx, s.client, []string{Key(update.StreamerID)},
		update.StreamerID,
		string(update.Service),
		boolFlag(update.IsLive),
		update.ObservedAt.UnixMilli(),
		strings.TrimSpace(update.Username),
		now.UnixMilli(),
		s.ttlSeconds(),
	).StringSlice()
	if err != nil {
		return UpdateResult{}, fmt.Errorf("merge live status: %w", err)
	}
	if len(reply) < 4 {
		return UpdateResult{}, fmt.Errorf("merge live status: short reply (%d elements)", len(reply))
	}

	previousService := reply[2]
	result := UpdateResult{
		Previous: reply[0] == "1",
		Current:  reply[1] == "1",
		Stale:    reply[3] == "1",
	}
	if result.Stale {
		s.logger.Debug("ignored stale live-status event",
			"streamer_id", update.StreamerID,
			"service", update.Service,
			"observed_at", update.ObservedAt,
		)
	} else {
		result.ServiceChanged = previousService == "" || previousService != boolFlag(update.IsLive)
	}
	fields := make(map[string]string, (len(reply)-4)/2)
	for i := 4; i+1 < len(reply); i += 2 {
		fields[reply[i]] = reply[i+1]
	}
	result.Cache = decodeRecord(update.StreamerID, fields)
	return result, nil
}

// Initialize replaces the record in a MULTI/EXEC transaction so services no
// longer listed do not survive.
func (s *RedisStore) Initialize(ctx context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, error) {
	if streamerID <= 0 {
		return models.StreamerLiveStatusCache{}, ErrInvalidUpdate
	}
	now := s.now().UTC()
	cache := initial(streamerID, services, now, s.ttl)
	values := s.initialFields(cache, now)

	key := Key(streamerID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return models.StreamerLiveStatusCache{}, fmt.Errorf("initialize live status: %w", err)
	}
	return cache, nil
}

// InitializeIfAbsent creates the record only when the key is missing. The
// existence check and the write run in one script, so an update merged by
// another replica is never replaced.
func (s *RedisStore) InitializeIfAbsent(ctx context.Context, streamerID int64, services []models.ServiceAccount) (models.StreamerLiveStatusCache, bool, error) {
	if streamerID <= 0 {
		return models.StreamerLiveStatusCache{}, false, ErrInvalidUpdate
	}
	now := s.now().UTC()
	cache := initial(streamerID, services, now, s.ttl)

	args := append([]any{s.ttlSeconds()}, s.initialFields(cache, now)...)
	reply, err := initIfAbsentScript.Run(ctx, s.client, []string{Key(streamerID)}, args...).StringSlice()
	if err != nil {
		return models.StreamerLiveStatusCache{}, false, fmt.Errorf("initialize live status: %w", err)
	}
	if len(reply) == 0 {
		return models.StreamerLiveStatusCache{}, false, errors.New("initialize live status: empty reply")
	}
	if reply[0] == "1" {
		return cache, true, nil
	}
	fields := make(map[string]string, (len(reply)-1)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		fields[reply[i]] = reply[i+1]
	}
	return decodeRecord(streamerID, fields), false, nil
}

func (s *RedisStore) initialFields(cache models.StreamerLiveStatusCache, now time.Time) []any {
	values := []any{
		fieldStreamerID, cache.StreamerID,
		fieldIsLive, "0",
		fieldLastUpdated, now.UnixMilli(),
		fieldTTL, s.ttlSeconds(),
	}
	for _, status := range cache.Services {
		values = append(values,
			prefixLive+string(status.Service), "0",
			prefixObserved+string(status.Service), 0,
		)
		if status.Username != "" {
			values = append(values, prefixUser+string(status.Service), status.Username)
		}
	}
	return values
}

func (s *RedisStore) Get(ctx context.Context, streamerID int64) (models.StreamerLiveStatusCache, bool, error) {
	fields, err := s.client.HGetAll(ctx, Key(streamerID)).Result()
	if err != nil {
		return models.StreamerLiveStatusCache{}, false, fmt.Errorf("get live status: %w", err)
	}
	if len(fields) == 0 {
		return models.StreamerLiveStatusCache{}, false, nil
	}
	return decodeRecord(streamerID, fields), true, nil
}

// GetMany reads records in parallel. The batch is not a consistent snapshot.
func (s *RedisStore) GetMany(ctx context.Context, streamerIDs []int64) (map[int64]models.StreamerLiveStatusCache, error) {
	var (
		mu  sync.Mutex
		out = make(map[int64]models.StreamerLiveStatusCache, len(streamerIDs))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.readConcurrency)
	for _, id := range streamerIDs {
		id := id
		group.Go(func() error {
			cache, ok, err := s.Get(groupCtx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				out[id] = cache
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, streamerID int64) error {
	if err := s.client.Del(ctx, Key(streamerID)).Err(); err != nil {
		return fmt.Errorf("delete live status: %w", err)
	}
	return nil
}

func decodeRecord(streamerID int64, fields map[string]string) models.StreamerLiveStatusCache {
	cache := models.StreamerLiveStatusCache{StreamerID: streamerID}
	if raw, ok := fields[fieldStreamerID]; ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			cache.StreamerID = id
		}
	}
	cache.LastUpdated = parseMillis(fields[fieldLastUpdated])
	if seconds, err := strconv.ParseInt(fields[fieldTTL], 10, 64); err == nil {
		cache.TTL = time.Duration(seconds) * time.Second
	}

	for field, value := range fields {
		name, ok := strings.CutPrefix(field, prefixLive)
		if !ok {
			continue
		}
		service := models.Service(name)
		cache.Services = append(cache.Services, models.StreamerServiceStatus{
			Service:     service,
			IsLive:      value == "1",
			LastUpdated: parseMillis(fields[prefixObserved+name]),
			Username:    fields[prefixUser+name],
		})
	}
	cache.SortServices()
	cache.IsLive = cache.Aggregate()
	return cache
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
