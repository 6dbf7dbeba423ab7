package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the state of one sliding window after a hit.
type Window struct {
	Allowed bool
	// Count is the number of calls in the window, including this one when allowed.
	Count int
	// Oldest is the time of the oldest call still in the window.
	Oldest time.Time
}

// Store records calls in per-key sliding windows. Hit must count and admit atomically.
type Store interface {
	Hit(ctx context.Context, key string, quota Quota, now time.Time) (Window, error)
}

// MemoryStore is a sliding-window log kept in process memory.
// Quotas are per process, so it only suits tests and single-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]time.Time

	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates an in-memory store. A positive cleanupInterval starts a
// goroutine that drops idle keys; call Stop to end it.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{logs: make(map[string][]time.Time)}
	if cleanupInterval > 0 {
		s.cleanupTicker = time.NewTicker(cleanupInterval)
		s.cleanupStop = make(chan struct{})
		go s.cleanup()
	}
	return s
}

// Hit records a call for key if the window has room.
func (s *MemoryStore) Hit(_ context.Context, key string, quota Quota, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := prune(s.logs[key], now.Add(-quota.Window))

	allowed := len(log) < quota.Limit
	if allowed {
		log = append(log, now)
	}
	s.logs[key] = log

	w := Window{Allowed: allowed, Count: len(log), Oldest: now}
	if len(log) > 0 {
		w.Oldest = log[0]
	}
	return w, nil
}

// prune drops calls at or before cutoff. The log is ordered oldest first.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// Sweep removes keys whose newest call is older than maxAge.
func (s *MemoryStore) Sweep(now time.Time, maxAge time.Duration) {
	cutoff := now.Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, log := range s.logs {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(s.logs, key)
		}
	}
}

func (s *MemoryStore) cleanup() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.Sweep(time.Now(), time.Hour)
		case <-s.cleanupStop:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
		if s.cleanupStop != nil {
			close(s.cleanupStop)
		}
	})
}

// slidingWindowScript trims the window, admits the call if there is room and
// returns {allowed, count, oldest_ms}. Scores are Unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
redis.call('PEXPIRE', key, window)
return {allowed, count, oldest}
`)

// RedisStore keeps sliding windows in Redis sorted sets so that every
// instance sharing the Redis server enforces one quota per identity.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Hit records a call for key if the window has room.
func (s *RedisStore) Hit(ctx context.Context, key string, quota Quota, now time.Time) (Window, error) {
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		quota.Window.Milliseconds(),
		quota.Limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return Window{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		Oldest:  time.UnixMilli(res[2]),
	}, nil
}
