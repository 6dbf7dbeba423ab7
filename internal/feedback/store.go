package feedback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/grant-matcher/internal/calibration"
)

// OffsetStore holds the current feedback offset. Reads observe either the
// previous or the new value, never a partial update.
type OffsetStore interface {
	Offset(ctx context.Context) (int, error)
	SetOffset(ctx context.Context, offset int) error
}

// MemoryOffsetStore keeps the offset in process memory.
type MemoryOffsetStore struct {
	v atomic.Int64
}

// NewMemoryOffsetStore creates a store starting at offset 0.
func NewMemoryOffsetStore() *MemoryOffsetStore {
	return &MemoryOffsetStore{}
}

// Offset returns the current offset.
func (s *MemoryOffsetStore) Offset(_ context.Context) (int, error) {
	return int(s.v.Load()), nil
}

// SetOffset replaces the offset, clamped to the allowed range.
func (s *MemoryOffsetStore) SetOffset(_ context.Context, offset int) error {
	s.v.Store(int64(calibration.ClampOffset(offset)))
	return nil
}

// DefaultOffsetKey is the Redis key holding the shared offset.
const DefaultOffsetKey = "grant-matcher:feedback:offset"

// RedisOffsetStore shares the offset between instances through a single Redis key.
type RedisOffsetStore struct {
	client *redis.Client
	key    string
}

// NewRedisOffsetStore creates a Redis-backed offset store. An empty key uses DefaultOffsetKey.
func NewRedisOffsetStore(client *redis.Client, key string) *RedisOffsetStore {
	if key == "" {
		key = DefaultOffsetKey
	}
	return &RedisOffsetStore{client: client, key: key}
}

// Offset returns the stored offset, or 0 when none has been computed yet.
func (s *RedisOffsetStore) Offset(ctx context.Context) (int, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read feedback offset: %w", err)
	}
	offset, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid feedback offset %q: %w", val, err)
	}
	return calibration.ClampOffset(offset), nil
}

// SetOffset stores the offset, clamped to the allowed range.
func (s *RedisOffsetStore) SetOffset(ctx context.Context, offset int) error {
	if err := s.client.Set(ctx, s.key, calibration.ClampOffset(offset), 0).Err(); err != nil {
		return fmt.Errorf("failed to store feedback offset: %w", err)
	}
	return nil
}
