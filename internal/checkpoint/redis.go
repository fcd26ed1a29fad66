package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps checkpoints in Redis with a per-key TTL, so abandoned sessions
// expire on their own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps a connected client. ttl of 0 keeps keys forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value string) error {
	if err := s.rdb.Set(ctx, key.String(), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	flat := make([]string, len(keys))
	for i, k := range keys {
		flat[i] = k.String()
	}
	if err := s.rdb.Del(ctx, flat...).Err(); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// DeleteSession removes the session's keys with SCAN and a pipelined DEL.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	iter := s.rdb.Scan(ctx, 0, sessionPattern(sessionID), 100).Iterator()
	pipe := s.rdb.Pipeline()
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan session checkpoints: %w", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session checkpoints: %w", err)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error { return nil }
