package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/accounts-auth/internal/repository"
)

const attemptKeyPrefix = "login_attempts:"

// RedisAttemptStore implements LoginAttemptStore backed by Redis.
type RedisAttemptStore struct {
	client redis.UniversalClient
	window time.Duration
}

var _ repository.LoginAttemptStore = (*RedisAttemptStore)(nil)

// NewRedisAttemptStore constructs a Redis-backed attempt counter. The window
// bounds how long a streak of failures is remembered.
func NewRedisAttemptStore(client redis.UniversalClient, window time.Duration) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, window: window}
}

// Incr bumps the failure counter for the key and returns the new count. The
// expiry is set when the streak starts so the window covers the whole streak.
func (s *RedisAttemptStore) Incr(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Incr(ctx, attemptKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("bump attempt counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, attemptKeyPrefix+key, s.window).Err(); err != nil {
			return count, fmt.Errorf("set attempt window: %w", err)
		}
	}
	return count, nil
}

// Reset clears the failure counter for the key.
func (s *RedisAttemptStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, attemptKeyPrefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("clear attempt counter: %w", err)
	}
	return nil
}
