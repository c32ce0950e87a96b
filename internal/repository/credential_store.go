package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/certify-backend/internal/config"
)

// RedisCredentialStore tracks live session credentials by token id.
// A missing entry means the credential was revoked or has expired.
type RedisCredentialStore struct {
	rdb *redis.Client
}

// NewRedisCredentialStore creates a new RedisCredentialStore.
func NewRedisCredentialStore(rdb *redis.Client) *RedisCredentialStore {
	return &RedisCredentialStore{rdb: rdb}
}

func (s *RedisCredentialStore) Put(ctx context.Context, jti string, attemptID uuid.UUID, ttl time.Duration) error {
	return s.rdb.Set(ctx, config.CacheKey.AttemptSessionKey(jti), attemptID.String(), ttl).Err()
}

func (s *RedisCredentialStore) Get(ctx context.Context, jti string) (uuid.UUID, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.AttemptSessionKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (s *RedisCredentialStore) Delete(ctx context.Context, jti string) error {
	return s.rdb.Del(ctx, config.CacheKey.AttemptSessionKey(jti)).Err()
}
