package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/model"
)

// ExamSource is the authoritative store behind the cache.
type ExamSource interface {
	GetPolicy(ctx context.Context, examID uuid.UUID) (*model.ExamPolicy, error)
	GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
}

// CachedExamCatalog serves exam policy and answer keys from Redis, falling
// through to the source on a miss or a Redis failure.
type CachedExamCatalog struct {
	src ExamSource
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCachedExamCatalog creates a new CachedExamCatalog.
func NewCachedExamCatalog(src ExamSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedExamCatalog {
	return &CachedExamCatalog{
		src: src,
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "exam_catalog").Logger(),
	}
}

// GetPolicy returns the exam policy.
func (c *CachedExamCatalog) GetPolicy(ctx context.Context, examID uuid.UUID) (*model.ExamPolicy, error) {
	key := config.CacheKey.ExamPolicyKey(examID.String())
	var p model.ExamPolicy
	if c.load(ctx, key, &p) {
		return &p, nil
	}

	policy, err := c.src.GetPolicy(ctx, examID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, policy)
	return policy, nil
}

// GetAnswerKey returns the exam's answer key.
func (c *CachedExamCatalog) GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	var k model.AnswerKey
	if c.load(ctx, key, &k) {
		return &k, nil
	}

	answerKey, err := c.src.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, answerKey)
	return answerKey, nil
}

// Warm loads policy and answer key for an exam into Redis.
func (c *CachedExamCatalog) Warm(ctx context.Context, examID uuid.UUID) error {
	policy, err := c.src.GetPolicy(ctx, examID)
	if err != nil {
		return err
	}
	answerKey, err := c.src.GetAnswerKey(ctx, examID)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	if data, err := json.Marshal(policy); err == nil {
		pipe.Set(ctx, config.CacheKey.ExamPolicyKey(examID.String()), data, c.ttl)
	}
	if data, err := json.Marshal(answerKey); err == nil {
		pipe.Set(ctx, config.CacheKey.ExamAnswerKey(examID.String()), data, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached entries for an exam.
func (c *CachedExamCatalog) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return c.rdb.Del(ctx,
		config.CacheKey.ExamPolicyKey(examID.String()),
		config.CacheKey.ExamAnswerKey(examID.String()),
	).Err()
}

func (c *CachedExamCatalog) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, using database")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache entry corrupt, using database")
		return false
	}
	return true
}

func (c *CachedExamCatalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
