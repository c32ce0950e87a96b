package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/model"
)

// AnswerReader reads the durable answer rows of an attempt.
type AnswerReader interface {
	GetAll(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
}

// pendingTTL bounds how long a counter survives a batch that is never settled.
const pendingTTL = 10 * time.Minute

// QueuedAnswerLedger acknowledges writes once they are on the Redis queue.
// The autosave worker applies them to the durable ledger, so GetAll may lag
// behind Upsert for a short while. Each attempt carries a counter of batches
// not yet applied; grading waits for it to reach zero.
type QueuedAnswerLedger struct {
	rdb    *redis.Client
	reader AnswerReader
	now    func() time.Time
}

// NewQueuedAnswerLedger creates a ledger that enqueues writes and reads from reader.
func NewQueuedAnswerLedger(rdb *redis.Client, reader AnswerReader) *QueuedAnswerLedger {
	return &QueuedAnswerLedger{rdb: rdb, reader: reader, now: time.Now}
}

// Upsert enqueues the batch as a single queue element so it is applied as a
// unit, and bumps the attempt's pending counter in the same transaction.
func (l *QueuedAnswerLedger) Upsert(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection) error {
	if len(answers) == 0 {
		return nil
	}
	data, err := json.Marshal(model.AnswerBatch{
		AttemptID: attemptID,
		Answers:   answers,
		WrittenAt: l.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal answer batch: %w", err)
	}
	key := config.CacheKey.PendingAnswerBatchesKey(attemptID.String())
	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, pendingTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data)
	_, err = pipe.Exec(ctx)
	return err
}

// PendingWrites returns how many queued batches for the attempt have not been
// applied or dropped yet.
func (l *QueuedAnswerLedger) PendingWrites(ctx context.Context, attemptID uuid.UUID) (int64, error) {
	n, err := l.rdb.Get(ctx, config.CacheKey.PendingAnswerBatchesKey(attemptID.String())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

// Settle marks one queued batch for the attempt as applied or dropped.
func (l *QueuedAnswerLedger) Settle(ctx context.Context, attemptID uuid.UUID) error {
	key := config.CacheKey.PendingAnswerBatchesKey(attemptID.String())
	n, err := l.rdb.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return l.rdb.Del(ctx, key).Err()
	}
	return nil
}

// GetAll reads what the worker has persisted so far.
func (l *QueuedAnswerLedger) GetAll(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	return l.reader.GetAll(ctx, attemptID)
}
