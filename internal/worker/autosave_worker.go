package worker

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
	"github.com/stemsi/certify-backend/internal/repository"
)

// AnswerWriter applies a batch to the durable ledger with the time it was
// accepted, so replays never overwrite a newer selection.
type AnswerWriter interface {
	UpsertAt(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection, writtenAt time.Time) error
}

// BatchSettler tracks queued batches that have not reached the ledger yet.
type BatchSettler interface {
	Settle(ctx context.Context, attemptID uuid.UUID) error
}

// AutosaveWorker consumes persist_answers_queue and applies each batch to the ledger.
type AutosaveWorker struct {
	rdb        *redis.Client
	writer     AnswerWriter
	pending    BatchSettler
	queue      string
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(rdb *redis.Client, writer AnswerWriter, pending BatchSettler, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		rdb:        rdb,
		writer:     writer,
		pending:    pending,
		queue:      config.WorkerKey.PersistAnswersQueue,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.apply(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying")
		// Back to the head so later batches for the same attempt stay behind it.
		w.requeue(context.Background(), result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// apply writes one queued batch. Malformed payloads are logged and dropped,
// as are batches for attempts that are graded or gone. Every batch that
// leaves the queue for good is settled.
func (w *AutosaveWorker) apply(ctx context.Context, raw string) error {
	var batch model.AnswerBatch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping batch")
		return nil
	}
	if batch.AttemptID == uuid.Nil {
		w.log.Warn().Msg("Batch without attempt dropped")
		return nil
	}
	batchLog := w.log.With().
		Str("attempt_id", batch.AttemptID.String()).
		Int("count", len(batch.Answers)).
		Logger()

	if len(batch.Answers) == 0 {
		batchLog.Warn().Msg("Empty batch dropped")
		w.settle(batch.AttemptID)
		return nil
	}

	err := w.writer.UpsertAt(ctx, batch.AttemptID, batch.Answers, batch.WrittenAt)
	switch {
	case errors.Is(err, repository.ErrAttemptClosed):
		batchLog.Warn().Msg("Attempt already graded, dropping batch")
	case errors.Is(err, repository.ErrNotFound):
		batchLog.Warn().Msg("Attempt not found, dropping batch")
	case err != nil:
		return err
	default:
		batchLog.Debug().Msg("Answers persisted")
	}
	w.settle(batch.AttemptID)
	return nil
}

// settle runs detached from the worker context so a shutdown right after a
// write does not leave the counter behind.
func (w *AutosaveWorker) settle(attemptID uuid.UUID) {
	if err := w.pending.Settle(context.Background(), attemptID); err != nil {
		w.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to settle queued batch")
	}
}

// requeue puts raw back at the head of the queue. A batch Redis refuses is
// lost; it is logged and settled so grading does not wait on it.
func (w *AutosaveWorker) requeue(ctx context.Context, raw string) {
	err := w.rdb.LPush(ctx, w.queue, raw).Err()
	if err == nil {
		return
	}
	var batch model.AnswerBatch
	_ = json.Unmarshal([]byte(raw), &batch)
	w.log.Error().Err(err).
		Str("attempt_id", batch.AttemptID.String()).
		Int("count", len(batch.Answers)).
		Msg("Failed to requeue batch, batch lost")
	if batch.AttemptID != uuid.Nil {
		w.settle(batch.AttemptID)
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		if err := w.apply(ctx, result); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(ctx, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
