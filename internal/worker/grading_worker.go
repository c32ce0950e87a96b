package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/service"
)

// Grader runs one grading pass for an attempt.
type Grader interface {
	Grade(ctx context.Context, attemptID uuid.UUID) (*model.GradeResult, error)
}

type regradeJob struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Tries     int       `json:"tries"`
	NotBefore time.Time `json:"not_before"`
}

// RegradeQueue pushes deferred attempts onto regrade_attempts_queue.
type RegradeQueue struct {
	rdb   *redis.Client
	delay time.Duration
	now   func() time.Time
}

// NewRegradeQueue creates a RegradeQueue whose jobs become due after delay.
func NewRegradeQueue(rdb *redis.Client, delay time.Duration) *RegradeQueue {
	return &RegradeQueue{rdb: rdb, delay: delay, now: time.Now}
}

// Enqueue schedules the first retry for attemptID.
func (q *RegradeQueue) Enqueue(ctx context.Context, attemptID uuid.UUID) error {
	return q.push(ctx, regradeJob{AttemptID: attemptID, NotBefore: q.now().Add(q.delay)})
}

func (q *RegradeQueue) push(ctx context.Context, job regradeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal regrade job: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.RegradeAttemptsQueue, data).Err()
}

type jobOutcome int

const (
	outcomeDone jobOutcome = iota
	outcomeRetry
	outcomeDrop
)

// GradingWorker re-runs grading for attempts whose answers had not reached
// the ledger in time. Jobs are retried until graded or maxTries is reached.
type GradingWorker struct {
	rdb      *redis.Client
	queue    *RegradeQueue
	grader   Grader
	maxTries int
	log      zerolog.Logger
}

// NewGradingWorker creates a new GradingWorker.
func NewGradingWorker(rdb *redis.Client, queue *RegradeQueue, grader Grader, maxTries int, log zerolog.Logger) *GradingWorker {
	return &GradingWorker{
		rdb:      rdb,
		queue:    queue,
		grader:   grader,
		maxTries: maxTries,
		log:      log.With().Str("component", "grading_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine. Pending jobs stay in
// Redis across restarts.
func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *GradingWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.RegradeAttemptsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var job regradeJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return
	}

	if wait := time.Until(job.NotBefore); wait > 0 {
		select {
		case <-ctx.Done():
			// Put it back untouched for the next process.
			w.putBack(context.Background(), result[1], job)
			return
		case <-time.After(wait):
		}
	}

	w.run(ctx, job)
}

func (w *GradingWorker) putBack(ctx context.Context, raw string, job regradeJob) {
	if err := w.rdb.LPush(ctx, config.WorkerKey.RegradeAttemptsQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", job.AttemptID.String()).
			Int("tries", job.Tries).
			Msg("Failed to put back regrade job, job lost")
	}
}

// run grades one job and requeues it when the outcome is retryable.
func (w *GradingWorker) run(ctx context.Context, job regradeJob) jobOutcome {
	jobLog := w.log.With().Str("attempt_id", job.AttemptID.String()).Int("tries", job.Tries+1).Logger()

	res, err := w.grader.Grade(ctx, job.AttemptID)
	outcome := w.classify(res, err, job.Tries+1)

	switch outcome {
	case outcomeDone:
		jobLog.Info().Int("score", *res.Attempt.Score).Msg("Deferred attempt graded")
	case outcomeDrop:
		jobLog.Warn().Err(err).Msg("Regrade abandoned")
	case outcomeRetry:
		job.Tries++
		job.NotBefore = w.queue.now().Add(w.queue.delay)
		if perr := w.queue.push(context.Background(), job); perr != nil {
			jobLog.Error().Err(perr).Msg("Failed to requeue regrade")
			return outcomeDrop
		}
		jobLog.Debug().Err(err).Msg("Regrade requeued")
	}
	return outcome
}

func (w *GradingWorker) classify(res *model.GradeResult, err error, tries int) jobOutcome {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return outcomeDrop
	case err == nil && res.Status == model.GradeStatusGraded:
		return outcomeDone
	case tries >= w.maxTries:
		return outcomeDrop
	default:
		return outcomeRetry
	}
}
