package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
	"github.com/stemsi/certify-backend/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches []model.AnswerBatch
	err     error
}

func (w *recordingWriter) UpsertAt(_ context.Context, attemptID uuid.UUID, answers []model.AnswerSelection, writtenAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, model.AnswerBatch{AttemptID: attemptID, Answers: answers, WrittenAt: writtenAt})
	return nil
}

type recordingSettler struct {
	mu      sync.Mutex
	settled []uuid.UUID
}

func (s *recordingSettler) Settle(_ context.Context, attemptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, attemptID)
	return nil
}

// unreachableRedis fails every command without retrying.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type stubGrader struct {
	res *model.GradeResult
	err error
}

func (g stubGrader) Grade(context.Context, uuid.UUID) (*model.GradeResult, error) {
	return g.res, g.err
}

func TestAutosaveWorker_ApplyPassesWriteTime(t *testing.T) {
	writer := &recordingWriter{}
	w := NewAutosaveWorker(nil, writer, &recordingSettler{}, zerolog.Nop())

	opt := uuid.New()
	batch := model.AnswerBatch{
		AttemptID: uuid.New(),
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New(), OptionID: &opt}},
		WrittenAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, w.apply(context.Background(), string(raw)))
	require.Len(t, writer.batches, 1)
	assert.Equal(t, batch.AttemptID, writer.batches[0].AttemptID)
	assert.True(t, batch.WrittenAt.Equal(writer.batches[0].WrittenAt))
	assert.Equal(t, opt, *writer.batches[0].Answers[0].OptionID)
}

func TestAutosaveWorker_ApplyDropsMalformedPayload(t *testing.T) {
	writer := &recordingWriter{}
	w := NewAutosaveWorker(nil, writer, &recordingSettler{}, zerolog.Nop())

	assert.NoError(t, w.apply(context.Background(), "{not json"))
	assert.NoError(t, w.apply(context.Background(), `{"attempt_id":"00000000-0000-0000-0000-000000000000","answers":[]}`))
	assert.Empty(t, writer.batches)
}

func TestAutosaveWorker_ApplyReturnsWriteError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("db down")}
	w := NewAutosaveWorker(nil, writer, &recordingSettler{}, zerolog.Nop())

	raw, _ := json.Marshal(model.AnswerBatch{
		AttemptID: uuid.New(),
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}},
	})
	assert.Error(t, w.apply(context.Background(), string(raw)))
}

func TestAutosaveWorker_ApplySettlesWrittenBatch(t *testing.T) {
	writer := &recordingWriter{}
	settler := &recordingSettler{}
	w := NewAutosaveWorker(nil, writer, settler, zerolog.Nop())

	attemptID := uuid.New()
	raw, _ := json.Marshal(model.AnswerBatch{
		AttemptID: attemptID,
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}},
	})
	require.NoError(t, w.apply(context.Background(), string(raw)))
	assert.Equal(t, []uuid.UUID{attemptID}, settler.settled)
}

func TestAutosaveWorker_ApplyDropsBatchForGradedAttempt(t *testing.T) {
	var buf bytes.Buffer
	writer := &recordingWriter{err: fmt.Errorf("upsert: %w", repository.ErrAttemptClosed)}
	settler := &recordingSettler{}
	w := NewAutosaveWorker(nil, writer, settler, zerolog.New(&buf))

	attemptID := uuid.New()
	raw, _ := json.Marshal(model.AnswerBatch{
		AttemptID: attemptID,
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}, {QuestionID: uuid.New()}},
	})
	// Dropped rather than retried: the attempt will never accept it.
	require.NoError(t, w.apply(context.Background(), string(raw)))
	assert.Equal(t, []uuid.UUID{attemptID}, settler.settled)
	assert.Contains(t, buf.String(), "Attempt already graded, dropping batch")
	assert.Contains(t, buf.String(), attemptID.String())
}

func TestAutosaveWorker_ApplyKeepsPendingOnWriteError(t *testing.T) {
	settler := &recordingSettler{}
	w := NewAutosaveWorker(nil, &recordingWriter{err: errors.New("db down")}, settler, zerolog.Nop())

	raw, _ := json.Marshal(model.AnswerBatch{
		AttemptID: uuid.New(),
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}},
	})
	require.Error(t, w.apply(context.Background(), string(raw)))
	assert.Empty(t, settler.settled)
}

func TestAutosaveWorker_RequeueFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	settler := &recordingSettler{}
	w := NewAutosaveWorker(unreachableRedis(t), &recordingWriter{}, settler, zerolog.New(&buf))

	attemptID := uuid.New()
	raw, _ := json.Marshal(model.AnswerBatch{
		AttemptID: attemptID,
		Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}},
	})
	w.requeue(context.Background(), string(raw))

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "Failed to requeue batch, batch lost")
	assert.Contains(t, buf.String(), attemptID.String())
	assert.Equal(t, []uuid.UUID{attemptID}, settler.settled)
}

func TestGradingWorker_PutBackFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rdb := unreachableRedis(t)
	w := NewGradingWorker(rdb, NewRegradeQueue(rdb, time.Second), nil, 3, zerolog.New(&buf))

	job := regradeJob{AttemptID: uuid.New(), Tries: 2}
	raw, _ := json.Marshal(job)
	w.putBack(context.Background(), string(raw), job)

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "Failed to put back regrade job, job lost")
	assert.Contains(t, buf.String(), job.AttemptID.String())
}

func TestGradingWorker_Classify(t *testing.T) {
	w := NewGradingWorker(nil, NewRegradeQueue(nil, time.Second), nil, 3, zerolog.Nop())

	graded := &model.GradeResult{Status: model.GradeStatusGraded}
	deferred := &model.GradeResult{Status: model.GradeStatusDeferred}

	assert.Equal(t, outcomeDone, w.classify(graded, nil, 1))
	assert.Equal(t, outcomeRetry, w.classify(deferred, nil, 1))
	assert.Equal(t, outcomeRetry, w.classify(nil, errors.New("timeout"), 2))
	assert.Equal(t, outcomeDrop, w.classify(deferred, nil, 3))
	assert.Equal(t, outcomeDrop, w.classify(nil, service.ErrAttemptNotFound, 1))
}

func TestGradingWorker_RunGraded(t *testing.T) {
	score := 80
	res := &model.GradeResult{Status: model.GradeStatusGraded, Attempt: &model.ExamAttempt{Score: &score}}
	w := NewGradingWorker(nil, NewRegradeQueue(nil, time.Second), stubGrader{res: res}, 3, zerolog.Nop())

	assert.Equal(t, outcomeDone, w.run(context.Background(), regradeJob{AttemptID: uuid.New()}))
}

func TestGradingWorker_RunDropsUnknownAttempt(t *testing.T) {
	w := NewGradingWorker(nil, NewRegradeQueue(nil, time.Second), stubGrader{err: service.ErrAttemptNotFound}, 3, zerolog.Nop())

	assert.Equal(t, outcomeDrop, w.run(context.Background(), regradeJob{AttemptID: uuid.New()}))
}

// ─── Redis-backed tests (CERTIFY_INTEGRATION=1) ────────────────────

func integrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("CERTIFY_INTEGRATION") != "1" {
		t.Skip("set CERTIFY_INTEGRATION=1 to run against Redis")
	}
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())
	require.NoError(t, rdb.Del(ctx, config.WorkerKey.PersistAnswersQueue, config.WorkerKey.RegradeAttemptsQueue).Err())
	return rdb
}

func TestAutosaveWorker_DrainsQueueOnShutdown(t *testing.T) {
	rdb := integrationRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, _ := json.Marshal(model.AnswerBatch{
			AttemptID: uuid.New(),
			Answers:   []model.AnswerSelection{{QuestionID: uuid.New()}},
			WrittenAt: time.Now(),
		})
		require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw).Err())
	}

	writer := &recordingWriter{}
	w := NewAutosaveWorker(rdb, writer, &recordingSettler{}, zerolog.Nop())

	stopped, cancel := context.WithCancel(ctx)
	cancel()
	w.Start(stopped)

	assert.Len(t, writer.batches, 3)
	n, err := rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGradingWorker_RequeuesDeferred(t *testing.T) {
	rdb := integrationRedis(t)
	ctx := context.Background()

	queue := NewRegradeQueue(rdb, time.Minute)
	w := NewGradingWorker(rdb, queue, stubGrader{res: &model.GradeResult{Status: model.GradeStatusDeferred}}, 3, zerolog.Nop())

	attemptID := uuid.New()
	assert.Equal(t, outcomeRetry, w.run(ctx, regradeJob{AttemptID: attemptID}))

	raw, err := rdb.LPop(ctx, config.WorkerKey.RegradeAttemptsQueue).Result()
	require.NoError(t, err)
	var job regradeJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, attemptID, job.AttemptID)
	assert.Equal(t, 1, job.Tries)
	assert.True(t, job.NotBefore.After(time.Now()))
}
