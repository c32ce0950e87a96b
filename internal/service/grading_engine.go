package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
)

// GradingOptions tunes the answer polling and the scoring denominator.
type GradingOptions struct {
	PollAttempts int
	PollInterval time.Duration
	// Denominator is config.DenominatorObserved or config.DenominatorQuestionBank.
	Denominator string
}

// DefaultGradingOptions returns 10 polls 600ms apart over observed answers.
func DefaultGradingOptions() GradingOptions {
	return GradingOptions{
		PollAttempts: 10,
		PollInterval: 600 * time.Millisecond,
		Denominator:  config.DenominatorObserved,
	}
}

// GradingEngine scores an attempt against its exam's answer key.
//
// The ledger may lag behind the client's writes, so the engine polls it a
// bounded number of times before giving up with a deferred outcome. A
// deferred run persists nothing. When the ledger reports writes still in
// flight, a poll only counts once they have all landed.
type GradingEngine struct {
	attempts  AttemptRepository
	answers   AnswerLedger
	exams     ExamCatalog
	threshold *ThresholdProvider
	opts      GradingOptions

	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
	log  zerolog.Logger
}

// NewGradingEngine creates a new GradingEngine.
func NewGradingEngine(
	attempts AttemptRepository,
	answers AnswerLedger,
	exams ExamCatalog,
	threshold *ThresholdProvider,
	opts GradingOptions,
	log zerolog.Logger,
) *GradingEngine {
	if opts.PollAttempts < 1 {
		opts.PollAttempts = 1
	}
	return &GradingEngine{
		attempts:  attempts,
		answers:   answers,
		exams:     exams,
		threshold: threshold,
		opts:      opts,
		wait:      sleepCtx,
		now:       time.Now,
		log:       log.With().Str("component", "grading_engine").Logger(),
	}
}

// Grade runs one grading pass. Re-grading an already graded attempt
// recomputes and overwrites the result.
func (e *GradingEngine) Grade(ctx context.Context, attemptID uuid.UUID) (*model.GradeResult, error) {
	attempt, err := e.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	answers, err := e.awaitAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		e.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("polls", e.opts.PollAttempts).
			Msg("Answers not settled, grading deferred")
		return &model.GradeResult{Status: model.GradeStatusDeferred, Attempt: attempt}, nil
	}

	key, err := e.exams.GetAnswerKey(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	card := ScoreAnswers(answers, key, e.fullBank())
	score := card.Percent()
	threshold := e.threshold.PassThreshold(ctx)

	grade := model.Grade{
		Score:      score,
		Passed:     score >= threshold,
		Correct:    card.Correct,
		Incorrect:  card.Incorrect,
		Unanswered: card.Unanswered,
		GradedAt:   e.now().UTC(),
	}
	if err := e.attempts.SaveGrade(ctx, attemptID, grade); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("save grade: %w", err)
	}
	attempt.ApplyGrade(grade)

	e.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("score", score).
		Bool("passed", grade.Passed).
		Int("threshold", threshold).
		Int("correct", grade.Correct).
		Int("incorrect", grade.Incorrect).
		Int("unanswered", grade.Unanswered).
		Msg("Attempt graded")

	return &model.GradeResult{Status: model.GradeStatusGraded, Attempt: attempt}, nil
}

// awaitAnswers polls the ledger until at least one row shows up and no
// acknowledged write is still in flight, or the bound is exhausted. An empty
// slice with a nil error means exhausted.
func (e *GradingEngine) awaitAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	pending, _ := e.answers.(PendingWriteCounter)

	for poll := 1; poll <= e.opts.PollAttempts; poll++ {
		ready, answers, err := e.readSettled(ctx, pending, attemptID, poll)
		if err != nil {
			return nil, err
		}
		if ready {
			return answers, nil
		}

		if poll < e.opts.PollAttempts {
			if err := e.wait(ctx, e.opts.PollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (e *GradingEngine) readSettled(ctx context.Context, pending PendingWriteCounter, attemptID uuid.UUID, poll int) (bool, []model.Answer, error) {
	if pending != nil {
		n, err := pending.PendingWrites(ctx, attemptID)
		if err != nil {
			return false, nil, fmt.Errorf("check pending writes: %w", err)
		}
		if n > 0 {
			e.log.Debug().
				Str("attempt_id", attemptID.String()).
				Int("poll", poll).
				Int64("count", n).
				Msg("Answer batches still queued")
			return false, nil, nil
		}
	}

	answers, err := e.answers.GetAll(ctx, attemptID)
	if err != nil {
		return false, nil, fmt.Errorf("read answers: %w", err)
	}
	if len(answers) == 0 {
		e.log.Debug().
			Str("attempt_id", attemptID.String()).
			Int("poll", poll).
			Msg("Answer ledger empty")
		return false, nil, nil
	}
	return true, answers, nil
}

func (e *GradingEngine) fullBank() bool {
	return e.opts.Denominator == config.DenominatorQuestionBank
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
