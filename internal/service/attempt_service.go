package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
)

// AttemptService is the entry point used by the transport layer. It wires the
// registrar, the session binder, the ledger and the grading engine together.
type AttemptService struct {
	registrar *Registrar
	binder    *SessionBinder
	engine    *GradingEngine
	attempts  AttemptRepository
	answers   AnswerLedger
	exams     ExamCatalog
	regrade   RegradeQueue
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService. regrade may be nil, in which
// case deferred outcomes are only reported to the caller.
func NewAttemptService(
	registrar *Registrar,
	binder *SessionBinder,
	engine *GradingEngine,
	attempts AttemptRepository,
	answers AnswerLedger,
	exams ExamCatalog,
	regrade RegradeQueue,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		registrar: registrar,
		binder:    binder,
		engine:    engine,
		attempts:  attempts,
		answers:   answers,
		exams:     exams,
		regrade:   regrade,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start creates an attempt and binds it to a new credential.
func (s *AttemptService) Start(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, *Binding, error) {
	attempt, err := s.registrar.CreateAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, nil, err
	}
	binding, err := s.binder.Bind(ctx, attempt.ID)
	if err != nil {
		return nil, nil, err
	}
	return attempt, binding, nil
}

// Resolve returns the binding for cred.
func (s *AttemptService) Resolve(ctx context.Context, cred Credential) (*Binding, error) {
	return s.binder.Resolve(ctx, cred)
}

// Current returns the attempt bound to cred with its saved answers.
func (s *AttemptService) Current(ctx context.Context, cred Credential) (*model.AttemptSummary, error) {
	binding, err := s.binder.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}
	attempt, err := s.getAttempt(ctx, binding.AttemptID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.GetAll(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}

	summary := &model.AttemptSummary{
		Attempt:   *attempt,
		Answers:   make([]model.AnswerSelection, 0, len(answers)),
		ExpiresAt: binding.ExpiresAt,
	}
	for _, a := range answers {
		summary.Answers = append(summary.Answers, model.AnswerSelection{QuestionID: a.QuestionID, OptionID: a.SelectedOptionID})
		if a.SelectedOptionID != nil {
			summary.AnsweredCount++
		}
	}
	return summary, nil
}

// SubmitAnswers writes a batch for the attempt bound to cred.
func (s *AttemptService) SubmitAnswers(ctx context.Context, cred Credential, batch []model.AnswerSelection) error {
	binding, err := s.binder.Resolve(ctx, cred)
	if err != nil {
		return err
	}
	return s.SubmitAnswersFor(ctx, binding.AttemptID, batch)
}

// SubmitAnswersFor validates the batch against the exam and writes it to the ledger.
// Callers must have resolved attemptID from a credential.
func (s *AttemptService) SubmitAnswersFor(ctx context.Context, attemptID uuid.UUID, batch []model.AnswerSelection) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: batch is empty", ErrInvalidAnswer)
	}
	if len(batch) > model.MaxAnswerBatch {
		return fmt.Errorf("%w: batch exceeds %d answers", ErrInvalidAnswer, model.MaxAnswerBatch)
	}

	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.IsGraded() {
		return ErrAttemptGraded
	}

	key, err := s.exams.GetAnswerKey(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("get answer key: %w", err)
	}
	for _, a := range batch {
		if !key.HasQuestion(a.QuestionID) {
			return fmt.Errorf("%w: question %s is not part of this exam", ErrInvalidAnswer, a.QuestionID)
		}
		if a.OptionID != nil && !key.HasOption(a.QuestionID, *a.OptionID) {
			return fmt.Errorf("%w: option %s does not belong to question %s", ErrInvalidAnswer, *a.OptionID, a.QuestionID)
		}
	}

	if err := s.answers.Upsert(ctx, attemptID, batch); err != nil {
		if errors.Is(err, repository.ErrAttemptClosed) {
			return ErrAttemptGraded
		}
		return fmt.Errorf("upsert answers: %w", err)
	}
	return nil
}

// GradeInput identifies the attempt to grade. A valid Credential takes
// precedence over AttemptID.
type GradeInput struct {
	AttemptID   uuid.UUID
	Credential  Credential
	FinalSubmit bool
}

// Grade grades an attempt. On a final submission the credential is revoked
// once the run has either graded or deferred; on an error it is kept so the
// client can retry.
func (s *AttemptService) Grade(ctx context.Context, in GradeInput) (*model.GradeResult, error) {
	attemptID := in.AttemptID
	var binding *Binding
	if in.Credential != "" {
		b, err := s.binder.Resolve(ctx, in.Credential)
		switch {
		case err == nil:
			binding = b
			attemptID = b.AttemptID
		case !errors.Is(err, ErrCredentialInvalid):
			return nil, err
		}
	}
	if attemptID == uuid.Nil {
		return nil, ErrCredentialInvalid
	}

	result, err := s.engine.Grade(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if result.Status == model.GradeStatusDeferred && s.regrade != nil {
		if err := s.regrade.Enqueue(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to enqueue regrade")
		}
	}

	if in.FinalSubmit && binding != nil {
		if err := s.binder.Revoke(ctx, binding.Credential); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to revoke credential")
		}
	}

	return result, nil
}

// Feedback returns per-question correctness for a graded attempt.
func (s *AttemptService) Feedback(ctx context.Context, attemptID uuid.UUID) (*model.Feedback, error) {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsGraded() {
		return nil, ErrAttemptNotGraded
	}

	answers, err := s.answers.GetAll(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	key, err := s.exams.GetAnswerKey(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	card := ScoreAnswers(answers, key, s.engine.fullBank())
	return &model.Feedback{Attempt: *attempt, Questions: card.Marks}, nil
}

func (s *AttemptService) getAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}
