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

// Registrar enforces the attempt creation policy.
type Registrar struct {
	attempts AttemptRepository
	exams    ExamCatalog
	log      zerolog.Logger
}

// NewRegistrar creates a new Registrar.
func NewRegistrar(attempts AttemptRepository, exams ExamCatalog, log zerolog.Logger) *Registrar {
	return &Registrar{
		attempts: attempts,
		exams:    exams,
		log:      log.With().Str("component", "registrar").Logger(),
	}
}

// CreateAttempt opens a new ungraded attempt.
// Single-attempt exams fail with ErrAttemptAlreadyExists when the student already has one;
// simulator exams always get a fresh attempt.
func (r *Registrar) CreateAttempt(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	policy, err := r.exams.GetPolicy(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam policy: %w", err)
	}

	if !policy.IsSimulator {
		// Fast path only. The unique index on (exam_id, student_id) is what closes the race.
		exists, err := r.attempts.ExistsForStudent(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("check existing attempt: %w", err)
		}
		if exists {
			return nil, ErrAttemptAlreadyExists
		}
	}

	attempt := &model.ExamAttempt{
		ID:          uuid.New(),
		ExamID:      examID,
		StudentID:   studentID,
		IsSimulator: policy.IsSimulator,
	}
	if err := r.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAttemptAlreadyExists
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	r.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Str("student_id", studentID.String()).
		Bool("is_simulator", policy.IsSimulator).
		Msg("Attempt created")

	return attempt, nil
}
