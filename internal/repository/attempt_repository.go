package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/certify-backend/internal/model"
)

const attemptColumns = `id, exam_id, student_id, is_simulator, created_at,
	score, passed, correct_count, incorrect_count, unanswered_count, graded_at`

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new ungraded attempt. Returns ErrDuplicate when the
// single-attempt unique index rejects it.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, is_simulator)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.ExamID, a.StudentID, a.IsSimulator,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.IsSimulator, &a.CreatedAt,
		&a.Score, &a.Passed, &a.CorrectCount, &a.IncorrectCount, &a.UnansweredCount, &a.GradedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ExistsForStudent reports whether the student already has an attempt for the exam.
func (r *AttemptRepository) ExistsForStudent(ctx context.Context, examID, studentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exam_attempts WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&exists)
	return exists, err
}

// SaveGrade writes every grading column in a single update.
func (r *AttemptRepository) SaveGrade(ctx context.Context, id uuid.UUID, g model.Grade) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET score = $1, passed = $2, correct_count = $3, incorrect_count = $4,
		     unanswered_count = $5, graded_at = $6
		 WHERE id = $7`,
		g.Score, g.Passed, g.Correct, g.Incorrect, g.Unanswered, g.GradedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
