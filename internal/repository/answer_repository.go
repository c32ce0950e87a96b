package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/certify-backend/internal/model"
)

// AnswerRepository is the durable Answer Ledger in PostgreSQL.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert writes the batch stamped with the current time.
func (r *AnswerRepository) Upsert(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection) error {
	return r.UpsertAt(ctx, attemptID, answers, time.Now())
}

// UpsertAt writes the whole batch in one statement, so readers observe all of
// it or none of it. A row is only overwritten by a write that is not older
// than the one it holds. Graded attempts reject the batch with
// ErrAttemptClosed; the attempt row is share-locked so grading cannot commit
// halfway through the write.
func (r *AnswerRepository) UpsertAt(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection, writtenAt time.Time) error {
	answers = dedupeSelections(answers)
	if len(answers) == 0 {
		return nil
	}

	questionIDs := make([]uuid.UUID, 0, len(answers))
	optionIDs := make([]pgtype.UUID, 0, len(answers))
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
		opt := pgtype.UUID{}
		if a.OptionID != nil {
			opt = pgtype.UUID{Bytes: *a.OptionID, Valid: true}
		}
		optionIDs = append(optionIDs, opt)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var graded bool
	err = tx.QueryRow(ctx,
		`SELECT score IS NOT NULL FROM exam_attempts WHERE id = $1 FOR SHARE`,
		attemptID).Scan(&graded)
	if err != nil {
		return notFound(err)
	}
	if graded {
		return ErrAttemptClosed
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO answers (attempt_id, question_id, selected_option_id, updated_at)
		 SELECT $1, u.question_id, u.option_id, $4
		 FROM UNNEST(
			$2::uuid[],
			$3::uuid[]
		 ) AS u (question_id, option_id)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     updated_at = EXCLUDED.updated_at
		 WHERE answers.updated_at <= EXCLUDED.updated_at`,
		attemptID, questionIDs, optionIDs, writtenAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetAll returns every answer row for the attempt.
func (r *AnswerRepository) GetAll(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, selected_option_id, updated_at
		 FROM answers WHERE attempt_id = $1
		 ORDER BY updated_at ASC, question_id ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOptionID, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
