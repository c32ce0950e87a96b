package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/certify-backend/internal/model"
)

// ExamRepository reads exam policy and correctness data from PostgreSQL.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetPolicy returns the attempt policy for an exam.
func (r *ExamRepository) GetPolicy(ctx context.Context, examID uuid.UUID) (*model.ExamPolicy, error) {
	p := &model.ExamPolicy{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, is_simulator FROM exams WHERE id = $1`, examID,
	).Scan(&p.ExamID, &p.IsSimulator)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetAnswerKey loads every question of the exam with its options.
// A question with zero or several options flagged correct gets a nil CorrectOptionID.
func (r *ExamRepository) GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	if _, err := r.GetPolicy(ctx, examID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.position, o.id, o.is_correct
		 FROM questions q
		 LEFT JOIN options o ON o.question_id = q.id
		 WHERE q.exam_id = $1
		 ORDER BY q.position ASC, o.position ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := newAnswerKeyBuilder(examID)
	for rows.Next() {
		var (
			questionID uuid.UUID
			position   int
			optionID   *uuid.UUID
			isCorrect  *bool
		)
		if err := rows.Scan(&questionID, &position, &optionID, &isCorrect); err != nil {
			return nil, err
		}
		b.add(questionID, position, optionID, isCorrect != nil && *isCorrect)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// ListExamIDs returns every exam id, used to prewarm caches.
func (r *ExamRepository) ListExamIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM exams ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveExam upserts the exam and replaces its questions and options in one transaction.
func (r *ExamRepository) SaveExam(ctx context.Context, def *model.ExamDefinition) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exams (id, title, is_simulator) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, is_simulator = EXCLUDED.is_simulator`,
			def.ID, def.Title, def.IsSimulator); err != nil {
			return fmt.Errorf("upsert exam: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, def.ID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}

		batch := &pgx.Batch{}
		for qi, q := range def.Questions {
			batch.Queue(`INSERT INTO questions (id, exam_id, prompt, position) VALUES ($1, $2, $3, $4)`,
				q.ID, def.ID, q.Prompt, qi)
			for oi, o := range q.Options {
				batch.Queue(`INSERT INTO options (id, question_id, label, position, is_correct) VALUES ($1, $2, $3, $4, $5)`,
					o.ID, q.ID, o.Label, oi, o.Correct)
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// answerKeyBuilder folds question/option rows into an AnswerKey.
type answerKeyBuilder struct {
	key     *model.AnswerKey
	correct map[uuid.UUID]int
}

func newAnswerKeyBuilder(examID uuid.UUID) *answerKeyBuilder {
	return &answerKeyBuilder{key: model.NewAnswerKey(examID), correct: make(map[uuid.UUID]int)}
}

func (b *answerKeyBuilder) add(questionID uuid.UUID, position int, optionID *uuid.UUID, isCorrect bool) {
	q, ok := b.key.Questions[questionID]
	if !ok {
		q = model.QuestionKey{QuestionID: questionID, Position: position, OptionIDs: []uuid.UUID{}}
	}
	if optionID != nil {
		q.OptionIDs = append(q.OptionIDs, *optionID)
		if isCorrect {
			b.correct[questionID]++
			id := *optionID
			q.CorrectOptionID = &id
		}
	}
	b.key.Questions[questionID] = q
}

func (b *answerKeyBuilder) build() *model.AnswerKey {
	for id, n := range b.correct {
		if n != 1 {
			q := b.key.Questions[id]
			q.CorrectOptionID = nil
			b.key.Questions[id] = q
		}
	}
	return b.key
}
