package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/model"
)

// SQLiteStore backs every repository concern with a single SQLite database.
// Used for single-node deployments and tests. Timestamps are unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened SQLite database (see database.OpenSQLite).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ─── Attempts ───────────────────────────────────────────────────────

func (s *SQLiteStore) Create(ctx context.Context, a *model.ExamAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = fromMillis(toMillis(s.now()))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, is_simulator, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID.String(), a.ExamID.String(), a.StudentID.String(), a.IsSimulator, toMillis(a.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	var (
		a                                model.ExamAttempt
		createdAt                        int64
		score, correct, incorrect, unans sql.NullInt64
		passed                           sql.NullBool
		gradedAt                         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, student_id, is_simulator, created_at,
		        score, passed, correct_count, incorrect_count, unanswered_count, graded_at
		 FROM exam_attempts WHERE id = ?`, id.String(),
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.IsSimulator, &createdAt,
		&score, &passed, &correct, &incorrect, &unans, &gradedAt)
	if err != nil {
		return nil, notFound(err)
	}
	a.CreatedAt = fromMillis(createdAt)
	if score.Valid {
		a.ApplyGrade(model.Grade{
			Score:      int(score.Int64),
			Passed:     passed.Bool,
			Correct:    int(correct.Int64),
			Incorrect:  int(incorrect.Int64),
			Unanswered: int(unans.Int64),
			GradedAt:   fromMillis(gradedAt.Int64),
		})
	}
	return &a, nil
}

func (s *SQLiteStore) ExistsForStudent(ctx context.Context, examID, studentID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM exam_attempts WHERE exam_id = ? AND student_id = ?)`,
		examID.String(), studentID.String(),
	).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) SaveGrade(ctx context.Context, id uuid.UUID, g model.Grade) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_attempts
		 SET score = ?, passed = ?, correct_count = ?, incorrect_count = ?,
		     unanswered_count = ?, graded_at = ?
		 WHERE id = ?`,
		g.Score, g.Passed, g.Correct, g.Incorrect, g.Unanswered, toMillis(g.GradedAt), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Answers ────────────────────────────────────────────────────────

func (s *SQLiteStore) Upsert(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection) error {
	return s.UpsertAt(ctx, attemptID, answers, s.now())
}

// UpsertAt applies the batch inside one transaction. Graded attempts reject
// the batch with ErrAttemptClosed.
func (s *SQLiteStore) UpsertAt(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection, writtenAt time.Time) error {
	answers = dedupeSelections(answers)
	if len(answers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var graded bool
	err = tx.QueryRowContext(ctx,
		`SELECT score IS NOT NULL FROM exam_attempts WHERE id = ?`,
		attemptID.String()).Scan(&graded)
	if err != nil {
		return notFound(err)
	}
	if graded {
		return ErrAttemptClosed
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, selected_option_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = excluded.selected_option_id,
		     updated_at = excluded.updated_at
		 WHERE answers.updated_at <= excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := toMillis(writtenAt)
	for _, a := range answers {
		var opt any
		if a.OptionID != nil {
			opt = a.OptionID.String()
		}
		if _, err := stmt.ExecContext(ctx, attemptID.String(), a.QuestionID.String(), opt, ts); err != nil {
			return fmt.Errorf("upsert answer %s: %w", a.QuestionID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAll(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, question_id, selected_option_id, updated_at
		 FROM answers WHERE attempt_id = ?
		 ORDER BY updated_at ASC, question_id ASC`, attemptID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var (
			a         model.Answer
			opt       uuid.NullUUID
			updatedAt int64
		)
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &opt, &updatedAt); err != nil {
			return nil, err
		}
		if opt.Valid {
			id := opt.UUID
			a.SelectedOptionID = &id
		}
		a.UpdatedAt = fromMillis(updatedAt)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ─── Exams ──────────────────────────────────────────────────────────

func (s *SQLiteStore) GetPolicy(ctx context.Context, examID uuid.UUID) (*model.ExamPolicy, error) {
	p := &model.ExamPolicy{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_simulator FROM exams WHERE id = ?`, examID.String(),
	).Scan(&p.ExamID, &p.IsSimulator)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *SQLiteStore) GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	if _, err := s.GetPolicy(ctx, examID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.position, o.id, o.is_correct
		 FROM questions q
		 LEFT JOIN options o ON o.question_id = q.id
		 WHERE q.exam_id = ?
		 ORDER BY q.position ASC, o.position ASC`, examID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := newAnswerKeyBuilder(examID)
	for rows.Next() {
		var (
			questionID uuid.UUID
			position   int
			optionID   uuid.NullUUID
			isCorrect  sql.NullBool
		)
		if err := rows.Scan(&questionID, &position, &optionID, &isCorrect); err != nil {
			return nil, err
		}
		var opt *uuid.UUID
		if optionID.Valid {
			opt = &optionID.UUID
		}
		b.add(questionID, position, opt, isCorrect.Valid && isCorrect.Bool)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.build(), nil
}

func (s *SQLiteStore) ListExamIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM exams ORDER BY created_at ASC`)
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

func (s *SQLiteStore) SaveExam(ctx context.Context, def *model.ExamDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, is_simulator, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, is_simulator = excluded.is_simulator`,
		def.ID.String(), def.Title, def.IsSimulator, toMillis(s.now())); err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = ?`, def.ID.String()); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}
	for qi, q := range def.Questions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, exam_id, prompt, position) VALUES (?, ?, ?, ?)`,
			q.ID.String(), def.ID.String(), q.Prompt, qi); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for oi, o := range q.Options {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO options (id, question_id, label, position, is_correct) VALUES (?, ?, ?, ?, ?)`,
				o.ID.String(), q.ID.String(), o.Label, oi, o.Correct); err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ─── Settings ───────────────────────────────────────────────────────

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*model.AppSetting, error) {
	var (
		st        model.AppSetting
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM app_settings WHERE key = ?`, key,
	).Scan(&st.Key, &st.Value, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (s *SQLiteStore) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(s.now()))
	return err
}

// ─── Session credentials ────────────────────────────────────────────

func (s *SQLiteStore) Put(ctx context.Context, jti string, attemptID uuid.UUID, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_sessions (jti, attempt_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (jti) DO UPDATE SET attempt_id = excluded.attempt_id, expires_at = excluded.expires_at`,
		jti, attemptID.String(), toMillis(s.now().Add(ttl)))
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, jti string) (uuid.UUID, error) {
	var (
		id        uuid.UUID
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_id, expires_at FROM attempt_sessions WHERE jti = ?`, jti,
	).Scan(&id, &expiresAt)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	if toMillis(s.now()) >= expiresAt {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, jti string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attempt_sessions WHERE jti = ?`, jti)
	return err
}
