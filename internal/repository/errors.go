package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/certify-backend/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
	// ErrAttemptClosed is returned when answers are written to an attempt that is already graded.
	ErrAttemptClosed = errors.New("attempt closed")
)

// notFound maps driver no-rows errors to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a unique constraint failure from
// PostgreSQL (SQLSTATE 23505) or SQLite.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// dedupeSelections keeps the last selection per question, preserving first-seen order.
// A single upsert statement cannot touch the same row twice.
func dedupeSelections(in []model.AnswerSelection) []model.AnswerSelection {
	idx := make(map[uuid.UUID]int, len(in))
	out := make([]model.AnswerSelection, 0, len(in))
	for _, s := range in {
		if i, ok := idx[s.QuestionID]; ok {
			out[i] = s
			continue
		}
		idx[s.QuestionID] = len(out)
		out = append(out, s)
	}
	return out
}
