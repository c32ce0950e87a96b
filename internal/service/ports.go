package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/model"
)

// AttemptRepository is durable storage for attempt records.
type AttemptRepository interface {
	Create(ctx context.Context, a *model.ExamAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	ExistsForStudent(ctx context.Context, examID, studentID uuid.UUID) (bool, error)
	SaveGrade(ctx context.Context, id uuid.UUID, g model.Grade) error
}

// AnswerLedger is durable storage for per-question selections.
type AnswerLedger interface {
	Upsert(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerSelection) error
	GetAll(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
}

// PendingWriteCounter is implemented by ledgers that acknowledge writes
// before they are durable. The grading engine does not score an attempt
// while it still has writes in flight.
type PendingWriteCounter interface {
	PendingWrites(ctx context.Context, attemptID uuid.UUID) (int64, error)
}

// ExamCatalog serves exam policy and correctness data.
type ExamCatalog interface {
	GetPolicy(ctx context.Context, examID uuid.UUID) (*model.ExamPolicy, error)
	GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
}

// SettingReader looks up application settings.
type SettingReader interface {
	GetByKey(ctx context.Context, key string) (*model.AppSetting, error)
}

// CredentialStore tracks live session credentials by token id.
type CredentialStore interface {
	Put(ctx context.Context, jti string, attemptID uuid.UUID, ttl time.Duration) error
	Get(ctx context.Context, jti string) (uuid.UUID, error)
	Delete(ctx context.Context, jti string) error
}

// RegradeQueue schedules a later grading run for a deferred attempt.
type RegradeQueue interface {
	Enqueue(ctx context.Context, attemptID uuid.UUID) error
}
