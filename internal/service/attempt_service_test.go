package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
)

type serviceFixture struct {
	svc      *AttemptService
	attempts *fakeAttempts
	ledger   *fakeLedger
	catalog  *fakeCatalog
	creds    *fakeCredentials
	regrade  *fakeRegrade
	exam     *testExam
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		attempts: newFakeAttempts(),
		ledger:   newFakeLedger(),
		catalog:  newFakeCatalog(),
		creds:    newFakeCredentials(),
		regrade:  &fakeRegrade{},
	}
	f.exam = f.catalog.addExam(false)
	engine, _ := newTestEngine(f.attempts, f.ledger, f.catalog, thresholdSettings("75"), DefaultGradingOptions())
	f.svc = NewAttemptService(
		NewRegistrar(f.attempts, f.catalog, testLog),
		NewSessionBinder("test-secret", time.Hour, f.creds),
		engine,
		f.attempts, f.ledger, f.catalog, f.regrade, testLog,
	)
	return f
}

func (f *serviceFixture) start(t *testing.T) (*model.ExamAttempt, *Binding) {
	t.Helper()
	a, b, err := f.svc.Start(context.Background(), f.exam.id, uuid.New())
	require.NoError(t, err)
	return a, b
}

func (f *serviceFixture) selections(correct ...bool) []model.AnswerSelection {
	out := make([]model.AnswerSelection, 0, len(correct))
	for i, c := range correct {
		opt := f.exam.wrong[i]
		if c {
			opt = f.exam.correct[i]
		}
		out = append(out, model.AnswerSelection{QuestionID: f.exam.questions[i], OptionID: &opt})
	}
	return out
}

func TestAttemptService_FullFlow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	attempt, binding := f.start(t)

	require.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true, true, true, false)))
	// Resending the same batch leaves one row per question.
	require.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true, true, true, false)))
	assert.Len(t, f.ledger.rows[attempt.ID], 4)

	summary, err := f.svc.Current(ctx, binding.Credential)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, summary.Attempt.ID)
	assert.Equal(t, 4, summary.AnsweredCount)

	res, err := f.svc.Grade(ctx, GradeInput{Credential: binding.Credential, FinalSubmit: true})
	require.NoError(t, err)
	assert.Equal(t, model.GradeStatusGraded, res.Status)
	assert.Equal(t, 75, *res.Attempt.Score)
	assert.True(t, *res.Attempt.Passed)

	// Final submission revoked the credential.
	_, err = f.svc.Current(ctx, binding.Credential)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	fb, err := f.svc.Feedback(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Len(t, fb.Questions, 4)
	a := fb.Attempt
	assert.Equal(t, len(fb.Questions), *a.CorrectCount+*a.IncorrectCount+*a.UnansweredCount)
	assert.Equal(t, model.MarkIncorrect, fb.Questions[3].Mark)
	assert.Equal(t, f.exam.correct[3], *fb.Questions[3].CorrectOptionID)
}

func TestAttemptService_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, binding := f.start(t)

	assert.ErrorIs(t, f.svc.SubmitAnswers(ctx, binding.Credential, nil), ErrInvalidAnswer)

	foreignQuestion := []model.AnswerSelection{{QuestionID: uuid.New()}}
	assert.ErrorIs(t, f.svc.SubmitAnswers(ctx, binding.Credential, foreignQuestion), ErrInvalidAnswer)

	crossed := f.exam.correct[1]
	wrongOption := []model.AnswerSelection{{QuestionID: f.exam.questions[0], OptionID: &crossed}}
	assert.ErrorIs(t, f.svc.SubmitAnswers(ctx, binding.Credential, wrongOption), ErrInvalidAnswer)

	tooMany := make([]model.AnswerSelection, model.MaxAnswerBatch+1)
	assert.ErrorIs(t, f.svc.SubmitAnswers(ctx, binding.Credential, tooMany), ErrInvalidAnswer)

	assert.ErrorIs(t, f.svc.SubmitAnswers(ctx, "bogus", f.selections(true)), ErrCredentialInvalid)
	assert.Empty(t, f.ledger.rows)

	// A cleared selection is accepted.
	cleared := []model.AnswerSelection{{QuestionID: f.exam.questions[0]}}
	assert.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, cleared))
}

func TestAttemptService_RejectsAnswersAfterGrading(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, binding := f.start(t)

	require.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true)))
	_, err := f.svc.Grade(ctx, GradeInput{Credential: binding.Credential})
	require.NoError(t, err)

	err = f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(false))
	assert.ErrorIs(t, err, ErrAttemptGraded)
}

func TestAttemptService_ClosedLedgerMapsToGraded(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, binding := f.start(t)

	f.ledger.upsertErr = repository.ErrAttemptClosed
	err := f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true))
	assert.ErrorIs(t, err, ErrAttemptGraded)
}

func TestAttemptService_DeferredFinalSubmitRevokesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	attempt, binding := f.start(t)

	res, err := f.svc.Grade(ctx, GradeInput{Credential: binding.Credential, FinalSubmit: true})
	require.NoError(t, err)
	assert.Equal(t, model.GradeStatusDeferred, res.Status)
	assert.Equal(t, []uuid.UUID{attempt.ID}, f.regrade.queued)
	assert.Equal(t, 1, f.creds.deletes)

	_, err = f.svc.Feedback(ctx, attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptNotGraded)
}

func TestAttemptService_GradeErrorKeepsCredential(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, binding := f.start(t)
	require.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true)))
	f.attempts.saveErr = errStorageDown

	_, err := f.svc.Grade(ctx, GradeInput{Credential: binding.Credential, FinalSubmit: true})
	assert.ErrorIs(t, err, errStorageDown)
	assert.Zero(t, f.creds.deletes)

	_, err = f.svc.Resolve(ctx, binding.Credential)
	assert.NoError(t, err)
}

func TestAttemptService_GradeByAttemptID(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	attempt, binding := f.start(t)
	require.NoError(t, f.svc.SubmitAnswers(ctx, binding.Credential, f.selections(true, true)))

	res, err := f.svc.Grade(ctx, GradeInput{AttemptID: attempt.ID, FinalSubmit: true})
	require.NoError(t, err)
	assert.Equal(t, 100, *res.Attempt.Score)
	// No credential was presented, so nothing is revoked.
	assert.Zero(t, f.creds.deletes)

	_, err = f.svc.Grade(ctx, GradeInput{})
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	_, err = f.svc.Grade(ctx, GradeInput{AttemptID: uuid.New()})
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestAttemptService_StartSecondAttemptFails(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	student := uuid.New()

	_, _, err := f.svc.Start(ctx, f.exam.id, student)
	require.NoError(t, err)
	_, _, err = f.svc.Start(ctx, f.exam.id, student)
	assert.ErrorIs(t, err, ErrAttemptAlreadyExists)
	assert.Len(t, f.creds.entries, 1)
}
