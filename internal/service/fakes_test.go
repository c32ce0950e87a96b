package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
)

var testLog = zerolog.Nop()

// fakeAttempts mimics the partial unique index on (exam_id, student_id).
type fakeAttempts struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*model.ExamAttempt
	saveCalls int
	saveErr   error
	// existsOverride forces ExistsForStudent to report false to exercise the race path.
	existsOverride bool
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{rows: make(map[uuid.UUID]*model.ExamAttempt)}
}

func (f *fakeAttempts) Create(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !a.IsSimulator {
		for _, r := range f.rows {
			if !r.IsSimulator && r.ExamID == a.ExamID && r.StudentID == a.StudentID {
				return repository.ErrDuplicate
			}
		}
	}
	a.CreatedAt = time.Now()
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeAttempts) ExistsForStudent(_ context.Context, examID, studentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsOverride {
		return false, nil
	}
	for _, r := range f.rows {
		if r.ExamID == examID && r.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAttempts) SaveGrade(_ context.Context, id uuid.UUID, g model.Grade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	r, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.ApplyGrade(g)
	return nil
}

func (f *fakeAttempts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeLedger hides rows until hiddenPolls reads have happened.
type fakeLedger struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]map[uuid.UUID]*uuid.UUID
	hiddenPolls int
	reads       int
	readErr     error
	upsertErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[uuid.UUID]map[uuid.UUID]*uuid.UUID)}
}

func (f *fakeLedger) Upsert(_ context.Context, attemptID uuid.UUID, answers []model.AnswerSelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	m, ok := f.rows[attemptID]
	if !ok {
		m = make(map[uuid.UUID]*uuid.UUID)
		f.rows[attemptID] = m
	}
	for _, a := range answers {
		m[a.QuestionID] = a.OptionID
	}
	return nil
}

func (f *fakeLedger) GetAll(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.reads <= f.hiddenPolls {
		return nil, nil
	}
	var out []model.Answer
	for q, o := range f.rows[attemptID] {
		out = append(out, model.Answer{AttemptID: attemptID, QuestionID: q, SelectedOptionID: o})
	}
	return out, nil
}

type fakeCatalog struct {
	policies map[uuid.UUID]*model.ExamPolicy
	keys     map[uuid.UUID]*model.AnswerKey
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		policies: make(map[uuid.UUID]*model.ExamPolicy),
		keys:     make(map[uuid.UUID]*model.AnswerKey),
	}
}

func (f *fakeCatalog) GetPolicy(_ context.Context, examID uuid.UUID) (*model.ExamPolicy, error) {
	p, ok := f.policies[examID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) GetAnswerKey(_ context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	k, ok := f.keys[examID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return k, nil
}

// testExam is a four-question exam with three options per question.
type testExam struct {
	id        uuid.UUID
	questions []uuid.UUID
	correct   []uuid.UUID
	wrong     []uuid.UUID
}

func (f *fakeCatalog) addExam(simulator bool) *testExam {
	e := &testExam{id: uuid.New()}
	key := model.NewAnswerKey(e.id)
	for i := 0; i < 4; i++ {
		q, c, w, w2 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
		correct := c
		key.Questions[q] = model.QuestionKey{
			QuestionID:      q,
			Position:        i,
			OptionIDs:       []uuid.UUID{c, w, w2},
			CorrectOptionID: &correct,
		}
		e.questions = append(e.questions, q)
		e.correct = append(e.correct, c)
		e.wrong = append(e.wrong, w)
	}
	f.policies[e.id] = &model.ExamPolicy{ExamID: e.id, IsSimulator: simulator}
	f.keys[e.id] = key
	return e
}

type fakeSettings struct {
	values map[string]string
	err    error
}

func (f *fakeSettings) GetByKey(_ context.Context, key string) (*model.AppSetting, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.AppSetting{Key: key, Value: v}, nil
}

type fakeCredentials struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
	deletes int
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{entries: make(map[string]uuid.UUID)}
}

func (f *fakeCredentials) Put(_ context.Context, jti string, attemptID uuid.UUID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[jti] = attemptID
	return nil
}

func (f *fakeCredentials) Get(_ context.Context, jti string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.entries[jti]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	return id, nil
}

func (f *fakeCredentials) Delete(_ context.Context, jti string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.entries, jti)
	return nil
}

type fakeRegrade struct {
	queued []uuid.UUID
	err    error
}

func (f *fakeRegrade) Enqueue(_ context.Context, attemptID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, attemptID)
	return nil
}

var errStorageDown = errors.New("storage unavailable")

// noWait records waits without sleeping.
type noWait struct{ calls int }

func (w *noWait) wait(ctx context.Context, _ time.Duration) error {
	w.calls++
	return ctx.Err()
}

func newTestEngine(attempts *fakeAttempts, ledger *fakeLedger, catalog *fakeCatalog, settings SettingReader, opts GradingOptions) (*GradingEngine, *noWait) {
	e := NewGradingEngine(attempts, ledger, catalog, NewThresholdProvider(settings, DefaultPassThreshold, testLog), opts, testLog)
	w := &noWait{}
	e.wait = w.wait
	return e, w
}
