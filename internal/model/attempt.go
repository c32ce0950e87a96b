package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamAttempt represents one student taking one exam.
// The grading fields are either all nil (ungraded) or all set.
type ExamAttempt struct {
	ID              uuid.UUID  `json:"id"`
	ExamID          uuid.UUID  `json:"exam_id"`
	StudentID       uuid.UUID  `json:"student_id"`
	IsSimulator     bool       `json:"is_simulator"`
	CreatedAt       time.Time  `json:"created_at"`
	Score           *int       `json:"score"`
	Passed          *bool      `json:"passed"`
	CorrectCount    *int       `json:"correct_count"`
	IncorrectCount  *int       `json:"incorrect_count"`
	UnansweredCount *int       `json:"unanswered_count"`
	GradedAt        *time.Time `json:"graded_at"`
}

// IsGraded reports whether a grade has been persisted.
func (a *ExamAttempt) IsGraded() bool {
	return a.Score != nil
}

// ApplyGrade copies g onto the attempt's grading fields.
func (a *ExamAttempt) ApplyGrade(g Grade) {
	score, passed := g.Score, g.Passed
	correct, incorrect, unanswered := g.Correct, g.Incorrect, g.Unanswered
	gradedAt := g.GradedAt
	a.Score = &score
	a.Passed = &passed
	a.CorrectCount = &correct
	a.IncorrectCount = &incorrect
	a.UnansweredCount = &unanswered
	a.GradedAt = &gradedAt
}

// Grade is the result persisted onto an attempt in one update.
type Grade struct {
	Score      int       `json:"score"`
	Passed     bool      `json:"passed"`
	Correct    int       `json:"correct"`
	Incorrect  int       `json:"incorrect"`
	Unanswered int       `json:"unanswered"`
	GradedAt   time.Time `json:"graded_at"`
}

// AttemptSummary is returned by GetCurrentAttempt.
type AttemptSummary struct {
	Attempt       ExamAttempt       `json:"attempt"`
	Answers       []AnswerSelection `json:"answers"`
	AnsweredCount int               `json:"answered_count"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// CreateAttemptRequest is the payload for opening a new attempt.
type CreateAttemptRequest struct {
	ExamID    string `json:"exam_id" binding:"required,uuid"`
	StudentID string `json:"student_id" binding:"required,uuid"`
}

// GradeAttemptRequest is the payload for grading. AttemptID is optional when
// the session cookie is present.
type GradeAttemptRequest struct {
	AttemptID   string `json:"attempt_id" binding:"omitempty,uuid"`
	FinalSubmit bool   `json:"final_submit"`
}
