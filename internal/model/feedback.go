package model

import "github.com/google/uuid"

// GradeStatus is the outcome of a grading run.
type GradeStatus string

const (
	GradeStatusGraded GradeStatus = "graded"
	// GradeStatusDeferred means no answers were observed within the poll bound.
	// Nothing was persisted and grading may be retried.
	GradeStatusDeferred GradeStatus = "deferred"
)

// GradeResult is returned by the Grading Engine.
type GradeResult struct {
	Status  GradeStatus  `json:"status"`
	Attempt *ExamAttempt `json:"attempt"`
}

// Mark classifies one question in an attempt.
type Mark string

const (
	MarkCorrect    Mark = "correct"
	MarkIncorrect  Mark = "incorrect"
	MarkUnanswered Mark = "unanswered"
)

// QuestionFeedback is per-question correctness detail.
type QuestionFeedback struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"`
	CorrectOptionID  *uuid.UUID `json:"correct_option_id"`
	Mark             Mark       `json:"mark"`
}

// Feedback is the post-grading view of an attempt.
type Feedback struct {
	Attempt   ExamAttempt        `json:"attempt"`
	Questions []QuestionFeedback `json:"questions"`
}
