package model

import (
	"github.com/google/uuid"
)

// QuestionKey is the grading view of a question: the options it offers and the
// one marked correct. CorrectOptionID is nil when the question has no single
// correct option, which makes it unscoreable.
type QuestionKey struct {
	QuestionID      uuid.UUID   `json:"question_id"`
	Position        int         `json:"position"`
	OptionIDs       []uuid.UUID `json:"option_ids"`
	CorrectOptionID *uuid.UUID  `json:"correct_option_id"`
}

// AnswerKey is the authoritative correct-option set for an exam.
type AnswerKey struct {
	ExamID    uuid.UUID                 `json:"exam_id"`
	Questions map[uuid.UUID]QuestionKey `json:"questions"`
}

// NewAnswerKey returns an empty key for examID.
func NewAnswerKey(examID uuid.UUID) *AnswerKey {
	return &AnswerKey{ExamID: examID, Questions: make(map[uuid.UUID]QuestionKey)}
}

// QuestionCount returns the number of questions in the exam.
func (k *AnswerKey) QuestionCount() int {
	return len(k.Questions)
}

// HasQuestion reports whether questionID belongs to the exam.
func (k *AnswerKey) HasQuestion(questionID uuid.UUID) bool {
	_, ok := k.Questions[questionID]
	return ok
}

// HasOption reports whether optionID is one of questionID's options.
func (k *AnswerKey) HasOption(questionID, optionID uuid.UUID) bool {
	q, ok := k.Questions[questionID]
	if !ok {
		return false
	}
	for _, id := range q.OptionIDs {
		if id == optionID {
			return true
		}
	}
	return false
}

// CorrectOption returns the correct option for questionID, or nil.
func (k *AnswerKey) CorrectOption(questionID uuid.UUID) *uuid.UUID {
	q, ok := k.Questions[questionID]
	if !ok {
		return nil
	}
	return q.CorrectOptionID
}
