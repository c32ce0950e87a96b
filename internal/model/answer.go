package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxAnswerBatch caps the number of selections accepted in one write.
const MaxAnswerBatch = 500

// Answer is one Ledger row. SelectedOptionID nil means no selection.
type Answer struct {
	AttemptID        uuid.UUID  `json:"attempt_id"`
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AnswerSelection is one (question, option) pair in a batch write.
type AnswerSelection struct {
	QuestionID uuid.UUID  `json:"question_id"`
	OptionID   *uuid.UUID `json:"option_id"`
}

// AnswerBatch is a queued Ledger write.
type AnswerBatch struct {
	AttemptID uuid.UUID         `json:"attempt_id"`
	Answers   []AnswerSelection `json:"answers"`
	WrittenAt time.Time         `json:"written_at"`
}

// AnswerInput is one element of SubmitAnswersRequest.
type AnswerInput struct {
	QuestionID string  `json:"question_id" binding:"required,uuid"`
	OptionID   *string `json:"option_id" binding:"omitempty,uuid"`
}

// SubmitAnswersRequest is the payload for a batched answer write.
type SubmitAnswersRequest struct {
	Answers []AnswerInput `json:"answers" binding:"required,min=1,max=500,dive"`
}

// Selections converts validated input into typed selections.
func (r *SubmitAnswersRequest) Selections() ([]AnswerSelection, error) {
	out := make([]AnswerSelection, 0, len(r.Answers))
	for _, in := range r.Answers {
		qid, err := uuid.Parse(in.QuestionID)
		if err != nil {
			return nil, err
		}
		sel := AnswerSelection{QuestionID: qid}
		if in.OptionID != nil {
			oid, err := uuid.Parse(*in.OptionID)
			if err != nil {
				return nil, err
			}
			sel.OptionID = &oid
		}
		out = append(out, sel)
	}
	return out, nil
}
