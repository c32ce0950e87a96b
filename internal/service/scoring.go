package service

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/model"
)

// Scorecard is the outcome of comparing an answer set with an answer key.
type Scorecard struct {
	Correct    int
	Incorrect  int
	Unanswered int
	Total      int
	Marks      []model.QuestionFeedback
}

// Percent returns round(100 * correct / total), or 0 for an empty scorecard.
func (c Scorecard) Percent() int {
	if c.Total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(c.Correct) / float64(c.Total)))
}

// ScoreAnswers marks every observed answer against key.
//
// A nil selection is unanswered. A selection on a question without a single
// correct option is incorrect. With fullBank the denominator is the exam's
// question set and questions that never got a ledger row count as unanswered;
// otherwise only observed rows are counted.
func ScoreAnswers(answers []model.Answer, key *model.AnswerKey, fullBank bool) Scorecard {
	var card Scorecard
	seen := make(map[uuid.UUID]bool, len(answers))

	for _, a := range answers {
		if seen[a.QuestionID] {
			continue
		}
		seen[a.QuestionID] = true

		mark := model.QuestionFeedback{
			QuestionID:       a.QuestionID,
			SelectedOptionID: a.SelectedOptionID,
			CorrectOptionID:  key.CorrectOption(a.QuestionID),
		}
		switch {
		case a.SelectedOptionID == nil:
			mark.Mark = model.MarkUnanswered
		case mark.CorrectOptionID != nil && *mark.CorrectOptionID == *a.SelectedOptionID:
			mark.Mark = model.MarkCorrect
			card.Correct++
		default:
			mark.Mark = model.MarkIncorrect
			card.Incorrect++
		}
		card.Marks = append(card.Marks, mark)
	}

	if fullBank {
		for id, q := range key.Questions {
			if seen[id] {
				continue
			}
			card.Marks = append(card.Marks, model.QuestionFeedback{
				QuestionID:      id,
				CorrectOptionID: q.CorrectOptionID,
				Mark:            model.MarkUnanswered,
			})
		}
	}

	card.Total = len(card.Marks)
	card.Unanswered = card.Total - card.Correct - card.Incorrect

	sort.SliceStable(card.Marks, func(i, j int) bool {
		pi, oki := key.Questions[card.Marks[i].QuestionID]
		pj, okj := key.Questions[card.Marks[j].QuestionID]
		if oki != okj {
			return oki
		}
		if oki && pi.Position != pj.Position {
			return pi.Position < pj.Position
		}
		return card.Marks[i].QuestionID.String() < card.Marks[j].QuestionID.String()
	})

	return card
}
