// Package scoring grades a set of selected options against an exam.
package scoring

import "school-quiz/internal/models"

// Mark is the graded outcome for one question.
type Mark struct {
	QuestionID uint
	SelectedID *uint // nil when unanswered or the option is not part of the question
	IsCorrect  bool
}

type Result struct {
	Score   int
	Correct int
	Total   int
	Marks   []Mark
}

// Score grades answers (question id -> option id) against questions. Every
// question gets exactly one Mark, in the order given. Options that belong to
// a different question count as unanswered.
func Score(questions []models.Question, answers map[uint]uint) Result {
	res := Result{
		Total: len(questions),
		Marks: make([]Mark, 0, len(questions)),
	}

	for _, q := range questions {
		mark := Mark{QuestionID: q.ID}
		if chosen, ok := answers[q.ID]; ok && q.HasOption(chosen) {
			selected := chosen
			mark.SelectedID = &selected
			correct := q.CorrectOptionID()
			mark.IsCorrect = correct != 0 && correct == chosen
		}
		if mark.IsCorrect {
			res.Correct++
		}
		res.Marks = append(res.Marks, mark)
	}

	if res.Total > 0 {
		res.Score = 100 * res.Correct / res.Total
	}
	return res
}
