// internal/models/dto.go
package models

import "time"

// QuestionDTO is what a student sees while taking an exam.
type QuestionDTO struct {
	ID        uint        `json:"id"`
	Text      string      `json:"text"`
	ImagePath string      `json:"image_path,omitempty"`
	OrderIdx  int         `json:"order_idx"`
	Options   []OptionDTO `json:"options"`
}

type OptionDTO struct {
	ID        uint   `json:"id"`
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"`
	IsCorrect *bool  `json:"is_correct,omitempty"` // admin only
}

func (q Question) ToDTO(isAdmin bool) QuestionDTO {
	optionDTOs := make([]OptionDTO, len(q.Options))
	for i, opt := range q.Options {
		optionDTOs[i] = OptionDTO{
			ID:        opt.ID,
			Text:      opt.Text,
			ImagePath: opt.ImagePath,
		}
		if isAdmin {
			correct := opt.IsCorrect
			optionDTOs[i].IsCorrect = &correct
		}
	}
	return QuestionDTO{
		ID:        q.ID,
		Text:      q.Text,
		ImagePath: q.ImagePath,
		OrderIdx:  q.OrderIdx,
		Options:   optionDTOs,
	}
}

// ExamSummary is one row of a student's exam list.
type ExamSummary struct {
	ID              uint   `json:"id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	MaxAttempts     int    `json:"max_attempts"`
	AttemptsLeft    *int   `json:"attempts_left"` // nil = unlimited
	BestScore       *int   `json:"best_score"`    // nil = never completed
}

type HistoryRecord struct {
	SubmissionID   uint       `json:"submission_id"`
	ExamID         uint       `json:"exam_id"`
	ExamTitle      string     `json:"exam_title"`
	Score          *int       `json:"score"`
	Started        time.Time  `json:"started"`
	Ended          *time.Time `json:"ended"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
}
