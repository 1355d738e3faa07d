// internal/models/quiz.go
package models

import (
	"time"
)

type Class struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
}

type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	ClassID      *uint     `json:"class_id"`
	IsAdmin      bool      `json:"is_admin" gorm:"default:false"`
}

type Exam struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Title           string     `json:"title" gorm:"not null"`
	DurationMinutes int        `json:"duration_minutes"`
	MaxAttempts     int        `json:"max_attempts"` // 0 = unlimited
	ClassID         *uint      `json:"class_id" gorm:"index"`
	Questions       []Question `json:"questions,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
}

type Question struct {
	ID        uint     `json:"id" gorm:"primaryKey"`
	ExamID    uint     `json:"exam_id" gorm:"index;not null"`
	Text      string   `json:"text"`
	ImagePath string   `json:"image_path,omitempty"`
	OrderIdx  int      `json:"order_idx" gorm:"default:0"`
	Options   []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// CorrectOptionID returns the id of the option flagged correct, or 0 when
// the question has none.
func (q Question) CorrectOptionID() uint {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o.ID
		}
	}
	return 0
}

// HasOption reports whether optionID belongs to this question.
func (q Question) HasOption(optionID uint) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

type Option struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"index;not null"`
	Text       string `json:"text"`
	ImagePath  string `json:"image_path,omitempty"`
	IsCorrect  bool   `json:"is_correct" gorm:"default:false"`
}

// Submission is one attempt. A nil Score means the attempt is still pending.
type Submission struct {
	ID        uint               `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time          `json:"created_at"`
	UserID    uint               `json:"user_id" gorm:"index:idx_submission_user_exam;not null"`
	ExamID    uint               `json:"exam_id" gorm:"index:idx_submission_user_exam;not null"`
	Score     *int               `json:"score"`
	StartTime time.Time          `json:"start_time"`
	EndTime   *time.Time         `json:"end_time"`
	Answers   []SubmissionAnswer `json:"answers,omitempty" gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE"`
}

func (s Submission) Pending() bool {
	return s.Score == nil
}

// ElapsedSeconds is end - start floored to whole seconds, or -1 when either
// timestamp is missing.
func (s Submission) ElapsedSeconds() int64 {
	if s.EndTime == nil || s.StartTime.IsZero() {
		return -1
	}
	return int64(s.EndTime.Sub(s.StartTime) / time.Second)
}

type SubmissionAnswer struct {
	ID           uint  `json:"id" gorm:"primaryKey"`
	SubmissionID uint  `json:"submission_id" gorm:"index;not null"`
	QuestionID   uint  `json:"question_id" gorm:"not null"`
	SelectedID   *uint `json:"selected_id"`
	IsCorrect    bool  `json:"is_correct" gorm:"default:false"`
}

// All lists every model for AutoMigrate, parents first.
func All() []interface{} {
	return []interface{}{
		&Class{},
		&User{},
		&Exam{},
		&Question{},
		&Option{},
		&Submission{},
		&SubmissionAnswer{},
	}
}
