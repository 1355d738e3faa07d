package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	AttemptStarted   Type = "attempt.started"
	AttemptSubmitted Type = "attempt.submitted"
	AttemptAborted   Type = "attempt.aborted"
	AttemptRejected  Type = "attempt.rejected"
)

// AttemptEvent describes one committed change to an attempt, or a refused
// start.
type AttemptEvent struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	ExamID         uint      `json:"exam_id"`
	UserID         uint      `json:"user_id"`
	SubmissionID   uint      `json:"submission_id,omitempty"`
	Score          *int      `json:"score,omitempty"`
	ElapsedSeconds int64     `json:"elapsed_seconds,omitempty"`
	Resumed        bool      `json:"resumed,omitempty"`
	Duplicate      bool      `json:"duplicate,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewAttemptEvent(t Type, examID, userID, submissionID uint) AttemptEvent {
	return AttemptEvent{
		ID:           uuid.NewString(),
		Type:         t,
		ExamID:       examID,
		UserID:       userID,
		SubmissionID: submissionID,
		OccurredAt:   time.Now().UTC(),
	}
}
