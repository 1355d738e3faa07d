// Package ledger answers questions about a student's submission history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"school-quiz/internal/models"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidSort        = errors.New("invalid sort key")
)

// Sort keys accepted by ListForExam.
const (
	SortScore     = "score"
	SortStartTime = "start_time"
	SortEndTime   = "end_time"
	SortElapsed   = "elapsed"
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// AttemptsLeft is nil for unlimited exams, otherwise never negative.
func AttemptsLeft(maxAttempts, used int) *int {
	if maxAttempts == 0 {
		return nil
	}
	left := maxAttempts - used
	if left < 0 {
		left = 0
	}
	return &left
}

// AttemptsUsed counts every submission for the pair, pending ones included.
func (l *Ledger) AttemptsUsed(ctx context.Context, examID, userID uint) (int, error) {
	return CountAttempts(l.db.WithContext(ctx), examID, userID)
}

// CountAttempts is AttemptsUsed against an explicit handle, so callers can
// count inside their own transaction.
func CountAttempts(db *gorm.DB, examID, userID uint) (int, error) {
	var count int64
	err := db.Model(&models.Submission{}).
		Where("exam_id = ? AND user_id = ?", examID, userID).
		Count(&count).Error
	return int(count), err
}

// BestScore is the highest completed score, or nil if nothing is completed.
func (l *Ledger) BestScore(ctx context.Context, examID, userID uint) (*int, error) {
	var best []int
	err := l.db.WithContext(ctx).Model(&models.Submission{}).
		Where("exam_id = ? AND user_id = ? AND score IS NOT NULL", examID, userID).
		Order("score desc").Limit(1).
		Pluck("score", &best).Error
	if err != nil {
		return nil, err
	}
	if len(best) == 0 {
		return nil, nil
	}
	return &best[0], nil
}

// BestScores maps exam id to the student's best completed score.
func (l *Ledger) BestScores(ctx context.Context, userID uint) (map[uint]int, error) {
	var rows []struct {
		ExamID uint
		Best   int
	}
	err := l.db.WithContext(ctx).Model(&models.Submission{}).
		Select("exam_id, MAX(score) AS best").
		Where("user_id = ? AND score IS NOT NULL", userID).
		Group("exam_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.ExamID] = r.Best
	}
	return out, nil
}

// History lists the student's completed submissions, newest end_time first.
func (l *Ledger) History(ctx context.Context, userID uint) ([]models.HistoryRecord, error) {
	var rows []struct {
		models.Submission
		ExamTitle string
	}
	err := l.db.WithContext(ctx).Table("submissions").
		Select("submissions.*, exams.title AS exam_title").
		Joins("JOIN exams ON exams.id = submissions.exam_id").
		Where("submissions.user_id = ? AND submissions.score IS NOT NULL", userID).
		Order("submissions.end_time desc, submissions.id desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]models.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		elapsed := r.Submission.ElapsedSeconds()
		if elapsed < 0 {
			elapsed = 0
		}
		records = append(records, models.HistoryRecord{
			SubmissionID:   r.Submission.ID,
			ExamID:         r.Submission.ExamID,
			ExamTitle:      r.ExamTitle,
			Score:          r.Submission.Score,
			Started:        r.Submission.StartTime,
			Ended:          r.Submission.EndTime,
			ElapsedSeconds: elapsed,
		})
	}
	return records, nil
}

// ListForExam returns completed submissions of an exam. sortKey defaults to
// end_time and direction to desc. Elapsed time is sorted in Go; rows lacking
// a timestamp sort as the smallest value.
func (l *Ledger) ListForExam(ctx context.Context, examID uint, sortKey, direction string) ([]models.Submission, error) {
	if sortKey == "" {
		sortKey = SortEndTime
	}
	var desc bool
	switch direction {
	case "", "desc":
		desc = true
	case "asc":
	default:
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidSort, direction)
	}

	q := l.db.WithContext(ctx).
		Where("exam_id = ? AND score IS NOT NULL", examID)

	var subs []models.Submission
	switch sortKey {
	case SortScore, SortStartTime, SortEndTime:
		order := sortKey + " asc"
		if desc {
			order = sortKey + " desc"
		}
		if err := q.Order(order).Order("id asc").Find(&subs).Error; err != nil {
			return nil, err
		}
	case SortElapsed:
		if err := q.Order("id asc").Find(&subs).Error; err != nil {
			return nil, err
		}
		sort.SliceStable(subs, func(i, j int) bool {
			if desc {
				return subs[i].ElapsedSeconds() > subs[j].ElapsedSeconds()
			}
			return subs[i].ElapsedSeconds() < subs[j].ElapsedSeconds()
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSort, sortKey)
	}
	return subs, nil
}

// Detail loads a submission together with its answers ordered by question.
func (l *Ledger) Detail(ctx context.Context, submissionID uint) (*models.Submission, error) {
	var sub models.Submission
	err := l.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("question_id asc") }).
		First(&sub, submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Delete removes a submission and its answers.
func (l *Ledger) Delete(ctx context.Context, submissionID uint) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", submissionID).Delete(&models.SubmissionAnswer{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Submission{}, submissionID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSubmissionNotFound
		}
		return nil
	})
}
