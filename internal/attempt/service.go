// Package attempt runs the exam-taking lifecycle: start, submit and abort.
package attempt

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"school-quiz/internal/auth"
	"school-quiz/internal/ledger"
	"school-quiz/internal/models"
	"school-quiz/internal/scoring"
	"school-quiz/pkg/cache"
	"school-quiz/pkg/events"
)

var ErrAttemptsExhausted = errors.New("no attempts left for this exam")

type ExamSource interface {
	GetExam(ctx context.Context, id uint) (*models.Exam, error)
	ListForClass(ctx context.Context, classID *uint) ([]models.Exam, error)
}

// SessionStore holds the server-side (user, exam) -> attempt association.
type SessionStore interface {
	Set(ctx context.Context, userID, examID uint, sess cache.AttemptSession) error
	Get(ctx context.Context, userID, examID uint) (*cache.AttemptSession, error)
	Clear(ctx context.Context, userID, examID uint) error
}

// Notifier is told about attempt changes after they commit.
type Notifier interface {
	Notify(ctx context.Context, ev events.AttemptEvent)
}

type StartResult struct {
	SubmissionID    uint                 `json:"submission_id"`
	ExamID          uint                 `json:"exam_id"`
	Title           string               `json:"title"`
	StartTime       time.Time            `json:"start_time"`
	DurationMinutes int                  `json:"duration_minutes"`
	AttemptsLeft    *int                 `json:"attempts_left"`
	Resumed         bool                 `json:"resumed"`
	Handle          string               `json:"handle"`
	Questions       []models.QuestionDTO `json:"questions"`
}

type SubmitResult struct {
	SubmissionID   uint  `json:"submission_id"`
	Score          int   `json:"score"`
	Total          int   `json:"total"`
	AttemptsLeft   *int  `json:"attempts_left"`
	ElapsedSeconds int64 `json:"elapsed_seconds"`
	Duplicate      bool  `json:"duplicate,omitempty"`
}

type Service struct {
	db        *gorm.DB
	exams     ExamSource
	ledger    *ledger.Ledger
	sessions  SessionStore
	handles   *HandleSigner
	notifiers []Notifier
	now       func() time.Time
}

// NewService wires the state machine. sessions may be nil, in which case
// attempts are tracked by handle alone.
func NewService(db *gorm.DB, exams ExamSource, l *ledger.Ledger, sessions SessionStore, handles *HandleSigner, notifiers ...Notifier) *Service {
	return &Service{
		db:        db,
		exams:     exams,
		ledger:    l,
		sessions:  sessions,
		handles:   handles,
		notifiers: notifiers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListExams returns the exams of the caller's class with attempts left and
// best score. The class comes from the stored user row; the token claim is
// only used when the row is gone.
func (s *Service) ListExams(ctx context.Context, p auth.Principal) ([]models.ExamSummary, error) {
	classID := p.ClassID
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "class_id").First(&user, p.ID).Error
	switch {
	case err == nil:
		classID = user.ClassID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	exams, err := s.exams.ListForClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	best, err := s.ledger.BestScores(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	out := make([]models.ExamSummary, 0, len(exams))
	for _, e := range exams {
		used, err := s.ledger.AttemptsUsed(ctx, e.ID, p.ID)
		if err != nil {
			return nil, err
		}
		summary := models.ExamSummary{
			ID:              e.ID,
			Title:           e.Title,
			DurationMinutes: e.DurationMinutes,
			MaxAttempts:     e.MaxAttempts,
			AttemptsLeft:    ledger.AttemptsLeft(e.MaxAttempts, used),
		}
		if b, ok := best[e.ID]; ok {
			score := b
			summary.BestScore = &score
		}
		out = append(out, summary)
	}
	return out, nil
}

// lockUser takes a row lock on the user so concurrent starts by the same
// student serialise on count-then-insert. SQLite drops the clause and relies
// on its single writer.
func lockUser(tx *gorm.DB, userID uint) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", userID).
		Limit(1).
		Find(&models.User{})
}

// StartAttempt reuses the caller's pending submission for the exam or
// creates one. It fails with ErrAttemptsExhausted, writing nothing, once
// every allowed attempt has a row.
func (s *Service) StartAttempt(ctx context.Context, p auth.Principal, examID uint) (*StartResult, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	var (
		sub     models.Submission
		used    int
		resumed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, p.ID).Error; err != nil {
			return err
		}
		n, err := ledger.CountAttempts(tx, examID, p.ID)
		if err != nil {
			return err
		}
		used = n
		if left := ledger.AttemptsLeft(exam.MaxAttempts, used); left != nil && *left == 0 {
			return ErrAttemptsExhausted
		}

		err = tx.Where("exam_id = ? AND user_id = ? AND score IS NULL", examID, p.ID).
			Order("id desc").
			First(&sub).Error
		if err == nil {
			resumed = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		sub = models.Submission{UserID: p.ID, ExamID: examID, StartTime: s.now()}
		if err := tx.Create(&sub).Error; err != nil {
			return err
		}
		used++
		return nil
	})
	if errors.Is(err, ErrAttemptsExhausted) {
		log.Printf("User %d has no attempts left for exam %d", p.ID, examID)
		s.notify(ctx, events.NewAttemptEvent(events.AttemptRejected, examID, p.ID, 0))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if s.sessions != nil {
		sess := cache.AttemptSession{SubmissionID: sub.ID, StartTime: sub.StartTime}
		if err := s.sessions.Set(ctx, p.ID, examID, sess); err != nil {
			log.Printf("Attempt session not stored for user %d exam %d: %v", p.ID, examID, err)
		}
	}

	handle, err := s.handles.Mint(Handle{
		SubmissionID: sub.ID,
		ExamID:       examID,
		UserID:       p.ID,
		StartTime:    sub.StartTime,
	})
	if err != nil {
		return nil, err
	}

	questions := make([]models.QuestionDTO, len(exam.Questions))
	for i, q := range exam.Questions {
		questions[i] = q.ToDTO(false)
	}

	ev := events.NewAttemptEvent(events.AttemptStarted, examID, p.ID, sub.ID)
	ev.Resumed = resumed
	s.notify(ctx, ev)

	return &StartResult{
		SubmissionID:    sub.ID,
		ExamID:          exam.ID,
		Title:           exam.Title,
		StartTime:       sub.StartTime,
		DurationMinutes: exam.DurationMinutes,
		AttemptsLeft:    ledger.AttemptsLeft(exam.MaxAttempts, used),
		Resumed:         resumed,
		Handle:          handle,
		Questions:       questions,
	}, nil
}

// SubmitAttempt scores answers (question id -> option id) and completes the
// attempt. Without a usable pointer it falls back to the caller's latest
// pending submission, then to a fresh completed one, so a result is always
// recorded. Submitting an already completed attempt changes nothing and
// returns the stored result with Duplicate set.
func (s *Service) SubmitAttempt(ctx context.Context, p auth.Principal, examID uint, answers map[uint]uint, handle string) (*SubmitResult, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	ptr := s.resolve(ctx, p, examID, handle)
	graded := scoring.Score(exam.Questions, answers)
	end := s.now()

	var (
		sub       models.Submission
		duplicate bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := findTarget(tx, p.ID, examID, ptr)
		if err != nil {
			return err
		}

		if target == nil {
			start := end
			if ptr != nil && !ptr.StartTime.IsZero() && !ptr.StartTime.After(end) {
				start = ptr.StartTime
			}
			score := graded.Score
			sub = models.Submission{
				UserID:    p.ID,
				ExamID:    examID,
				Score:     &score,
				StartTime: start,
				EndTime:   &end,
			}
			if err := tx.Create(&sub).Error; err != nil {
				return err
			}
			return writeAnswers(tx, sub.ID, graded.Marks)
		}

		if !target.Pending() {
			sub, duplicate = *target, true
			return nil
		}

		completed, err := complete(tx, target.ID, graded.Score, end)
		if err != nil {
			return err
		}
		if !completed {
			// lost the race against another completion
			if err := tx.First(&sub, target.ID).Error; err != nil {
				return err
			}
			duplicate = true
			return nil
		}
		sub = *target
		score := graded.Score
		sub.Score, sub.EndTime = &score, &end
		return writeAnswers(tx, sub.ID, graded.Marks)
	})
	if err != nil {
		return nil, err
	}

	s.clearSession(ctx, p.ID, examID)

	used, err := s.ledger.AttemptsUsed(ctx, examID, p.ID)
	if err != nil {
		return nil, err
	}

	elapsed := sub.ElapsedSeconds()
	if elapsed < 0 {
		elapsed = 0
	}
	res := &SubmitResult{
		SubmissionID:   sub.ID,
		Total:          graded.Total,
		AttemptsLeft:   ledger.AttemptsLeft(exam.MaxAttempts, used),
		ElapsedSeconds: elapsed,
		Duplicate:      duplicate,
	}
	if sub.Score != nil {
		res.Score = *sub.Score
	}

	if duplicate {
		log.Printf("Duplicate submit for submission %d by user %d", sub.ID, p.ID)
	}
	ev := events.NewAttemptEvent(events.AttemptSubmitted, examID, p.ID, sub.ID)
	ev.Score = &res.Score
	ev.ElapsedSeconds = elapsed
	ev.Duplicate = duplicate
	s.notify(ctx, ev)

	return res, nil
}

// AbortAttempt force-completes the referenced pending attempt with score 0
// and no answer rows. Without a pointer, or when the attempt is already
// completed, it does nothing.
func (s *Service) AbortAttempt(ctx context.Context, p auth.Principal, examID uint, handle string) error {
	ptr := s.resolve(ctx, p, examID, handle)
	defer s.clearSession(ctx, p.ID, examID)

	if ptr == nil {
		return nil
	}

	end := s.now()
	res := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND user_id = ? AND exam_id = ? AND score IS NULL", ptr.SubmissionID, p.ID, examID).
		Updates(map[string]interface{}{"score": 0, "end_time": end})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	log.Printf("User %d aborted submission %d", p.ID, ptr.SubmissionID)
	zero := 0
	ev := events.NewAttemptEvent(events.AttemptAborted, examID, p.ID, ptr.SubmissionID)
	ev.Score = &zero
	s.notify(ctx, ev)
	return nil
}

type pointer struct {
	SubmissionID uint
	StartTime    time.Time
}

// resolve recovers the attempt pointer from the session store, then from
// the handle. A nil result means the association is lost.
func (s *Service) resolve(ctx context.Context, p auth.Principal, examID uint, handle string) *pointer {
	if s.sessions != nil {
		sess, err := s.sessions.Get(ctx, p.ID, examID)
		if err != nil {
			log.Printf("Attempt session lookup failed for user %d exam %d: %v", p.ID, examID, err)
		} else if sess != nil {
			return &pointer{SubmissionID: sess.SubmissionID, StartTime: sess.StartTime}
		}
	}

	if handle != "" {
		h, err := s.handles.Parse(handle)
		switch {
		case err != nil:
			log.Printf("Rejected attempt handle from user %d: %v", p.ID, err)
		case h.UserID != p.ID || h.ExamID != examID:
			log.Printf("Attempt handle for user %d exam %d presented by user %d on exam %d", h.UserID, h.ExamID, p.ID, examID)
		default:
			return &pointer{SubmissionID: h.SubmissionID, StartTime: h.StartTime}
		}
	}

	log.Printf("No attempt association for user %d exam %d", p.ID, examID)
	return nil
}

// findTarget loads the pointed-to submission if it belongs to the caller
// and exam, otherwise the caller's most recent pending one. nil means a new
// submission is needed.
func findTarget(tx *gorm.DB, userID, examID uint, ptr *pointer) (*models.Submission, error) {
	var sub models.Submission
	if ptr != nil {
		err := tx.Where("id = ? AND user_id = ? AND exam_id = ?", ptr.SubmissionID, userID, examID).First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := tx.Where("user_id = ? AND exam_id = ? AND score IS NULL", userID, examID).
		Order("id desc").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// complete sets score and end_time only while the submission is pending.
func complete(tx *gorm.DB, submissionID uint, score int, end time.Time) (bool, error) {
	res := tx.Model(&models.Submission{}).
		Where("id = ? AND score IS NULL", submissionID).
		Updates(map[string]interface{}{"score": score, "end_time": end})
	return res.RowsAffected == 1, res.Error
}

func writeAnswers(tx *gorm.DB, submissionID uint, marks []scoring.Mark) error {
	if len(marks) == 0 {
		return nil
	}
	rows := make([]models.SubmissionAnswer, len(marks))
	for i, m := range marks {
		rows[i] = models.SubmissionAnswer{
			SubmissionID: submissionID,
			QuestionID:   m.QuestionID,
			SelectedID:   m.SelectedID,
			IsCorrect:    m.IsCorrect,
		}
	}
	return tx.Create(&rows).Error
}

func (s *Service) clearSession(ctx context.Context, userID, examID uint) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.Clear(ctx, userID, examID); err != nil {
		log.Printf("Attempt session not cleared for user %d exam %d: %v", userID, examID, err)
	}
}

func (s *Service) notify(ctx context.Context, ev events.AttemptEvent) {
	for _, n := range s.notifiers {
		n.Notify(ctx, ev)
	}
}
