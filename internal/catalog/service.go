// internal/catalog/service.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"school-quiz/internal/models"
	"school-quiz/pkg/cache"
)

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrClassNotFound    = errors.New("class not found")
	ErrValidation       = errors.New("validation failed")
	ErrClassExists      = errors.New("class name already in use")
	ErrClassHasExams    = errors.New("class still has exams")
)

// OptionsPerQuestion is the number of options the authoring flow requires.
const OptionsPerQuestion = 4

const defaultDurationMinutes = 30

type ExamCache interface {
	SetExam(ctx context.Context, exam *models.Exam) error
	GetExam(ctx context.Context, id uint) (*models.Exam, error)
	InvalidateExam(ctx context.Context, id uint) error
}

type Service struct {
	repo  *Repository
	cache ExamCache
}

func NewService(repo *Repository, cache ExamCache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// GetExam returns the exam with ordered questions and options, served from
// the cache when possible.
func (s *Service) GetExam(ctx context.Context, id uint) (*models.Exam, error) {
	exam, err := s.cache.GetExam(ctx, id)
	if err == nil {
		return exam, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("Exam cache read failed for %d: %v", id, err)
	}

	exam, err = s.repo.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetExam(ctx, exam); err != nil {
		log.Printf("Exam cache write failed for %d: %v", id, err)
	}
	return exam, nil
}

func (s *Service) ListForClass(ctx context.Context, classID *uint) ([]models.Exam, error) {
	if classID == nil {
		return []models.Exam{}, nil
	}
	return s.repo.ListForClass(ctx, *classID)
}

func (s *Service) ListAll(ctx context.Context) ([]models.Exam, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) CreateClass(ctx context.Context, name string) (*models.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: class name is required", ErrValidation)
	}
	class := &models.Class{Name: name}
	if err := s.repo.CreateClass(ctx, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (s *Service) ListClasses(ctx context.Context) ([]models.Class, error) {
	return s.repo.ListClasses(ctx)
}

// UpdateClass renames a class. When students is non-nil it becomes the
// class's full membership: listed users move into the class and current
// members left out are unassigned. A nil students leaves membership alone.
func (s *Service) UpdateClass(ctx context.Context, id uint, name string, students []uint) (*models.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: class name is required", ErrValidation)
	}
	return s.repo.UpdateClass(ctx, id, name, students)
}

// DeleteClass removes an empty class and unlinks its students. Classes that
// still own exams are refused with ErrClassHasExams.
func (s *Service) DeleteClass(ctx context.Context, id uint) error {
	return s.repo.DeleteClass(ctx, id)
}

func (s *Service) validateExam(ctx context.Context, exam *models.Exam) error {
	exam.Title = strings.TrimSpace(exam.Title)
	if exam.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if exam.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must be >= 0", ErrValidation)
	}
	if exam.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration_minutes must be >= 0", ErrValidation)
	}
	if exam.DurationMinutes == 0 {
		exam.DurationMinutes = defaultDurationMinutes
	}
	if exam.ClassID != nil {
		ok, err := s.repo.ClassExists(ctx, *exam.ClassID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrClassNotFound
		}
	}
	return nil
}

func (s *Service) CreateExam(ctx context.Context, exam *models.Exam) error {
	if err := s.validateExam(ctx, exam); err != nil {
		return err
	}
	exam.Questions = nil
	return s.repo.CreateExam(ctx, exam)
}

func (s *Service) UpdateExam(ctx context.Context, exam *models.Exam) error {
	if err := s.validateExam(ctx, exam); err != nil {
		return err
	}
	if err := s.repo.UpdateExam(ctx, exam); err != nil {
		return err
	}
	s.invalidate(ctx, exam.ID)
	return nil
}

// AddQuestion validates and appends a question.
func (s *Service) AddQuestion(ctx context.Context, examID uint, q *models.Question) error {
	if _, err := s.repo.GetExam(ctx, examID); err != nil {
		return err
	}
	if err := validateQuestion(q); err != nil {
		return err
	}

	q.ID = 0
	q.ExamID = examID
	for i := range q.Options {
		q.Options[i].ID = 0
	}
	if err := s.repo.AddQuestion(ctx, q); err != nil {
		return err
	}
	s.invalidate(ctx, examID)
	return nil
}

// UpdateQuestion rewrites a question's text, image and options under the
// same rules as AddQuestion. Options are matched by position so their ids,
// and any stored answers pointing at them, survive the edit.
func (s *Service) UpdateQuestion(ctx context.Context, questionID uint, q *models.Question) (*models.Question, error) {
	if err := validateQuestion(q); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateQuestion(ctx, questionID, q)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, updated.ExamID)
	return updated, nil
}

// validateQuestion requires text or an image, exactly four options each
// with text or an image, and exactly one correct option.
func validateQuestion(q *models.Question) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" && q.ImagePath == "" {
		return fmt.Errorf("%w: question needs text or image", ErrValidation)
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("%w: question needs exactly %d options", ErrValidation, OptionsPerQuestion)
	}
	correct := 0
	for i := range q.Options {
		opt := &q.Options[i]
		opt.Text = strings.TrimSpace(opt.Text)
		if opt.Text == "" && opt.ImagePath == "" {
			return fmt.Errorf("%w: option %d needs text or image", ErrValidation, i+1)
		}
		if opt.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("%w: exactly one option must be correct", ErrValidation)
	}
	return nil
}

// MoveQuestion moves a question one slot "up" or "down".
func (s *Service) MoveQuestion(ctx context.Context, questionID uint, direction string) (*models.Question, error) {
	var delta int
	switch direction {
	case "up":
		delta = -1
	case "down":
		delta = 1
	default:
		return nil, fmt.Errorf("%w: direction must be up or down", ErrValidation)
	}

	q, err := s.repo.MoveQuestion(ctx, questionID, delta)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, q.ExamID)
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, questionID uint) error {
	examID, err := s.repo.DeleteQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	s.invalidate(ctx, examID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, examID uint) {
	if err := s.cache.InvalidateExam(ctx, examID); err != nil {
		log.Printf("Exam cache invalidation failed for %d: %v", examID, err)
	}
}
