// internal/catalog/repository.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"school-quiz/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("order_idx asc, id asc")
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("id asc")
}

// GetExam loads an exam with its questions ordered by order_idx.
func (r *Repository) GetExam(ctx context.Context, id uint) (*models.Exam, error) {
	var exam models.Exam
	err := r.db.WithContext(ctx).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		First(&exam, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		log.Printf("Error getting exam %d: %v", id, err)
		return nil, err
	}
	return &exam, nil
}

func (r *Repository) ListForClass(ctx context.Context, classID uint) ([]models.Exam, error) {
	var exams []models.Exam
	err := r.db.WithContext(ctx).Where("class_id = ?", classID).Order("id asc").Find(&exams).Error
	return exams, err
}

func (r *Repository) ListAll(ctx context.Context) ([]models.Exam, error) {
	var exams []models.Exam
	err := r.db.WithContext(ctx).Order("id asc").Find(&exams).Error
	return exams, err
}

func (r *Repository) CreateClass(ctx context.Context, class *models.Class) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.Class{}).Where("name = ?", class.Name).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrClassExists
		}
		return tx.Create(class).Error
	})
}

func (r *Repository) ListClasses(ctx context.Context) ([]models.Class, error) {
	var classes []models.Class
	err := r.db.WithContext(ctx).Order("name asc").Find(&classes).Error
	return classes, err
}

// UpdateClass renames the class and, for a non-nil students, replaces its
// membership, all in one transaction.
func (r *Repository) UpdateClass(ctx context.Context, id uint, name string, students []uint) (*models.Class, error) {
	var class models.Class
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&class, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassNotFound
			}
			return err
		}

		var taken int64
		if err := tx.Model(&models.Class{}).Where("name = ? AND id <> ?", name, id).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrClassExists
		}
		if err := tx.Model(&class).Update("name", name).Error; err != nil {
			return err
		}
		class.Name = name

		if students == nil {
			return nil
		}
		unassign := tx.Model(&models.User{}).Where("class_id = ?", id)
		if len(students) > 0 {
			unassign = unassign.Where("id NOT IN ?", students)
		}
		if err := unassign.Update("class_id", nil).Error; err != nil {
			return err
		}
		if len(students) == 0 {
			return nil
		}
		res := tx.Model(&models.User{}).Where("id IN ?", students).Update("class_id", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(uniqueIDs(students))) {
			return fmt.Errorf("%w: unknown student id", ErrValidation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// DeleteClass unlinks the class's students and deletes it. A class that
// still owns exams is left untouched.
func (r *Repository) DeleteClass(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var class models.Class
		if err := tx.First(&class, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassNotFound
			}
			return err
		}

		var exams int64
		if err := tx.Model(&models.Exam{}).Where("class_id = ?", id).Count(&exams).Error; err != nil {
			return err
		}
		if exams > 0 {
			return ErrClassHasExams
		}
		if err := tx.Model(&models.User{}).Where("class_id = ?", id).Update("class_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&class).Error
	})
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (r *Repository) ClassExists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Class{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *Repository) CreateExam(ctx context.Context, exam *models.Exam) error {
	err := r.db.WithContext(ctx).Omit("Questions").Create(exam).Error
	if err != nil {
		log.Printf("Error creating exam: %v", err)
		return err
	}
	log.Printf("Created exam with ID: %d", exam.ID)
	return nil
}

// UpdateExam writes the editable exam fields, including zero values.
func (r *Repository) UpdateExam(ctx context.Context, exam *models.Exam) error {
	res := r.db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", exam.ID).
		Select("title", "duration_minutes", "max_attempts", "class_id").
		Updates(exam)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrExamNotFound
	}
	return nil
}

// AddQuestion appends q (with its options) after the last question of its exam.
func (r *Repository) AddQuestion(ctx context.Context, q *models.Question) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxIdx int
		if err := tx.Model(&models.Question{}).
			Where("exam_id = ?", q.ExamID).
			Select("COALESCE(MAX(order_idx), 0)").
			Scan(&maxIdx).Error; err != nil {
			return err
		}
		q.OrderIdx = maxIdx + 1
		return tx.Create(q).Error
	})
}

func (r *Repository) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	var q models.Question
	err := r.db.WithContext(ctx).Preload("Options", orderedOptions).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestionNotFound
	}
	return &q, err
}

// UpdateQuestion copies text, image and options from in onto the stored
// question. in.Options are applied to the stored options in id order.
func (r *Repository) UpdateQuestion(ctx context.Context, id uint, in *models.Question) (*models.Question, error) {
	var q models.Question
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Options", orderedOptions).First(&q, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		if len(q.Options) != len(in.Options) {
			return fmt.Errorf("%w: question %d has %d options, got %d", ErrValidation, id, len(q.Options), len(in.Options))
		}

		q.Text, q.ImagePath = in.Text, in.ImagePath
		if err := tx.Model(&models.Question{}).Where("id = ?", id).
			Select("text", "image_path").
			Updates(&q).Error; err != nil {
			return err
		}
		for i := range q.Options {
			opt := &q.Options[i]
			opt.Text, opt.ImagePath, opt.IsCorrect = in.Options[i].Text, in.Options[i].ImagePath, in.Options[i].IsCorrect
			if err := tx.Model(&models.Option{}).Where("id = ?", opt.ID).
				Select("text", "image_path", "is_correct").
				Updates(opt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// MoveQuestion swaps order_idx with the neighbour above (delta -1) or below
// (delta +1). Without a neighbour nothing changes.
func (r *Repository) MoveQuestion(ctx context.Context, id uint, delta int) (*models.Question, error) {
	var moved models.Question
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&moved, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}

		var neighbor models.Question
		err := tx.Where("exam_id = ? AND order_idx = ?", moved.ExamID, moved.OrderIdx+delta).
			First(&neighbor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		from, to := moved.OrderIdx, neighbor.OrderIdx
		if err := tx.Model(&models.Question{}).Where("id = ?", neighbor.ID).Update("order_idx", from).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Question{}).Where("id = ?", moved.ID).Update("order_idx", to).Error; err != nil {
			return err
		}
		moved.OrderIdx = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// DeleteQuestion removes a question and its options and closes the gap in
// the exam's order_idx sequence.
func (r *Repository) DeleteQuestion(ctx context.Context, id uint) (uint, error) {
	var q models.Question
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&q, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		if err := tx.Where("question_id = ?", q.ID).Delete(&models.Option{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Question{}, q.ID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Question{}).
			Where("exam_id = ? AND order_idx > ?", q.ExamID, q.OrderIdx).
			Update("order_idx", gorm.Expr("order_idx - 1")).Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete question %d: %w", id, err)
	}
	return q.ExamID, nil
}
