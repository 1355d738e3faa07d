package cache

import (
	"context"

	"school-quiz/internal/models"
)

// NopExamCache always misses. Used when no Redis address is configured.
type NopExamCache struct{}

func (NopExamCache) SetExam(context.Context, *models.Exam) error { return nil }

func (NopExamCache) GetExam(context.Context, uint) (*models.Exam, error) { return nil, ErrMiss }

func (NopExamCache) InvalidateExam(context.Context, uint) error { return nil }
