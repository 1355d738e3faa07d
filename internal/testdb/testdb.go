// Package testdb opens throwaway in-memory databases for tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"school-quiz/internal/models"
	"school-quiz/pkg/database"
)

// Open returns a migrated in-memory SQLite database private to t.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedExam creates an exam with n questions of four options each. The
// first option of every question is the correct one.
func SeedExam(t *testing.T, db *gorm.DB, maxAttempts, n int) *models.Exam {
	t.Helper()

	exam := &models.Exam{Title: fmt.Sprintf("Exam %d", n), DurationMinutes: 30, MaxAttempts: maxAttempts}
	if err := db.Create(exam).Error; err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	for i := 1; i <= n; i++ {
		q := models.Question{ExamID: exam.ID, Text: fmt.Sprintf("Q%d", i), OrderIdx: i}
		for j := 1; j <= 4; j++ {
			q.Options = append(q.Options, models.Option{Text: fmt.Sprintf("O%d.%d", i, j), IsCorrect: j == 1})
		}
		if err := db.Create(&q).Error; err != nil {
			t.Fatalf("seed question: %v", err)
		}
		exam.Questions = append(exam.Questions, q)
	}
	return exam
}

// SeedUser creates a student (or admin) with an unusable password hash.
func SeedUser(t *testing.T, db *gorm.DB, username string, isAdmin bool) *models.User {
	t.Helper()

	u := &models.User{Username: username, PasswordHash: "x", IsAdmin: isAdmin}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// Answers picks the correct option for the first `correct` questions and a
// wrong one for the rest.
func Answers(exam *models.Exam, correct int) map[uint]uint {
	out := make(map[uint]uint, len(exam.Questions))
	for i, q := range exam.Questions {
		if i < correct {
			out[q.ID] = q.Options[0].ID
		} else {
			out[q.ID] = q.Options[1].ID
		}
	}
	return out
}
