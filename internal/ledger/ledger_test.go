package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"school-quiz/internal/auth"
	"school-quiz/internal/models"
	"school-quiz/internal/testdb"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// addSubmission stores a submission started at base+startMin. A nil score
// leaves it pending; durSec < 0 leaves end_time empty.
func addSubmission(t *testing.T, db *gorm.DB, examID, userID uint, score *int, startMin, durSec int) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		ExamID:    examID,
		UserID:    userID,
		Score:     score,
		StartTime: base.Add(time.Duration(startMin) * time.Minute),
	}
	if durSec >= 0 {
		end := sub.StartTime.Add(time.Duration(durSec) * time.Second)
		sub.EndTime = &end
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func TestAttemptsLeft(t *testing.T) {
	testCases := []struct {
		max, used int
		want      *int
	}{
		{0, 0, nil},
		{0, 50, nil},
		{3, 0, intPtr(3)},
		{3, 2, intPtr(1)},
		{3, 3, intPtr(0)},
		{3, 5, intPtr(0)},
	}
	for _, tc := range testCases {
		got := AttemptsLeft(tc.max, tc.used)
		if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
			t.Errorf("AttemptsLeft(%d, %d) = %v, want %v", tc.max, tc.used, got, tc.want)
		}
	}
}

func TestAttemptsUsedAndBestScore(t *testing.T) {
	db := testdb.Open(t)
	l := New(db)
	ctx := context.Background()
	exam := testdb.SeedExam(t, db, 5, 2)
	user := testdb.SeedUser(t, db, "lan", false)
	other := testdb.SeedUser(t, db, "minh", false)

	best, err := l.BestScore(ctx, exam.ID, user.ID)
	if err != nil || best != nil {
		t.Fatalf("Expected no best score yet, got %v, %v", best, err)
	}

	addSubmission(t, db, exam.ID, user.ID, intPtr(50), 0, 60)
	addSubmission(t, db, exam.ID, user.ID, intPtr(90), 10, 60)
	addSubmission(t, db, exam.ID, user.ID, intPtr(0), 20, 5)
	addSubmission(t, db, exam.ID, user.ID, nil, 30, -1)
	addSubmission(t, db, exam.ID, other.ID, intPtr(100), 0, 60)

	used, err := l.AttemptsUsed(ctx, exam.ID, user.ID)
	if err != nil {
		t.Fatalf("attempts used: %v", err)
	}
	if used != 4 {
		t.Errorf("Expected pending attempt to count, got %d used", used)
	}

	best, err = l.BestScore(ctx, exam.ID, user.ID)
	if err != nil {
		t.Fatalf("best score: %v", err)
	}
	if best == nil || *best != 90 {
		t.Errorf("Expected best score 90, got %v", best)
	}

	all, err := l.BestScores(ctx, user.ID)
	if err != nil {
		t.Fatalf("best scores: %v", err)
	}
	if all[exam.ID] != 90 || len(all) != 1 {
		t.Errorf("Expected {%d: 90}, got %v", exam.ID, all)
	}
}

func TestBestScoreOnlyAborted(t *testing.T) {
	db := testdb.Open(t)
	l := New(db)
	exam := testdb.SeedExam(t, db, 0, 1)
	user := testdb.SeedUser(t, db, "hoa", false)

	addSubmission(t, db, exam.ID, user.ID, intPtr(0), 0, 3)

	best, err := l.BestScore(context.Background(), exam.ID, user.ID)
	if err != nil {
		t.Fatalf("best score: %v", err)
	}
	if best == nil || *best != 0 {
		t.Errorf("Expected aborted attempt to count as a completed zero, got %v", best)
	}
}

func TestHistory(t *testing.T) {
	db := testdb.Open(t)
	l := New(db)
	exam := testdb.SeedExam(t, db, 0, 1)
	user := testdb.SeedUser(t, db, "tuan", false)

	first := addSubmission(t, db, exam.ID, user.ID, intPtr(40), 0, 125)
	second := addSubmission(t, db, exam.ID, user.ID, intPtr(80), 60, 30)
	addSubmission(t, db, exam.ID, user.ID, nil, 120, -1)

	records, err := l.History(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 completed records, got %d", len(records))
	}
	if records[0].SubmissionID != second.ID || records[1].SubmissionID != first.ID {
		t.Errorf("Expected newest end_time first, got %d then %d", records[0].SubmissionID, records[1].SubmissionID)
	}
	if records[0].ExamTitle != exam.Title {
		t.Errorf("Expected exam title %q, got %q", exam.Title, records[0].ExamTitle)
	}
	if records[1].ElapsedSeconds != 125 {
		t.Errorf("Expected 125 elapsed seconds, got %d", records[1].ElapsedSeconds)
	}
}

func TestListForExam(t *testing.T) {
	db := testdb.Open(t)
	l := New(db)
	ctx := context.Background()
	exam := testdb.SeedExam(t, db, 0, 1)
	user := testdb.SeedUser(t, db, "an", false)

	a := addSubmission(t, db, exam.ID, user.ID, intPtr(70), 0, 300)  // ends 08:05
	b := addSubmission(t, db, exam.ID, user.ID, intPtr(20), 10, 60)  // ends 08:11
	c := addSubmission(t, db, exam.ID, user.ID, intPtr(90), 20, 600) // ends 08:30
	addSubmission(t, db, exam.ID, user.ID, nil, 30, -1)
	// completed but missing end_time: sorts as the smallest elapsed value
	d := addSubmission(t, db, exam.ID, user.ID, intPtr(10), 40, -1)

	testCases := []struct {
		sort, dir string
		want      []uint
	}{
		{"", "", []uint{c.ID, b.ID, a.ID, d.ID}},
		{SortScore, "desc", []uint{c.ID, a.ID, b.ID, d.ID}},
		{SortScore, "asc", []uint{d.ID, b.ID, a.ID, c.ID}},
		{SortStartTime, "asc", []uint{a.ID, b.ID, c.ID, d.ID}},
		{SortElapsed, "desc", []uint{c.ID, a.ID, b.ID, d.ID}},
		{SortElapsed, "asc", []uint{d.ID, b.ID, a.ID, c.ID}},
	}
	for _, tc := range testCases {
		t.Run(tc.sort+"_"+tc.dir, func(t *testing.T) {
			subs, err := l.ListForExam(ctx, exam.ID, tc.sort, tc.dir)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(subs) != len(tc.want) {
				t.Fatalf("Expected %d rows, got %d", len(tc.want), len(subs))
			}
			for i, id := range tc.want {
				// the default end_time sort leaves the missing end_time row wherever the database puts NULLs
				if tc.sort == "" && id == d.ID {
					continue
				}
				if subs[i].ID != id {
					t.Errorf("Position %d: expected submission %d, got %d", i, id, subs[i].ID)
				}
			}
		})
	}

	for _, bad := range [][2]string{{"username", "asc"}, {SortScore, "ascending"}, {"", "up"}} {
		if _, err := l.ListForExam(ctx, exam.ID, bad[0], bad[1]); !errors.Is(err, ErrInvalidSort) {
			t.Errorf("Expected ErrInvalidSort for sort=%q dir=%q, got %v", bad[0], bad[1], err)
		}
	}
}

func TestDetailAndDelete(t *testing.T) {
	db := testdb.Open(t)
	l := New(db)
	ctx := context.Background()
	exam := testdb.SeedExam(t, db, 0, 2)
	user := testdb.SeedUser(t, db, "binh", false)

	sub := addSubmission(t, db, exam.ID, user.ID, intPtr(50), 0, 30)
	sel := exam.Questions[0].Options[0].ID
	answers := []models.SubmissionAnswer{
		{SubmissionID: sub.ID, QuestionID: exam.Questions[1].ID},
		{SubmissionID: sub.ID, QuestionID: exam.Questions[0].ID, SelectedID: &sel, IsCorrect: true},
	}
	if err := db.Create(&answers).Error; err != nil {
		t.Fatalf("create answers: %v", err)
	}

	got, err := l.Detail(ctx, sub.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(got.Answers) != 2 || got.Answers[0].QuestionID != exam.Questions[0].ID {
		t.Errorf("Expected answers ordered by question id, got %+v", got.Answers)
	}

	if err := l.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := l.Detail(ctx, sub.ID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("Expected ErrSubmissionNotFound after delete, got %v", err)
	}
	var left int64
	db.Model(&models.SubmissionAnswer{}).Where("submission_id = ?", sub.ID).Count(&left)
	if left != 0 {
		t.Errorf("Expected answers removed with submission, %d left", left)
	}
	if err := l.Delete(ctx, sub.ID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("Expected ErrSubmissionNotFound on second delete, got %v", err)
	}
}

func TestHistoryHandler(t *testing.T) {
	db := testdb.Open(t)
	h := NewHandler(New(db))
	exam := testdb.SeedExam(t, db, 0, 1)
	user := testdb.SeedUser(t, db, "chi", false)
	addSubmission(t, db, exam.ID, user.ID, intPtr(100), 0, 42)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{ID: user.ID}))
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var records []models.HistoryRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ElapsedSeconds != 42 || *records[0].Score != 100 {
		t.Errorf("Unexpected history: %+v", records)
	}

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without principal, got %d", rec.Code)
	}
}

func TestListForExamHandlerRejectsBadSort(t *testing.T) {
	db := testdb.Open(t)
	r := mux.NewRouter()
	NewHandler(New(db)).RegisterAdmin(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/exams/1/submissions?sort=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad sort key, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/exams/1/submissions?sort=score&dir=sideways", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad direction, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/77", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing submission, got %d", rec.Code)
	}
}
