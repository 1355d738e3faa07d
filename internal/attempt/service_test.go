package attempt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"school-quiz/internal/auth"
	"school-quiz/internal/catalog"
	"school-quiz/internal/ledger"
	"school-quiz/internal/models"
	"school-quiz/internal/testdb"
	"school-quiz/pkg/cache"
	"school-quiz/pkg/events"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorder struct {
	mu     sync.Mutex
	events []events.AttemptEvent
}

func (r *recorder) Notify(_ context.Context, ev events.AttemptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	svc    *Service
	ledger *ledger.Ledger
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCache(cache.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	l := ledger.New(db)
	cat := catalog.NewService(catalog.NewRepository(db), rc)
	rec := &recorder{}
	svc := NewService(db, cat, l, cache.NewSessionStore(rc, time.Hour), NewHandleSigner("handle-secret", time.Hour), rec)
	c := &clock{t: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	svc.now = c.now

	return &fixture{db: db, mr: mr, svc: svc, ledger: l, clock: c, events: rec}
}

func (f *fixture) student(t *testing.T, name string) auth.Principal {
	t.Helper()
	u := testdb.SeedUser(t, f.db, name, false)
	return auth.Principal{ID: u.ID, ClassID: u.ClassID}
}

func (f *fixture) submission(t *testing.T, id uint) models.Submission {
	t.Helper()
	var sub models.Submission
	if err := f.db.First(&sub, id).Error; err != nil {
		t.Fatalf("load submission %d: %v", id, err)
	}
	return sub
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestAttemptsExhausted(t *testing.T) {
	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("max_%d", limit), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			exam := testdb.SeedExam(t, f.db, limit, 2)
			p := f.student(t, "lan")

			for i := 0; i < limit; i++ {
				start, err := f.svc.StartAttempt(ctx, p, exam.ID)
				if err != nil {
					t.Fatalf("limit %d: start %d: %v", limit, i, err)
				}
				if _, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 1), start.Handle); err != nil {
					t.Fatalf("limit %d: submit %d: %v", limit, i, err)
				}
			}

			if _, err := f.svc.StartAttempt(ctx, p, exam.ID); !errors.Is(err, ErrAttemptsExhausted) {
				t.Fatalf("limit %d: expected ErrAttemptsExhausted, got %v", limit, err)
			}
			if n := f.count(t, &models.Submission{}, "exam_id = ?", exam.ID); n != int64(limit) {
				t.Errorf("limit %d: expected exhausted start to write nothing, have %d rows", limit, n)
			}
			types := f.events.types()
			if types[len(types)-1] != events.AttemptRejected {
				t.Errorf("limit %d: expected rejected event last, got %v", limit, types)
			}
		})
	}
}

func TestPendingAttemptConsumesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 1, 2)
	p := f.student(t, "minh")

	if _, err := f.svc.StartAttempt(ctx, p, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// the single slot is held by the pending row, so reopening is refused
	if _, err := f.svc.StartAttempt(ctx, p, exam.ID); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted with the only slot pending, got %v", err)
	}

	used, err := f.ledger.AttemptsUsed(ctx, exam.ID, p.ID)
	if err != nil {
		t.Fatalf("attempts used: %v", err)
	}
	if used != 1 {
		t.Errorf("Expected 1 attempt used, got %d", used)
	}
}

func TestUnlimitedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 1)
	p := f.student(t, "hoa")

	for i := 0; i < 6; i++ {
		start, err := f.svc.StartAttempt(ctx, p, exam.ID)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if start.AttemptsLeft != nil {
			t.Errorf("Expected unlimited attempts on start %d, got %d", i, *start.AttemptsLeft)
		}
		res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, nil, start.Handle)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if res.AttemptsLeft != nil {
			t.Errorf("Expected unlimited attempts on submit %d, got %d", i, *res.AttemptsLeft)
		}
	}
}

func TestConcurrentStartsShareOnePendingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "quang")

	const clicks = 5
	ids := make([]uint, clicks)
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.StartAttempt(ctx, p, exam.ID)
			if err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			ids[i] = res.SubmissionID
		}(i)
	}
	wg.Wait()

	if n := f.count(t, &models.Submission{}, "exam_id = ? AND score IS NULL", exam.ID); n != 1 {
		t.Fatalf("Expected one pending submission, got %d", n)
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("Start %d: expected submission %d, got %d", i, ids[0], id)
		}
	}
}

func TestLockUserEmitsRowLock(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=quiz dbname=quiz sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}

	stmt := lockUser(db, 42).Statement
	if sql := stmt.SQL.String(); !strings.Contains(sql, "FOR UPDATE") || !strings.Contains(sql, `"users"`) {
		t.Errorf("Expected a FOR UPDATE lock on users, got %q", sql)
	}
	if len(stmt.Vars) == 0 || stmt.Vars[0] != uint(42) {
		t.Errorf("Expected the user id bound, got %v", stmt.Vars)
	}
}

func TestIdempotentResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 3, 2)
	p := f.student(t, "tuan")

	first, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	f.clock.advance(time.Minute)
	second, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if first.SubmissionID != second.SubmissionID {
		t.Errorf("Expected the same submission on resume, got %d and %d", first.SubmissionID, second.SubmissionID)
	}
	if first.Resumed || !second.Resumed {
		t.Errorf("Expected only the second start to be a resume")
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Errorf("Expected resume to keep the original start time")
	}
	if *second.AttemptsLeft != 2 {
		t.Errorf("Expected 2 attempts left, got %d", *second.AttemptsLeft)
	}
	if n := f.count(t, &models.Submission{}, "exam_id = ?", exam.ID); n != 1 {
		t.Errorf("Expected one submission row, got %d", n)
	}
}

func TestStartHidesCorrectness(t *testing.T) {
	f := newFixture(t)
	exam := testdb.SeedExam(t, f.db, 0, 3)
	f.db.Model(&models.Question{}).Where("id = ?", exam.Questions[0].ID).Update("order_idx", 9)

	start, err := f.svc.StartAttempt(context.Background(), f.student(t, "an"), exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(start.Questions) != 3 {
		t.Fatalf("Expected 3 questions, got %d", len(start.Questions))
	}
	if start.Questions[2].ID != exam.Questions[0].ID {
		t.Errorf("Expected questions ordered by order_idx")
	}
	for _, q := range start.Questions {
		for _, o := range q.Options {
			if o.IsCorrect != nil {
				t.Fatalf("Expected correctness hidden from students")
			}
		}
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 3, 3)
	p := f.student(t, "binh")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.advance(95*time.Second + 700*time.Millisecond)

	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 2), start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if res.Score != 66 || res.Total != 3 {
		t.Errorf("Expected 66 of 3, got %d of %d", res.Score, res.Total)
	}
	if res.ElapsedSeconds != 95 {
		t.Errorf("Expected elapsed floored to 95s, got %d", res.ElapsedSeconds)
	}
	if res.AttemptsLeft == nil || *res.AttemptsLeft != 2 {
		t.Errorf("Expected attempts left to drop from 3 to 2, got %v", res.AttemptsLeft)
	}
	if res.Duplicate || res.SubmissionID != start.SubmissionID {
		t.Errorf("Expected the pending submission to be completed, got %+v", res)
	}

	sub := f.submission(t, res.SubmissionID)
	if sub.Pending() || *sub.Score != 66 || sub.EndTime.Before(sub.StartTime) {
		t.Errorf("Unexpected stored submission %+v", sub)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", sub.ID); n != 3 {
		t.Errorf("Expected one answer row per question, got %d", n)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ? AND is_correct = ?", sub.ID, true); n != 2 {
		t.Errorf("Expected two correct answer rows, got %d", n)
	}
	if f.mr.Exists(sessionKey(p.ID, exam.ID)) {
		t.Errorf("Expected session association cleared after submit")
	}
}

func TestDuplicateSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 4)
	p := f.student(t, "chi")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 3), start.Handle)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f.clock.advance(time.Minute)
	second, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 4), start.Handle)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if !second.Duplicate {
		t.Errorf("Expected second submit flagged duplicate")
	}
	if second.Score != 75 || second.SubmissionID != first.SubmissionID || second.ElapsedSeconds != first.ElapsedSeconds {
		t.Errorf("Expected stored result returned, got %+v vs %+v", second, first)
	}
	if n := f.count(t, &models.Submission{}, "exam_id = ?", exam.ID); n != 1 {
		t.Errorf("Expected no extra submission, got %d rows", n)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", first.SubmissionID); n != 4 {
		t.Errorf("Expected answer rows untouched, got %d", n)
	}
	if sub := f.submission(t, first.SubmissionID); *sub.Score != 75 {
		t.Errorf("Expected stored score 75, got %d", *sub.Score)
	}
}

func TestSubmitWithoutAnyAssociation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 2, 2)
	p := f.student(t, "dung")

	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 2), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 100 || res.ElapsedSeconds != 0 {
		t.Errorf("Expected fresh completed submission scored 100 with zero elapsed, got %+v", res)
	}
	if *res.AttemptsLeft != 1 {
		t.Errorf("Expected fallback submission to consume an attempt, got %d left", *res.AttemptsLeft)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", res.SubmissionID); n != 2 {
		t.Errorf("Expected answers written on fallback, got %d", n)
	}
}

func TestSubmitFallsBackToPendingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "giang")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mr.FlushAll()
	f.clock.advance(40 * time.Second)

	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 1), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SubmissionID != start.SubmissionID || res.ElapsedSeconds != 40 {
		t.Errorf("Expected pending row reused with its start time, got %+v", res)
	}
	if n := f.count(t, &models.Submission{}, "exam_id = ?", exam.ID); n != 1 {
		t.Errorf("Expected no second submission, got %d", n)
	}
}

func TestSubmitWithHandleOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "khanh")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mr.FlushAll()
	f.clock.advance(30 * time.Second)

	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 2), start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SubmissionID != start.SubmissionID || res.ElapsedSeconds != 30 || res.Duplicate {
		t.Errorf("Expected handle to resolve the pending attempt, got %+v", res)
	}
}

func TestHandleOfAnotherUserIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 1)
	owner := f.student(t, "owner")
	intruder := f.student(t, "intruder")

	start, err := f.svc.StartAttempt(ctx, owner, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := f.svc.SubmitAttempt(ctx, intruder, exam.ID, testdb.Answers(exam, 1), start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SubmissionID == start.SubmissionID {
		t.Fatalf("Expected intruder to get their own submission")
	}
	if sub := f.submission(t, start.SubmissionID); !sub.Pending() {
		t.Errorf("Expected owner's attempt to stay pending")
	}

	if err := f.svc.AbortAttempt(ctx, intruder, exam.ID, start.Handle); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if sub := f.submission(t, start.SubmissionID); !sub.Pending() {
		t.Errorf("Expected owner's attempt to survive a foreign abort")
	}
}

func TestAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 3)
	p := f.student(t, "lam")

	first, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	if _, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 3), first.Handle); err != nil {
		t.Fatalf("submit: %v", err)
	}
	usedBefore, _ := f.ledger.AttemptsUsed(ctx, exam.ID, p.ID)

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.advance(10 * time.Second)
	if err := f.svc.AbortAttempt(ctx, p, exam.ID, ""); err != nil {
		t.Fatalf("abort: %v", err)
	}

	sub := f.submission(t, start.SubmissionID)
	if sub.Pending() || *sub.Score != 0 || sub.EndTime == nil {
		t.Errorf("Expected aborted submission completed with score 0, got %+v", sub)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", sub.ID); n != 0 {
		t.Errorf("Expected abort to write no answer rows, got %d", n)
	}
	usedAfter, _ := f.ledger.AttemptsUsed(ctx, exam.ID, p.ID)
	if usedAfter != usedBefore+1 {
		t.Errorf("Expected attempts used %d, got %d", usedBefore+1, usedAfter)
	}
	best, _ := f.ledger.BestScore(ctx, exam.ID, p.ID)
	if best == nil || *best != 100 {
		t.Errorf("Expected best score unaffected by abort, got %v", best)
	}
	if f.mr.Exists(sessionKey(p.ID, exam.ID)) {
		t.Errorf("Expected session association cleared after abort")
	}

	// the handle still points at the now completed attempt
	f.clock.advance(time.Minute)
	if err := f.svc.AbortAttempt(ctx, p, exam.ID, start.Handle); err != nil {
		t.Fatalf("second abort: %v", err)
	}
	if again := f.submission(t, start.SubmissionID); !again.EndTime.Equal(*sub.EndTime) {
		t.Errorf("Expected second abort to leave the submission untouched")
	}
}

func TestAbortCompletedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "mai")

	start, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 2), start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.AbortAttempt(ctx, p, exam.ID, start.Handle); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if sub := f.submission(t, res.SubmissionID); *sub.Score != 100 {
		t.Errorf("Expected score unchanged by abort, got %d", *sub.Score)
	}
}

func TestAbortWithoutAssociation(t *testing.T) {
	f := newFixture(t)
	exam := testdb.SeedExam(t, f.db, 0, 1)

	if err := f.svc.AbortAttempt(context.Background(), f.student(t, "nam"), exam.ID, ""); err != nil {
		t.Fatalf("Expected abort without association to be a no-op, got %v", err)
	}
	if n := f.count(t, &models.Submission{}, "exam_id = ?", exam.ID); n != 0 {
		t.Errorf("Expected nothing written, got %d rows", n)
	}
}

func TestZeroScoreSubmitDiffersFromAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 3)
	p := f.student(t, "oanh")

	start, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	zero, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 0), start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	aborted, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	if err := f.svc.AbortAttempt(ctx, p, exam.ID, aborted.Handle); err != nil {
		t.Fatalf("abort: %v", err)
	}

	if zero.Score != 0 || *f.submission(t, aborted.SubmissionID).Score != 0 {
		t.Fatalf("Expected both attempts to score 0")
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", zero.SubmissionID); n != 3 {
		t.Errorf("Expected zero-score submit to keep answer rows, got %d", n)
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", aborted.SubmissionID); n != 0 {
		t.Errorf("Expected abort to keep none, got %d", n)
	}
}

func TestForeignOptionStoredAsUnanswered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "phuc")

	q1, q2 := exam.Questions[0], exam.Questions[1]
	answers := map[uint]uint{q1.ID: q2.Options[0].ID, q2.ID: q2.Options[0].ID}

	start, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, answers, start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 50 {
		t.Errorf("Expected only the in-question answer to count, got %d", res.Score)
	}

	var row models.SubmissionAnswer
	if err := f.db.Where("submission_id = ? AND question_id = ?", res.SubmissionID, q1.ID).First(&row).Error; err != nil {
		t.Fatalf("load answer: %v", err)
	}
	if row.SelectedID != nil || row.IsCorrect {
		t.Errorf("Expected foreign option stored as unanswered, got %+v", row)
	}
}

func TestZeroQuestionExam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 0)
	p := f.student(t, "quang")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := f.svc.SubmitAttempt(ctx, p, exam.ID, map[uint]uint{1: 1}, start.Handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 0 || res.Total != 0 {
		t.Errorf("Expected 0 of 0, got %d of %d", res.Score, res.Total)
	}
}

func TestSubmitIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 2)
	p := f.student(t, "son")

	start, err := f.svc.StartAttempt(ctx, p, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	boom := errors.New("disk full")
	err = f.db.Callback().Create().Before("gorm:create").Register("test:fail_answers", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "submission_answers" {
			tx.AddError(boom)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	if _, err := f.svc.SubmitAttempt(ctx, p, exam.ID, testdb.Answers(exam, 2), start.Handle); !errors.Is(err, boom) {
		t.Fatalf("Expected injected failure, got %v", err)
	}
	if sub := f.submission(t, start.SubmissionID); !sub.Pending() {
		t.Errorf("Expected score write rolled back with the failed answers")
	}
	if n := f.count(t, &models.SubmissionAnswer{}, "submission_id = ?", start.SubmissionID); n != 0 {
		t.Errorf("Expected no answer rows, got %d", n)
	}
}

func TestExamNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.student(t, "tam")

	if _, err := f.svc.StartAttempt(context.Background(), p, 404); !errors.Is(err, catalog.ErrExamNotFound) {
		t.Errorf("Expected ErrExamNotFound on start, got %v", err)
	}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, 404, nil, ""); !errors.Is(err, catalog.ErrExamNotFound) {
		t.Errorf("Expected ErrExamNotFound on submit, got %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam := testdb.SeedExam(t, f.db, 0, 1)
	p := f.student(t, "uyen")

	start, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	f.svc.StartAttempt(ctx, p, exam.ID)
	f.svc.SubmitAttempt(ctx, p, exam.ID, nil, start.Handle)
	f.svc.SubmitAttempt(ctx, p, exam.ID, nil, start.Handle)
	next, _ := f.svc.StartAttempt(ctx, p, exam.ID)
	f.svc.AbortAttempt(ctx, p, exam.ID, next.Handle)

	want := []events.Type{
		events.AttemptStarted, events.AttemptStarted,
		events.AttemptSubmitted, events.AttemptSubmitted,
		events.AttemptStarted, events.AttemptAborted,
	}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !f.events.events[1].Resumed || !f.events.events[3].Duplicate {
		t.Errorf("Expected resume and duplicate flags on the repeated calls")
	}
}

func TestListExams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class := &models.Class{Name: "10A"}
	f.db.Create(class)
	limited := testdb.SeedExam(t, f.db, 2, 2)
	open := testdb.SeedExam(t, f.db, 0, 1)
	other := testdb.SeedExam(t, f.db, 1, 1)
	f.db.Model(&models.Exam{}).Where("id IN ?", []uint{limited.ID, open.ID}).Update("class_id", class.ID)
	_ = other

	u := testdb.SeedUser(t, f.db, "vy", false)
	f.db.Model(u).Update("class_id", class.ID)
	// token issued before the student joined the class
	p := auth.Principal{ID: u.ID}

	start, _ := f.svc.StartAttempt(ctx, p, limited.ID)
	f.svc.SubmitAttempt(ctx, p, limited.ID, testdb.Answers(limited, 1), start.Handle)

	list, err := f.svc.ListExams(ctx, p)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected the class's two exams, got %d", len(list))
	}
	byID := map[uint]models.ExamSummary{}
	for _, s := range list {
		byID[s.ID] = s
	}
	if s := byID[limited.ID]; s.AttemptsLeft == nil || *s.AttemptsLeft != 1 || s.BestScore == nil || *s.BestScore != 50 {
		t.Errorf("Unexpected summary for limited exam: %+v", s)
	}
	if s := byID[open.ID]; s.AttemptsLeft != nil || s.BestScore != nil {
		t.Errorf("Expected unlimited, never taken exam, got %+v", s)
	}

	loner := testdb.SeedUser(t, f.db, "khanh", false)
	none, err := f.svc.ListExams(ctx, auth.Principal{ID: loner.ID, ClassID: &class.ID})
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no exams for a user whose stored class is empty, got %v, %v", none, err)
	}

	f.db.Model(u).Update("class_id", nil)
	if gone, err := f.svc.ListExams(ctx, p); err != nil || len(gone) != 0 {
		t.Errorf("Expected unassigned student to see no exams, got %v, %v", gone, err)
	}
}

func sessionKey(userID, examID uint) string {
	return fmt.Sprintf("attempt:%d:%d", userID, examID)
}
