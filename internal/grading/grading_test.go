package grading

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/ocr"
	"github.com/pavelanni/gradedesk/internal/store"
)

// textGateway "transcribes" a page by returning its bytes as text.
type textGateway struct {
	gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *textGateway) Segment(context.Context, []byte) ([]ocr.Region, error) { return nil, nil }

func (g *textGateway) Transcribe(ctx context.Context, image []byte) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if bytes.HasPrefix(image, []byte("ERR")) {
		return "", &ocr.APIError{Call: "handwriting", Code: 17, Message: "Open api daily request limit reached"}
	}
	return string(image), nil
}

type fakeExplainer struct {
	text string
	err  error
}

func (f fakeExplainer) Explain(context.Context, model.Question, string) (string, error) {
	return f.text, f.err
}

type fixture struct {
	store *store.Store
	blobs *blob.LocalProvider
	gw    *textGateway
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	blobs, err := blob.NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	return fixture{store: s, blobs: blobs, gw: &textGateway{}}
}

func (fx fixture) putPage(t *testing.T, key, text string) {
	t.Helper()
	if err := fx.blobs.Put(context.Background(), key, strings.NewReader(text), int64(len(text)), "image/png"); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func examQuestions(examID string) []model.Question {
	return []model.Question{
		{ID: examID + "-q2", ExamID: examID, Index: 2, MaxScore: 10, StandardAnswer: "8", KnowledgePoint: "Subtraction"},
		{ID: examID + "-q1", ExamID: examID, Index: 1, MaxScore: 10, StandardAnswer: "15", KnowledgePoint: "Addition"},
	}
}

func TestGradeMatchesStandardAnswers(t *testing.T) {
	fx := newFixture(t)
	fx.putPage(t, "sub/s1/1.png", "answer 15 plus more text")
	engine := NewEngine(fx.blobs, fx.gw, nil)

	sub := model.Submission{ID: "s1", ExamID: "e1", StudentID: "st1", PaperImages: []string{"sub/s1/1.png"}, Status: model.SubmissionUploaded}
	got, err := engine.Grade(context.Background(), sub, examQuestions("e1"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	if got.Status != model.SubmissionGraded || got.GradedAt == nil {
		t.Fatalf("expected graded submission with timestamp, got %+v", got)
	}
	if got.TotalScore != 10 {
		t.Errorf("TotalScore = %d, want 10", got.TotalScore)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got.Results))
	}
	first, second := got.Results[0], got.Results[1]
	if first.QuestionID != "e1-q1" || !first.Correct || first.Score != 10 || first.ErrorAnalysis != "" {
		t.Errorf("unexpected result for question 1: %+v", first)
	}
	if second.QuestionID != "e1-q2" || second.Correct || second.Score != 0 || second.ErrorAnalysis != StaticAnalysis {
		t.Errorf("unexpected result for question 2: %+v", second)
	}
	if got.RecognizedText != "answer 15 plus more text" {
		t.Errorf("RecognizedText = %q", got.RecognizedText)
	}
	if got.TotalScore != model.SumScores(got.Results) {
		t.Error("total does not equal the sum of scores")
	}
}

func TestGradeVerbatimMatching(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		answer  string
		correct bool
	}{
		{"exact", "15", "15", true},
		{"substring of a larger number", "150", "15", true},
		{"no normalization of spaces", "1 5", "15", false},
		{"case sensitive", "yes", "Yes", false},
		{"empty standard answer", "anything", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.putPage(t, "p.png", tt.text)
			engine := NewEngine(fx.blobs, fx.gw, nil)
			q := []model.Question{{ID: "q", Index: 1, MaxScore: 5, StandardAnswer: tt.answer}}

			got, err := engine.Grade(context.Background(), model.Submission{ID: "s", PaperImages: []string{"p.png"}}, q)
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if got.Results[0].Correct != tt.correct {
				t.Errorf("Correct = %v, want %v", got.Results[0].Correct, tt.correct)
			}
		})
	}
}

func TestGradeOnlyFirstPage(t *testing.T) {
	fx := newFixture(t)
	fx.putPage(t, "p1.png", "nothing here")
	fx.putPage(t, "p2.png", "15 8")
	engine := NewEngine(fx.blobs, fx.gw, nil)

	got, err := engine.Grade(context.Background(), model.Submission{ID: "s", PaperImages: []string{"p1.png", "p2.png"}}, examQuestions("e1"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.TotalScore != 0 {
		t.Errorf("TotalScore = %d, want 0 since only the first page is read", got.TotalScore)
	}
	if fx.gw.calls != 1 {
		t.Errorf("expected one transcription, got %d", fx.gw.calls)
	}
}

func TestGradeFailsToZero(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
	}{
		{"no pages", nil},
		{"missing blob", []string{"missing.png"}},
		{"ocr error", []string{"err.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.putPage(t, "err.png", "ERR")
			engine := NewEngine(fx.blobs, fx.gw, nil)

			got, err := engine.Grade(context.Background(), model.Submission{ID: "s", PaperImages: tt.pages}, examQuestions("e1"))
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if got.Status != model.SubmissionGraded {
				t.Errorf("Status = %q, want graded", got.Status)
			}
			if got.TotalScore != 0 || len(got.Results) != 0 {
				t.Errorf("expected zero score and no results, got %d / %d", got.TotalScore, len(got.Results))
			}
			if !got.GradingFailed(2) {
				t.Error("GradingFailed() should be true")
			}
		})
	}
}

func TestGradeExplainer(t *testing.T) {
	tests := []struct {
		name      string
		explainer Explainer
		want      string
	}{
		{"model analysis", fakeExplainer{text: "Wrote 15 instead of 8."}, "Wrote 15 instead of 8."},
		{"model failure falls back", fakeExplainer{err: errors.New("quota exceeded")}, StaticAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.putPage(t, "p.png", "15")
			engine := NewEngine(fx.blobs, fx.gw, tt.explainer)

			got, err := engine.Grade(context.Background(), model.Submission{ID: "s", PaperImages: []string{"p.png"}}, examQuestions("e1"))
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if got.Results[1].ErrorAnalysis != tt.want {
				t.Errorf("ErrorAnalysis = %q, want %q", got.Results[1].ErrorAnalysis, tt.want)
			}
		})
	}
}

// seedExam stores an exam with two questions and one uploaded submission per sheet text.
func seedExam(t *testing.T, fx fixture, status model.ExamStatus, sheets map[string]string) {
	t.Helper()
	if err := fx.store.SaveExam(model.Exam{ID: "e1", Title: "Round 1", Status: status}); err != nil {
		t.Fatalf("SaveExam: %v", err)
	}
	if err := fx.store.ReplaceQuestions("e1", examQuestions("e1")); err != nil {
		t.Fatalf("ReplaceQuestions: %v", err)
	}
	for student, text := range sheets {
		key := "sub/" + student + ".png"
		fx.putPage(t, key, text)
		sub := model.Submission{
			ID: "sub-" + student, ExamID: "e1", StudentID: student,
			PaperImages: []string{key}, Status: model.SubmissionUploaded,
			Results: []model.QuestionResult{}, UploadedAt: time.Now().UTC(),
		}
		if err := fx.store.SaveSubmission(sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}
}

func TestBatchRun(t *testing.T) {
	fx := newFixture(t)
	seedExam(t, fx, model.ExamAnalyzed, map[string]string{"st1": "15 and 8", "st2": "15", "st3": "ERR"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	var calls [][2]int
	sum, err := batch.Run(context.Background(), "e1", func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 3 || sum.Graded != 2 || sum.Failed != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(calls) != 4 || calls[0] != [2]int{0, 3} || calls[3] != [2]int{3, 3} {
		t.Errorf("unexpected progress calls %v", calls)
	}

	scores := map[string]int{"st1": 20, "st2": 10, "st3": 0}
	for student, want := range scores {
		sub, err := fx.store.SubmissionFor("e1", student)
		if err != nil {
			t.Fatalf("SubmissionFor %s: %v", student, err)
		}
		if sub.Status != model.SubmissionGraded || sub.TotalScore != want {
			t.Errorf("%s: status %q score %d, want graded %d", student, sub.Status, sub.TotalScore, want)
		}
	}

	exam, _ := fx.store.GetExam("e1")
	if exam.Status != model.ExamCompleted {
		t.Errorf("exam status = %q, want completed", exam.Status)
	}
}

func TestBatchRunIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	seedExam(t, fx, model.ExamAnalyzed, map[string]string{"st1": "15"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	if _, err := batch.Run(context.Background(), "e1", nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, _ := fx.store.SubmissionFor("e1", "st1")

	sum, err := batch.Run(context.Background(), "e1", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Total != 0 {
		t.Errorf("second pass should find nothing to grade, got %+v", sum)
	}
	after, _ := fx.store.SubmissionFor("e1", "st1")
	if !after.GradedAt.Equal(*before.GradedAt) || after.TotalScore != before.TotalScore {
		t.Error("graded submission was modified by the second pass")
	}
	if fx.gw.calls != 1 {
		t.Errorf("expected one OCR call overall, got %d", fx.gw.calls)
	}
}

func TestBatchGradesSupplementalUpload(t *testing.T) {
	fx := newFixture(t)
	seedExam(t, fx, model.ExamCompleted, map[string]string{"late": "8"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	sum, err := batch.Run(context.Background(), "e1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Graded != 1 {
		t.Errorf("expected the supplemental sheet to be graded, got %+v", sum)
	}
	exam, _ := fx.store.GetExam("e1")
	if exam.Status != model.ExamCompleted {
		t.Errorf("exam status = %q, want completed", exam.Status)
	}
}

func TestBatchRequiresConfirmedExam(t *testing.T) {
	fx := newFixture(t)
	seedExam(t, fx, model.ExamDraft, map[string]string{"st1": "15"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	if _, err := batch.Run(context.Background(), "e1", nil); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if _, err := batch.Run(context.Background(), "nope", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// waitForTranscribe blocks until the gateway has been called n times.
func waitForTranscribe(t *testing.T, gw *textGateway, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		gw.mu.Lock()
		calls := gw.calls
		gw.mu.Unlock()
		if calls >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gateway was not called %d times", n)
}

type runResult struct {
	sum Summary
	err error
}

func TestBatchCancelledPassKeepsSheetUploaded(t *testing.T) {
	fx := newFixture(t)
	fx.gw.gate = make(chan struct{})
	seedExam(t, fx, model.ExamAnalyzed, map[string]string{"st1": "15 and 8"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() {
		sum, err := batch.Run(ctx, "e1", nil)
		done <- runResult{sum, err}
	}()
	waitForTranscribe(t, fx.gw, 1)
	cancel()
	res := <-done

	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.err)
	}
	if res.sum.Graded != 0 || res.sum.Failed != 0 {
		t.Errorf("cancelled sheet was counted: %+v", res.sum)
	}
	sub, err := fx.store.SubmissionFor("e1", "st1")
	if err != nil {
		t.Fatalf("SubmissionFor: %v", err)
	}
	if sub.Status != model.SubmissionUploaded || sub.GradedAt != nil {
		t.Errorf("sheet should stay uploaded, got %q", sub.Status)
	}
	exam, _ := fx.store.GetExam("e1")
	if exam.Status != model.ExamGrading {
		t.Errorf("exam status = %q, want grading", exam.Status)
	}

	// The next pass picks the sheet up again.
	fx.gw.gate = nil
	res.sum, res.err = batch.Run(context.Background(), "e1", nil)
	if res.err != nil {
		t.Fatalf("Run after cancel: %v", res.err)
	}
	sub, _ = fx.store.SubmissionFor("e1", "st1")
	if sub.Status != model.SubmissionGraded || sub.TotalScore != 20 {
		t.Errorf("status %q score %d, want graded 20", sub.Status, sub.TotalScore)
	}
	exam, _ = fx.store.GetExam("e1")
	if exam.Status != model.ExamCompleted {
		t.Errorf("exam status = %q, want completed", exam.Status)
	}
}

func TestBatchSkipsSheetReplacedDuringGrading(t *testing.T) {
	fx := newFixture(t)
	fx.gw.gate = make(chan struct{})
	seedExam(t, fx, model.ExamAnalyzed, map[string]string{"st1": "15"})
	batch := NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil))

	done := make(chan runResult, 1)
	go func() {
		sum, err := batch.Run(context.Background(), "e1", nil)
		done <- runResult{sum, err}
	}()
	waitForTranscribe(t, fx.gw, 1)

	sub, err := fx.store.SubmissionFor("e1", "st1")
	if err != nil {
		t.Fatalf("SubmissionFor: %v", err)
	}
	fx.putPage(t, "sub/st1-v2.png", "15 and 8")
	sub.PaperImages = []string{"sub/st1-v2.png"}
	sub.UploadedAt = sub.UploadedAt.Add(time.Second)
	if err := fx.store.SaveSubmission(sub); err != nil {
		t.Fatalf("SaveSubmission re-upload: %v", err)
	}
	close(fx.gw.gate)
	res := <-done

	if res.err != nil {
		t.Fatalf("Run: %v", res.err)
	}
	if res.sum.Skipped != 1 || res.sum.Graded != 0 {
		t.Errorf("unexpected summary %+v", res.sum)
	}
	cur, _ := fx.store.SubmissionFor("e1", "st1")
	if cur.Status != model.SubmissionUploaded || cur.PaperImages[0] != "sub/st1-v2.png" {
		t.Errorf("re-uploaded sheet was overwritten: %+v", cur)
	}
	exam, _ := fx.store.GetExam("e1")
	if exam.Status != model.ExamGrading {
		t.Errorf("exam status = %q, want grading while a sheet is pending", exam.Status)
	}
}

func TestTrackerOnePassPerExam(t *testing.T) {
	fx := newFixture(t)
	fx.gw.gate = make(chan struct{})
	seedExam(t, fx, model.ExamAnalyzed, map[string]string{"st1": "15", "st2": "8"})
	tracker := NewTracker(context.Background(), NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil)))

	if err := tracker.Start("e1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tracker.Start("e1"); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning, got %v", err)
	}
	if _, err := tracker.Run(context.Background(), "e1"); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning from Run, got %v", err)
	}
	state, ok := tracker.Progress("e1")
	if !ok || !state.Running {
		t.Fatalf("expected running pass, got %+v", state)
	}

	close(fx.gw.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.Wait(ctx, "e1"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	state, _ = tracker.Progress("e1")
	if state.Running || state.Done != 2 || state.Total != 2 || state.Error != "" {
		t.Errorf("unexpected final state %+v", state)
	}
	if state.Summary == nil || state.Summary.Graded != 2 {
		t.Errorf("unexpected summary %+v", state.Summary)
	}

	// A finished pass frees the slot.
	if _, err := tracker.Run(context.Background(), "e1"); err != nil {
		t.Fatalf("Run after finish: %v", err)
	}
}

func TestTrackerUnknownExam(t *testing.T) {
	fx := newFixture(t)
	tracker := NewTracker(context.Background(), NewBatch(fx.store, NewEngine(fx.blobs, fx.gw, nil)))
	if _, ok := tracker.Progress("e1"); ok {
		t.Error("expected no pass for an untouched exam")
	}
	if err := tracker.Wait(context.Background(), "e1"); err != nil {
		t.Errorf("Wait on unknown exam: %v", err)
	}
}
