package model

import (
	"errors"
	"testing"
)

func TestExamStatusAdvance(t *testing.T) {
	tests := []struct {
		name    string
		from    ExamStatus
		to      ExamStatus
		want    ExamStatus
		wantErr bool
	}{
		{"draft to analyzed", ExamDraft, ExamAnalyzed, ExamAnalyzed, false},
		{"analyzed to grading", ExamAnalyzed, ExamGrading, ExamGrading, false},
		{"grading to completed", ExamGrading, ExamCompleted, ExamCompleted, false},
		{"finish upload on completed is a no-op", ExamCompleted, ExamGrading, ExamCompleted, false},
		{"re-confirm on grading is a no-op", ExamGrading, ExamAnalyzed, ExamGrading, false},
		{"same status", ExamAnalyzed, ExamAnalyzed, ExamAnalyzed, false},
		{"skip a step", ExamDraft, ExamGrading, ExamDraft, true},
		{"skip to completed", ExamAnalyzed, ExamCompleted, ExamAnalyzed, true},
		{"unknown target", ExamDraft, ExamStatus("archived"), ExamDraft, true},
		{"unknown source", ExamStatus(""), ExamAnalyzed, ExamStatus(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Advance(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if got != tt.want {
				t.Errorf("Advance(%q -> %q) = %q, want %q", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestExamStatusAtLeast(t *testing.T) {
	if !ExamCompleted.AtLeast(ExamAnalyzed) {
		t.Error("completed should be at least analyzed")
	}
	if ExamDraft.AtLeast(ExamAnalyzed) {
		t.Error("draft should not be at least analyzed")
	}
	if ExamStatus("bogus").AtLeast(ExamDraft) {
		t.Error("unknown status should never satisfy AtLeast")
	}
}

func TestQuestionTypeValid(t *testing.T) {
	for _, qt := range QuestionTypes {
		if !qt.Valid() {
			t.Errorf("%q should be valid", qt)
		}
	}
	if QuestionType("Algebra").Valid() {
		t.Error("Algebra is not a competition question type")
	}
}

func TestGradingFailed(t *testing.T) {
	tests := []struct {
		name      string
		sub       Submission
		questions int
		want      bool
	}{
		{"uploaded", Submission{Status: SubmissionUploaded}, 3, false},
		{"graded with results", Submission{Status: SubmissionGraded, Results: []QuestionResult{{Score: 0}}}, 3, false},
		{"graded without results", Submission{Status: SubmissionGraded}, 3, true},
		{"exam without questions", Submission{Status: SubmissionGraded}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.GradingFailed(tt.questions); got != tt.want {
				t.Errorf("GradingFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSumScores(t *testing.T) {
	got := SumScores([]QuestionResult{{Score: 10}, {Score: 0}, {Score: 5}})
	if got != 15 {
		t.Errorf("SumScores = %d, want 15", got)
	}
	if SumScores(nil) != 0 {
		t.Error("SumScores(nil) should be 0")
	}
}
