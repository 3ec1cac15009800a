package model

import (
	"errors"
	"fmt"
	"time"
)

// ExamStatus is the coarse progress indicator of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamAnalyzed  ExamStatus = "analyzed"
	ExamGrading   ExamStatus = "grading"
	ExamCompleted ExamStatus = "completed"
)

// ErrInvalidTransition is returned when a status change skips a step or names an unknown status.
var ErrInvalidTransition = errors.New("invalid exam status transition")

var examStatusRank = map[ExamStatus]int{
	ExamDraft:     0,
	ExamAnalyzed:  1,
	ExamGrading:   2,
	ExamCompleted: 3,
}

// Valid reports whether s is a known exam status.
func (s ExamStatus) Valid() bool {
	_, ok := examStatusRank[s]
	return ok
}

// AtLeast reports whether s has reached other in the draft → completed order.
func (s ExamStatus) AtLeast(other ExamStatus) bool {
	return s.Valid() && other.Valid() && examStatusRank[s] >= examStatusRank[other]
}

// Advance returns the status after moving towards to.
// Moving to the current or an earlier status leaves s unchanged.
func (s ExamStatus) Advance(to ExamStatus) (ExamStatus, error) {
	if !s.Valid() || !to.Valid() {
		return s, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, s, to)
	}
	from, target := examStatusRank[s], examStatusRank[to]
	switch {
	case target <= from:
		return s, nil
	case target == from+1:
		return to, nil
	default:
		return s, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, s, to)
	}
}

// SubmissionStatus tracks whether a submission has been through a grading pass.
type SubmissionStatus string

const (
	SubmissionUploaded SubmissionStatus = "uploaded"
	SubmissionGraded   SubmissionStatus = "graded"
)

// QuestionType is the closed set of competition question categories.
type QuestionType string

const (
	TypeCalculation  QuestionType = "Calculation"
	TypeWordProblem  QuestionType = "WordProblem"
	TypeGeometry     QuestionType = "Geometry"
	TypeLogic        QuestionType = "Logic"
	TypeNumberTheory QuestionType = "NumberTheory"
)

// QuestionTypes lists every valid question type in display order.
var QuestionTypes = []QuestionType{TypeCalculation, TypeWordProblem, TypeGeometry, TypeLogic, TypeNumberTheory}

// Valid reports whether t is one of QuestionTypes.
func (t QuestionType) Valid() bool {
	for _, v := range QuestionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// DefaultMaxScore is the score assigned to freshly segmented questions.
const DefaultMaxScore = 10

// Student is one entry of the class roster.
type Student struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	ClassType string `json:"classType"`
	Teacher   string `json:"teacher"`
}

// Exam is one competition paper and the progress of its grading workflow.
type Exam struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Date                string     `json:"date"`
	StandardPaperImages []string   `json:"standardPaperImages"`
	Status              ExamStatus `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Question is one segmented question of an exam's standard paper.
type Question struct {
	ID             string       `json:"id"`
	ExamID         string       `json:"examId"`
	Index          int          `json:"index"`
	ImageSlice     string       `json:"imageSlice"`
	MaxScore       int          `json:"maxScore"`
	KnowledgePoint string       `json:"knowledgePoint"`
	Type           QuestionType `json:"type"`
	StandardAnswer string       `json:"standardAnswer"`
}

// QuestionResult is the grade of one question on one submission.
// Results are replaced wholesale on regrade, never edited.
type QuestionResult struct {
	QuestionID    string `json:"questionId"`
	AnswerImage   string `json:"answerImage,omitempty"`
	Score         int    `json:"score"`
	Correct       bool   `json:"correct"`
	ErrorAnalysis string `json:"errorAnalysis,omitempty"`
	AnswerText    string `json:"answerText,omitempty"`
}

// Submission is one student's answer sheet for one exam.
type Submission struct {
	ID             string           `json:"id"`
	ExamID         string           `json:"examId"`
	StudentID      string           `json:"studentId"`
	PaperImages    []string         `json:"paperImages"`
	Status         SubmissionStatus `json:"status"`
	Results        []QuestionResult `json:"results"`
	TotalScore     int              `json:"totalScore"`
	RecognizedText string           `json:"recognizedText,omitempty"`
	UploadedAt     time.Time        `json:"uploadedAt"`
	GradedAt       *time.Time       `json:"gradedAt,omitempty"`
}

// GradingFailed reports whether the submission went through the fail-to-zero path:
// graded with no per-question results on an exam that has questions.
func (s Submission) GradingFailed(questionCount int) bool {
	return s.Status == SubmissionGraded && len(s.Results) == 0 && questionCount > 0
}

// SumScores returns the sum of the per-question scores.
func SumScores(results []QuestionResult) int {
	total := 0
	for _, r := range results {
		total += r.Score
	}
	return total
}
