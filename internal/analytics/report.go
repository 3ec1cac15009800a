package analytics

import (
	"fmt"

	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/store"
)

// Service builds reports from the store.
type Service struct {
	store *store.Store
}

// NewService creates a Service.
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// ClassAnalysis loads an exam's questions and submissions and analyzes them.
func (s *Service) ClassAnalysis(examID string) (model.ClassAnalysis, error) {
	if _, err := s.store.GetExam(examID); err != nil {
		return model.ClassAnalysis{}, err
	}
	questions, err := s.store.ListQuestions(examID)
	if err != nil {
		return model.ClassAnalysis{}, fmt.Errorf("list questions: %w", err)
	}
	subs, err := s.store.ListSubmissions(examID)
	if err != nil {
		return model.ClassAnalysis{}, fmt.Errorf("list submissions: %w", err)
	}
	return Analyze(examID, questions, subs), nil
}

// ClassReport returns the analysis together with the weakest knowledge point and
// the number of students below the passing score.
func (s *Service) ClassReport(examID string) (model.ClassReport, error) {
	exam, err := s.store.GetExam(examID)
	if err != nil {
		return model.ClassReport{}, err
	}
	analysis, err := s.ClassAnalysis(examID)
	if err != nil {
		return model.ClassReport{}, err
	}
	subs, err := s.store.ListSubmissionsByStatus(examID, model.SubmissionGraded)
	if err != nil {
		return model.ClassReport{}, fmt.Errorf("list graded submissions: %w", err)
	}
	return BuildClassReport(exam, analysis, subs), nil
}

// BuildClassReport derives the class report from an analysis and the graded submissions.
func BuildClassReport(exam model.Exam, analysis model.ClassAnalysis, graded []model.Submission) model.ClassReport {
	r := model.ClassReport{Exam: exam, Analysis: analysis}
	weakest := -1.0
	for _, st := range analysis.KnowledgePointStats {
		if st.Total == 0 {
			continue
		}
		if weakest < 0 || st.Accuracy < weakest {
			weakest = st.Accuracy
			r.WeakestPoint = st.Point
		}
	}
	for _, sub := range graded {
		if sub.Status == model.SubmissionGraded && sub.TotalScore < PassingScore {
			r.BelowPassing++
		}
	}
	return r
}

// StudentReport returns one student's result for an exam.
func (s *Service) StudentReport(examID, studentID string) (model.StudentReport, error) {
	student, err := s.store.GetStudent(studentID)
	if err != nil {
		return model.StudentReport{}, err
	}
	sub, err := s.store.SubmissionFor(examID, studentID)
	if err != nil {
		return model.StudentReport{}, err
	}
	questions, err := s.store.ListQuestions(examID)
	if err != nil {
		return model.StudentReport{}, fmt.Errorf("list questions: %w", err)
	}
	graded, err := s.store.ListSubmissionsByStatus(examID, model.SubmissionGraded)
	if err != nil {
		return model.StudentReport{}, fmt.Errorf("list graded submissions: %w", err)
	}
	return BuildStudentReport(student, sub, questions, graded), nil
}

// BuildStudentReport assembles a student report. Rank is the competition rank
// (1 + number of strictly higher totals) among graded submissions; an ungraded
// submission has rank 0.
func BuildStudentReport(student model.Student, sub model.Submission, questions []model.Question, graded []model.Submission) model.StudentReport {
	r := model.StudentReport{
		ExamID:        sub.ExamID,
		Student:       student,
		SubmissionID:  sub.ID,
		Status:        sub.Status,
		TotalScore:    sub.TotalScore,
		AnsweredCount: len(sub.Results),
		GradingFailed: sub.GradingFailed(len(questions)),
		Results:       []model.ResultView{},
	}

	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for _, res := range sub.Results {
		if res.Correct {
			r.CorrectCount++
		}
		q := byID[res.QuestionID]
		r.Results = append(r.Results, model.ResultView{
			QuestionIndex:  q.Index,
			KnowledgePoint: q.KnowledgePoint,
			MaxScore:       q.MaxScore,
			QuestionResult: res,
		})
	}
	if r.AnsweredCount > 0 {
		r.Accuracy = float64(r.CorrectCount) / float64(r.AnsweredCount)
	}

	if sub.Status == model.SubmissionGraded {
		r.RankedOf = len(graded)
		r.Rank = 1
		for _, other := range graded {
			if other.TotalScore > sub.TotalScore {
				r.Rank++
			}
		}
	}
	return r
}
