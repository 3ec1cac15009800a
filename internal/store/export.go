package store

import (
	"fmt"

	"github.com/pavelanni/gradedesk/internal/model"
)

// ExportExam gathers an exam with its questions and submissions.
// The analysis part of the export is filled in by the caller.
func (s *Store) ExportExam(examID string) (model.ExamExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.ListQuestions(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list questions: %w", err)
	}
	subs, err := s.ListSubmissions(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list submissions: %w", err)
	}
	return model.ExamExport{
		Exam:        exam,
		Questions:   questions,
		Submissions: subs,
	}, nil
}
