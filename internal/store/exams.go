package store

import (
	"fmt"

	"github.com/pavelanni/gradedesk/internal/model"
)

// ListExams returns all exams in creation order.
func (s *Store) ListExams() ([]model.Exam, error) {
	rows, err := s.db.Query(`SELECT id, data FROM exams ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Exam](CollectionExams, rows)
}

// GetExam returns an exam by id.
func (s *Store) GetExam(id string) (model.Exam, error) {
	return decodeOne[model.Exam](s.db.QueryRow(`SELECT data FROM exams WHERE id = ?`, id), CollectionExams, id)
}

// SaveExam inserts or replaces an exam by id.
func (s *Store) SaveExam(e model.Exam) error {
	data, err := encode(e)
	if err != nil {
		return fmt.Errorf("encode exam %q: %w", e.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO exams (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		e.ID, data,
	)
	return err
}
