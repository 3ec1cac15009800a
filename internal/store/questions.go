package store

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradedesk/internal/model"
)

// ListQuestions returns the questions of an exam ordered by index.
func (s *Store) ListQuestions(examID string) ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT id, data FROM questions WHERE exam_id = ? ORDER BY idx, rowid`, examID)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Question](CollectionQuestions, rows)
}

// GetQuestion returns a question by id.
func (s *Store) GetQuestion(id string) (model.Question, error) {
	return decodeOne[model.Question](s.db.QueryRow(`SELECT data FROM questions WHERE id = ?`, id), CollectionQuestions, id)
}

// ReplaceQuestions deletes every question of the exam and inserts qs in one transaction.
func (s *Store) ReplaceQuestions(examID string, qs []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions WHERE exam_id = ?`, examID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	for _, q := range qs {
		if q.ExamID != examID {
			return fmt.Errorf("question %q belongs to exam %q, not %q", q.ID, q.ExamID, examID)
		}
		data, err := encode(q)
		if err != nil {
			return fmt.Errorf("encode question %q: %w", q.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO questions (id, exam_id, idx, data) VALUES (?, ?, ?, ?)`,
			q.ID, q.ExamID, q.Index, data,
		); err != nil {
			return fmt.Errorf("insert question %d: %w", q.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("replaced question set", "exam_id", examID, "count", len(qs))
	return nil
}

// UpdateQuestion replaces a stored question. The question must already exist in its exam.
func (s *Store) UpdateQuestion(q model.Question) error {
	data, err := encode(q)
	if err != nil {
		return fmt.Errorf("encode question %q: %w", q.ID, err)
	}
	res, err := s.db.Exec(
		`UPDATE questions SET idx = ?, data = ? WHERE id = ? AND exam_id = ?`,
		q.Index, data, q.ID, q.ExamID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("question %q: %w", q.ID, ErrNotFound)
	}
	return nil
}
