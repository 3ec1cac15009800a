package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// ListSubmissions returns every submission of an exam in upload order.
func (s *Store) ListSubmissions(examID string) ([]model.Submission, error) {
	rows, err := s.db.Query(`SELECT id, data FROM submissions WHERE exam_id = ? ORDER BY rowid`, examID)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Submission](CollectionSubmissions, rows)
}

// ListSubmissionsByStatus returns the submissions of an exam in the given status.
func (s *Store) ListSubmissionsByStatus(examID string, status model.SubmissionStatus) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, data FROM submissions WHERE exam_id = ? AND status = ? ORDER BY rowid`,
		examID, status,
	)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Submission](CollectionSubmissions, rows)
}

// CountSubmissionsByStatus counts the submissions of an exam in the given status.
func (s *Store) CountSubmissionsByStatus(examID string, status model.SubmissionStatus) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM submissions WHERE exam_id = ? AND status = ?`, examID, status,
	).Scan(&count)
	return count, err
}

// GetSubmission returns a submission by id.
func (s *Store) GetSubmission(id string) (model.Submission, error) {
	return decodeOne[model.Submission](s.db.QueryRow(`SELECT data FROM submissions WHERE id = ?`, id), CollectionSubmissions, id)
}

// SubmissionFor returns the current submission of a student for an exam.
func (s *Store) SubmissionFor(examID, studentID string) (model.Submission, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM submissions WHERE exam_id = ? AND student_id = ?`, examID, studentID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, fmt.Errorf("submission for student %q: %w", studentID, ErrNotFound)
	}
	if err != nil {
		return model.Submission{}, err
	}
	return s.GetSubmission(id)
}

// SaveSubmission upserts a submission by id. Any other submission for the same
// (exam, student) pair is removed first, so each student has at most one
// current submission per exam.
func (s *Store) SaveSubmission(sub model.Submission) error {
	data, err := encode(sub)
	if err != nil {
		return fmt.Errorf("encode submission %q: %w", sub.ID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`DELETE FROM submissions WHERE exam_id = ? AND student_id = ? AND id <> ?`,
		sub.ExamID, sub.StudentID, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("drop superseded submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("superseded previous submission", "exam_id", sub.ExamID, "student_id", sub.StudentID)
	}

	if _, err := tx.Exec(
		`INSERT INTO submissions (id, exam_id, student_id, status, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET exam_id = excluded.exam_id, student_id = excluded.student_id,
		 status = excluded.status, data = excluded.data`,
		sub.ID, sub.ExamID, sub.StudentID, sub.Status, data,
	); err != nil {
		return fmt.Errorf("upsert submission %q: %w", sub.ID, err)
	}
	return tx.Commit()
}

// SaveGradedSubmission writes a graded submission only if the stored row still
// carries the given upload time. It reports false when the sheet was replaced or
// removed since it was read, leaving the stored row as it is.
func (s *Store) SaveGradedSubmission(sub model.Submission, uploadedAt time.Time) (bool, error) {
	data, err := encode(sub)
	if err != nil {
		return false, fmt.Errorf("encode submission %q: %w", sub.ID, err)
	}
	res, err := s.db.Exec(
		`UPDATE submissions SET status = ?, data = ?
		 WHERE id = ? AND json_extract(data, '$.uploadedAt') = ?`,
		sub.Status, data, sub.ID, uploadedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("update submission %q: %w", sub.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
