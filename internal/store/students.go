package store

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradedesk/internal/model"
)

const upsertStudentSQL = `INSERT INTO students (id, data) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data`

// ListStudents returns the whole roster in insertion order.
func (s *Store) ListStudents() ([]model.Student, error) {
	rows, err := s.db.Query(`SELECT id, data FROM students ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Student](CollectionStudents, rows)
}

// GetStudent returns a student by id.
func (s *Store) GetStudent(id string) (model.Student, error) {
	return decodeOne[model.Student](s.db.QueryRow(`SELECT data FROM students WHERE id = ?`, id), CollectionStudents, id)
}

// UpsertStudent inserts a student or replaces the stored one with the same id.
func (s *Store) UpsertStudent(st model.Student) error {
	return s.AddStudents([]model.Student{st})
}

// AddStudents upserts every student by id, keeping the rest of the roster.
func (s *Store) AddStudents(students []model.Student) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, st := range students {
		data, err := encode(st)
		if err != nil {
			return fmt.Errorf("encode student %q: %w", st.ID, err)
		}
		if _, err := tx.Exec(upsertStudentSQL, st.ID, data); err != nil {
			return fmt.Errorf("upsert student %q: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// ReplaceStudents overwrites the whole roster.
func (s *Store) ReplaceStudents(students []model.Student) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM students`); err != nil {
		return err
	}
	for _, st := range students {
		data, err := encode(st)
		if err != nil {
			return fmt.Errorf("encode student %q: %w", st.ID, err)
		}
		if _, err := tx.Exec(upsertStudentSQL, st.ID, data); err != nil {
			return fmt.Errorf("insert student %q: %w", st.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("replaced roster", "count", len(students))
	return nil
}
