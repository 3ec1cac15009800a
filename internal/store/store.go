package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("not found")

// Collection names. Each collection is one table of JSON documents keyed by id.
const (
	CollectionStudents    = "students"
	CollectionExams       = "exams"
	CollectionQuestions   = "questions"
	CollectionSubmissions = "submissions"
)

var collections = []string{CollectionStudents, CollectionExams, CollectionQuestions, CollectionSubmissions}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id, idx);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_exam_student ON submissions(exam_id, student_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ClearAll wipes every collection.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range collections {
		if _, err := tx.Exec(`DELETE FROM ` + c); err != nil {
			return fmt.Errorf("clear %s: %w", c, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("cleared all collections")
	return nil
}

// decodeRows reads (id, data) rows into documents. A document that fails to
// decode is logged and skipped, so a corrupt collection reads as empty.
func decodeRows[T any](collection string, rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	docs := make([]T, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			slog.Warn("skipping malformed document", "collection", collection, "id", id, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// decodeOne loads a single document by id. Missing and malformed documents
// both report ErrNotFound.
func decodeOne[T any](row *sql.Row, collection, id string) (T, error) {
	var doc T
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
		}
		return doc, err
	}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		slog.Warn("malformed document", "collection", collection, "id", id, "error", err)
		return doc, fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
	}
	return doc, nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
