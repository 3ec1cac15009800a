package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/gradedesk/internal/model"
)

type studentRequest struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=100"`
	Grade     string `json:"grade" validate:"max=50"`
	ClassType string `json:"classType" validate:"max=50"`
	Teacher   string `json:"teacher" validate:"max=100"`
}

func (s studentRequest) student() model.Student {
	return model.Student{
		ID:        strings.TrimSpace(s.ID),
		Name:      strings.TrimSpace(s.Name),
		Grade:     strings.TrimSpace(s.Grade),
		ClassType: strings.TrimSpace(s.ClassType),
		Teacher:   strings.TrimSpace(s.Teacher),
	}
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleSaveStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	st := req.student()
	if err := h.store.UpsertStudent(st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// handleImportStudents loads a roster from a CSV file with the columns
// id,name,grade,classType,teacher. mode=replace overwrites the roster,
// anything else appends (upserting by id).
func (h *Handler) handleImportStudents(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		writeMessage(w, http.StatusBadRequest, "file too large or not multipart")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	students, err := h.parseRoster(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := r.FormValue("mode")
	if mode == "replace" {
		err = h.store.ReplaceStudents(students)
	} else {
		mode = "append"
		err = h.store.AddStudents(students)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("imported roster", "filename", header.Filename, "mode", mode, "count", len(students))
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(students), "mode": mode})
}

var rosterColumns = []string{"id", "name", "grade", "classtype", "teacher"}

func (h *Handler) parseRoster(r io.Reader) ([]model.Student, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var students []model.Student
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isRosterHeader(rec) {
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected at least id and name", line)
		}
		for len(rec) < len(rosterColumns) {
			rec = append(rec, "")
		}
		req := studentRequest{ID: rec[0], Name: rec[1], Grade: rec[2], ClassType: rec[3], Teacher: rec[4]}
		req.ID, req.Name = strings.TrimSpace(req.ID), strings.TrimSpace(req.Name)
		if err := h.validate.Struct(req); err != nil {
			return nil, fmt.Errorf("line %d: invalid student: %w", line, err)
		}
		students = append(students, req.student())
	}
	if len(students) == 0 {
		return nil, errors.New("roster file has no students")
	}
	return students, nil
}

func isRosterHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), rosterColumns[0])
}
