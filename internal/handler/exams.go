package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/gradedesk/internal/model"
)

type examRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type questionRequest struct {
	MaxScore       int                `json:"maxScore" validate:"required,gt=0,lte=1000"`
	KnowledgePoint string             `json:"knowledgePoint" validate:"max=200"`
	Type           model.QuestionType `json:"type" validate:"required,oneof=Calculation WordProblem Geometry Logic NumberTheory"`
	StandardAnswer string             `json:"standardAnswer" validate:"max=500"`
}

type examView struct {
	model.Exam
	Questions []model.Question `json:"questions"`
}

var pageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	exam := model.Exam{
		ID:                  uuid.NewString(),
		Title:               strings.TrimSpace(req.Title),
		Date:                req.Date,
		StandardPaperImages: []string{},
		Status:              model.ExamDraft,
		CreatedAt:           time.Now().UTC(),
	}
	if err := h.store.SaveExam(exam); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("exam created", "exam_id", exam.ID, "title", exam.Title)
	writeJSON(w, http.StatusCreated, exam)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	questions, err := h.store.ListQuestions(exam.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, examView{Exam: exam, Questions: questions})
}

// handleUploadPages replaces the standard paper of a draft exam.
func (h *Handler) handleUploadPages(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if exam.Status != model.ExamDraft {
		writeError(w, fmt.Errorf("%w: standard paper is frozen once the exam is %s", errWrongStatus, exam.Status))
		return
	}
	files, ok := h.multipartFiles(w, r, "pages")
	if !ok {
		return
	}

	keys, err := h.savePages(r.Context(), "exams/"+exam.ID+"/pages", files)
	if err != nil {
		writeError(w, err)
		return
	}
	replaced := exam.StandardPaperImages
	exam.StandardPaperImages = keys
	if err := h.store.SaveExam(exam); err != nil {
		h.deleteBlobs(r.Context(), keys)
		writeError(w, err)
		return
	}
	// Fallback questions point at a whole page; keep those until the exam is analyzed again.
	questions, err := h.store.ListQuestions(exam.ID)
	if err != nil {
		slog.Warn("list questions before page cleanup", "exam_id", exam.ID, "error", err)
	} else {
		inUse := make(map[string]bool, len(questions))
		for _, q := range questions {
			inUse[q.ImageSlice] = true
		}
		stale := make([]string, 0, len(replaced))
		for _, key := range replaced {
			if !inUse[key] {
				stale = append(stale, key)
			}
		}
		h.deleteBlobs(r.Context(), stale)
	}
	slog.Info("standard paper uploaded", "exam_id", exam.ID, "pages", len(keys), "replaced", len(replaced))
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	questions, err := h.analyzer.Analyze(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	exam, err := h.analyzer.Confirm(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.store.GetExam(examID); err != nil {
		writeError(w, err)
		return
	}
	questions, err := h.store.ListQuestions(examID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

// handleUpdateQuestion edits the teacher-owned fields of a question.
// Index and image slice stay as segmentation produced them.
func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	examID, questionID := chi.URLParam(r, "examID"), chi.URLParam(r, "questionID")
	q, err := h.store.GetQuestion(questionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if q.ExamID != examID {
		writeMessage(w, http.StatusNotFound, "question not found in this exam")
		return
	}

	var req questionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	q.MaxScore = req.MaxScore
	q.KnowledgePoint = strings.TrimSpace(req.KnowledgePoint)
	q.Type = req.Type
	q.StandardAnswer = strings.TrimSpace(req.StandardAnswer)

	if err := h.store.UpdateQuestion(q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) multipartFiles(w http.ResponseWriter, r *http.Request, field string) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		writeMessage(w, http.StatusBadRequest, "file too large or not multipart")
		return nil, false
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		writeMessage(w, http.StatusBadRequest, "no "+field+" uploaded")
		return nil, false
	}
	return files, true
}

// savePages stores uploaded page images under prefix in upload order and returns their keys.
// On failure nothing from this call is left in blob storage.
func (h *Handler) savePages(ctx context.Context, prefix string, files []*multipart.FileHeader) (keys []string, err error) {
	keys = make([]string, 0, len(files))
	defer func() {
		if err != nil {
			h.deleteBlobs(context.WithoutCancel(ctx), keys)
			keys = nil
		}
	}()
	for i, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			return keys, fmt.Errorf("%w: read %s: %v", errBadUpload, fh.Filename, err)
		}
		contentType := http.DetectContentType(data)
		ext, ok := pageExtensions[contentType]
		if !ok {
			return keys, fmt.Errorf("%w: %s: unsupported image type %s", errBadUpload, fh.Filename, contentType)
		}
		key := fmt.Sprintf("%s/%02d-%s%s", prefix, i+1, uuid.NewString(), ext)
		if err := h.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return keys, fmt.Errorf("store %s: %w", fh.Filename, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (h *Handler) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := h.blobs.Delete(ctx, key); err != nil {
			slog.Warn("delete page", "key", key, "error", err)
		}
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
