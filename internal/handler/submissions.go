package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/store"
)

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.store.GetExam(examID); err != nil {
		writeError(w, err)
		return
	}
	subs, err := h.store.ListSubmissions(examID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleUploadSubmission stores a student's answer sheet. A second upload for the
// same student replaces the first and puts it back in the grading queue.
func (h *Handler) handleUploadSubmission(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !exam.Status.AtLeast(model.ExamAnalyzed) {
		writeError(w, fmt.Errorf("%w: confirm the question set before uploading answer sheets", errWrongStatus))
		return
	}
	files, ok := h.multipartFiles(w, r, "pages")
	if !ok {
		return
	}
	studentID := strings.TrimSpace(r.FormValue("studentId"))
	if studentID == "" {
		writeMessage(w, http.StatusBadRequest, "studentId is required")
		return
	}
	if _, err := h.store.GetStudent(studentID); err != nil {
		writeError(w, err)
		return
	}

	sub := model.Submission{ID: uuid.NewString()}
	prev, err := h.store.SubmissionFor(exam.ID, studentID)
	switch {
	case err == nil:
		sub.ID = prev.ID
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, err)
		return
	}

	keys, err := h.savePages(r.Context(), "submissions/"+exam.ID+"/"+sub.ID, files)
	if err != nil {
		writeError(w, err)
		return
	}
	sub.ExamID = exam.ID
	sub.StudentID = studentID
	sub.PaperImages = keys
	sub.Status = model.SubmissionUploaded
	sub.Results = []model.QuestionResult{}
	sub.UploadedAt = time.Now().UTC()

	if err := h.store.SaveSubmission(sub); err != nil {
		h.deleteBlobs(r.Context(), keys)
		writeError(w, err)
		return
	}
	h.deleteBlobs(r.Context(), prev.PaperImages)
	slog.Info("answer sheet uploaded", "exam_id", exam.ID, "student_id", studentID, "submission_id", sub.ID, "replaced", prev.ID != "")
	writeJSON(w, http.StatusCreated, sub)
}

// handleMissingStudents lists roster students without a submission for the exam.
func (h *Handler) handleMissingStudents(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.store.GetExam(examID); err != nil {
		writeError(w, err)
		return
	}
	students, err := h.store.ListStudents()
	if err != nil {
		writeError(w, err)
		return
	}
	subs, err := h.store.ListSubmissions(examID)
	if err != nil {
		writeError(w, err)
		return
	}
	submitted := make(map[string]bool, len(subs))
	for _, s := range subs {
		submitted[s.StudentID] = true
	}
	missing := []model.Student{}
	for _, st := range students {
		if !submitted[st.ID] {
			missing = append(missing, st)
		}
	}
	writeJSON(w, http.StatusOK, missing)
}

// handleFinishUpload closes the upload phase. Exams already grading or completed keep their status.
func (h *Handler) handleFinishUpload(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := exam.Status.Advance(model.ExamGrading)
	if err != nil {
		writeError(w, err)
		return
	}
	if next != exam.Status {
		exam.Status = next
		if err := h.store.SaveExam(exam); err != nil {
			writeError(w, err)
			return
		}
		slog.Info("upload finished", "exam_id", exam.ID)
	}
	writeJSON(w, http.StatusOK, exam)
}

// handleStartGrading starts a grading pass. With wait=1 the pass runs within the request.
func (h *Handler) handleStartGrading(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !exam.Status.AtLeast(model.ExamAnalyzed) {
		writeError(w, grading.ErrNotConfirmed)
		return
	}

	if r.URL.Query().Get("wait") == "1" {
		sum, err := h.tracker.Run(r.Context(), exam.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	if err := h.tracker.Start(exam.ID); err != nil {
		writeError(w, err)
		return
	}
	state, _ := h.tracker.Progress(exam.ID)
	writeJSON(w, http.StatusAccepted, state)
}

func (h *Handler) handleGradingProgress(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.store.GetExam(examID); err != nil {
		writeError(w, err)
		return
	}
	state, _ := h.tracker.Progress(examID)
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request) {
	key, err := blob.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		slog.Debug("write blob", "key", key, "error", err)
	}
}
