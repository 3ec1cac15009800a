package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradedesk/internal/handler/views"
)

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.reports.ClassAnalysis(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleClassReport renders the printable class report; format=json returns the data instead.
func (h *Handler) handleClassReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.ClassReport(chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ClassReportPage(report, time.Now()).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// handleStudentReport returns one student's report as JSON; format=html renders it.
func (h *Handler) handleStudentReport(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	exam, err := h.store.GetExam(examID)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.reports.StudentReport(examID, chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "html" {
		writeJSON(w, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.StudentReportPage(exam, report).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
