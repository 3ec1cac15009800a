// Package handler exposes the grading workflow over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/ocr"
	"github.com/pavelanni/gradedesk/internal/segment"
	"github.com/pavelanni/gradedesk/internal/store"
)

// errWrongStatus is returned when an exam is not in a status that allows the request.
var errWrongStatus = errors.New("exam status does not allow this operation")

// errBadUpload marks an uploaded file the server refuses to store.
var errBadUpload = errors.New("invalid upload")

// Config holds HTTP layer settings.
type Config struct {
	// AdminUser and AdminPasswordHash enable basic auth on the API when the hash is set.
	AdminUser         string
	AdminPasswordHash string
	// MaxUploadBytes bounds multipart request bodies.
	MaxUploadBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	blobs    blob.Provider
	analyzer *segment.Analyzer
	tracker  *grading.Tracker
	reports  *analytics.Service
	validate *validator.Validate
	config   Config
}

// New creates a new Handler.
func New(s *store.Store, blobs blob.Provider, analyzer *segment.Analyzer, tracker *grading.Tracker, reports *analytics.Service, cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.AdminUser == "" {
		cfg.AdminUser = "admin"
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    s,
		blobs:    blobs,
		analyzer: analyzer,
		tracker:  tracker,
		reports:  reports,
		validate: validate,
		config:   cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Get("/blobs/*", h.handleBlob)

		r.Route("/api", func(r chi.Router) {
			r.Delete("/data", h.handleClearAll)

			r.Get("/students", h.handleListStudents)
			r.Post("/students", h.handleSaveStudent)
			r.Post("/students/import", h.handleImportStudents)

			r.Get("/exams", h.handleListExams)
			r.Post("/exams", h.handleCreateExam)
			r.Route("/exams/{examID}", func(r chi.Router) {
				r.Get("/", h.handleGetExam)
				r.Post("/pages", h.handleUploadPages)
				r.Post("/analyze", h.handleAnalyze)
				r.Post("/confirm", h.handleConfirm)

				r.Get("/questions", h.handleListQuestions)
				r.Put("/questions/{questionID}", h.handleUpdateQuestion)

				r.Get("/submissions", h.handleListSubmissions)
				r.Post("/submissions", h.handleUploadSubmission)
				r.Get("/missing", h.handleMissingStudents)
				r.Post("/upload/finish", h.handleFinishUpload)

				r.Post("/grade", h.handleStartGrading)
				r.Get("/grade", h.handleGradingProgress)

				r.Get("/analysis", h.handleAnalysis)
				r.Get("/report/class", h.handleClassReport)
				r.Get("/report/students/{studentID}", h.handleStudentReport)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(); err != nil {
		writeError(w, err)
		return
	}
	slog.Warn("all data cleared", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeMessage(w, status, err.Error())
}

func statusFor(err error) int {
	var apiErr *ocr.APIError
	switch {
	case errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, errWrongStatus),
		errors.Is(err, segment.ErrNoPages),
		errors.Is(err, segment.ErrNotSegmented),
		errors.Is(err, grading.ErrNotConfirmed),
		errors.Is(err, grading.ErrPassRunning):
		return http.StatusConflict
	case errors.Is(err, ocr.ErrMissingCredentials):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the caller may continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeMessage(w, http.StatusBadRequest, "invalid input")
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}
