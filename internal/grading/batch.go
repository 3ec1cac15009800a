package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/store"
	"github.com/pavelanni/gradedesk/internal/tracing"
)

// ErrNotConfirmed is returned when grading an exam whose question set was never confirmed.
var ErrNotConfirmed = errors.New("exam question set has not been confirmed")

// Summary describes the outcome of one grading pass.
type Summary struct {
	Total   int `json:"total"`
	Graded  int `json:"graded"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ProgressFunc receives the number of submissions handled so far out of the pass total.
type ProgressFunc func(done, total int)

// Batch runs grading passes over an exam's ungraded submissions.
type Batch struct {
	store  *store.Store
	engine *Engine
}

// NewBatch creates a Batch.
func NewBatch(s *store.Store, engine *Engine) *Batch {
	return &Batch{store: s, engine: engine}
}

// Run grades every uploaded submission of the exam, one after another, saving each
// before starting the next. Graded submissions are left alone. Once no uploaded
// submissions remain the exam is moved to completed. A cancelled pass returns
// ctx's error, leaves the in-flight sheet uploaded and does not touch the exam status.
func (b *Batch) Run(ctx context.Context, examID string, progress ProgressFunc) (sum Summary, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "grading.pass")
	span.SetAttributes(attribute.String("exam.id", examID))
	defer func() {
		span.SetAttributes(attribute.Int("submissions.graded", sum.Graded), attribute.Int("submissions.failed", sum.Failed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if progress == nil {
		progress = func(int, int) {}
	}

	exam, err := b.store.GetExam(examID)
	if err != nil {
		return sum, err
	}
	if !exam.Status.AtLeast(model.ExamAnalyzed) {
		return sum, ErrNotConfirmed
	}
	questions, err := b.store.ListQuestions(examID)
	if err != nil {
		return sum, fmt.Errorf("list questions: %w", err)
	}
	pending, err := b.store.ListSubmissionsByStatus(examID, model.SubmissionUploaded)
	if err != nil {
		return sum, fmt.Errorf("list submissions: %w", err)
	}
	sum.Total = len(pending)

	if len(pending) > 0 {
		if exam, err = b.advance(exam, model.ExamGrading); err != nil {
			return sum, err
		}
	}
	slog.Info("grading pass started", "exam_id", examID, "pending", len(pending), "questions", len(questions))
	progress(0, sum.Total)

	for i, sub := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		graded, err := b.engine.Grade(ctx, sub, questions)
		if err != nil {
			slog.Warn("grading pass interrupted", "exam_id", examID, "submission_id", sub.ID, "error", err)
			return sum, err
		}

		// A re-upload during the pass replaces the sheet; keep the new one ungraded.
		saved, err := b.store.SaveGradedSubmission(graded, sub.UploadedAt)
		if err != nil {
			return sum, fmt.Errorf("save submission %s: %w", sub.ID, err)
		}
		if !saved {
			slog.Info("submission replaced during grading, skipping", "submission_id", sub.ID)
			sum.Skipped++
			progress(i+1, sum.Total)
			continue
		}
		if graded.GradingFailed(len(questions)) {
			sum.Failed++
		} else {
			sum.Graded++
		}
		progress(i+1, sum.Total)
	}

	remaining, err := b.store.CountSubmissionsByStatus(examID, model.SubmissionUploaded)
	if err != nil {
		return sum, fmt.Errorf("count submissions: %w", err)
	}
	if remaining == 0 {
		if exam, err = b.advance(exam, model.ExamGrading); err != nil {
			return sum, err
		}
		if _, err = b.advance(exam, model.ExamCompleted); err != nil {
			return sum, err
		}
	}
	slog.Info("grading pass finished", "exam_id", examID, "graded", sum.Graded, "failed", sum.Failed, "skipped", sum.Skipped, "remaining", remaining)
	return sum, nil
}

func (b *Batch) advance(exam model.Exam, to model.ExamStatus) (model.Exam, error) {
	next, err := exam.Status.Advance(to)
	if err != nil {
		return exam, err
	}
	if next == exam.Status {
		return exam, nil
	}
	// Re-read so a concurrent edit of title or pages is not lost.
	latest, err := b.store.GetExam(exam.ID)
	if err != nil {
		return exam, err
	}
	latest.Status = next
	if err := b.store.SaveExam(latest); err != nil {
		return exam, fmt.Errorf("save exam status: %w", err)
	}
	slog.Info("exam status changed", "exam_id", exam.ID, "from", exam.Status, "to", next)
	return latest, nil
}
