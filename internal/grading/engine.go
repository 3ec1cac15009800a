// Package grading scores student answer sheets against an exam's standard answers.
package grading

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/metrics"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/ocr"
)

// StaticAnalysis is the error analysis attached to incorrect answers when no model is configured
// or the model call fails.
const StaticAnalysis = "Correct answer not detected or calculation error"

// Explainer writes an error analysis for an incorrect answer.
type Explainer interface {
	Explain(ctx context.Context, q model.Question, answerText string) (string, error)
}

type staticExplainer struct{}

func (staticExplainer) Explain(context.Context, model.Question, string) (string, error) {
	return StaticAnalysis, nil
}

// Engine grades one submission at a time.
type Engine struct {
	blobs     blob.Provider
	ocr       ocr.Gateway
	explainer Explainer
	now       func() time.Time
}

// NewEngine creates an Engine. A nil explainer uses StaticAnalysis for every incorrect answer.
func NewEngine(blobs blob.Provider, gw ocr.Gateway, explainer Explainer) *Engine {
	if explainer == nil {
		explainer = staticExplainer{}
	}
	return &Engine{blobs: blobs, ocr: gw, explainer: explainer, now: time.Now}
}

// Grade transcribes the first page of sub and scores every question by verbatim
// substring match of its standard answer. When the page cannot be read or
// transcribed the submission is still graded, with no results and a zero total.
// The only error is ctx's own: a cancelled grade must not be saved.
func (e *Engine) Grade(ctx context.Context, sub model.Submission, questions []model.Question) (model.Submission, error) {
	gradedAt := e.now().UTC()
	sub.Status = model.SubmissionGraded
	sub.GradedAt = &gradedAt
	sub.Results = []model.QuestionResult{}
	sub.TotalScore = 0
	sub.RecognizedText = ""

	logger := slog.With("exam_id", sub.ExamID, "submission_id", sub.ID, "student_id", sub.StudentID)

	if len(sub.PaperImages) == 0 {
		logger.Warn("grading failed: submission has no pages")
		metrics.SubmissionsGraded.WithLabelValues("failed").Inc()
		return sub, nil
	}
	page := sub.PaperImages[0]
	img, err := e.blobs.Get(ctx, page)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sub, ctxErr
		}
		logger.Error("grading failed: read answer sheet", "page", page, "error", err)
		metrics.SubmissionsGraded.WithLabelValues("failed").Inc()
		return sub, nil
	}
	text, err := e.ocr.Transcribe(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sub, ctxErr
		}
		logger.Error("grading failed: transcribe answer sheet", "page", page, "error", err)
		metrics.SubmissionsGraded.WithLabelValues("failed").Inc()
		return sub, nil
	}
	sub.RecognizedText = text

	ordered := make([]model.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, q := range ordered {
		if q.StandardAnswer == "" {
			logger.Warn("question has no standard answer, scoring as correct", "question_id", q.ID, "index", q.Index)
		}
		correct := strings.Contains(text, q.StandardAnswer)
		r := model.QuestionResult{
			QuestionID:  q.ID,
			AnswerImage: page,
			Correct:     correct,
			AnswerText:  text,
		}
		if correct {
			r.Score = q.MaxScore
		} else {
			r.ErrorAnalysis = e.explain(ctx, q, text)
		}
		sub.Results = append(sub.Results, r)
	}
	// Explanations fall back to static text on any error, cancellation included.
	if err := ctx.Err(); err != nil {
		return sub, err
	}
	sub.TotalScore = model.SumScores(sub.Results)

	metrics.SubmissionsGraded.WithLabelValues("ok").Inc()
	logger.Info("submission graded", "total_score", sub.TotalScore, "questions", len(sub.Results))
	return sub, nil
}

func (e *Engine) explain(ctx context.Context, q model.Question, text string) string {
	analysis, err := e.explainer.Explain(ctx, q, text)
	if err != nil {
		slog.Warn("error analysis unavailable, using static text", "question_id", q.ID, "error", err)
		return StaticAnalysis
	}
	return analysis
}
