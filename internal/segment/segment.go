// Package segment turns standard paper pages into an exam's question set.
package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/ocr"
	"github.com/pavelanni/gradedesk/internal/store"
)

const (
	// PendingKnowledgePoint labels freshly segmented questions until the teacher edits them.
	PendingKnowledgePoint = "To be analyzed"

	fallbackCount          = 3
	fallbackKnowledgePoint = "Sample knowledge point"
	fallbackAnswer         = "10"
)

var (
	// ErrNoPages is returned when an exam has no standard paper uploaded.
	ErrNoPages = errors.New("exam has no standard paper pages")
	// ErrNotSegmented is returned when confirming an exam whose paper was never segmented.
	ErrNotSegmented = errors.New("exam has not been segmented")
)

// Analyzer segments standard papers and confirms the resulting question sets.
type Analyzer struct {
	store *store.Store
	blobs blob.Provider
	ocr   ocr.Gateway
}

// New creates an Analyzer.
func New(s *store.Store, blobs blob.Provider, gw ocr.Gateway) *Analyzer {
	return &Analyzer{store: s, blobs: blobs, ocr: gw}
}

// Analyze segments every standard page of the exam and replaces its question set.
// Questions are numbered 1..N across pages in the order the gateway returns regions.
// On gateway failure nothing is stored and the error is returned; when the gateway
// finds no regions at all a sample set of three questions is stored instead.
func (a *Analyzer) Analyze(ctx context.Context, examID string) ([]model.Question, error) {
	exam, err := a.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	if len(exam.StandardPaperImages) == 0 {
		return nil, ErrNoPages
	}

	var questions []model.Question
	for pageNo, key := range exam.StandardPaperImages {
		page, err := a.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", pageNo+1, err)
		}
		regions, err := a.ocr.Segment(ctx, page)
		if err != nil {
			slog.Error("segmentation failed", "exam_id", examID, "page", pageNo+1, "error", err)
			return nil, fmt.Errorf("segment page %d: %w", pageNo+1, err)
		}
		if len(regions) == 0 {
			continue
		}

		img, err := imaging.Decode(bytes.NewReader(page), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", pageNo+1, err)
		}
		for _, r := range regions {
			q := model.Question{
				ID:             uuid.NewString(),
				ExamID:         examID,
				Index:          len(questions) + 1,
				MaxScore:       model.DefaultMaxScore,
				KnowledgePoint: PendingKnowledgePoint,
				Type:           model.TypeCalculation,
			}
			q.ImageSlice = fmt.Sprintf("exams/%s/questions/%s.png", examID, q.ID)
			if err := a.storeCrop(ctx, q.ImageSlice, img, r); err != nil {
				return nil, fmt.Errorf("store crop of question %d: %w", q.Index, err)
			}
			questions = append(questions, q)
		}
		slog.Info("segmented page", "exam_id", examID, "page", pageNo+1, "regions", len(regions))
	}

	if len(questions) == 0 {
		slog.Warn("gateway found no question regions, using sample question set", "exam_id", examID)
		questions = fallbackQuestions(exam)
	}

	if err := a.store.ReplaceQuestions(examID, questions); err != nil {
		return nil, fmt.Errorf("save questions: %w", err)
	}
	return questions, nil
}

func (a *Analyzer) storeCrop(ctx context.Context, key string, page image.Image, r ocr.Region) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Crop(page, r), imaging.PNG); err != nil {
		return err
	}
	return a.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/png")
}

// Crop cuts a region out of a page. Regions are clipped to the page; a region
// entirely outside the page yields the whole page.
func Crop(page image.Image, r ocr.Region) image.Image {
	rect := image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height).Intersect(page.Bounds())
	if rect.Empty() {
		return page
	}
	return imaging.Crop(page, rect)
}

func fallbackQuestions(exam model.Exam) []model.Question {
	qs := make([]model.Question, fallbackCount)
	for i := range qs {
		qs[i] = model.Question{
			ID:             uuid.NewString(),
			ExamID:         exam.ID,
			Index:          i + 1,
			ImageSlice:     exam.StandardPaperImages[0],
			MaxScore:       model.DefaultMaxScore,
			KnowledgePoint: fallbackKnowledgePoint,
			Type:           model.TypeCalculation,
			StandardAnswer: fallbackAnswer,
		}
	}
	return qs
}

// Confirm moves a segmented exam from draft to analyzed. Standard answers may still be empty.
func (a *Analyzer) Confirm(examID string) (model.Exam, error) {
	exam, err := a.store.GetExam(examID)
	if err != nil {
		return exam, err
	}
	qs, err := a.store.ListQuestions(examID)
	if err != nil {
		return exam, err
	}
	if len(qs) == 0 {
		return exam, ErrNotSegmented
	}
	next, err := exam.Status.Advance(model.ExamAnalyzed)
	if err != nil {
		return exam, err
	}
	if next != exam.Status {
		exam.Status = next
		if err := a.store.SaveExam(exam); err != nil {
			return exam, err
		}
		slog.Info("exam analyzed", "exam_id", examID, "questions", len(qs))
	}
	return exam, nil
}
