package grading

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPassRunning is returned when a grading pass is already running for the exam.
var ErrPassRunning = errors.New("a grading pass is already running for this exam")

// PassState is the progress of the latest grading pass of one exam.
type PassState struct {
	ExamID     string     `json:"examId"`
	Running    bool       `json:"running"`
	Done       int        `json:"done"`
	Total      int        `json:"total"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type pass struct {
	state PassState
	done  chan struct{}
}

// Tracker runs at most one grading pass per exam and remembers the latest pass state.
type Tracker struct {
	batch *Batch
	ctx   context.Context

	mu     sync.Mutex
	passes map[string]*pass
}

// NewTracker creates a Tracker. Background passes stop when ctx is cancelled.
func NewTracker(ctx context.Context, batch *Batch) *Tracker {
	return &Tracker{batch: batch, ctx: ctx, passes: make(map[string]*pass)}
}

func (t *Tracker) claim(examID string) (*pass, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.passes[examID]; ok && p.state.Running {
		return nil, ErrPassRunning
	}
	p := &pass{
		state: PassState{ExamID: examID, Running: true, StartedAt: time.Now().UTC()},
		done:  make(chan struct{}),
	}
	t.passes[examID] = p
	return p, nil
}

func (t *Tracker) run(ctx context.Context, p *pass) (Summary, error) {
	defer close(p.done)
	sum, err := t.batch.Run(ctx, p.state.ExamID, func(done, total int) {
		t.mu.Lock()
		p.state.Done, p.state.Total = done, total
		t.mu.Unlock()
	})

	t.mu.Lock()
	now := time.Now().UTC()
	p.state.Running = false
	p.state.FinishedAt = &now
	p.state.Summary = &sum
	if err != nil {
		p.state.Error = err.Error()
	}
	t.mu.Unlock()
	return sum, err
}

// Start launches a grading pass in the background.
func (t *Tracker) Start(examID string) error {
	p, err := t.claim(examID)
	if err != nil {
		return err
	}
	go func() {
		if _, err := t.run(t.ctx, p); err != nil {
			slog.Error("grading pass failed", "exam_id", examID, "error", err)
		}
	}()
	return nil
}

// Run grades the exam synchronously, still holding the per-exam slot.
func (t *Tracker) Run(ctx context.Context, examID string) (Summary, error) {
	p, err := t.claim(examID)
	if err != nil {
		return Summary{}, err
	}
	return t.run(ctx, p)
}

// Progress returns the state of the latest pass for the exam.
func (t *Tracker) Progress(examID string) (PassState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.passes[examID]
	if !ok {
		return PassState{ExamID: examID}, false
	}
	state := p.state
	return state, true
}

// Wait blocks until the latest pass for the exam finishes or ctx is done.
func (t *Tracker) Wait(ctx context.Context, examID string) error {
	t.mu.Lock()
	p, ok := t.passes[examID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
