// Package pipeline runs document analysis over the record table with a
// bounded pool of workers and folds the results back into rows.
package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/order-intake/internal/domain"
)

// Analyzer extracts line items from one document.
// This interface enables mocking of the analysis backend.
type Analyzer interface {
	Analyze(ctx context.Context, path string, docType domain.DocType) (*domain.AnalysisResult, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, path string, docType domain.DocType) (*domain.AnalysisResult, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, path string, docType domain.DocType) (*domain.AnalysisResult, error) {
	return f(ctx, path, docType)
}

// ProgressSink receives (completed, total) after every settled task.
type ProgressSink interface {
	SetProgress(current, total int)
}

// State of a Runner.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Notes written on rows that produced no line items.
const (
	NoteNoItems    = "No products recognized."
	NoteNoResponse = "No response from analysis service."
	NoteNoDetected = "No products detected."
)

var (
	// ErrRunInProgress is returned when Run is called while a run is active.
	ErrRunInProgress = errors.New("analysis run already in progress")
	// ErrNoSourcePath is returned when re-analyzing a row without a file.
	ErrNoSourcePath = errors.New("no file path present in this row")
)

// Outcome describes a finished run.
type Outcome struct {
	RunID      string          `json:"run_id"`
	State      State           `json:"state"`
	Rows       []domain.Record `json:"rows"`
	Total      int             `json:"total"`
	Dispatched int             `json:"dispatched"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
}
