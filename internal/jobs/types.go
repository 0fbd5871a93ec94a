package jobs

import (
	"context"
	"errors"
	"time"
)

// RunStatus represents the state of an analysis run.
type RunStatus string

const (
	// RunStatusRunning indicates workers are dispatching documents.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every eligible document was processed.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCancelled indicates the operator stopped the run early.
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusFailed indicates the run itself broke down.
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusFailed
}

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is the history entry of one analysis pipeline run.
type Run struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// Concurrency is the worker count the run was started with, 0 for chunked mode.
	Concurrency int `json:"concurrency"`

	// Total is the number of eligible documents.
	Total int `json:"total"`

	// Completed counts settled documents, failed ones included.
	Completed int `json:"completed"`

	// Failed counts documents whose analysis returned an error.
	Failed int `json:"failed"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains details if the run failed.
	Error string `json:"error,omitempty"`
}

// RunStore keeps the run history.
type RunStore interface {
	// SaveRun saves or updates a run.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns retrieves runs, newest first, with optional filtering.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// RunFilter defines filtering criteria for listing runs.
type RunFilter struct {
	// Status filters runs by status.
	Status RunStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
