package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/jobs"
	"github.com/dvloznov/order-intake/internal/metrics"
)

const (
	// DefaultConcurrency is the worker count used when none is configured.
	DefaultConcurrency = 5
	// DefaultChunkSize is the batch size of chunked mode (concurrency 0).
	DefaultChunkSize = 3
	// DefaultStagger delays the first task of worker n by n*DefaultStagger.
	DefaultStagger = 200 * time.Millisecond
)

// Options configures a Runner.
type Options struct {
	// Stagger spreads the first dispatch of each worker. Zero disables it.
	Stagger time.Duration
	// ChunkSize is the batch size used when a run has concurrency 0.
	ChunkSize int
	// Runs records run history. Optional.
	Runs jobs.RunStore
	// Metrics records task and run counters. Optional.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Runner executes analysis runs. One run at a time.
type Runner struct {
	analyzer Analyzer
	sink     ProgressSink
	opts     Options

	mu    sync.Mutex
	state State
	stop  *atomic.Bool
	runID string
}

// NewRunner creates a runner. sink may be nil.
func NewRunner(analyzer Analyzer, sink ProgressSink, opts Options) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Runner{
		analyzer: analyzer,
		sink:     sink,
		opts:     opts,
		state:    StateIdle,
	}
}

// State returns the state of the current or last run.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel stops the active run from dispatching further documents. Calls
// already in flight finish and are reconciled. It reports whether a run was
// active.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.stop == nil {
		return false
	}
	r.stop.Store(true)
	r.opts.Logger.Info().Str("run_id", r.runID).Msg("Analysis run cancellation requested")
	return true
}

// run holds the per-run working set shared by the workers.
type run struct {
	id      string
	rows    []domain.Record // working copy, a worker writes only its own index
	tasks   []int           // indexes of rows with a source path
	results []*domain.AnalysisResult
	sent    []bool
	stop    *atomic.Bool

	mu         sync.Mutex
	completed  int
	failed     int
	dispatched int
}

// Run analyzes every row that has a source path. concurrency is the number
// of workers; 0 selects chunked mode, where batches of ChunkSize documents
// are processed in parallel and batches run one after another.
//
// Per-document failures are recorded in the row's notes and never abort the
// run. If the run itself breaks down the returned outcome is StateFailed,
// carries the input rows unchanged, and err is set.
func (r *Runner) Run(ctx context.Context, rows []domain.Record, concurrency int) (Outcome, error) {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return Outcome{}, ErrRunInProgress
	}
	stop := &atomic.Bool{}
	runID := uuid.NewString()
	r.state = StateRunning
	r.stop = stop
	r.runID = runID
	r.mu.Unlock()

	log := r.opts.Logger.With().Str("run_id", runID).Logger()
	if concurrency < 0 {
		concurrency = DefaultConcurrency
	}

	rn := &run{
		id:      runID,
		rows:    append([]domain.Record(nil), rows...),
		results: make([]*domain.AnalysisResult, len(rows)),
		sent:    make([]bool, len(rows)),
		stop:    stop,
	}
	for i, row := range rows {
		if row.SourcePath != "" {
			rn.tasks = append(rn.tasks, i)
		}
	}
	total := len(rn.tasks)

	history := &jobs.Run{
		RunID:       runID,
		Status:      jobs.RunStatusRunning,
		Concurrency: concurrency,
		Total:       total,
		CreatedAt:   time.Now(),
	}
	r.saveRun(ctx, history)

	log.Info().Int("total", total).Int("concurrency", concurrency).Msg("Analysis run started")
	r.reportStart(log, total)

	var err error
	if concurrency > 0 {
		err = r.runPool(ctx, rn, concurrency)
	} else {
		err = r.runChunked(ctx, rn)
	}

	out := Outcome{
		RunID:      runID,
		Total:      total,
		Dispatched: rn.dispatched,
		Completed:  rn.completed,
		Failed:     rn.failed,
	}

	if err == nil {
		out.Rows, err = safeReconcile(rn.rows, rn.results, rn.sent)
	}

	switch {
	case err != nil:
		out.State = StateFailed
		out.Rows = rows
		history.Error = err.Error()
		log.Error().Err(err).Msg("Analysis run failed")
	case rn.dispatched < total:
		out.State = StateCancelled
		log.Info().Int("dispatched", rn.dispatched).Int("total", total).Msg("Analysis run cancelled")
	default:
		out.State = StateCompleted
		log.Info().Int("failed", rn.failed).Int("rows", len(out.Rows)).Msg("Analysis run completed")
	}

	now := time.Now()
	history.Status = jobs.RunStatus(out.State)
	history.Completed = rn.completed
	history.Failed = rn.failed
	history.CompletedAt = &now
	r.saveRun(ctx, history)
	r.opts.Metrics.RunFinished(string(out.State))

	r.mu.Lock()
	r.state = out.State
	r.stop = nil
	r.mu.Unlock()

	if err != nil {
		return out, fmt.Errorf("Run: %w", err)
	}
	return out, nil
}

// runPool starts min(concurrency, tasks) workers pulling from a shared cursor.
func (r *Runner) runPool(ctx context.Context, rn *run, concurrency int) error {
	workers := concurrency
	if workers > len(rn.tasks) {
		workers = len(rn.tasks)
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		workerID := w
		g.Go(func() (err error) {
			defer recoverWorker(&err)

			if workerID > 0 && r.opts.Stagger > 0 {
				if !sleep(gctx, time.Duration(workerID)*r.opts.Stagger) {
					return nil
				}
			}
			for {
				if rn.stop.Load() || gctx.Err() != nil {
					return nil
				}
				n := int(cursor.Add(1)) - 1
				if n >= len(rn.tasks) {
					return nil
				}
				r.dispatch(gctx, rn, rn.tasks[n])
			}
		})
	}
	return g.Wait()
}

// runChunked processes fixed-size batches one after another.
func (r *Runner) runChunked(ctx context.Context, rn *run) error {
	size := r.opts.ChunkSize
	for start := 0; start < len(rn.tasks); start += size {
		end := start + size
		if end > len(rn.tasks) {
			end = len(rn.tasks)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range rn.tasks[start:end] {
			if rn.stop.Load() || gctx.Err() != nil {
				break
			}
			i := idx
			g.Go(func() (err error) {
				defer recoverWorker(&err)
				r.dispatch(gctx, rn, i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if rn.stop.Load() || ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// dispatch analyzes row i and records the settled task.
func (r *Runner) dispatch(ctx context.Context, rn *run, i int) {
	rn.mu.Lock()
	rn.sent[i] = true
	rn.dispatched++
	rn.mu.Unlock()

	row := rn.rows[i]
	start := time.Now()
	res, err := r.analyze(ctx, row)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		// Placeholder so the row is reconciled as a warning row carrying the error text.
		res = &domain.AnalysisResult{}
		rn.rows[i].Notes = domain.StringPtr(err.Error())
		r.opts.Logger.Warn().Err(err).Str("run_id", rn.id).Str("path", row.SourcePath).Msg("Document analysis failed")
	case res == nil || len(res.Items) == 0:
		outcome = "empty"
	}
	r.opts.Metrics.ObserveTask(outcome, elapsed)

	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.results[i] = res
	rn.completed++
	if err != nil {
		rn.failed++
	}
	// Reported under the lock so the sink sees a monotonic count.
	r.report(rn.completed, len(rn.tasks))
}

// analyze calls the analyzer, turning a panic into a task error.
func (r *Runner) analyze(ctx context.Context, row domain.Record) (res *domain.AnalysisResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("analyzer panic: %v", p)
		}
	}()
	return r.analyzer.Analyze(ctx, row.SourcePath, row.DocType)
}

func (r *Runner) report(current, total int) {
	if r.sink != nil {
		r.sink.SetProgress(current, total)
	}
}

func (r *Runner) reportStart(log zerolog.Logger, total int) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Msg("Progress sink panicked")
		}
	}()
	r.report(0, total)
}

func (r *Runner) saveRun(ctx context.Context, run *jobs.Run) {
	if r.opts.Runs == nil {
		return
	}
	if err := r.opts.Runs.SaveRun(ctx, run); err != nil {
		r.opts.Logger.Warn().Err(err).Str("run_id", run.RunID).Msg("Failed to save run history")
	}
}

func recoverWorker(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("worker panic: %v\n%s", p, debug.Stack())
	}
}

func safeReconcile(rows []domain.Record, results []*domain.AnalysisResult, sent []bool) (out []domain.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("reconcile: %v", p)
		}
	}()
	return Reconcile(rows, results, sent), nil
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
