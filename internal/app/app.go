// Package app holds the application state shared by the API and the CLI: the
// record table, the analysis runner, the export coordinator and the stores
// behind the settings screen. Every operator-facing failure is reported as a
// notice on the event bus in addition to the returned error.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/corrections"
	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/export"
	"github.com/dvloznov/order-intake/internal/files"
	"github.com/dvloznov/order-intake/internal/filename"
	"github.com/dvloznov/order-intake/internal/pipeline"
	"github.com/dvloznov/order-intake/internal/records"
	"github.com/dvloznov/order-intake/internal/settings"
)

// ErrBusy is returned while an analysis run or an export is in progress.
var ErrBusy = errors.New("another operation is in progress")

// Notices shown to the operator.
const (
	NoticeNoPDFs         = "No PDF files detected."
	NoticeReanalyzing    = "Analyzing the PDF again..."
	NoticeReanalyzed     = "Analysis completed successfully!"
	NoticeNoProducts     = "No products recognized."
	NoticeAnalysisFailed = "Analysis failed."
	NoticeCancelling     = "Cancelling analysis after the running documents."
	NoticeSettingsSaved  = "Settings saved."
)

// Runner runs the analysis pipeline.
// This interface enables mocking of the worker pool.
type Runner interface {
	Run(ctx context.Context, rows []domain.Record, concurrency int) (pipeline.Outcome, error)
	Cancel() bool
	State() pipeline.State
}

// Exporter writes confirmed rows to the workbook.
type Exporter interface {
	Export(ctx context.Context, rows []domain.Record) (export.Outcome, error)
}

// Corrections is the learned product correction store.
type Corrections interface {
	List(ctx context.Context) ([]corrections.Correction, error)
	Learn(ctx context.Context, wrong, correct string) (bool, error)
	Remove(ctx context.Context, wrong string) error
}

// Settings is the operator preference store.
type Settings interface {
	Load(ctx context.Context) settings.Settings
	Save(ctx context.Context, st settings.Settings) error
}

// Credentials stores the model API key.
type Credentials interface {
	SaveAPIKey(ctx context.Context, key string) error
	GetAPIKey() string
	HasAPIKey() bool
}

// Bus publishes events and notices.
type Bus interface {
	Publish(name string, payload any)
	Notify(level events.Level, message string)
}

// Deps wires an App. Analyzer is used for single-row re-analysis.
type Deps struct {
	Store       *records.Store
	Analyzer    pipeline.Analyzer
	Runner      Runner
	Exporter    Exporter
	Corrections Corrections
	Settings    Settings
	Credentials Credentials
	Bus         Bus
	Logger      zerolog.Logger
}

// App is the application state object.
type App struct {
	store       *records.Store
	analyzer    pipeline.Analyzer
	runner      Runner
	exporter    Exporter
	corrections Corrections
	settings    Settings
	credentials Credentials
	bus         Bus
	log         zerolog.Logger

	// mu orders table edits against the start of a run or export. Edits
	// hold it shared across the busy check and the store call; begin holds
	// it exclusively, so no edit lands after a run has taken its snapshot.
	mu         sync.RWMutex
	processing atomic.Bool
}

// New creates an App.
func New(d Deps) *App {
	return &App{
		store:       d.Store,
		analyzer:    d.Analyzer,
		runner:      d.Runner,
		exporter:    d.Exporter,
		corrections: d.Corrections,
		settings:    d.Settings,
		credentials: d.Credentials,
		bus:         d.Bus,
		log:         d.Logger,
	}
}

// Processing reports whether an analysis run or export is active.
func (a *App) Processing() bool {
	return a.processing.Load()
}

// Records returns a snapshot of the table.
func (a *App) Records() []domain.Record {
	return a.store.Snapshot()
}

// ConfirmationState reports the state of the header checkbox.
func (a *App) ConfirmationState() records.ConfirmState {
	return a.store.ConfirmationState()
}

// InsertAllowed reports whether rows may be inserted manually.
func (a *App) InsertAllowed() bool {
	return a.store.InsertAllowed()
}

func (a *App) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (a *App) end() {
	a.processing.Store(false)
}

// edit runs fn unless a run or export owns the table.
func (a *App) edit(fn func() error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.processing.Load() {
		return ErrBusy
	}
	return fn()
}

func (a *App) changed() {
	a.bus.Publish(events.RecordsChanged, events.RecordsChangedPayload{
		Count:         a.store.Len(),
		InsertAllowed: a.store.InsertAllowed(),
	})
}

func (a *App) fail(err error, format string, args ...any) error {
	a.bus.Notify(events.LevelError, fmt.Sprintf(format, args...))
	return err
}

// AddPaths merges selected files into the table.
func (a *App) AddPaths(paths []string) (records.MergeResult, error) {
	var res records.MergeResult
	if err := a.edit(func() error {
		res = a.store.Merge(paths)
		return nil
	}); err != nil {
		return records.MergeResult{}, a.fail(err, "Files cannot be added while processing.")
	}

	if res.Duplicates > 0 {
		a.bus.Notify(events.LevelInfo, fmt.Sprintf("%d files ignored (already in the list).", res.Duplicates))
	}
	for _, err := range res.Failures {
		a.bus.Notify(events.LevelError, err.Error())
	}
	if len(res.Added) > 0 {
		a.changed()
	}
	return res, nil
}

// LoadFolder merges every PDF of dir. An empty dir selects the default
// folder from the settings, and is a no-op when none is set.
func (a *App) LoadFolder(ctx context.Context, dir string) (records.MergeResult, error) {
	if dir == "" {
		dir = a.settings.Load(ctx).DefaultPDFPath
		if dir == "" {
			return records.MergeResult{}, nil
		}
	}

	paths, err := files.ListPDFs(dir)
	if err != nil {
		a.log.Error().Err(err).Str("dir", dir).Msg("Failed to load folder")
		return records.MergeResult{}, a.fail(fmt.Errorf("LoadFolder: %w", err), "Could not load folder: %s", dir)
	}
	return a.AddPaths(paths)
}

// MergeScanned merges the PDFs found by a folder scan. Duplicates are
// ignored silently. While a run or export owns the table nothing is merged
// and the files are picked up by a later scan.
func (a *App) MergeScanned(paths []string) (records.MergeResult, error) {
	var res records.MergeResult
	err := a.edit(func() error {
		res = a.store.Merge(paths)
		return nil
	})
	if errors.Is(err, ErrBusy) {
		a.log.Debug().Int("files", len(paths)).Msg("Scanned files deferred while processing")
		return records.MergeResult{}, nil
	}
	if len(res.Added) > 0 {
		a.changed()
	}
	return res, err
}

// HandleDrop merges the PDFs among dropped paths.
func (a *App) HandleDrop(paths []string) (records.MergeResult, error) {
	pdfs := make([]string, 0, len(paths))
	for _, p := range paths {
		if filename.IsPDF(p) {
			pdfs = append(pdfs, p)
		}
	}
	if len(pdfs) == 0 {
		a.bus.Notify(events.LevelError, NoticeNoPDFs)
		return records.MergeResult{}, nil
	}

	res, err := a.AddPaths(pdfs)
	if err != nil {
		return res, err
	}
	a.bus.Notify(events.LevelSuccess, fmt.Sprintf("%d files received via drag & drop.", len(pdfs)))
	return res, nil
}

// StartAnalysis starts an analysis run over the current table in the
// background. The returned channel yields the outcome once the run has
// finished and the table has been updated. The run is not bound to the
// cancellation of ctx; use CancelAnalysis.
func (a *App) StartAnalysis(ctx context.Context) (<-chan pipeline.Outcome, error) {
	if err := a.begin(); err != nil {
		return nil, a.fail(err, "An analysis or export is already running.")
	}

	rows := a.store.Snapshot()
	concurrency := a.settings.Load(ctx).ConcurrencyLimit
	runCtx := context.WithoutCancel(ctx)

	done := make(chan pipeline.Outcome, 1)
	go func() {
		out := a.analyze(runCtx, rows, concurrency)
		a.end()
		done <- out
		close(done)
	}()
	return done, nil
}

func (a *App) analyze(ctx context.Context, rows []domain.Record, concurrency int) pipeline.Outcome {
	out, err := a.runner.Run(ctx, rows, concurrency)
	if err != nil {
		a.log.Error().Err(err).Msg("Analysis run failed")
		a.bus.Notify(events.LevelError, fmt.Sprintf("Error: %v", err))
		a.store.SetInsertAllowed(false)
		a.changed()
		return out
	}

	switch out.State {
	case pipeline.StateCompleted:
		a.store.Replace(out.Rows)
		a.store.SetInsertAllowed(true)
		a.bus.Notify(events.LevelSuccess, fmt.Sprintf("Analysis finished: %d documents, %d failed.", out.Completed, out.Failed))
	case pipeline.StateCancelled:
		a.store.Replace(out.Rows)
		a.store.SetInsertAllowed(false)
		a.bus.Notify(events.LevelInfo, fmt.Sprintf("Analysis cancelled after %d of %d documents.", out.Completed, out.Total))
	}
	a.changed()
	return out
}

// CancelAnalysis stops the active run from starting further documents.
func (a *App) CancelAnalysis() bool {
	if !a.runner.Cancel() {
		return false
	}
	a.bus.Notify(events.LevelInfo, NoticeCancelling)
	return true
}

// ReanalyzeRecord analyzes one row again. Extra line items are inserted
// directly below it. The returned rows are the updated row followed by the
// inserted ones.
func (a *App) ReanalyzeRecord(ctx context.Context, id int64) ([]domain.Record, error) {
	if err := a.begin(); err != nil {
		return nil, a.fail(err, "An analysis or export is already running.")
	}
	defer a.end()

	rec, err := a.store.Get(id)
	if err != nil {
		return nil, a.fail(fmt.Errorf("ReanalyzeRecord: %w", err), "Row %d no longer exists.", id)
	}
	if rec.SourcePath == "" {
		return nil, a.fail(pipeline.ErrNoSourcePath, "No file path present in this row.")
	}

	a.bus.Notify(events.LevelInfo, NoticeReanalyzing)
	res, err := pipeline.Reanalyze(ctx, a.analyzer, rec)
	if err != nil {
		return nil, a.fail(fmt.Errorf("ReanalyzeRecord: %w", err), NoticeAnalysisFailed)
	}

	_, updated, err := a.store.Update(id, func(r *domain.Record) { *r = res.Row })
	if err != nil {
		return nil, a.fail(fmt.Errorf("ReanalyzeRecord: %w", err), "Row %d no longer exists.", id)
	}
	out := []domain.Record{updated}

	if len(res.Extra) > 0 {
		added, err := a.store.InsertRowsAfter(id, res.Extra)
		if err != nil {
			return nil, a.fail(fmt.Errorf("ReanalyzeRecord: %w", err), "Row %d no longer exists.", id)
		}
		out = append(out, added...)
	}
	a.changed()

	switch {
	case res.Err != nil:
		a.log.Warn().Err(res.Err).Int64("id", id).Msg("Re-analysis failed")
		a.bus.Notify(events.LevelError, NoticeAnalysisFailed)
	case domain.Deref(updated.Notes) == pipeline.NoteNoDetected:
		a.bus.Notify(events.LevelInfo, NoticeNoProducts)
	default:
		a.bus.Notify(events.LevelSuccess, NoticeReanalyzed)
	}
	return out, nil
}

// EditRecord applies fn to one row. When the product text changes from one
// non-empty value to another the change is learned as a correction.
func (a *App) EditRecord(ctx context.Context, id int64, fn func(*domain.Record)) (domain.Record, error) {
	var before, after domain.Record
	err := a.edit(func() error {
		var err error
		before, after, err = a.store.Update(id, fn)
		return err
	})
	switch {
	case errors.Is(err, ErrBusy):
		return domain.Record{}, a.fail(err, "Rows cannot be edited while processing.")
	case err != nil:
		return domain.Record{}, a.fail(fmt.Errorf("EditRecord: %w", err), "Row %d no longer exists.", id)
	}

	oldVal := strings.TrimSpace(domain.Deref(before.Product))
	newVal := strings.TrimSpace(domain.Deref(after.Product))
	if oldVal != "" && newVal != "" && oldVal != newVal {
		if learned, err := a.corrections.Learn(ctx, oldVal, newVal); err != nil {
			a.log.Error().Err(err).Str("wrong", oldVal).Msg("Failed to learn correction")
		} else if learned {
			a.log.Info().Str("wrong", oldVal).Str("correct", newVal).Msg("Learned correction")
		}
	}

	a.changed()
	return after, nil
}

// InsertBelow adds n empty rows below the given row.
func (a *App) InsertBelow(id int64, n int) ([]domain.Record, error) {
	var added []domain.Record
	err := a.edit(func() error {
		var err error
		added, err = a.store.InsertBelow(id, n)
		return err
	})
	switch {
	case errors.Is(err, ErrBusy):
		return nil, a.fail(err, "Rows cannot be inserted while processing.")
	case errors.Is(err, records.ErrInsertNotAllowed):
		return nil, a.fail(err, "Rows can be inserted after an analysis run.")
	case err != nil:
		return nil, a.fail(fmt.Errorf("InsertBelow: %w", err), "Row %d no longer exists.", id)
	}
	a.changed()
	return added, nil
}

// RemoveRecord deletes a row.
func (a *App) RemoveRecord(id int64) error {
	err := a.edit(func() error { return a.store.Remove(id) })
	switch {
	case errors.Is(err, ErrBusy):
		return a.fail(err, "Rows cannot be removed while processing.")
	case err != nil:
		return a.fail(fmt.Errorf("RemoveRecord: %w", err), "Row %d no longer exists.", id)
	}
	a.changed()
	return nil
}

// Clear empties the table.
func (a *App) Clear() error {
	if err := a.edit(func() error {
		a.store.Clear()
		return nil
	}); err != nil {
		return a.fail(err, "The table cannot be cleared while processing.")
	}
	a.changed()
	return nil
}

// SetConfirmed sets the confirmed flag of one row.
func (a *App) SetConfirmed(id int64, confirmed bool) error {
	err := a.edit(func() error { return a.store.SetConfirmed(id, confirmed) })
	switch {
	case errors.Is(err, ErrBusy):
		return err
	case err != nil:
		return fmt.Errorf("SetConfirmed: %w", err)
	}
	a.changed()
	return nil
}

// ConfirmAll sets the confirmed flag on every row.
func (a *App) ConfirmAll(confirmed bool) error {
	if err := a.edit(func() error {
		a.store.ConfirmAll(confirmed)
		return nil
	}); err != nil {
		return err
	}
	a.changed()
	return nil
}

// Export writes the confirmed rows to the workbook.
func (a *App) Export(ctx context.Context) (export.Outcome, error) {
	if err := a.begin(); err != nil {
		return export.Outcome{Skipped: true}, nil
	}
	defer a.end()
	return a.exporter.Export(ctx, a.store.Snapshot())
}

// Corrections lists learned corrections.
func (a *App) Corrections(ctx context.Context) ([]corrections.Correction, error) {
	list, err := a.corrections.List(ctx)
	if err != nil {
		return nil, a.fail(fmt.Errorf("Corrections: %w", err), "Could not load corrections.")
	}
	return list, nil
}

// LearnCorrection stores a correction explicitly.
func (a *App) LearnCorrection(ctx context.Context, wrong, correct string) (bool, error) {
	learned, err := a.corrections.Learn(ctx, wrong, correct)
	if err != nil {
		return false, a.fail(fmt.Errorf("LearnCorrection: %w", err), "Could not save correction.")
	}
	return learned, nil
}

// RemoveCorrection deletes a correction.
func (a *App) RemoveCorrection(ctx context.Context, wrong string) error {
	if err := a.corrections.Remove(ctx, wrong); err != nil {
		return a.fail(fmt.Errorf("RemoveCorrection: %w", err), "Could not remove correction.")
	}
	return nil
}

// Settings returns the operator preferences.
func (a *App) Settings(ctx context.Context) settings.Settings {
	return a.settings.Load(ctx)
}

// SaveSettings validates and persists the operator preferences.
func (a *App) SaveSettings(ctx context.Context, st settings.Settings) error {
	if err := a.settings.Save(ctx, st); err != nil {
		return a.fail(fmt.Errorf("SaveSettings: %w", err), "Error while saving: %v", err)
	}
	a.bus.Notify(events.LevelSuccess, NoticeSettingsSaved)
	return nil
}

// HasAPIKey reports whether a model API key is stored.
func (a *App) HasAPIKey() bool {
	return a.credentials.HasAPIKey()
}

// APIKey returns the stored key, or "" when none is available.
func (a *App) APIKey() string {
	return a.credentials.GetAPIKey()
}

// SaveAPIKey stores the key. An empty key removes it.
func (a *App) SaveAPIKey(ctx context.Context, key string) error {
	if err := a.credentials.SaveAPIKey(ctx, strings.TrimSpace(key)); err != nil {
		return a.fail(fmt.Errorf("SaveAPIKey: %w", err), "Could not save the API key.")
	}
	return nil
}
