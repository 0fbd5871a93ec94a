// Package export writes confirmed records to the workbook and handles the
// follow-up work: moving processed PDFs, archiving, and opening the result.
package export

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/gcs"
	bq "github.com/dvloznov/order-intake/internal/infra/bigquery"
	"github.com/dvloznov/order-intake/internal/metrics"
	"github.com/dvloznov/order-intake/internal/settings"
)

// NoticeNothingConfirmed is shown when an export has no confirmed rows.
const NoticeNothingConfirmed = "No confirmed rows to export."

// Exporter writes rows into a workbook and returns a status message or
// domain.ExportAborted.
type Exporter interface {
	ExportToWorkbook(ctx context.Context, rows []domain.Record, path string) (string, error)
}

// Mover relocates processed source files.
type Mover interface {
	MoveFiles(ctx context.Context, paths []string, dir string) (int, error)
}

// Bus is the part of the event bus the coordinator uses.
type Bus interface {
	Subscribe(name string, h events.Handler) (unsubscribe func())
	Notify(level events.Level, message string)
}

// ProgressSink receives export progress.
type ProgressSink interface {
	SetProgress(current, total int)
}

// SettingsSource provides the current export preferences.
type SettingsSource interface {
	Load(ctx context.Context) settings.Settings
}

// Archive stores exported rows outside the workbook.
type Archive interface {
	ArchiveExport(ctx context.Context, batch bq.ExportBatch, recs []domain.Record) error
}

// Options wires the coordinator. Exporter, Bus and Settings are required.
type Options struct {
	Exporter Exporter
	Mover    Mover
	Bus      Bus
	Progress ProgressSink
	Settings SettingsSource

	// Archive and Storage are optional archive targets.
	Archive       Archive
	Storage       gcs.Storage
	ArchivePrefix string

	// Open shows the exported workbook. Defaults to the system opener.
	Open    func(path string) error
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Outcome describes one Export call.
type Outcome struct {
	// Skipped is set when another export was already running.
	Skipped bool `json:"skipped"`
	// Empty is set when no row was confirmed.
	Empty bool `json:"empty"`
	// Aborted is set when the operator declined to pick a workbook.
	Aborted   bool   `json:"aborted"`
	ExportID  string `json:"export_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Exported  int    `json:"exported"`
	Moved     int    `json:"moved"`
	MoveError string `json:"move_error,omitempty"`
	Archived  bool   `json:"archived"`
}

// Coordinator runs exports one at a time.
type Coordinator struct {
	opts   Options
	active atomic.Bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Open == nil {
		opts.Open = browser.OpenFile
	}
	return &Coordinator{opts: opts}
}

// Active reports whether an export is in flight.
func (c *Coordinator) Active() bool {
	return c.active.Load()
}

// Export writes the confirmed subset of rows. Failures of the export itself
// are notified and returned; failures of the follow-up steps are notified
// and recorded in the outcome only.
func (c *Coordinator) Export(ctx context.Context, rows []domain.Record) (Outcome, error) {
	if !c.active.CompareAndSwap(false, true) {
		return Outcome{Skipped: true}, nil
	}
	defer c.active.Store(false)

	log := c.opts.Logger

	// 1) Select confirmed rows and the files that may be moved afterwards.
	confirmed := Confirmed(rows)
	if len(confirmed) == 0 {
		c.opts.Bus.Notify(events.LevelInfo, NoticeNothingConfirmed)
		c.opts.Metrics.ExportFinished("empty")
		return Outcome{Empty: true}, nil
	}
	movable := MovablePaths(confirmed)
	st := c.opts.Settings.Load(ctx)

	// 2) Forward workbook progress while the export runs.
	c.setProgress(0, len(confirmed))
	unsubscribe := c.opts.Bus.Subscribe(events.ExportProgress, func(_ string, payload any) {
		if p, ok := payload.(events.Progress); ok {
			c.setProgress(p.Current, p.Total)
		}
	})
	defer c.setProgress(0, 0)
	defer unsubscribe()

	// 3) Write the workbook.
	msg, err := c.opts.Exporter.ExportToWorkbook(ctx, confirmed, st.DefaultExcelPath)
	if err != nil {
		c.opts.Bus.Notify(events.LevelError, fmt.Sprintf("Export failed: %v", err))
		c.opts.Metrics.ExportFinished("error")
		log.Error().Err(err).Int("rows", len(confirmed)).Msg("Export failed")
		return Outcome{}, fmt.Errorf("Export: %w", err)
	}
	if msg == domain.ExportAborted {
		c.opts.Metrics.ExportFinished("aborted")
		log.Info().Msg("Export aborted by operator")
		return Outcome{Aborted: true, Message: msg}, nil
	}
	if msg != "" {
		c.opts.Bus.Notify(events.LevelSuccess, msg)
	}

	out := Outcome{
		ExportID: uuid.NewString(),
		Message:  msg,
		Exported: len(confirmed),
	}
	log = log.With().Str("export_id", out.ExportID).Logger()
	c.opts.Metrics.ExportFinished("success")

	// 4) Archive before the source files move.
	out.Archived = c.archive(ctx, log, out.ExportID, st.DefaultExcelPath, confirmed, movable)

	// 5) Move processed files.
	if st.DefaultProcessedPath != "" && st.MoveFilesEnabled && len(movable) > 0 && c.opts.Mover != nil {
		n, err := c.opts.Mover.MoveFiles(ctx, movable, st.DefaultProcessedPath)
		out.Moved = n
		c.opts.Metrics.FilesMoved(n)
		if err != nil {
			out.MoveError = err.Error()
			c.opts.Bus.Notify(events.LevelError, fmt.Sprintf("Moving files failed: %v", err))
			log.Error().Err(err).Int("moved", n).Msg("Moving processed files failed")
		} else {
			c.opts.Bus.Notify(events.LevelSuccess, fmt.Sprintf("%d PDFs moved.", n))
		}
	}

	// 6) Show the result.
	if st.AutoOpenExcel && st.DefaultExcelPath != "" {
		if err := c.opts.Open(st.DefaultExcelPath); err != nil {
			log.Warn().Err(err).Msg("Could not open workbook")
		}
	}

	log.Info().Int("exported", out.Exported).Int("moved", out.Moved).Msg("Export finished")
	return out, nil
}

// archive uploads the workbook and source PDFs and streams the rows to the
// archive table. It reports whether anything was archived.
func (c *Coordinator) archive(ctx context.Context, log zerolog.Logger, exportID, workbookPath string, rows []domain.Record, sources []string) bool {
	if c.opts.Archive == nil && c.opts.Storage == nil {
		return false
	}
	now := time.Now()
	batch := bq.ExportBatch{
		ExportID:    exportID,
		Workbook:    workbookPath,
		At:          now,
		ArchiveURIs: map[string]string{},
	}

	archived := false
	if c.opts.Storage != nil {
		uploads := append([]string(nil), sources...)
		if workbookPath != "" {
			uploads = append(uploads, workbookPath)
		}
		for _, p := range uploads {
			uri, err := c.opts.Storage.Upload(ctx, gcs.ArchiveObject(c.opts.ArchivePrefix, now, exportID, p), p)
			if err != nil {
				c.opts.Bus.Notify(events.LevelError, fmt.Sprintf("Archive upload failed: %v", err))
				log.Error().Err(err).Str("path", p).Msg("Archive upload failed")
				continue
			}
			batch.ArchiveURIs[p] = uri
			archived = true
		}
	}

	if c.opts.Archive != nil {
		if err := c.opts.Archive.ArchiveExport(ctx, batch, rows); err != nil {
			c.opts.Bus.Notify(events.LevelError, fmt.Sprintf("Archiving rows failed: %v", err))
			log.Error().Err(err).Msg("Archiving rows failed")
		} else {
			archived = true
		}
	}
	return archived
}

func (c *Coordinator) setProgress(current, total int) {
	if c.opts.Progress != nil {
		c.opts.Progress.SetProgress(current, total)
	}
}

// Confirmed returns the confirmed rows in order.
func Confirmed(rows []domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(rows))
	for _, r := range rows {
		if r.Confirmed {
			out = append(out, r)
		}
	}
	return out
}

// MovablePaths returns the distinct source paths of rows that were analyzed
// end to end: a source file, no warning and a product.
func MovablePaths(rows []domain.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		if !r.Confirmed || r.SourcePath == "" || r.HasWarning || !r.HasProduct() {
			continue
		}
		if seen[r.SourcePath] {
			continue
		}
		seen[r.SourcePath] = true
		out = append(out, r.SourcePath)
	}
	return out
}
