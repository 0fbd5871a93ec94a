// Package watch rescans the default PDF folder on a cron schedule and merges
// new documents into the record table.
package watch

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/files"
	"github.com/dvloznov/order-intake/internal/records"
	"github.com/dvloznov/order-intake/internal/settings"
)

// Merger adds source paths to the record table.
type Merger interface {
	MergeScanned(paths []string) (records.MergeResult, error)
}

// SettingsSource provides the folder to scan.
type SettingsSource interface {
	Load(ctx context.Context) settings.Settings
}

// Options configures a Watcher.
type Options struct {
	Logger zerolog.Logger
}

// Watcher runs folder scans.
type Watcher struct {
	merger   Merger
	settings SettingsSource
	opts     Options
	cron     *cron.Cron
}

// New creates a Watcher. Nothing is scheduled until Start.
func New(merger Merger, st SettingsSource, opts Options) *Watcher {
	return &Watcher{merger: merger, settings: st, opts: opts}
}

// Scan lists the default PDF folder once and merges what it finds. It
// returns the number of added rows. Duplicates are ignored silently.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	dir := w.settings.Load(ctx).DefaultPDFPath
	if dir == "" {
		return 0, nil
	}

	paths, err := files.ListPDFs(dir)
	if err != nil {
		return 0, fmt.Errorf("Scan: list %q: %w", dir, err)
	}
	if len(paths) == 0 {
		return 0, nil
	}

	res, err := w.merger.MergeScanned(paths)
	if err != nil {
		return 0, fmt.Errorf("Scan: merge: %w", err)
	}
	if n := len(res.Added); n > 0 {
		w.opts.Logger.Info().Str("dir", dir).Int("added", n).Msg("Folder scan found new documents")
	}
	return len(res.Added), nil
}

// Start schedules Scan with a standard 5-field cron expression. An empty
// schedule leaves the watcher disabled.
func (w *Watcher) Start(ctx context.Context, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		w.opts.Logger.Info().Msg("Folder watch disabled (no schedule)")
		return nil
	}

	logger := cronLogger{log: w.opts.Logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := w.Scan(ctx); err != nil {
			w.opts.Logger.Error().Err(err).Msg("Folder scan failed")
		}
	}); err != nil {
		return fmt.Errorf("Start: invalid schedule %q: %w", schedule, err)
	}

	w.cron = c
	c.Start()
	w.opts.Logger.Info().Str("schedule", schedule).Msg("Folder watch scheduled")
	return nil
}

// Stop stops scheduling and waits for a running scan to finish.
func (w *Watcher) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.cron = nil
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
