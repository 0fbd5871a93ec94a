// Package bootstrap wires the application from configuration. It is shared
// by the API server and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/analyzer"
	"github.com/dvloznov/order-intake/internal/app"
	"github.com/dvloznov/order-intake/internal/config"
	"github.com/dvloznov/order-intake/internal/corrections"
	"github.com/dvloznov/order-intake/internal/credentials"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/export"
	"github.com/dvloznov/order-intake/internal/files"
	"github.com/dvloznov/order-intake/internal/gcs"
	bq "github.com/dvloznov/order-intake/internal/infra/bigquery"
	"github.com/dvloznov/order-intake/internal/infra/sqlite"
	"github.com/dvloznov/order-intake/internal/jobs/inmemory"
	"github.com/dvloznov/order-intake/internal/logger"
	"github.com/dvloznov/order-intake/internal/metrics"
	"github.com/dvloznov/order-intake/internal/pipeline"
	"github.com/dvloznov/order-intake/internal/progress"
	"github.com/dvloznov/order-intake/internal/records"
	"github.com/dvloznov/order-intake/internal/settings"
	"github.com/dvloznov/order-intake/internal/watch"
	"github.com/dvloznov/order-intake/internal/workbook"
)

// maxRunHistory bounds the in-memory run history.
const maxRunHistory = 100

// Options adjust the wiring for one binary.
type Options struct {
	// Settings rewrites the operator settings seen by the export
	// coordinator, e.g. to force a destination from the command line.
	Settings func(*settings.Settings)
}

// Services is the wired application.
type Services struct {
	App         *app.App
	Store       *records.Store
	Bus         *events.Bus
	Runs        *inmemory.Store
	Runner      *pipeline.Runner
	Analyzer    *analyzer.Analyzer
	Coordinator *export.Coordinator
	Corrections *corrections.Store
	Settings    *settings.Store
	Vault       *credentials.Vault
	Watcher     *watch.Watcher
	Metrics     *metrics.Metrics

	closers []func() error
	log     zerolog.Logger
}

// Close releases database and cloud clients.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
}

// Build creates every component described by cfg. Optional cloud backends
// are only created when configured.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*Services, error) {
	s := &Services{log: log}

	// 1) Local persistence.
	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	s.closers = append(s.closers, db.Close)

	s.Corrections = corrections.NewStore(db, logger.Component(log, "corrections"))
	s.Settings = settings.NewStore(db, logger.Component(log, "settings"))
	s.Vault = credentials.NewVault(s.Settings, logger.Component(log, "credentials"))

	// 2) Events, metrics and the record table.
	s.Bus = events.NewBus()
	s.Metrics = metrics.New()
	s.Store = records.NewStore(logger.Component(log, "records"))
	s.Runs = inmemory.NewStore(maxRunHistory)

	// 3) Optional cloud backends.
	var storage gcs.Storage
	if cfg.Archive.GCSBucket != "" {
		client, err := gcs.NewClient(ctx, cfg.Archive.GCSBucket)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		storage = client
	}

	var ocr analyzer.OCR
	if cfg.Analyzer.OCREnabled() {
		client, err := analyzer.NewDocumentAIOCR(ctx, analyzer.DocumentAIConfig{
			Project:   cfg.Analyzer.OCRProject,
			Location:  cfg.Analyzer.OCRLocation,
			Processor: cfg.Analyzer.OCRProcessor,
			Timeout:   cfg.Analyzer.RequestTimeout,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		ocr = client
	}

	var archive export.Archive
	if cfg.Archive.BigQueryEnabled() {
		a, err := bq.NewExportArchive(ctx, cfg.Archive.BigQueryProject, cfg.Archive.BigQueryDataset, cfg.Archive.BigQueryTable)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
		s.closers = append(s.closers, a.Close)
		archive = a
	}

	// 4) Analysis.
	s.Analyzer = analyzer.New(analyzer.Options{
		Model: analyzer.NewGeminiModel(analyzer.GeminiConfig{
			ModelName:      cfg.Analyzer.Model,
			VertexProject:  cfg.Analyzer.VertexProject,
			VertexLocation: cfg.Analyzer.VertexLocation,
			Timeout:        cfg.Analyzer.RequestTimeout,
		}),
		OCR:         ocr,
		Storage:     storage,
		Corrections: s.Corrections,
		Keys:        s.Vault,
		Logger:      logger.Component(log, "analyzer"),
	})
	s.Runner = pipeline.NewRunner(s.Analyzer, progress.NewIndicator(s.Bus, logger.Component(log, "progress")), pipeline.Options{
		Stagger:   cfg.Pipeline.Stagger,
		ChunkSize: cfg.Pipeline.ChunkSize,
		Runs:      s.Runs,
		Metrics:   s.Metrics,
		Logger:    logger.Component(log, "pipeline"),
	})

	// 5) Export.
	var exportSettings export.SettingsSource = s.Settings
	if opts.Settings != nil {
		exportSettings = overridden{src: s.Settings, fn: opts.Settings}
	}
	s.Coordinator = export.NewCoordinator(export.Options{
		Exporter:      workbook.NewWriter(s.Bus, logger.Component(log, "workbook")),
		Mover:         files.NewMover(),
		Bus:           s.Bus,
		Progress:      progress.NewIndicator(s.Bus, logger.Component(log, "progress")),
		Settings:      exportSettings,
		Archive:       archive,
		Storage:       storage,
		ArchivePrefix: cfg.Archive.GCSPrefix,
		Metrics:       s.Metrics,
		Logger:        logger.Component(log, "export"),
	})

	// 6) Application state.
	s.App = app.New(app.Deps{
		Store:       s.Store,
		Analyzer:    s.Analyzer,
		Runner:      s.Runner,
		Exporter:    s.Coordinator,
		Corrections: s.Corrections,
		Settings:    s.Settings,
		Credentials: s.Vault,
		Bus:         s.Bus,
		Logger:      logger.Component(log, "app"),
	})
	s.Watcher = watch.New(s.App, s.Settings, watch.Options{Logger: logger.Component(log, "watch")})

	return s, nil
}

// HandleDrops routes files-dropped events from UI clients into the table
// until the returned function is called.
func (s *Services) HandleDrops() (unsubscribe func()) {
	return s.Bus.Subscribe(events.FilesDropped, func(_ string, payload any) {
		p, ok := payload.(events.FilesDroppedPayload)
		if !ok {
			return
		}
		if _, err := s.App.HandleDrop(p.Paths); err != nil {
			s.log.Warn().Err(err).Msg("Dropped files rejected")
		}
	})
}

type overridden struct {
	src export.SettingsSource
	fn  func(*settings.Settings)
}

func (o overridden) Load(ctx context.Context) settings.Settings {
	st := o.src.Load(ctx)
	o.fn(&st)
	return st
}
