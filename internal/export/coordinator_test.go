package export

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	bq "github.com/dvloznov/order-intake/internal/infra/bigquery"
	"github.com/dvloznov/order-intake/internal/settings"
)

type mockExporter struct {
	ExportFunc func(ctx context.Context, rows []domain.Record, path string) (string, error)
}

func (m *mockExporter) ExportToWorkbook(ctx context.Context, rows []domain.Record, path string) (string, error) {
	return m.ExportFunc(ctx, rows, path)
}

type mockMover struct {
	MoveFilesFunc func(ctx context.Context, paths []string, dir string) (int, error)
}

func (m *mockMover) MoveFiles(ctx context.Context, paths []string, dir string) (int, error) {
	return m.MoveFilesFunc(ctx, paths, dir)
}

type staticSettings settings.Settings

func (s staticSettings) Load(context.Context) settings.Settings { return settings.Settings(s) }

type recordedProgress struct {
	mu    sync.Mutex
	calls [][2]int
}

func (p *recordedProgress) SetProgress(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int{current, total})
}

type mockArchive struct {
	ArchiveFunc func(ctx context.Context, batch bq.ExportBatch, recs []domain.Record) error
}

func (m *mockArchive) ArchiveExport(ctx context.Context, batch bq.ExportBatch, recs []domain.Record) error {
	return m.ArchiveFunc(ctx, batch, recs)
}

type mockStorage struct {
	uploaded []string
	err      error
}

func (m *mockStorage) Upload(_ context.Context, objectName, filePath string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.uploaded = append(m.uploaded, filePath)
	return "gs://bucket/" + objectName, nil
}

func (m *mockStorage) Fetch(context.Context, string) ([]byte, error) { return nil, nil }

func notices(bus *events.Bus) *[]events.NoticePayload {
	var got []events.NoticePayload
	bus.Subscribe(events.Notice, func(_ string, payload any) {
		got = append(got, payload.(events.NoticePayload))
	})
	return &got
}

var str = domain.StringPtr

func sampleRows() []domain.Record {
	return []domain.Record{
		{ID: 1, Confirmed: true, SourcePath: "/in/a.pdf", Product: str("BOLT")},
		{ID: 2, Confirmed: true, SourcePath: "/in/a.pdf", Product: str("NUT")},
		{ID: 3, Confirmed: true, SourcePath: "/in/b.pdf", Product: str("PIPE"), HasWarning: true},
		{ID: 4, Confirmed: false, SourcePath: "/in/c.pdf", Product: str("GEAR")},
		{ID: 5, Confirmed: true, SourcePath: "/in/d.pdf"},
	}
}

func TestExport_NothingConfirmed(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	called := false
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			called = true
			return "", nil
		}},
		Bus:      bus,
		Settings: staticSettings{},
		Logger:   zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), []domain.Record{{ID: 1}})
	require.NoError(t, err)
	assert.True(t, out.Empty)
	assert.False(t, called)
	require.Len(t, *got, 1)
	assert.Equal(t, events.LevelInfo, (*got)[0].Level)
}

func TestExport_SuccessMovesEligibleFiles(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	progress := &recordedProgress{}

	var exported []domain.Record
	var moved []string
	var opened string
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(_ context.Context, rows []domain.Record, path string) (string, error) {
			exported = rows
			assert.Equal(t, "/out/book.xlsx", path)
			bus.Publish(events.ExportProgress, events.Progress{Current: 4, Total: 4, Percent: 100})
			return "Done: 2 updated, 2 inserted.", nil
		}},
		Mover: &mockMover{MoveFilesFunc: func(_ context.Context, paths []string, dir string) (int, error) {
			moved = paths
			assert.Equal(t, "/done", dir)
			return len(paths), nil
		}},
		Bus:      bus,
		Progress: progress,
		Settings: staticSettings{
			DefaultExcelPath:     "/out/book.xlsx",
			DefaultProcessedPath: "/done",
			MoveFilesEnabled:     true,
			AutoOpenExcel:        true,
		},
		Open:   func(p string) error { opened = p; return nil },
		Logger: zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)

	assert.Len(t, exported, 4)
	assert.Equal(t, []string{"/in/a.pdf"}, moved)
	assert.Equal(t, 1, out.Moved)
	assert.Equal(t, 4, out.Exported)
	assert.NotEmpty(t, out.ExportID)
	assert.Equal(t, "/out/book.xlsx", opened)
	assert.Equal(t, [][2]int{{0, 4}, {4, 4}, {0, 0}}, progress.calls)

	require.Len(t, *got, 2)
	assert.Equal(t, events.LevelSuccess, (*got)[0].Level)
	assert.Equal(t, "Done: 2 updated, 2 inserted.", (*got)[0].Message)
	assert.Equal(t, "1 PDFs moved.", (*got)[1].Message)
	assert.Equal(t, 1, bus.Subscribers(), "progress forwarding is released")
}

func TestExport_MoveDisabled(t *testing.T) {
	mover := &mockMover{MoveFilesFunc: func(context.Context, []string, string) (int, error) {
		t.Fatal("files must not move")
		return 0, nil
	}}
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return "Done: 1 updated, 0 inserted.", nil
		}},
		Mover:    mover,
		Bus:      events.NewBus(),
		Settings: staticSettings{DefaultProcessedPath: "/done"},
		Open:     func(string) error { t.Fatal("nothing to open"); return nil },
		Logger:   zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.Zero(t, out.Moved)
}

func TestExport_Aborted(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return domain.ExportAborted, nil
		}},
		Mover: &mockMover{MoveFilesFunc: func(context.Context, []string, string) (int, error) {
			t.Fatal("aborted export must not move files")
			return 0, nil
		}},
		Bus:      bus,
		Settings: staticSettings{DefaultProcessedPath: "/done", MoveFilesEnabled: true},
		Logger:   zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Empty(t, *got)
}

func TestExport_WriterError(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return "", errors.New("workbook locked")
		}},
		Bus:      bus,
		Settings: staticSettings{},
		Logger:   zerolog.Nop(),
	})

	_, err := c.Export(context.Background(), sampleRows())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workbook locked")
	require.Len(t, *got, 1)
	assert.Equal(t, events.LevelError, (*got)[0].Level)
	assert.False(t, c.Active())
}

func TestExport_MoveErrorIsReportedSeparately(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return "Done: 4 updated, 0 inserted.", nil
		}},
		Mover: &mockMover{MoveFilesFunc: func(context.Context, []string, string) (int, error) {
			return 0, errors.New("disk full")
		}},
		Bus:      bus,
		Settings: staticSettings{DefaultProcessedPath: "/done", MoveFilesEnabled: true},
		Logger:   zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.Equal(t, "disk full", out.MoveError)
	require.Len(t, *got, 2)
	assert.Equal(t, events.LevelSuccess, (*got)[0].Level)
	assert.Equal(t, events.LevelError, (*got)[1].Level)
}

func TestExport_ConcurrentCallIsSkipped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			close(entered)
			<-release
			return "ok", nil
		}},
		Bus:      events.NewBus(),
		Settings: staticSettings{},
		Logger:   zerolog.Nop(),
	})

	done := make(chan Outcome)
	go func() {
		out, _ := c.Export(context.Background(), sampleRows())
		done <- out
	}()
	<-entered

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.True(t, c.Active())

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.False(t, c.Active())
}

func TestExport_Archives(t *testing.T) {
	store := &mockStorage{}
	var batch bq.ExportBatch
	var archived []domain.Record
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return "Done: 4 updated, 0 inserted.", nil
		}},
		Bus:      events.NewBus(),
		Settings: staticSettings{DefaultExcelPath: "/out/book.xlsx"},
		Storage:  store,
		Archive: &mockArchive{ArchiveFunc: func(_ context.Context, b bq.ExportBatch, recs []domain.Record) error {
			batch, archived = b, recs
			return nil
		}},
		ArchivePrefix: "exports",
		Logger:        zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.True(t, out.Archived)
	assert.Equal(t, []string{"/in/a.pdf", "/out/book.xlsx"}, store.uploaded)
	assert.Equal(t, out.ExportID, batch.ExportID)
	assert.Contains(t, batch.ArchiveURIs["/in/a.pdf"], "gs://bucket/exports/")
	assert.Len(t, archived, 4)
}

func TestExport_ArchiveFailureDoesNotFailExport(t *testing.T) {
	bus := events.NewBus()
	got := notices(bus)
	c := NewCoordinator(Options{
		Exporter: &mockExporter{ExportFunc: func(context.Context, []domain.Record, string) (string, error) {
			return "ok", nil
		}},
		Bus:      bus,
		Settings: staticSettings{},
		Storage:  &mockStorage{err: errors.New("denied")},
		Archive: &mockArchive{ArchiveFunc: func(context.Context, bq.ExportBatch, []domain.Record) error {
			return errors.New("quota")
		}},
		Logger: zerolog.Nop(),
	})

	out, err := c.Export(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.False(t, out.Archived)
	// success, one upload failure, row archive failure
	assert.Len(t, *got, 3)
}

func TestMovablePaths(t *testing.T) {
	assert.Equal(t, []string{"/in/a.pdf"}, MovablePaths(sampleRows()))
	assert.Empty(t, MovablePaths(nil))
}
