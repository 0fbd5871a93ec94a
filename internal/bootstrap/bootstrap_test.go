package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/dvloznov/order-intake/internal/config"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/settings"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "intake.db")
	return &cfg
}

func TestBuild_LocalOnly(t *testing.T) {
	s, err := Build(context.Background(), testConfig(t), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.App)
	assert.False(t, s.App.Processing())

	st := s.Settings.Load(context.Background())
	assert.Equal(t, settings.DefaultConcurrencyLimit, st.ConcurrencyLimit)
}

func TestBuild_ExportOverride(t *testing.T) {
	s, err := Build(context.Background(), testConfig(t), zerolog.Nop(), Options{
		Settings: func(st *settings.Settings) { st.DefaultExcelPath = "/tmp/forced.xlsx" },
	})
	require.NoError(t, err)
	defer s.Close()

	src := overridden{src: s.Settings, fn: func(st *settings.Settings) { st.DefaultExcelPath = "/tmp/forced.xlsx" }}
	assert.Equal(t, "/tmp/forced.xlsx", src.Load(context.Background()).DefaultExcelPath)
}

func TestHandleDrops(t *testing.T) {
	s, err := Build(context.Background(), testConfig(t), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer s.Close()

	stop := s.HandleDrops()
	s.Bus.Publish(events.FilesDropped, events.FilesDroppedPayload{Paths: []string{"/in/1234_20240115_ACME-SUPCO.pdf", "/in/x.txt"}})
	assert.Equal(t, 1, s.Store.Len())

	stop()
	s.Bus.Publish(events.FilesDropped, events.FilesDroppedPayload{Paths: []string{"/in/1235_20240115_ACME-SUPCO.pdf"}})
	assert.Equal(t, 1, s.Store.Len())
}

func TestAnalysisWithoutKeyMarksRows(t *testing.T) {
	keyring.MockInit()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	s, err := Build(context.Background(), testConfig(t), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.App.AddPaths([]string{"/in/1234_20240115_ACME-SUPCO.pdf"})
	require.NoError(t, err)

	done, err := s.App.StartAnalysis(context.Background())
	require.NoError(t, err)
	select {
	case out := <-done:
		assert.Equal(t, 1, out.Failed)
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not finish")
	}

	rows := s.App.Records()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].HasWarning)
	require.NotNil(t, rows[0].Notes)
	assert.Contains(t, *rows[0].Notes, "API key is empty")
}
