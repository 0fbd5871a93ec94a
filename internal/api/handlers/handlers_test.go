package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/order-intake/internal/app"
	"github.com/dvloznov/order-intake/internal/corrections"
	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/export"
	"github.com/dvloznov/order-intake/internal/jobs"
	"github.com/dvloznov/order-intake/internal/jobs/inmemory"
	"github.com/dvloznov/order-intake/internal/logger"
	"github.com/dvloznov/order-intake/internal/pipeline"
	"github.com/dvloznov/order-intake/internal/records"
	"github.com/dvloznov/order-intake/internal/settings"
)

type stubRunner struct {
	RunFunc func(ctx context.Context, rows []domain.Record, concurrency int) (pipeline.Outcome, error)
}

func (s *stubRunner) Run(ctx context.Context, rows []domain.Record, c int) (pipeline.Outcome, error) {
	return s.RunFunc(ctx, rows, c)
}
func (s *stubRunner) Cancel() bool          { return false }
func (s *stubRunner) State() pipeline.State { return pipeline.StateIdle }

type stubExporter struct {
	ExportFunc func(ctx context.Context, rows []domain.Record) (export.Outcome, error)
}

func (s *stubExporter) Export(ctx context.Context, rows []domain.Record) (export.Outcome, error) {
	return s.ExportFunc(ctx, rows)
}

type stubCorrections struct{ m map[string]string }

func (s *stubCorrections) List(context.Context) ([]corrections.Correction, error) {
	out := []corrections.Correction{}
	for w, c := range s.m {
		out = append(out, corrections.Correction{Wrong: w, Correct: c})
	}
	return out, nil
}
func (s *stubCorrections) Learn(_ context.Context, w, c string) (bool, error) {
	s.m[w] = c
	return true, nil
}
func (s *stubCorrections) Remove(_ context.Context, w string) error { delete(s.m, w); return nil }

type stubSettings struct{ st settings.Settings }

func (s *stubSettings) Load(context.Context) settings.Settings { return s.st }
func (s *stubSettings) Save(_ context.Context, st settings.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.st = st
	return nil
}

type stubKeys struct{ key string }

func (s *stubKeys) SaveAPIKey(_ context.Context, k string) error { s.key = k; return nil }
func (s *stubKeys) GetAPIKey() string                           { return s.key }
func (s *stubKeys) HasAPIKey() bool                             { return s.key != "" }

type env struct {
	srv      *httptest.Server
	store    *records.Store
	runner   *stubRunner
	exporter *stubExporter
	runs     *inmemory.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    records.NewStore(zerolog.Nop()),
		runner:   &stubRunner{},
		exporter: &stubExporter{},
		runs:     inmemory.NewStore(10),
	}
	a := app.New(app.Deps{
		Store: e.store,
		Analyzer: pipeline.AnalyzerFunc(func(context.Context, string, domain.DocType) (*domain.AnalysisResult, error) {
			return &domain.AnalysisResult{Items: []domain.LineItem{{Product: domain.StringPtr("BOLT")}}}, nil
		}),
		Runner:      e.runner,
		Exporter:    e.exporter,
		Corrections: &stubCorrections{m: map[string]string{}},
		Settings:    &stubSettings{st: settings.Defaults()},
		Credentials: &stubKeys{},
		Bus:         events.NewBus(),
		Logger:      zerolog.Nop(),
	})
	e.srv = httptest.NewServer(NewRouter(RouterConfig{
		App:     a,
		Runs:    e.runs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		Logger:  zerolog.Nop(),
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

const pathA = "/in/1234_20240115_ACME-SUPCO.pdf"

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordsLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/records/paths", `{"paths":["`+pathA+`","`+pathA+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["duplicates"])
	assert.EqualValues(t, 1, body["count"])

	resp, body = e.do(t, http.MethodGet, "/api/records", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["records"].([]any)
	require.Len(t, rows, 1)
	first := rows[0].(map[string]any)
	assert.Equal(t, "1234", first["nummerAuftrag"])
	assert.Equal(t, "15.01.2024", first["datumAuftrag"])
	assert.Equal(t, "none", body["confirmation"])

	resp, body = e.do(t, http.MethodPatch, "/api/records/1", `{"produkt":"BOLT M8","confirmed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BOLT M8", body["produkt"])
	assert.Equal(t, true, body["confirmed"])

	resp, _ = e.do(t, http.MethodPatch, "/api/records/1", `{"menge":"many"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/api/records/42", `{"produkt":"X"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/records/1/insert-below", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "insertion needs a completed run")

	e.store.SetInsertAllowed(true)
	resp, body = e.do(t, http.MethodPost, "/api/records/1/insert-below", `{"count":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, _ = e.do(t, http.MethodDelete, "/api/records/2", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/records/confirm-all", `{"confirmed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "all", body["confirmation"])

	resp, _ = e.do(t, http.MethodPost, "/api/records/confirm-all", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/records", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, e.store.Len())
}

func TestAddPaths_Validation(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/api/records/paths", `{"paths":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPatch, "/api/records/abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadFolder(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1234_20240115_ACME-SUPCO.pdf"), []byte("%PDF"), 0o644))

	resp, body := e.do(t, http.MethodPost, "/api/records/folder", `{"dir":"`+filepath.ToSlash(dir)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["added"], 1)

	resp, _ = e.do(t, http.MethodPost, "/api/records/folder", `{"dir":"`+filepath.ToSlash(filepath.Join(dir, "nope"))+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestReanalyze(t *testing.T) {
	e := newEnv(t)
	e.store.Merge([]string{pathA})

	resp, body := e.do(t, http.MethodPost, "/api/records/1/reanalyze", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	e.store.SetInsertAllowed(true)
	added, err := e.store.InsertBelow(1, 1)
	require.NoError(t, err)
	resp, _ = e.do(t, http.MethodPost, "/api/records/"+itoa(added[0].ID)+"/reanalyze", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestAnalysisAndRuns(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	e.runner.RunFunc = func(ctx context.Context, rows []domain.Record, _ int) (pipeline.Outcome, error) {
		<-release
		now := time.Now()
		_ = e.runs.SaveRun(ctx, &jobs.Run{RunID: "run-1", Status: jobs.RunStatusCompleted, CreatedAt: now, CompletedAt: &now})
		return pipeline.Outcome{RunID: "run-1", State: pipeline.StateCompleted, Rows: rows}, nil
	}

	resp, _ := e.do(t, http.MethodPost, "/api/analysis", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/analysis", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/analysis", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "stub runner has nothing to cancel")

	close(release)
	require.Eventually(t, func() bool {
		_, body := e.do(t, http.MethodGet, "/api/records", "")
		return body["processing"] == false
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := e.do(t, http.MethodGet, "/api/analysis/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = e.do(t, http.MethodGet, "/api/analysis/runs/run-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	resp, _ = e.do(t, http.MethodGet, "/api/analysis/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportEndpoints(t *testing.T) {
	e := newEnv(t)
	e.exporter.ExportFunc = func(context.Context, []domain.Record) (export.Outcome, error) {
		return export.Outcome{Message: "Done: 0 updated, 1 inserted.", Exported: 1}, nil
	}

	resp, body := e.do(t, http.MethodPost, "/api/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Done: 0 updated, 1 inserted.", body["message"])

	book := filepath.Join(t.TempDir(), "book.xlsx")
	resp, body = e.do(t, http.MethodPost, "/api/export/check-access", `{"path":"`+filepath.ToSlash(book)+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["accessible"])

	require.NoError(t, os.WriteFile(book, []byte("x"), 0o644))
	resp, body = e.do(t, http.MethodPost, "/api/export/check-access", `{"path":"`+filepath.ToSlash(book)+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["accessible"])
}

func TestPreferences(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPut, "/api/corrections", `{"wrong":"B0LT","correct":"BOLT"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["learned"])

	resp, _ = e.do(t, http.MethodPut, "/api/corrections", `{"wrong":"B0LT"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = e.do(t, http.MethodGet, "/api/corrections", "")
	assert.EqualValues(t, 1, body["count"])

	resp, _ = e.do(t, http.MethodDelete, "/api/corrections?wrong=B0LT", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(t, http.MethodPut, "/api/settings", `{"defaultTheme":"dark","concurrencyLimit":3,"moveFilesEnabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["concurrencyLimit"])

	resp, _ = e.do(t, http.MethodPut, "/api/settings", `{"concurrencyLimit":500}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = e.do(t, http.MethodGet, "/api/settings", "")
	assert.Equal(t, "dark", body["defaultTheme"])

	resp, body = e.do(t, http.MethodPut, "/api/api-key", `{"key":"secret-1234"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["configured"])

	_, body = e.do(t, http.MethodGet, "/api/api-key", "")
	assert.Equal(t, "****1234", body["key"])
}

func TestWriteAppError_UsesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	reqLog := zerolog.New(&buf).With().Str("request_id", "req-9").Logger()
	req := httptest.NewRequest(http.MethodDelete, "/api/records", nil)
	req = req.WithContext(logger.WithContext(req.Context(), reqLog))

	rec := httptest.NewRecorder()
	writeAppError(rec, req, errors.New("disk full"), "Failed to clear records")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to clear records")
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
	assert.Contains(t, buf.String(), "disk full")

	// Expected conflicts are answered without logging.
	buf.Reset()
	rec = httptest.NewRecorder()
	writeAppError(rec, req, app.ErrBusy, "Failed to clear records")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, buf.String())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "****", MaskKey("abc"))
	assert.Equal(t, "****6789", MaskKey("123456789"))
}
