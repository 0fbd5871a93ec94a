// Package handlers exposes the application over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/order-intake/internal/api/middleware"
	"github.com/dvloznov/order-intake/internal/app"
	"github.com/dvloznov/order-intake/internal/corrections"
	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/export"
	"github.com/dvloznov/order-intake/internal/logger"
	"github.com/dvloznov/order-intake/internal/pipeline"
	"github.com/dvloznov/order-intake/internal/records"
	"github.com/dvloznov/order-intake/internal/settings"
)

// App is the application surface used by the handlers.
// This interface enables mocking of the application layer.
type App interface {
	Records() []domain.Record
	ConfirmationState() records.ConfirmState
	InsertAllowed() bool
	Processing() bool

	AddPaths(paths []string) (records.MergeResult, error)
	LoadFolder(ctx context.Context, dir string) (records.MergeResult, error)
	EditRecord(ctx context.Context, id int64, fn func(*domain.Record)) (domain.Record, error)
	InsertBelow(id int64, n int) ([]domain.Record, error)
	RemoveRecord(id int64) error
	ReanalyzeRecord(ctx context.Context, id int64) ([]domain.Record, error)
	ConfirmAll(confirmed bool) error
	Clear() error

	StartAnalysis(ctx context.Context) (<-chan pipeline.Outcome, error)
	CancelAnalysis() bool
	Export(ctx context.Context) (export.Outcome, error)

	Corrections(ctx context.Context) ([]corrections.Correction, error)
	LearnCorrection(ctx context.Context, wrong, correct string) (bool, error)
	RemoveCorrection(ctx context.Context, wrong string) error
	Settings(ctx context.Context) settings.Settings
	SaveSettings(ctx context.Context, st settings.Settings) error
	HasAPIKey() bool
	APIKey() string
	SaveAPIKey(ctx context.Context, key string) error
}

var _ App = (*app.App)(nil)

// statusFor maps application errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrBusy), errors.Is(err, records.ErrInsertNotAllowed), errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoSourcePath):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError logs unexpected failures with the request-scoped logger and
// writes the matching error response.
func writeAppError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
