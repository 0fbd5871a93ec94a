package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/api/middleware"
	"github.com/dvloznov/order-intake/internal/jobs"
)

// RouterConfig wires NewRouter. Metrics and Events are optional.
type RouterConfig struct {
	App            App
	Runs           jobs.RunStore
	Metrics        http.Handler
	Events         http.Handler
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	recordsHandler := NewRecordsHandler(cfg.App)
	analysisHandler := NewAnalysisHandler(cfg.App, cfg.Runs)
	prefsHandler := NewPreferencesHandler(cfg.App)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Events != nil {
		r.Method(http.MethodGet, "/ws", cfg.Events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/records", func(r chi.Router) {
			r.Get("/", recordsHandler.ListRecords)
			r.Delete("/", recordsHandler.ClearRecords)
			r.Post("/paths", recordsHandler.AddPaths)
			r.Post("/folder", recordsHandler.LoadFolder)
			r.Post("/confirm-all", recordsHandler.ConfirmAll)
			r.Patch("/{id}", recordsHandler.UpdateRecord)
			r.Delete("/{id}", recordsHandler.DeleteRecord)
			r.Post("/{id}/insert-below", recordsHandler.InsertBelow)
			r.Post("/{id}/reanalyze", recordsHandler.Reanalyze)
		})

		r.Post("/analysis", analysisHandler.StartAnalysis)
		r.Delete("/analysis", analysisHandler.CancelAnalysis)
		r.Get("/analysis/runs", analysisHandler.ListRuns)
		r.Get("/analysis/runs/{id}", analysisHandler.GetRun)

		r.Post("/export", analysisHandler.Export)
		r.Post("/export/check-access", analysisHandler.CheckAccess)

		r.Get("/corrections", prefsHandler.ListCorrections)
		r.Put("/corrections", prefsHandler.LearnCorrection)
		r.Delete("/corrections", prefsHandler.RemoveCorrection)

		r.Get("/settings", prefsHandler.GetSettings)
		r.Put("/settings", prefsHandler.SaveSettings)

		r.Get("/api-key", prefsHandler.GetAPIKey)
		r.Put("/api-key", prefsHandler.SaveAPIKey)
	})

	return r
}
