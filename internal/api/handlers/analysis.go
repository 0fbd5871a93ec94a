package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/order-intake/internal/api/middleware"
	"github.com/dvloznov/order-intake/internal/jobs"
	"github.com/dvloznov/order-intake/internal/logger"
	"github.com/dvloznov/order-intake/internal/workbook"
)

// AnalysisHandler handles analysis runs and exports.
type AnalysisHandler struct {
	app  App
	runs jobs.RunStore
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(a App, runs jobs.RunStore) *AnalysisHandler {
	return &AnalysisHandler{app: a, runs: runs}
}

// StartAnalysis handles POST /api/analysis
// The run continues in the background; progress and the result arrive as
// events on the WebSocket.
func (h *AnalysisHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	if _, err := h.app.StartAnalysis(r.Context()); err != nil {
		writeAppError(w, r, err, "Failed to start analysis")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

// CancelAnalysis handles DELETE /api/analysis
func (h *AnalysisHandler) CancelAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.app.CancelAnalysis() {
		middleware.WriteError(w, http.StatusConflict, "No analysis is running")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ListRuns handles GET /api/analysis/runs
func (h *AnalysisHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.RunFilter{Status: jobs.RunStatus(query.Get("status"))}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/analysis/runs/{id}
func (h *AnalysisHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, jobs.ErrRunNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, run)
}

// Export handles POST /api/export
func (h *AnalysisHandler) Export(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Export(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if out.Skipped {
		middleware.WriteJSON(w, http.StatusConflict, out)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// CheckAccess handles POST /api/export/check-access
func (h *AnalysisHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path" validate:"required"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := workbook.CheckFileAccess(req.Path); err != nil {
		status := http.StatusLocked
		if errors.Is(err, workbook.ErrFileNotFound) {
			status = http.StatusNotFound
		}
		middleware.WriteJSON(w, status, map[string]interface{}{
			"accessible": false,
			"error":      err.Error(),
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"accessible": true})
}
