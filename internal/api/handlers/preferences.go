package handlers

import (
	"net/http"

	"github.com/dvloznov/order-intake/internal/api/middleware"
	"github.com/dvloznov/order-intake/internal/corrections"
	"github.com/dvloznov/order-intake/internal/settings"
)

// PreferencesHandler handles corrections, settings and the API key.
type PreferencesHandler struct {
	app App
}

// NewPreferencesHandler creates a new preferences handler.
func NewPreferencesHandler(a App) *PreferencesHandler {
	return &PreferencesHandler{app: a}
}

// ListCorrections handles GET /api/corrections
func (h *PreferencesHandler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Corrections(r.Context())
	if err != nil {
		writeAppError(w, r, err, "Failed to list corrections")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"corrections": list,
		"count":       len(list),
	})
}

// LearnCorrection handles PUT /api/corrections
func (h *PreferencesHandler) LearnCorrection(w http.ResponseWriter, r *http.Request) {
	var req corrections.Correction
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	learned, err := h.app.LearnCorrection(r.Context(), req.Wrong, req.Correct)
	if err != nil {
		writeAppError(w, r, err, "Failed to save correction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"learned": learned})
}

// RemoveCorrection handles DELETE /api/corrections?wrong=...
func (h *PreferencesHandler) RemoveCorrection(w http.ResponseWriter, r *http.Request) {
	wrong := r.URL.Query().Get("wrong")
	if wrong == "" {
		middleware.WriteError(w, http.StatusBadRequest, "wrong is required")
		return
	}
	if err := h.app.RemoveCorrection(r.Context(), wrong); err != nil {
		writeAppError(w, r, err, "Failed to remove correction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/settings
func (h *PreferencesHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.app.Settings(r.Context()))
}

// SaveSettings handles PUT /api/settings
func (h *PreferencesHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	if err := middleware.DecodeJSON(r, &st); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.SaveSettings(r.Context(), st); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// GetAPIKey handles GET /api/api-key
// Only a masked form of the key leaves the process.
func (h *PreferencesHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"configured": h.app.HasAPIKey(),
		"key":        MaskKey(h.app.APIKey()),
	})
}

// SaveAPIKey handles PUT /api/api-key
// An empty key removes the stored one.
func (h *PreferencesHandler) SaveAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.SaveAPIKey(r.Context(), req.Key); err != nil {
		writeAppError(w, r, err, "Failed to save API key")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"configured": h.app.HasAPIKey()})
}

// MaskKey hides all but the last four characters of key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return "****" + key[len(key)-4:]
}
