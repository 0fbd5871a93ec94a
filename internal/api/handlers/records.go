package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dvloznov/order-intake/internal/api/middleware"
	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/records"
)

// RecordsHandler handles the record table endpoints.
type RecordsHandler struct {
	app App
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(a App) *RecordsHandler {
	return &RecordsHandler{app: a}
}

type mergeResponse struct {
	Added      []domain.Record `json:"added"`
	Duplicates int             `json:"duplicates"`
	Failed     []string        `json:"failed"`
	Count      int             `json:"count"`
}

func (h *RecordsHandler) mergeResponse(res records.MergeResult) mergeResponse {
	out := mergeResponse{
		Added:      res.Added,
		Duplicates: res.Duplicates,
		Failed:     []string{},
		Count:      len(h.app.Records()),
	}
	if out.Added == nil {
		out.Added = []domain.Record{}
	}
	for _, err := range res.Failures {
		out.Failed = append(out.Failed, err.Error())
	}
	return out
}

// ListRecords handles GET /api/records
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	rows := h.app.Records()
	if rows == nil {
		rows = []domain.Record{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records":        rows,
		"count":          len(rows),
		"confirmation":   h.app.ConfirmationState(),
		"insert_allowed": h.app.InsertAllowed(),
		"processing":     h.app.Processing(),
	})
}

// AddPaths handles POST /api/records/paths
func (h *RecordsHandler) AddPaths(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths" validate:"required,min=1,dive,required"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.AddPaths(req.Paths)
	if err != nil {
		writeAppError(w, r, err, "Failed to add files")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.mergeResponse(res))
}

// LoadFolder handles POST /api/records/folder
func (h *RecordsHandler) LoadFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}
	if r.ContentLength != 0 {
		if err := middleware.DecodeJSON(r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.app.LoadFolder(r.Context(), req.Dir)
	if err != nil {
		if statusFor(err) != http.StatusInternalServerError {
			writeAppError(w, r, err, "Failed to load folder")
			return
		}
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.mergeResponse(res))
}

// UpdateRecord handles PATCH /api/records/{id}
// The body is a partial record using the table's JSON keys; a null value
// clears a field.
func (h *RecordsHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid record id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var probe domain.Record
	if err := json.Unmarshal(body, &probe); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.app.EditRecord(r.Context(), id, func(rec *domain.Record) {
		// Already validated against the same type above.
		_ = json.Unmarshal(body, rec)
	})
	if err != nil {
		writeAppError(w, r, err, "Failed to update record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/records/{id}
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid record id")
		return
	}
	if err := h.app.RemoveRecord(id); err != nil {
		writeAppError(w, r, err, "Failed to remove record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InsertBelow handles POST /api/records/{id}/insert-below
func (h *RecordsHandler) InsertBelow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid record id")
		return
	}
	req := struct {
		Count int `json:"count" validate:"gte=0,lte=100"`
	}{}
	if r.ContentLength != 0 {
		if err := middleware.DecodeJSON(r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	added, err := h.app.InsertBelow(id, req.Count)
	if err != nil {
		writeAppError(w, r, err, "Failed to insert rows")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"records": added,
		"count":   len(added),
	})
}

// Reanalyze handles POST /api/records/{id}/reanalyze
func (h *RecordsHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid record id")
		return
	}
	rows, err := h.app.ReanalyzeRecord(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, "Failed to analyze record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": rows,
		"count":   len(rows),
	})
}

// ConfirmAll handles POST /api/records/confirm-all
func (h *RecordsHandler) ConfirmAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirmed *bool `json:"confirmed" validate:"required"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.ConfirmAll(*req.Confirmed); err != nil {
		writeAppError(w, r, err, "Failed to confirm records")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"confirmation": h.app.ConfirmationState(),
	})
}

// ClearRecords handles DELETE /api/records
func (h *RecordsHandler) ClearRecords(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Clear(); err != nil {
		writeAppError(w, r, err, "Failed to clear records")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
