package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trailguard/pkg/logging"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

// AlertHandler serves alert listing, manual filing and lifecycle
// transitions.
type AlertHandler struct {
	store store.Store
}

// NewAlertHandler creates the handler.
func NewAlertHandler(st store.Store) *AlertHandler {
	return &AlertHandler{store: st}
}

func (h *AlertHandler) HandleGetAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := store.AlertFilter{
		Status:   model.AlertStatus(q.Get("status")),
		Kind:     model.AlertKind(q.Get("kind")),
		Severity: model.AlertSeverity(q.Get("severity")),
	}
	if v := q.Get("tourist_id"); v != "" {
		filter.TouristID, err = parseID(v)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type fileEFIRRequest struct {
	TouristID   int64   `json:"tourist_id"`
	Subject     string  `json:"subject"`
	Description string  `json:"description,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

type fileEFIRResponse struct {
	AlertID    int64  `json:"alert_id"`
	CaseNumber string `json:"case_number"`
}

// HandleFileEFIR files an electronic first information report as a
// HIGH MANUAL alert and mints the case number.
func (h *AlertHandler) HandleFileEFIR(w http.ResponseWriter, r *http.Request) {
	var req fileEFIRRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Subject == "" {
		writeError(w, fmt.Errorf("%w: subject is required", errInvalidInput))
		return
	}
	if err := validateCoords(req.Latitude, req.Longitude); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.GetTourist(r.Context(), req.TouristID); err != nil {
		writeError(w, err)
		return
	}

	a := &model.Alert{
		TouristID:   req.TouristID,
		Kind:        model.AlertManual,
		Severity:    model.AlertSevHigh,
		Message:     req.Subject,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Status:      model.AlertActive,
	}
	id, err := h.store.InsertAlert(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	a.ID = id
	logging.LogAlert(a)

	writeJSON(w, http.StatusCreated, fileEFIRResponse{
		AlertID:    id,
		CaseNumber: fmt.Sprintf("EFIR%06d%s", id, time.Now().UTC().Format("20060102")),
	})
}

type resolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
	FalseAlarm bool   `json:"false_alarm,omitempty"`
}

func (h *AlertHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveAlertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}

	a, err := h.store.ResolveAlert(r.Context(), id, req.ResolvedBy, req.Notes, req.FalseAlarm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type acknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
}

func (h *AlertHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req acknowledgeAlertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy = "operator"
	}

	a, err := h.store.AcknowledgeAlert(r.Context(), id, req.AcknowledgedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", errInvalidInput)
	}
	return id, nil
}
