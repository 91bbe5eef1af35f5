package api

import (
	"fmt"
	"net/http"

	"trailguard/pkg/assess"
	"trailguard/pkg/model"
	"trailguard/pkg/tracker"
)

// TelemetryHandler ingests location updates and SOS presses.
type TelemetryHandler struct {
	engine  *assess.Engine
	tracker *tracker.Tracker
	// ingest caps concurrent location updates; beyond the high-water
	// mark the adapter sheds load with a retryable 503.
	ingest chan struct{}
}

// NewTelemetryHandler creates the handler with the given ingest
// high-water mark.
func NewTelemetryHandler(engine *assess.Engine, tr *tracker.Tracker, highWater int) *TelemetryHandler {
	return &TelemetryHandler{
		engine:  engine,
		tracker: tr,
		ingest:  make(chan struct{}, highWater),
	}
}

type sendLocationRequest struct {
	TouristID int64   `json:"tourist_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Heading   float64 `json:"heading,omitempty"`
}

func (h *TelemetryHandler) HandleSendLocation(w http.ResponseWriter, r *http.Request) {
	select {
	case h.ingest <- struct{}{}:
		defer func() { <-h.ingest }()
	default:
		h.tracker.Track(tracker.CatRejected)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ingest queue full, retry"})
		return
	}

	var req sendLocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateCoords(req.Latitude, req.Longitude); err != nil {
		writeError(w, err)
		return
	}
	if req.TouristID <= 0 {
		writeError(w, fmt.Errorf("%w: tourist_id must be positive", errInvalidInput))
		return
	}

	res, err := h.engine.ProcessLocation(r.Context(), &model.Location{
		TouristID: req.TouristID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Altitude:  req.Altitude,
		Speed:     req.Speed,
		Heading:   req.Heading,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type pressSOSRequest struct {
	TouristID     int64   `json:"tourist_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	EmergencyType string  `json:"emergency_type,omitempty"`
	Message       string  `json:"message,omitempty"`
}

type pressSOSResponse struct {
	AlertID                   int64  `json:"alert_id"`
	CaseNumber                string `json:"case_number"`
	EmergencyServicesNotified bool   `json:"emergency_services_notified"`
}

func (h *TelemetryHandler) HandlePressSOS(w http.ResponseWriter, r *http.Request) {
	var req pressSOSRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateCoords(req.Latitude, req.Longitude); err != nil {
		writeError(w, err)
		return
	}

	message := req.Message
	if message == "" && req.EmergencyType != "" {
		message = "SOS: " + req.EmergencyType
	}

	alert, notified, err := h.engine.PressSOS(r.Context(), req.TouristID, req.Latitude, req.Longitude, message)
	if err != nil {
		writeError(w, err)
		return
	}
	if alert == nil {
		// Deduplicated repeat press inside the same second.
		writeJSON(w, http.StatusOK, pressSOSResponse{EmergencyServicesNotified: false})
		return
	}

	writeJSON(w, http.StatusOK, pressSOSResponse{
		AlertID:                   alert.ID,
		CaseNumber:                fmt.Sprintf("SOS%06d", alert.ID),
		EmergencyServicesNotified: notified,
	})
}

func validateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude out of range [-90,90]", errInvalidInput)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude out of range [-180,180]", errInvalidInput)
	}
	return nil
}
