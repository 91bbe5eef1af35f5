package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

// TouristHandler serves the tourist registry endpoints.
type TouristHandler struct {
	store store.Store
}

// NewTouristHandler creates the handler.
func NewTouristHandler(st store.Store) *TouristHandler {
	return &TouristHandler{store: st}
}

type registerTouristRequest struct {
	Name             string `json:"name"`
	Contact          string `json:"contact"`
	EmergencyContact string `json:"emergency_contact"`
	Age              int    `json:"age,omitempty"`
	Nationality      string `json:"nationality,omitempty"`
	PassportNumber   string `json:"passport_number,omitempty"`
}

func (h *TouristHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerTouristRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.Contact == "" || req.EmergencyContact == "" {
		writeError(w, fmt.Errorf("%w: name, contact and emergency_contact are required", errInvalidInput))
		return
	}

	t := &model.Tourist{
		Name:             req.Name,
		Contact:          req.Contact,
		EmergencyContact: req.EmergencyContact,
		Age:              req.Age,
		Nationality:      req.Nationality,
		PassportNumber:   req.PassportNumber,
		SafetyScore:      100,
	}
	id, err := h.store.CreateTourist(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := h.store.GetTourist(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// touristDetail is the aggregate view for one tourist.
type touristDetail struct {
	Tourist          *model.Tourist    `json:"tourist"`
	RecentLocations  []*model.Location `json:"recent_locations"`
	RecentAlerts     []*model.Alert    `json:"recent_alerts"`
	LatestAssessment *model.Assessment `json:"latest_assessment,omitempty"`
}

func (h *TouristHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	t, err := h.store.GetTourist(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := touristDetail{Tourist: t}
	if detail.RecentLocations, err = h.store.RecentLocations(r.Context(), id, 10); err != nil {
		writeError(w, err)
		return
	}
	if detail.RecentAlerts, err = h.store.ListAlerts(r.Context(), store.AlertFilter{TouristID: id}, 20, 0); err != nil {
		writeError(w, err)
		return
	}
	latest, err := h.store.LatestAssessment(r.Context(), id)
	if err == nil {
		detail.LatestAssessment = latest
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *TouristHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	activeOnly := r.URL.Query().Get("active") != "false"

	list, err := h.store.ListTourists(r.Context(), activeOnly, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*model.Tourist{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TouristHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeactivateTourist(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errInvalidInput, name)
	}
	return id, nil
}

// pagination parses limit/offset with the default 50 and cap 1000.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit", errInvalidInput)
		}
		if limit > 1000 {
			limit = 1000
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset", errInvalidInput)
		}
	}
	return limit, offset, nil
}
