package api

import (
	"context"
	"fmt"
	"net/http"

	"trailguard/pkg/model"
	"trailguard/pkg/store"
	"trailguard/pkg/zones"
)

// ZoneHandler seeds and lists geo-fence zones. Each write reloads the
// live index so the next assessment sees the new snapshot.
type ZoneHandler struct {
	store store.Store
	index *zones.Index
}

// NewZoneHandler creates the handler.
func NewZoneHandler(st store.Store, idx *zones.Index) *ZoneHandler {
	return &ZoneHandler{store: st, index: idx}
}

type createZoneRequest struct {
	Name string `json:"name"`
	// Ring is the polygon boundary as (lon, lat) pairs.
	Ring         [][2]float64 `json:"ring"`
	DangerLevel  int          `json:"danger_level,omitempty"`
	SafetyRating int          `json:"safety_rating,omitempty"`
}

func (h *ZoneHandler) HandleCreateRestricted(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.ZoneRestricted)
}

func (h *ZoneHandler) HandleCreateSafe(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.ZoneSafe)
}

func (h *ZoneHandler) create(w http.ResponseWriter, r *http.Request, kind model.ZoneKind) {
	var req createZoneRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, fmt.Errorf("%w: name is required", errInvalidInput))
		return
	}
	if len(req.Ring) < 3 {
		writeError(w, fmt.Errorf("%w: ring needs at least 3 vertices", errInvalidInput))
		return
	}
	for _, pt := range req.Ring {
		if err := validateCoords(pt[1], pt[0]); err != nil {
			writeError(w, err)
			return
		}
	}

	z := &model.Zone{
		Name: req.Name,
		Kind: kind,
		Ring: req.Ring,
	}
	switch kind {
	case model.ZoneRestricted:
		if req.DangerLevel < 1 || req.DangerLevel > 5 {
			writeError(w, fmt.Errorf("%w: danger_level must be 1..5", errInvalidInput))
			return
		}
		z.DangerLevel = req.DangerLevel
	case model.ZoneSafe:
		if req.SafetyRating < 1 || req.SafetyRating > 5 {
			writeError(w, fmt.Errorf("%w: safety_rating must be 1..5", errInvalidInput))
			return
		}
		z.SafetyRating = req.SafetyRating
	}

	id, err := h.store.InsertZone(r.Context(), z)
	if err != nil {
		writeError(w, err)
		return
	}
	z.ID = id

	if err := h.index.Reload(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, z)
}

func (h *ZoneHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	restricted, err := h.store.ListZones(r.Context(), model.ZoneRestricted, true)
	if err != nil {
		writeError(w, err)
		return
	}
	safe, err := h.store.ListZones(r.Context(), model.ZoneSafe, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if restricted == nil {
		restricted = []*model.Zone{}
	}
	if safe == nil {
		safe = []*model.Zone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restricted": restricted,
		"safe":       safe,
	})
}
