package api

import (
	"net/http"
	"time"

	"github.com/uber/h3-go/v4"

	"trailguard/pkg/config"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
	"trailguard/pkg/tracker"
	"trailguard/pkg/training"
)

// AIHandler serves training control and data statistics.
type AIHandler struct {
	store     store.Store
	scheduler *training.Scheduler
	tracker   *tracker.Tracker
	heatmap   config.HeatmapConfig
}

// NewAIHandler creates the handler.
func NewAIHandler(st store.Store, sched *training.Scheduler, tr *tracker.Tracker, heatmap config.HeatmapConfig) *AIHandler {
	return &AIHandler{store: st, scheduler: sched, tracker: tr, heatmap: heatmap}
}

func (h *AIHandler) HandleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *AIHandler) HandleTrainingForce(w http.ResponseWriter, r *http.Request) {
	accepted := h.scheduler.Force()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":         accepted,
		"already_training": !accepted,
	})
}

type dataStatsResponse struct {
	Counters     map[string]tracker.Counts `json:"counters"`
	Tourists     int                       `json:"tourists"`
	Locations    int                       `json:"locations"`
	Alerts       int                       `json:"alerts"`
	TrainingRuns []*model.TrainingRun      `json:"recent_training_runs"`
	GeneratedAt  time.Time                 `json:"generated_at"`
}

// HandleDataStats reports dataset totals and activity deltas. Totals
// come from the store so they survive restarts; the tracker buckets
// only carry the recent in-process activity.
func (h *AIHandler) HandleDataStats(w http.ResponseWriter, r *http.Request) {
	tourists, err := h.store.CountTourists(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	locations, err := h.store.CountLocations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	alerts, err := h.store.CountAlerts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := h.store.ListTrainingRuns(r.Context(), 5)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*model.TrainingRun{}
	}
	writeJSON(w, http.StatusOK, dataStatsResponse{
		Counters:     h.tracker.Snapshot(),
		Tourists:     tourists,
		Locations:    locations,
		Alerts:       alerts,
		TrainingRuns: runs,
		GeneratedAt:  time.Now().UTC(),
	})
}

// heatmapCell is one aggregated H3 cell of recent telemetry. MeanScore
// averages the assessed fixes in the cell, -1 when none were assessed.
type heatmapCell struct {
	Cell      string  `json:"cell"`
	Count     int     `json:"count"`
	MeanScore float64 `json:"mean_score"`
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
}

// HandleHeatmap aggregates the recent location window into H3 cells
// for the operations dashboard.
func (h *AIHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Duration(h.heatmap.Window))
	points, err := h.store.HeatPointsSince(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}

	type agg struct {
		count    int
		scoreSum int
		scored   int
	}
	byCell := make(map[h3.Cell]*agg)
	for _, p := range points {
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: p.Latitude, Lng: p.Longitude}, h.heatmap.Resolution)
		if err != nil {
			continue
		}
		a := byCell[cell]
		if a == nil {
			a = &agg{}
			byCell[cell] = a
		}
		a.count++
		if p.Score >= 0 {
			a.scoreSum += p.Score
			a.scored++
		}
	}

	cells := make([]heatmapCell, 0, len(byCell))
	for cell, a := range byCell {
		center, err := h3.CellToLatLng(cell)
		if err != nil {
			continue
		}
		mean := -1.0
		if a.scored > 0 {
			mean = float64(a.scoreSum) / float64(a.scored)
		}
		cells = append(cells, heatmapCell{
			Cell:      cell.String(),
			Count:     a.count,
			MeanScore: mean,
			CenterLat: center.Lat,
			CenterLon: center.Lng,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolution": h.heatmap.Resolution,
		"window":     time.Duration(h.heatmap.Window).String(),
		"cells":      cells,
	})
}
