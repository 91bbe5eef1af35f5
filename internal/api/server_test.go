package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/pkg/assess"
	"trailguard/pkg/config"
	"trailguard/pkg/db"
	"trailguard/pkg/detector"
	"trailguard/pkg/dispatch"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
	"trailguard/pkg/tracker"
	"trailguard/pkg/training"
	"trailguard/pkg/zones"
)

type testEnv struct {
	server *httptest.Server
	store  store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DB.Path = filepath.Join(t.TempDir(), "test.db")

	database, err := db.Init(cfg.DB.Path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	st := store.NewSQLiteStore(database)
	idx := zones.NewIndex(st)
	reg := detector.NewRegistry()
	disp := dispatch.New(st, st, cfg.Webhook)
	tr := tracker.New()
	engine := assess.New(st, idx, reg, disp, tr, cfg)
	sched := training.New(st, reg, cfg)

	srv := NewServer(cfg.Server.Address, database,
		NewTelemetryHandler(engine, tr, cfg.Server.IngestHighWater),
		NewTouristHandler(st),
		NewAlertHandler(st),
		NewAIHandler(st, sched, tr, cfg.Heatmap),
		NewZoneHandler(st, idx),
		NewWSHandler(disp),
	)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: st}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (env *testEnv) registerTourist(t *testing.T) *model.Tourist {
	t.Helper()
	resp, body := env.do(t, http.MethodPost, "/registerTourist", map[string]any{
		"name":              "Asha Rao",
		"contact":           "+91-98765-43210",
		"emergency_contact": "+91-98765-00000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var tourist model.Tourist
	require.NoError(t, json.Unmarshal(body, &tourist))
	return &tourist
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRegisterTourist(t *testing.T) {
	env := newTestEnv(t)

	tourist := env.registerTourist(t)
	assert.NotZero(t, tourist.ID)
	assert.Equal(t, 100, tourist.SafetyScore)
	assert.True(t, tourist.IsActive)

	// Missing required fields.
	resp, _ := env.do(t, http.MethodPost, "/registerTourist", map[string]any{
		"name": "No Contact",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed body.
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/registerTourist",
		bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp2, err := env.server.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestGetTourist(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/tourists/%d", tourist.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Tourist         *model.Tourist    `json:"tourist"`
		RecentLocations []*model.Location `json:"recent_locations"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, tourist.ID, detail.Tourist.ID)

	resp, _ = env.do(t, http.MethodGet, "/tourists/99999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/tourists/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendLocationClean(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/sendLocation", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.1445,
		"longitude":  91.7362,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res assess.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 100, res.UpdatedScore)
	assert.Equal(t, model.SeveritySafe, res.Assessment.Severity)
	assert.False(t, res.AlertGenerated)
}

func TestSendLocationValidation(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"latitude out of range", map[string]any{"tourist_id": tourist.ID, "latitude": 91.0, "longitude": 0.0}, http.StatusBadRequest},
		{"longitude out of range", map[string]any{"tourist_id": tourist.ID, "latitude": 0.0, "longitude": 181.0}, http.StatusBadRequest},
		{"missing tourist", map[string]any{"tourist_id": 424242, "latitude": 26.0, "longitude": 91.0}, http.StatusNotFound},
		{"unknown field", map[string]any{"tourist_id": tourist.ID, "latitude": 26.0, "longitude": 91.0, "bogus": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/sendLocation", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode, string(body))
		})
	}
}

func TestSendLocationDeactivated(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, _ := env.do(t, http.MethodDelete, fmt.Sprintf("/tourists/%d", tourist.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/sendLocation", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.0,
		"longitude":  91.0,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRestrictedZoneFlow(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/zones/restricted", map[string]any{
		"name":         "Border Strip",
		"danger_level": 4,
		"ring": [][2]float64{
			{91.70, 26.10},
			{91.80, 26.10},
			{91.80, 26.20},
			{91.70, 26.20},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/sendLocation", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.1445,
		"longitude":  91.7362,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res assess.Result
	require.NoError(t, json.Unmarshal(body, &res))
	// 100 - 4*15 = 40, CRITICAL band.
	assert.Equal(t, 40, res.Assessment.SafetyScore)
	assert.Equal(t, model.SeverityCritical, res.Assessment.Severity)
	assert.True(t, res.Assessment.GeofenceAlert)
	assert.Equal(t, "Border Strip", res.Assessment.ZoneName)
	assert.True(t, res.AlertGenerated)

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/getAlerts?tourist_id=%d", tourist.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alerts []*model.Alert
	require.NoError(t, json.Unmarshal(body, &alerts))
	require.NotEmpty(t, alerts)
	assert.Equal(t, model.AlertGeofence, alerts[0].Kind)
	assert.Equal(t, model.AlertSevHigh, alerts[0].Severity)
}

func TestZoneValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		path string
		body map[string]any
	}{
		{"too few vertices", "/zones/restricted", map[string]any{
			"name": "bad", "danger_level": 3,
			"ring": [][2]float64{{91, 26}, {92, 26}},
		}},
		{"danger out of range", "/zones/restricted", map[string]any{
			"name": "bad", "danger_level": 9,
			"ring": [][2]float64{{91, 26}, {92, 26}, {92, 27}},
		}},
		{"rating out of range", "/zones/safe", map[string]any{
			"name": "bad", "safety_rating": 0,
			"ring": [][2]float64{{91, 26}, {92, 26}, {92, 27}},
		}},
		{"missing name", "/zones/safe", map[string]any{
			"safety_rating": 3,
			"ring":          [][2]float64{{91, 26}, {92, 26}, {92, 27}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestListZones(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/zones/safe", map[string]any{
		"name":          "Tourist District",
		"safety_rating": 5,
		"ring": [][2]float64{
			{91.70, 26.10},
			{91.80, 26.10},
			{91.80, 26.20},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/zones", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]*model.Zone
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out["restricted"])
	require.Len(t, out["safe"], 1)
	assert.Equal(t, "Tourist District", out["safe"][0].Name)
}

func TestPressSOS(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/pressSOS", map[string]any{
		"tourist_id":     tourist.ID,
		"latitude":       26.1445,
		"longitude":      91.7362,
		"emergency_type": "medical",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out pressSOSResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotZero(t, out.AlertID)
	assert.Equal(t, fmt.Sprintf("SOS%06d", out.AlertID), out.CaseNumber)
	// No webhook configured in tests.
	assert.False(t, out.EmergencyServicesNotified)

	// Score dropped to zero.
	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/tourists/%d", tourist.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		Tourist *model.Tourist `json:"tourist"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, 0, detail.Tourist.SafetyScore)

	// SOS works for deactivated tourists too.
	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/tourists/%d", tourist.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/pressSOS", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.1445,
		"longitude":  91.7362,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFileEFIR(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
		"tourist_id": tourist.ID,
		"subject":    "Missing since morning trek",
		"latitude":   26.1445,
		"longitude":  91.7362,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out fileEFIRResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotZero(t, out.AlertID)
	want := fmt.Sprintf("EFIR%06d%s", out.AlertID, time.Now().UTC().Format("20060102"))
	assert.Equal(t, want, out.CaseNumber)

	// Subject required.
	resp, _ = env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
		"tourist_id": tourist.ID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown tourist.
	resp, _ = env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
		"tourist_id": int64(777777),
		"subject":    "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
		"tourist_id": tourist.ID,
		"subject":    "report",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var filed fileEFIRResponse
	require.NoError(t, json.Unmarshal(body, &filed))

	resp, body = env.do(t, http.MethodPut, fmt.Sprintf("/acknowledgeAlert/%d", filed.AlertID), map[string]any{
		"acknowledged_by": "ops-desk",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var ack model.Alert
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, model.AlertAcknowledged, ack.Status)
	assert.Equal(t, "ops-desk", ack.AcknowledgedBy)

	// Double acknowledge is an invalid transition.
	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/acknowledgeAlert/%d", filed.AlertID), map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, fmt.Sprintf("/resolveAlert/%d", filed.AlertID), map[string]any{
		"resolved_by": "ops-desk",
		"notes":       "tourist located",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var resolved model.Alert
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Equal(t, model.AlertResolved, resolved.Status)
	assert.Equal(t, "tourist located", resolved.ResolutionNotes)

	// Resolving again is invalid.
	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/resolveAlert/%d", filed.AlertID), map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown alert.
	resp, _ = env.do(t, http.MethodPut, "/acknowledgeAlert/404404", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveFalseAlarm(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, body := env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
		"tourist_id": tourist.ID,
		"subject":    "report",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var filed fileEFIRResponse
	require.NoError(t, json.Unmarshal(body, &filed))

	resp, body = env.do(t, http.MethodPut, fmt.Sprintf("/resolveAlert/%d", filed.AlertID), map[string]any{
		"false_alarm": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var resolved model.Alert
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Equal(t, model.AlertFalseAlarm, resolved.Status)
	assert.Equal(t, "operator", resolved.ResolvedBy)
}

func TestGetAlertsFilters(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, _ := env.do(t, http.MethodPost, "/pressSOS", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.1445,
		"longitude":  91.7362,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, http.MethodPost, "/fileEFIR", map[string]any{
			"tourist_id": tourist.ID,
			"subject":    fmt.Sprintf("report %d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/getAlerts?kind=MANUAL&severity=HIGH", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alerts []*model.Alert
	require.NoError(t, json.Unmarshal(body, &alerts))
	assert.Len(t, alerts, 3)

	// The SOS sits behind three newer manual reports; a page smaller
	// than the backlog must still find it.
	resp, body = env.do(t, http.MethodGet, "/getAlerts?kind=SOS&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertSOS, alerts[0].Kind)

	resp, body = env.do(t, http.MethodGet, "/getAlerts?kind=PANIC", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &alerts))
	assert.Empty(t, alerts)

	resp, body = env.do(t, http.MethodGet, "/getAlerts?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &alerts))
	assert.Len(t, alerts, 2)

	resp, _ = env.do(t, http.MethodGet, "/getAlerts?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrainingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/ai/training/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status training.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.IsTraining)

	resp, body = env.do(t, http.MethodPost, "/ai/training/force", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, true, out["accepted"])
}

func TestDataStats(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	resp, _ := env.do(t, http.MethodPost, "/sendLocation", map[string]any{
		"tourist_id": tourist.ID,
		"latitude":   26.1,
		"longitude":  91.7,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/ai/data/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats dataStatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Tourists)
	assert.Equal(t, 1, stats.Locations)
	assert.Equal(t, 0, stats.Alerts)
	assert.EqualValues(t, 1, stats.Counters[tracker.CatLocations].Total)
}

func TestHeatmap(t *testing.T) {
	env := newTestEnv(t)
	tourist := env.registerTourist(t)

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, http.MethodPost, "/sendLocation", map[string]any{
			"tourist_id": tourist.ID,
			"latitude":   26.1445,
			"longitude":  91.7362,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/ai/data/heatmap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Resolution int           `json:"resolution"`
		Cells      []heatmapCell `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Cells, 1)
	assert.Equal(t, 3, out.Cells[0].Count)
	// All three fixes were assessed clean.
	assert.InDelta(t, 100.0, out.Cells[0].MeanScore, 0.001)
	assert.NotEmpty(t, out.Cells[0].Cell)
}

func TestBackpressure(t *testing.T) {
	// A zero-capacity handler sheds every request.
	h := NewTelemetryHandler(nil, tracker.New(), 0)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sendLocation", bytes.NewBufferString(`{}`))
	h.HandleSendLocation(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
