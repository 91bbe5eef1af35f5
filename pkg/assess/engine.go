// Package assess runs the per-update safety assessment pipeline:
// fetch context, extract features, score with the three detectors,
// fuse, persist and notify.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trailguard/pkg/config"
	"trailguard/pkg/detector"
	"trailguard/pkg/dispatch"
	"trailguard/pkg/features"
	"trailguard/pkg/fusion"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
	"trailguard/pkg/tracker"
	"trailguard/pkg/zones"
)

// ErrInactiveTourist rejects location updates for deactivated
// tourists. SOS is still honored.
var ErrInactiveTourist = errors.New("assess: tourist is deactivated")

// Engine orchestrates one assessment per accepted location update.
type Engine struct {
	store      store.Store
	zones      *zones.Index
	extractor  *features.Extractor
	registry   *detector.Registry
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker

	pointLookback time.Duration
	seqLookback   time.Duration
	seqLen        int
	historyLimit  int
	deadline      time.Duration

	// locks serializes assessments per tourist so their assessments
	// land in the store in acceptance order.
	locks sync.Map // int64 -> *sync.Mutex
}

// New creates the engine.
func New(st store.Store, zi *zones.Index, reg *detector.Registry, disp *dispatch.Dispatcher, tr *tracker.Tracker, cfg *config.Config) *Engine {
	return &Engine{
		store:         st,
		zones:         zi,
		extractor:     features.NewExtractor(&cfg.Features),
		registry:      reg,
		dispatcher:    disp,
		tracker:       tr,
		pointLookback: time.Duration(cfg.Features.PointLookback),
		seqLookback:   time.Duration(cfg.Features.SequenceLookback),
		seqLen:        cfg.Features.SequenceLength,
		historyLimit:  cfg.Assess.HistoryLimit,
		deadline:      time.Duration(cfg.Assess.DetectorDeadline),
	}
}

// Result is what one accepted location update produced.
type Result struct {
	LocationID     int64             `json:"location_id"`
	Assessment     *model.Assessment `json:"assessment"`
	AlertGenerated bool              `json:"alert_generated"`
	UpdatedScore   int               `json:"updated_safety_score"`
}

func (e *Engine) touristLock(id int64) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ProcessLocation ingests one fix and runs the full pipeline. The
// Location row is always preserved once inserted; any later stage
// failure produces a degraded fallback assessment instead of an error
// escaping to the caller.
func (e *Engine) ProcessLocation(ctx context.Context, loc *model.Location) (*Result, error) {
	t, err := e.store.GetTourist(ctx, loc.TouristID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrInactiveTourist
	}

	mu := e.touristLock(loc.TouristID)
	mu.Lock()
	defer mu.Unlock()

	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = time.Now().UTC()
	}
	locID, err := e.store.InsertLocation(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to insert location: %w", err)
	}
	loc.ID = locID
	e.tracker.Track(tracker.CatLocations)

	a, alertGenerated := e.assess(ctx, t, loc)

	return &Result{
		LocationID:     locID,
		Assessment:     a,
		AlertGenerated: alertGenerated,
		UpdatedScore:   a.SafetyScore,
	}, nil
}

// assess runs the stages after the location insert. It never returns
// an error; failures degrade.
func (e *Engine) assess(ctx context.Context, t *model.Tourist, loc *model.Location) (*model.Assessment, bool) {
	// FETCHED_CONTEXT
	history, err := e.store.LocationsSince(ctx, t.ID, loc.RecordedAt.Add(-e.pointLookback), e.historyLimit)
	if err != nil {
		return e.degrade(ctx, t, loc, "context"), false
	}
	history = dropCurrent(history, loc.ID)

	var seqWindow []*model.Location
	cutoff := loc.RecordedAt.Add(-e.seqLookback)
	for _, p := range history {
		if !p.RecordedAt.Before(cutoff) {
			seqWindow = append(seqWindow, p)
		}
	}
	seqWindow = append(seqWindow, loc)
	if len(seqWindow) > e.seqLen {
		seqWindow = seqWindow[len(seqWindow)-e.seqLen:]
	}

	// FEATURES
	vec := e.extractor.PointVector(loc, history, nil)

	// SCORED: the three detectors run concurrently; one missing its
	// soft deadline contributes confidence 0.
	var gf model.GeofenceVerdict
	var pt model.PointScore
	var seq model.SequenceScore

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if v, ok := runDetector(e.deadline, func() model.GeofenceVerdict {
			return e.zones.Classify(loc.Latitude, loc.Longitude)
		}); ok {
			gf = v
		}
	}()
	go func() {
		defer wg.Done()
		if v, ok := runDetector(e.deadline, func() model.PointScore {
			return e.registry.ScorePoint(vec)
		}); ok {
			pt = v
		}
	}()
	go func() {
		defer wg.Done()
		if v, ok := runDetector(e.deadline, func() model.SequenceScore {
			return e.registry.ScoreSequence(seqWindow)
		}); ok {
			seq = v
		}
	}()
	wg.Wait()

	side := model.FusionSideChannel{
		SpeedKmh:          vec[features.FeatSpeed],
		SafeDurationHours: e.safeDuration(loc, history),
	}
	res := fusion.Combine(gf, pt, seq, side)

	a := &model.Assessment{
		TouristID:            t.ID,
		LocationID:           loc.ID,
		SafetyScore:          res.Score,
		Severity:             res.Severity,
		GeofenceAlert:        gf.InRestricted,
		ZoneName:             gf.ZoneName,
		AnomalyScore:         pt.AnomalyScore,
		TemporalRisk:         seq.RiskScore,
		Confidence:           res.Confidence,
		Recommendations:      res.Recommendations,
		PointModelVersion:    pt.ModelVersion,
		SequenceModelVersion: seq.ModelVersion,
	}

	// PERSISTED: assessment first, then the tourist score. The tourist
	// row may lag its latest assessment by one update between the two
	// writes; readers treating it as a cache must tolerate that.
	id, err := e.store.InsertAssessment(ctx, a)
	if err != nil {
		return e.degrade(ctx, t, loc, "persist"), false
	}
	a.ID = id
	a.CreatedAt = time.Now().UTC()
	e.tracker.Track(tracker.CatAssessments)

	if err := e.store.UpdateTouristScore(ctx, t.ID, res.Score); err != nil {
		slog.Error("failed to update tourist score", "tourist", t.ID, "error", err)
	}

	// NOTIFIED
	alertGenerated := false
	for _, req := range res.AlertsToRaise {
		raised, _, err := e.dispatcher.Raise(ctx, t.ID, req, loc.Latitude, loc.Longitude, true)
		if err != nil {
			slog.Error("failed to raise alert", "tourist", t.ID, "kind", req.Kind, "error", err)
			continue
		}
		if raised != nil {
			alertGenerated = true
			e.tracker.Track(tracker.CatAlerts)
		}
	}
	if res.Severity == model.SeverityCritical && len(res.AlertsToRaise) == 0 {
		raised, _, err := e.dispatcher.Raise(ctx, t.ID, model.AlertRequest{
			Kind:     model.AlertLowScore,
			Severity: model.AlertSevMedium,
			Message:  fmt.Sprintf("Safety score dropped to %d", res.Score),
		}, loc.Latitude, loc.Longitude, true)
		if err == nil && raised != nil {
			alertGenerated = true
			e.tracker.Track(tracker.CatAlerts)
		}
	}

	return a, alertGenerated
}

// degrade writes the fallback assessment so downstream consumers see
// an outcome even when a stage failed. The tourist score is left
// untouched.
func (e *Engine) degrade(ctx context.Context, t *model.Tourist, loc *model.Location, stage string) *model.Assessment {
	slog.Warn("assessment degraded", "tourist", t.ID, "stage", stage)
	e.tracker.Track(tracker.CatDegraded)

	// Severity is pinned to WARNING, so the carried-over tourist score
	// must be clamped into the WARNING interval before it is persisted.
	score := min(max(t.SafetyScore, 50), 79)

	a := &model.Assessment{
		TouristID:       t.ID,
		LocationID:      loc.ID,
		SafetyScore:     score,
		Severity:        model.SeverityWarning,
		Confidence:      0,
		Recommendations: []string{"degraded: " + stage},
		Degraded:        true,
	}
	id, err := e.store.InsertAssessment(ctx, a)
	if err != nil {
		slog.Error("failed to persist fallback assessment", "tourist", t.ID, "error", err)
		return a
	}
	a.ID = id
	a.CreatedAt = time.Now().UTC()
	return a
}

// safeDuration walks the history backwards and reports how long the
// tourist has stayed continuously inside safe zones, in hours.
func (e *Engine) safeDuration(loc *model.Location, history []*model.Location) float64 {
	if v := e.zones.Classify(loc.Latitude, loc.Longitude); !v.InSafe {
		return 0
	}
	start := loc.RecordedAt
	for i := len(history) - 1; i >= 0; i-- {
		p := history[i]
		if v := e.zones.Classify(p.Latitude, p.Longitude); !v.InSafe {
			break
		}
		start = p.RecordedAt
	}
	return loc.RecordedAt.Sub(start).Hours()
}

// PressSOS records the fix, runs the SOS side channel through the
// fusion scorer (the sole safety-score writer) and raises the
// CRITICAL SOS alert. Returns the alert and whether the emergency
// webhook accepted the notification.
func (e *Engine) PressSOS(ctx context.Context, touristID int64, lat, lon float64, message string) (*model.Alert, bool, error) {
	t, err := e.store.GetTourist(ctx, touristID)
	if err != nil {
		return nil, false, err
	}

	mu := e.touristLock(touristID)
	mu.Lock()
	defer mu.Unlock()

	// The SOS press is itself a position report.
	loc := &model.Location{
		TouristID:  touristID,
		Latitude:   lat,
		Longitude:  lon,
		RecordedAt: time.Now().UTC(),
	}
	locID, err := e.store.InsertLocation(ctx, loc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record SOS location: %w", err)
	}
	loc.ID = locID
	e.tracker.Track(tracker.CatLocations)

	gf := e.zones.Classify(lat, lon)
	res := fusion.Combine(gf, model.PointScore{}, model.SequenceScore{},
		model.FusionSideChannel{SOS: true})

	a := &model.Assessment{
		TouristID:       t.ID,
		LocationID:      locID,
		SafetyScore:     res.Score,
		Severity:        res.Severity,
		GeofenceAlert:   gf.InRestricted,
		ZoneName:        gf.ZoneName,
		Confidence:      res.Confidence,
		Recommendations: res.Recommendations,
	}
	if id, err := e.store.InsertAssessment(ctx, a); err == nil {
		a.ID = id
		e.tracker.Track(tracker.CatAssessments)
	} else {
		slog.Error("failed to persist SOS assessment", "tourist", t.ID, "error", err)
	}

	if message == "" {
		message = "SOS button pressed"
	}
	alert, notified, err := e.dispatcher.Raise(ctx, touristID, model.AlertRequest{
		Kind:     model.AlertSOS,
		Severity: model.AlertSevCritical,
		Message:  message,
	}, lat, lon, false)
	if err != nil {
		return nil, false, err
	}
	if alert != nil {
		e.tracker.Track(tracker.CatAlerts)
	}

	if err := e.store.UpdateTouristScore(ctx, touristID, res.Score); err != nil {
		slog.Error("failed to update tourist score on SOS", "tourist", touristID, "error", err)
	}
	return alert, notified, nil
}

// dropCurrent removes the just-inserted fix from the history window.
func dropCurrent(history []*model.Location, id int64) []*model.Location {
	out := history[:0]
	for _, p := range history {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// runDetector calls fn with a soft deadline and panic isolation. A
// detector that panics or overruns contributes nothing.
func runDetector[T any](deadline time.Duration, fn func() T) (T, bool) {
	var zero T
	done := make(chan T, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("detector panicked", "panic", r)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case v := <-done:
		return v, true
	case <-timer.C:
		return zero, false
	}
}
