package training

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trailguard/pkg/config"
	"trailguard/pkg/db"
	"trailguard/pkg/detector"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *detector.Registry) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	s := store.NewSQLiteStore(d)
	reg := detector.NewRegistry()
	return New(s, reg, config.DefaultConfig()), s, reg
}

// seedWindow inserts a realistic walking trace for one tourist.
func seedWindow(t *testing.T, s store.Store, n int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateTourist(ctx, &model.Tourist{
		Name: "Walker", Contact: "c", EmergencyContact: "e", SafetyScore: 100,
	})
	if err != nil {
		t.Fatalf("CreateTourist failed: %v", err)
	}
	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < n; i++ {
		_, err := s.InsertLocation(ctx, &model.Location{
			TouristID:  id,
			Latitude:   26.10 + float64(i)*0.0011,
			Longitude:  91.70 + float64(i%3)*0.0002,
			RecordedAt: base.Add(time.Duration(i) * 3 * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertLocation failed: %v", err)
		}
	}
	return id
}

func TestCycleSkipsOnInsufficientData(t *testing.T) {
	sched, s, reg := newTestScheduler(t)
	seedWindow(t, s, 3) // below MinFitSamples

	sched.runCycle()

	if reg.PointVersion() != "" {
		t.Error("Point model installed despite insufficient data")
	}
	st := sched.Status()
	if st.LastError == "" {
		t.Error("Expected recorded failure reason")
	}
	if st.LastFit.IsZero() {
		t.Error("LastFit not recorded")
	}
	if !st.PointLastFit.IsZero() || !st.SequenceLastFit.IsZero() {
		t.Error("Failed fits must not stamp the per-detector times")
	}

	runs, _ := s.ListTrainingRuns(context.Background(), 10)
	if len(runs) != 2 {
		t.Fatalf("Training log rows = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.Outcome != "failed" {
			t.Errorf("Outcome = %s, want failed", r.Outcome)
		}
	}
}

func TestCycleTrainsAndInstallsModels(t *testing.T) {
	sched, s, reg := newTestScheduler(t)
	seedWindow(t, s, 120)

	sched.runCycle()

	if reg.PointVersion() == "" {
		t.Error("Point model not installed")
	}
	if reg.SequenceVersion() == "" {
		t.Error("Sequence model not installed")
	}
	st := sched.Status()
	if st.LastError != "" {
		t.Errorf("Unexpected error: %s", st.LastError)
	}
	if st.PointVersion != reg.PointVersion() {
		t.Error("Status version mismatch")
	}
	if st.PointLastFit.IsZero() || st.SequenceLastFit.IsZero() {
		t.Error("Per-detector fit times not recorded")
	}

	runs, _ := s.ListTrainingRuns(context.Background(), 10)
	if len(runs) != 2 {
		t.Fatalf("Training log rows = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.Outcome != "trained" || r.Version == "" {
			t.Errorf("Run: %+v", r)
		}
	}
}

func TestFailedRefitKeepsPreviousModel(t *testing.T) {
	sched, s, reg := newTestScheduler(t)
	touristID := seedWindow(t, s, 120)

	sched.runCycle()
	v1 := reg.PointVersion()
	if v1 == "" {
		t.Fatal("First cycle did not train")
	}
	stamp := sched.Status().PointLastFit

	// Deactivate the only tourist: the next window is empty.
	if err := s.DeactivateTourist(context.Background(), touristID); err != nil {
		t.Fatalf("DeactivateTourist failed: %v", err)
	}
	sched.runCycle()

	if reg.PointVersion() != v1 {
		t.Error("Failed refit replaced the previous model")
	}
	if sched.Status().LastError == "" {
		t.Error("Failure reason not recorded")
	}
	if !sched.Status().PointLastFit.Equal(stamp) {
		t.Error("Failed refit moved the point fit time")
	}
}

func TestForceIsIdempotentWhilePending(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	if !sched.Force() {
		t.Error("First force should be accepted")
	}
	if sched.Force() {
		t.Error("Second force should fold into the pending one")
	}
}

func TestStartHonorsCancellation(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Scheduler did not stop on cancellation")
	}
}
