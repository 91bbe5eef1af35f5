// Package training runs the continuous-learning loop that refits both
// anomaly detectors over a rolling location window.
package training

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trailguard/pkg/config"
	"trailguard/pkg/detector"
	"trailguard/pkg/features"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

// Scheduler is the single training loop. At most one fit cycle is in
// flight at once; Force requests fold into the running cycle.
type Scheduler struct {
	store    store.Store
	registry *detector.Registry
	cfg      config.TrainingConfig
	featCfg  config.FeaturesConfig

	extractor *features.Extractor

	running int32 // 1 while a fit cycle is in flight
	force   chan struct{}

	mu              sync.Mutex
	lastFit         time.Time
	nextFit         time.Time
	lastPointFit    time.Time
	lastSequenceFit time.Time
	lastError       string
}

// New creates the scheduler.
func New(st store.Store, reg *detector.Registry, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:     st,
		registry:  reg,
		cfg:       cfg.Training,
		featCfg:   cfg.Features,
		extractor: features.NewExtractor(&cfg.Features),
		force:     make(chan struct{}, 1),
	}
}

// Start runs the loop until ctx is cancelled. An in-flight fit is
// allowed to finish, bounded by the fit hard deadline.
func (s *Scheduler) Start(ctx context.Context) {
	period := time.Duration(s.cfg.Period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.mu.Lock()
	s.nextFit = time.Now().Add(period)
	s.mu.Unlock()

	slog.Info("training scheduler started", "period", period)

	for {
		select {
		case <-ctx.Done():
			slog.Info("training scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle()
		case <-s.force:
			s.runCycle()
		}
	}
}

// Force requests an immediate cycle. Idempotent while a cycle is
// already running or pending.
func (s *Scheduler) Force() bool {
	select {
	case s.force <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status is the scheduler state for the training status endpoint.
// LastFit marks the last completed cycle regardless of outcome; the
// per-detector stamps only move when that detector's model was
// actually installed.
type Status struct {
	IsTraining      bool      `json:"is_training"`
	LastFit         time.Time `json:"last_fit"`
	NextFit         time.Time `json:"next_fit"`
	LastError       string    `json:"last_error,omitempty"`
	PointVersion    string    `json:"point_model_version,omitempty"`
	PointLastFit    time.Time `json:"point_last_fit"`
	SequenceVersion string    `json:"sequence_model_version,omitempty"`
	SequenceLastFit time.Time `json:"sequence_last_fit"`
}

// Status reports the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsTraining:      atomic.LoadInt32(&s.running) == 1,
		LastFit:         s.lastFit,
		NextFit:         s.nextFit,
		LastError:       s.lastError,
		PointVersion:    s.registry.PointVersion(),
		PointLastFit:    s.lastPointFit,
		SequenceVersion: s.registry.SequenceVersion(),
		SequenceLastFit: s.lastSequenceFit,
	}
}

// runCycle fits both detectors over the rolling window. The fit work
// runs under the hard deadline; an overrunning fit is abandoned and
// its result discarded.
func (s *Scheduler) runCycle() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.FitDeadline))
	defer cancel()

	since := time.Now().Add(-time.Duration(s.cfg.Window))
	locations, err := s.store.AllLocationsSince(ctx, since)
	if err != nil {
		s.recordFailure("window fetch failed: " + err.Error())
		return
	}
	byTourist := s.activeByTourist(ctx, locations)

	var errMsg string
	if err := s.fitPoint(ctx, byTourist); err != nil {
		errMsg = "point: " + err.Error()
	}
	if err := s.fitSequence(ctx, byTourist); err != nil {
		if errMsg != "" {
			errMsg += "; "
		}
		errMsg += "sequence: " + err.Error()
	}

	s.mu.Lock()
	s.lastFit = time.Now()
	s.nextFit = s.lastFit.Add(time.Duration(s.cfg.Period))
	s.lastError = errMsg
	s.mu.Unlock()
}

func (s *Scheduler) recordFailure(msg string) {
	slog.Warn("training cycle failed", "error", msg)
	s.mu.Lock()
	s.lastError = msg
	s.nextFit = time.Now().Add(time.Duration(s.cfg.Period))
	s.mu.Unlock()
}

// activeByTourist groups the window by tourist, dropping deactivated
// tourists. Input is already ordered by (tourist, recorded_at).
func (s *Scheduler) activeByTourist(ctx context.Context, locations []*model.Location) map[int64][]*model.Location {
	out := make(map[int64][]*model.Location)
	activeCache := make(map[int64]bool)
	for _, loc := range locations {
		active, ok := activeCache[loc.TouristID]
		if !ok {
			t, err := s.store.GetTourist(ctx, loc.TouristID)
			active = err == nil && t.IsActive
			activeCache[loc.TouristID] = active
		}
		if active {
			out[loc.TouristID] = append(out[loc.TouristID], loc)
		}
	}
	return out
}

// fitPoint rebuilds the isolation forest from per-update feature
// vectors and swaps it in on success. Failure keeps the old model.
func (s *Scheduler) fitPoint(ctx context.Context, byTourist map[int64][]*model.Location) error {
	var matrix []features.Vector
	for _, locs := range byTourist {
		for i, loc := range locs {
			matrix = append(matrix, s.extractor.PointVector(loc, locs[:i], nil))
		}
	}

	start := time.Now()
	forest, err := fitWithDeadline(ctx, func() (*detector.IsolationForest, error) {
		return detector.FitIsolationForest(matrix, s.cfg.Contamination, s.cfg.MinFitSamples)
	})
	run := &model.TrainingRun{
		Detector:    "point",
		SampleCount: len(matrix),
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		run.Outcome = "failed"
		run.Error = err.Error()
		s.logRun(ctx, run)
		return err
	}

	s.registry.SwapPoint(forest)
	s.mu.Lock()
	s.lastPointFit = time.Now()
	s.mu.Unlock()
	run.Outcome = "trained"
	run.Version = forest.Version()
	s.logRun(ctx, run)
	slog.Info("point model trained", "samples", len(matrix), "version", forest.Version())
	return nil
}

// fitSequence chunks each tourist's window into fixed-length slices
// and refits the quantile thresholds.
func (s *Scheduler) fitSequence(ctx context.Context, byTourist map[int64][]*model.Location) error {
	seqLen := s.featCfg.SequenceLength
	var windows [][]*model.Location
	for _, locs := range byTourist {
		for i := 0; i < len(locs); i += seqLen {
			end := i + seqLen
			if end > len(locs) {
				end = len(locs)
			}
			windows = append(windows, locs[i:end])
		}
	}

	start := time.Now()
	seqModel, err := fitWithDeadline(ctx, func() (*detector.SequenceModel, error) {
		return detector.FitSequenceModel(windows, s.cfg.MinFitSamples, minSeqPoints,
			seqLen, float64(s.featCfg.InactivityRadius))
	})
	run := &model.TrainingRun{
		Detector:    "sequence",
		SampleCount: len(windows),
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		run.Outcome = "failed"
		run.Error = err.Error()
		s.logRun(ctx, run)
		return err
	}

	s.registry.SwapSequence(seqModel)
	s.mu.Lock()
	s.lastSequenceFit = time.Now()
	s.mu.Unlock()
	run.Outcome = "trained"
	run.Version = seqModel.Version()
	s.logRun(ctx, run)
	slog.Info("sequence model trained", "windows", len(windows), "version", seqModel.Version())
	return nil
}

// minSeqPoints is the minimum window size the sequence detector scores.
const minSeqPoints = 5

func (s *Scheduler) logRun(ctx context.Context, run *model.TrainingRun) {
	if _, err := s.store.InsertTrainingRun(ctx, run); err != nil {
		slog.Error("failed to log training run", "detector", run.Detector, "error", err)
	}
}

// fitWithDeadline runs fn and abandons the result if ctx expires
// first. The goroutine finishes on its own; the stale model is
// discarded, never installed.
func fitWithDeadline[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
