package detector

import (
	"sync/atomic"

	"trailguard/pkg/features"
	"trailguard/pkg/model"
)

// Registry holds the live model handles. Scoring reads whatever model
// is installed at call time; retraining swaps handles atomically so a
// score never sees a half-updated model.
type Registry struct {
	point    atomic.Pointer[IsolationForest]
	sequence atomic.Pointer[SequenceModel]
}

// NewRegistry returns a registry with no trained models. Scores return
// the untrained defaults until the first successful fit.
func NewRegistry() *Registry {
	return &Registry{}
}

// ScorePoint evaluates a feature vector against the current point
// model. Untrained: {0, false, 0}.
func (r *Registry) ScorePoint(v features.Vector) model.PointScore {
	f := r.point.Load()
	if f == nil {
		return model.PointScore{}
	}
	return f.Score(v)
}

// ScoreSequence evaluates a per-tourist window against the current
// sequence model. Untrained: zero value with confidence 0.
func (r *Registry) ScoreSequence(window []*model.Location) model.SequenceScore {
	m := r.sequence.Load()
	if m == nil {
		return model.SequenceScore{}
	}
	return m.Score(window)
}

// SwapPoint installs a freshly trained point model.
func (r *Registry) SwapPoint(f *IsolationForest) {
	r.point.Store(f)
}

// SwapSequence installs a freshly trained sequence model.
func (r *Registry) SwapSequence(m *SequenceModel) {
	r.sequence.Store(m)
}

// PointVersion returns the live point model version, empty when
// untrained.
func (r *Registry) PointVersion() string {
	if f := r.point.Load(); f != nil {
		return f.Version()
	}
	return ""
}

// SequenceVersion returns the live sequence model version, empty when
// untrained.
func (r *Registry) SequenceVersion() string {
	if m := r.sequence.Load(); m != nil {
		return m.Version()
	}
	return ""
}
