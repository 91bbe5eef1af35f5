package detector

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"trailguard/pkg/features"
	"trailguard/pkg/geo"
	"trailguard/pkg/model"
)

// Sequence risk contributions. They sum to 1.0 so a window tripping
// every check saturates the risk score.
const (
	riskMovementVariance = 0.30
	riskTimeIrregularity = 0.25
	riskNightTravel      = 0.20
	riskLongInactivity   = 0.25

	// inactivityRiskMinutes is the stationary span past which a window
	// contributes inactivity risk.
	inactivityRiskMinutes = 120
)

// windowStats are the per-window statistics the sequence detector
// compares against its fitted thresholds.
type windowStats struct {
	SpeedVariance float64
	GapVariance   float64
	MeanSpeed     float64
	NightFraction float64
	Inactivity    float64
}

// SequenceModel holds the fitted per-population quantile thresholds.
type SequenceModel struct {
	// High and low thresholds at the 90th/10th percentiles of the
	// training windows.
	SpeedVarHigh float64
	GapVarHigh   float64
	SpeedHigh    float64
	SpeedLow     float64

	version   string
	samples   int
	minPoints int
	seqLen    int
	radius    float64
}

// FitSequenceModel derives quantile thresholds from the training
// windows, one window per tourist slice. Requires at least minSamples
// usable windows.
func FitSequenceModel(windows [][]*model.Location, minSamples, minPoints, seqLen int, inactivityRadius float64) (*SequenceModel, error) {
	var speedVars, gapVars, speeds []float64
	for _, w := range windows {
		if len(w) < minPoints {
			continue
		}
		s := computeWindowStats(w, inactivityRadius)
		speedVars = append(speedVars, s.SpeedVariance)
		gapVars = append(gapVars, s.GapVariance)
		speeds = append(speeds, s.MeanSpeed)
	}
	if len(speedVars) < minSamples {
		return nil, ErrInsufficientData
	}

	sort.Float64s(speedVars)
	sort.Float64s(gapVars)
	sort.Float64s(speeds)

	return &SequenceModel{
		SpeedVarHigh: stat.Quantile(0.9, stat.Empirical, speedVars, nil),
		GapVarHigh:   stat.Quantile(0.9, stat.Empirical, gapVars, nil),
		SpeedHigh:    stat.Quantile(0.9, stat.Empirical, speeds, nil),
		SpeedLow:     stat.Quantile(0.1, stat.Empirical, speeds, nil),
		version:      uuid.NewString(),
		samples:      len(speedVars),
		minPoints:    minPoints,
		seqLen:       seqLen,
		radius:       inactivityRadius,
	}, nil
}

// Score evaluates the recent per-tourist window against the fitted
// thresholds. Windows shorter than the minimum return confidence 0.
func (m *SequenceModel) Score(window []*model.Location) model.SequenceScore {
	if len(window) < m.minPoints {
		return model.SequenceScore{}
	}
	s := computeWindowStats(window, m.radius)

	var risk, deviation float64

	if s.SpeedVariance > m.SpeedVarHigh {
		risk += riskMovementVariance
		deviation = math.Max(deviation, excess(s.SpeedVariance, m.SpeedVarHigh))
	}
	if s.GapVariance > m.GapVarHigh {
		risk += riskTimeIrregularity
		deviation = math.Max(deviation, excess(s.GapVariance, m.GapVarHigh))
	}
	if s.NightFraction > 0.5 {
		risk += riskNightTravel * s.NightFraction
		deviation = math.Max(deviation, s.NightFraction)
	}
	if s.Inactivity > inactivityRiskMinutes {
		risk += riskLongInactivity
		deviation = math.Max(deviation, excess(s.Inactivity, inactivityRiskMinutes))
	}

	// Fuller windows give more trustworthy statistics.
	conf := model.ClampUnit(float64(len(window)) / float64(m.seqLen))

	return model.SequenceScore{
		RiskScore:        model.ClampUnit(risk),
		PatternDeviation: model.ClampUnit(deviation),
		Confidence:       conf,
		ModelVersion:     m.version,
	}
}

// excess maps how far a value sits past its threshold into (0,1].
func excess(value, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return model.ClampUnit((value - threshold) / threshold)
}

func computeWindowStats(window []*model.Location, inactivityRadius float64) windowStats {
	var s windowStats

	speeds := segmentSpeeds(window)
	if len(speeds) >= 2 {
		s.SpeedVariance = stat.Variance(speeds, nil)
		s.MeanSpeed = stat.Mean(speeds, nil)
	} else if len(speeds) == 1 {
		s.MeanSpeed = speeds[0]
	}

	gaps := features.TimeGaps(window)
	if len(gaps) >= 2 {
		s.GapVariance = stat.Variance(gaps, nil)
	}

	s.NightFraction = features.NightFraction(window)
	s.Inactivity = features.InactivitySpan(window, inactivityRadius)
	return s
}

func segmentSpeeds(window []*model.Location) []float64 {
	if len(window) < 2 {
		return nil
	}
	out := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		a, b := window[i-1], window[i]
		d := geo.Distance(
			geo.Point{Lat: a.Latitude, Lon: a.Longitude},
			geo.Point{Lat: b.Latitude, Lon: b.Longitude})
		out = append(out, geo.SpeedKmh(d, b.RecordedAt.Sub(a.RecordedAt).Seconds()))
	}
	return out
}

// Version returns the opaque model version token.
func (m *SequenceModel) Version() string {
	return m.version
}

// SampleCount reports how many windows the thresholds were fitted on.
func (m *SequenceModel) SampleCount() int {
	return m.samples
}
