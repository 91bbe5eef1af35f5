package detector

import (
	"gonum.org/v1/gonum/stat"

	"trailguard/pkg/features"
)

// Standardizer stores per-feature mean and standard deviation from a
// training matrix and applies the same scaling at score time.
type Standardizer struct {
	Mean []float64
	Std  []float64
}

// FitStandardizer computes per-column statistics over the matrix.
// Columns with zero variance get Std 1 so they pass through centered.
func FitStandardizer(matrix []features.Vector) *Standardizer {
	s := &Standardizer{
		Mean: make([]float64, features.FeatureCount),
		Std:  make([]float64, features.FeatureCount),
	}
	col := make([]float64, len(matrix))
	for j := 0; j < features.FeatureCount; j++ {
		for i, row := range matrix {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || std != std {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s
}

// Apply returns the standardized copy of v.
func (s *Standardizer) Apply(v features.Vector) features.Vector {
	out := make(features.Vector, len(v))
	for j := range v {
		out[j] = (v[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}
