package detector

import (
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"trailguard/pkg/features"
	"trailguard/pkg/model"
)

// ErrInsufficientData is returned when a fit is attempted with fewer
// samples than the detector needs.
var ErrInsufficientData = errors.New("detector: insufficient training data")

const (
	forestTrees     = 100
	forestSubsample = 256
)

// IsolationForest is the point-anomaly detector: an ensemble of
// randomly built isolation trees. Shorter average path length means
// the sample is easier to isolate, hence more anomalous.
type IsolationForest struct {
	trees     []*isoNode
	subsample int
	threshold float64
	scaler    *Standardizer
	version   string
	samples   int
}

type isoNode struct {
	left, right *isoNode
	splitFeat   int
	splitVal    float64
	size        int
}

// FitIsolationForest trains a forest over the feature matrix. The RNG
// is seeded from a hash of the matrix, so the same window always
// produces the same trees. Requires at least minSamples rows.
func FitIsolationForest(matrix []features.Vector, contamination float64, minSamples int) (*IsolationForest, error) {
	if len(matrix) < minSamples {
		return nil, ErrInsufficientData
	}

	scaler := FitStandardizer(matrix)
	scaled := make([]features.Vector, len(matrix))
	for i, row := range matrix {
		scaled[i] = scaler.Apply(row)
	}

	rng := rand.New(rand.NewSource(matrixSeed(matrix)))

	psi := forestSubsample
	if psi > len(scaled) {
		psi = len(scaled)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	f := &IsolationForest{
		subsample: psi,
		scaler:    scaler,
		version:   uuid.NewString(),
		samples:   len(matrix),
	}
	for t := 0; t < forestTrees; t++ {
		sample := make([]features.Vector, psi)
		for i := range sample {
			sample[i] = scaled[rng.Intn(len(scaled))]
		}
		f.trees = append(f.trees, buildIsoTree(sample, 0, heightLimit, rng))
	}

	// Threshold at the contamination quantile of the training scores:
	// the top contamination fraction counts as anomalous.
	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = f.rawScore(row)
	}
	sort.Float64s(scores)
	f.threshold = stat.Quantile(1-contamination, stat.Empirical, scores, nil)

	return f, nil
}

func buildIsoTree(sample []features.Vector, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}

	feat := rng.Intn(features.FeatureCount)
	lo, hi := math.MaxFloat64, -math.MaxFloat64
	for _, row := range sample {
		if row[feat] < lo {
			lo = row[feat]
		}
		if row[feat] > hi {
			hi = row[feat]
		}
	}
	if lo == hi {
		return &isoNode{size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []features.Vector
	for _, row := range sample {
		if row[feat] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		splitFeat: feat,
		splitVal:  split,
		size:      len(sample),
		left:      buildIsoTree(left, depth+1, limit, rng),
		right:     buildIsoTree(right, depth+1, limit, rng),
	}
}

// pathLength walks the tree and returns the isolation depth, adjusted
// by the expected depth of an unbuilt subtree.
func (n *isoNode) pathLength(v features.Vector, depth float64) float64 {
	if n.left == nil {
		return depth + avgBSTDepth(n.size)
	}
	if v[n.splitFeat] < n.splitVal {
		return n.left.pathLength(v, depth+1)
	}
	return n.right.pathLength(v, depth+1)
}

// avgBSTDepth is c(n), the average path length of an unsuccessful BST
// search, used to normalize isolation depths.
func avgBSTDepth(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // Euler-Mascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// rawScore computes the anomaly score in [0,1] for an already
// standardized vector.
func (f *IsolationForest) rawScore(v features.Vector) float64 {
	var total float64
	for _, tree := range f.trees {
		total += tree.pathLength(v, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgBSTDepth(f.subsample))
}

// Score evaluates one feature vector against the trained forest.
func (f *IsolationForest) Score(v features.Vector) model.PointScore {
	scaled := f.scaler.Apply(v)
	score := model.ClampUnit(f.rawScore(scaled))
	return model.PointScore{
		AnomalyScore: score,
		IsAnomaly:    score >= f.threshold,
		Confidence:   f.confidence(),
		ModelVersion: f.version,
	}
}

// confidence grows with the training sample count and saturates at a
// few hundred samples.
func (f *IsolationForest) confidence() float64 {
	return model.ClampUnit(float64(f.samples) / 200.0 * 0.9)
}

// Version returns the opaque model version token.
func (f *IsolationForest) Version() string {
	return f.version
}

// SampleCount reports how many rows the forest was fitted on.
func (f *IsolationForest) SampleCount() int {
	return f.samples
}

// matrixSeed hashes the float bits of the matrix so identical training
// windows reproduce identical forests.
func matrixSeed(matrix []features.Vector) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, row := range matrix {
		for _, v := range row {
			bits := math.Float64bits(v)
			for i := 0; i < 8; i++ {
				buf[i] = byte(bits >> (8 * i))
			}
			h.Write(buf[:])
		}
	}
	return int64(h.Sum64())
}
