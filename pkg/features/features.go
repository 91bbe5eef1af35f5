// Package features derives the per-update feature vectors that feed
// both anomaly detectors.
package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"trailguard/pkg/config"
	"trailguard/pkg/geo"
	"trailguard/pkg/model"
)

// Feature vector layout. Order is part of the model contract: vectors
// produced at score time must match the layout used at fit time.
const (
	FeatDistancePerMinute = iota
	FeatInactivityMinutes
	FeatSpeed
	FeatSpeedVariance
	FeatLocationDensity
	FeatTimeOfDayRisk
	FeatMovementConsistency
	FeatRouteDeviation

	FeatureCount
)

// Vector is one point-feature vector of FeatureCount elements.
type Vector []float64

// Extractor computes feature vectors from a fix plus its history.
type Extractor struct {
	inactivityRadius float64
	consistencyScale float64
}

// NewExtractor creates an extractor from feature configuration.
func NewExtractor(cfg *config.FeaturesConfig) *Extractor {
	return &Extractor{
		inactivityRadius: float64(cfg.InactivityRadius),
		consistencyScale: cfg.ConsistencyScale,
	}
}

// PointVector derives the feature vector for cur given the tourist's
// prior fixes in the look-back window, oldest first. route is the
// planned polyline, may be empty.
func (e *Extractor) PointVector(cur *model.Location, history []*model.Location, route []geo.Point) Vector {
	v := make(Vector, FeatureCount)
	curPt := geo.Point{Lat: cur.Latitude, Lon: cur.Longitude}

	if n := len(history); n > 0 {
		prev := history[n-1]
		dist := geo.Distance(geo.Point{Lat: prev.Latitude, Lon: prev.Longitude}, curPt)
		elapsed := cur.RecordedAt.Sub(prev.RecordedAt).Minutes()
		if elapsed > 0 {
			v[FeatDistancePerMinute] = dist / elapsed
		}
	}

	v[FeatInactivityMinutes] = e.inactivityMinutes(cur, history)
	v[FeatSpeed] = e.effectiveSpeed(cur, history)
	window := make([]*model.Location, 0, len(history)+1)
	window = append(window, history...)
	window = append(window, cur)
	v[FeatSpeedVariance] = segmentSpeedVariance(window)
	v[FeatLocationDensity] = locationDensity(history, cur)
	v[FeatTimeOfDayRisk] = float64(cur.RecordedAt.Hour()) / 24.0
	v[FeatMovementConsistency] = 1.0 - math.Min(1.0, v[FeatSpeedVariance]/e.consistencyScale)
	if len(route) > 0 {
		v[FeatRouteDeviation] = geo.DistanceToPath(curPt, route)
	}

	for i := range v {
		v[i] = sanitize(v[i])
	}
	return v
}

// inactivityMinutes walks the history backwards, accumulating how long
// the tourist has stayed within the inactivity radius of the current
// fix. The walk stops at the first fix outside the radius.
func (e *Extractor) inactivityMinutes(cur *model.Location, history []*model.Location) float64 {
	curPt := geo.Point{Lat: cur.Latitude, Lon: cur.Longitude}
	var minutes float64
	for i := len(history) - 1; i >= 0; i-- {
		p := history[i]
		d := geo.Distance(geo.Point{Lat: p.Latitude, Lon: p.Longitude}, curPt)
		if d >= e.inactivityRadius {
			break
		}
		minutes = cur.RecordedAt.Sub(p.RecordedAt).Minutes()
	}
	if minutes < 0 {
		return 0
	}
	return minutes
}

// effectiveSpeed prefers the reported speed and falls back to the
// last-segment speed in km/h.
func (e *Extractor) effectiveSpeed(cur *model.Location, history []*model.Location) float64 {
	if cur.Speed > 0 {
		return cur.Speed
	}
	n := len(history)
	if n == 0 {
		return 0
	}
	prev := history[n-1]
	dist := geo.Distance(geo.Point{Lat: prev.Latitude, Lon: prev.Longitude},
		geo.Point{Lat: cur.Latitude, Lon: cur.Longitude})
	return geo.SpeedKmh(dist, cur.RecordedAt.Sub(prev.RecordedAt).Seconds())
}

// segmentSpeedVariance computes the sample variance of consecutive
// segment speeds (km/h) across the window.
func segmentSpeedVariance(points []*model.Location) float64 {
	if len(points) < 3 {
		return 0
	}
	speeds := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		dist := geo.Distance(
			geo.Point{Lat: a.Latitude, Lon: a.Longitude},
			geo.Point{Lat: b.Latitude, Lon: b.Longitude})
		speeds = append(speeds, geo.SpeedKmh(dist, b.RecordedAt.Sub(a.RecordedAt).Seconds()))
	}
	if len(speeds) < 2 {
		return 0
	}
	return stat.Variance(speeds, nil)
}

// locationDensity counts unique positions rounded to 3 decimals
// (about 110 m) across the window including the current fix.
func locationDensity(history []*model.Location, cur *model.Location) float64 {
	seen := make(map[[2]int64]struct{}, len(history)+1)
	add := func(lat, lon float64) {
		seen[[2]int64{int64(math.Round(lat * 1000)), int64(math.Round(lon * 1000))}] = struct{}{}
	}
	for _, p := range history {
		add(p.Latitude, p.Longitude)
	}
	add(cur.Latitude, cur.Longitude)
	return float64(len(seen))
}

// SequenceWindow returns the fixed-length tail of length l from vecs,
// left-padded with zero vectors when history is short.
func SequenceWindow(vecs []Vector, l int) []Vector {
	out := make([]Vector, l)
	pad := l - len(vecs)
	if pad < 0 {
		vecs = vecs[len(vecs)-l:]
		pad = 0
	}
	for i := 0; i < pad; i++ {
		out[i] = make(Vector, FeatureCount)
	}
	copy(out[pad:], vecs)
	return out
}

// NightFraction reports the share of fixes recorded between 22:00 and
// 05:59 local server time.
func NightFraction(points []*model.Location) float64 {
	if len(points) == 0 {
		return 0
	}
	night := 0
	for _, p := range points {
		h := p.RecordedAt.Hour()
		if h >= 22 || h < 6 {
			night++
		}
	}
	return float64(night) / float64(len(points))
}

// TimeGaps returns the elapsed minutes between consecutive fixes.
func TimeGaps(points []*model.Location) []float64 {
	if len(points) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		gaps = append(gaps, points[i].RecordedAt.Sub(points[i-1].RecordedAt).Minutes())
	}
	return gaps
}

// InactivitySpan returns the longest span in minutes the tourist spent
// within radius meters of a single anchor fix.
func InactivitySpan(points []*model.Location, radius float64) float64 {
	if len(points) < 2 {
		return 0
	}
	var longest float64
	anchor := points[0]
	anchorPt := geo.Point{Lat: anchor.Latitude, Lon: anchor.Longitude}
	for _, p := range points[1:] {
		d := geo.Distance(anchorPt, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
		if d < radius {
			span := p.RecordedAt.Sub(anchor.RecordedAt).Minutes()
			if span > longest {
				longest = span
			}
			continue
		}
		anchor = p
		anchorPt = geo.Point{Lat: anchor.Latitude, Lon: anchor.Longitude}
	}
	return longest
}

// sanitize collapses NaN to 0 and clamps infinities to a large finite
// magnitude.
func sanitize(v float64) float64 {
	const limit = 1e9
	switch {
	case math.IsNaN(v):
		return 0
	case v > limit:
		return limit
	case v < -limit:
		return -limit
	}
	return v
}
