package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trailguard/pkg/model"
)

func geofence(v model.GeofenceVerdict) model.GeofenceVerdict {
	v.Confidence = 1.0
	return v
}

func TestSOSShortCircuits(t *testing.T) {
	// Even a perfect context cannot outweigh SOS.
	res := Combine(
		geofence(model.GeofenceVerdict{InSafe: true, SafetyRating: 5}),
		model.PointScore{},
		model.SequenceScore{},
		model.FusionSideChannel{SOS: true, SafeDurationHours: 5},
	)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, model.SeverityCritical, res.Severity)
	if assert.Len(t, res.AlertsToRaise, 1) {
		assert.Equal(t, model.AlertSOS, res.AlertsToRaise[0].Kind)
		assert.Equal(t, model.AlertSevCritical, res.AlertsToRaise[0].Severity)
	}
}

func TestRestrictedZonePenalty(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{InRestricted: true, ZoneName: "Landslide Area", DangerLevel: 3}),
		model.PointScore{},
		model.SequenceScore{},
		model.FusionSideChannel{},
	)

	// 100 - 3*15 = 55
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, model.SeverityWarning, res.Severity)
	if assert.Len(t, res.AlertsToRaise, 1) {
		assert.Equal(t, model.AlertGeofence, res.AlertsToRaise[0].Kind)
		assert.Equal(t, model.AlertSevHigh, res.AlertsToRaise[0].Severity)
	}
}

func TestSafeZoneBonusClampsAt100(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{InSafe: true, SafetyRating: 5}),
		model.PointScore{},
		model.SequenceScore{},
		model.FusionSideChannel{},
	)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, model.SeveritySafe, res.Severity)
	assert.Empty(t, res.AlertsToRaise)
}

func TestLowRatedSafeZoneSubtracts(t *testing.T) {
	// Rating below 3 turns the bonus negative: 100 + (1-3)*5 = 90.
	res := Combine(
		geofence(model.GeofenceVerdict{InSafe: true, SafetyRating: 1}),
		model.PointScore{},
		model.SequenceScore{},
		model.FusionSideChannel{},
	)
	assert.Equal(t, 90, res.Score)
}

func TestPointAnomalyIgnoredWithoutConfidence(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{AnomalyScore: 0.9, IsAnomaly: true, Confidence: 0},
		model.SequenceScore{},
		model.FusionSideChannel{},
	)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.AlertsToRaise)
}

func TestPointAnomalyPenaltyAndAlert(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{AnomalyScore: 0.8, IsAnomaly: true, Confidence: 0.9},
		model.SequenceScore{},
		model.FusionSideChannel{},
	)
	// 100 - floor(0.8*25) = 80
	assert.Equal(t, 80, res.Score)
	if assert.Len(t, res.AlertsToRaise, 1) {
		assert.Equal(t, model.AlertAnomaly, res.AlertsToRaise[0].Kind)
		assert.Equal(t, model.AlertSevMedium, res.AlertsToRaise[0].Severity)
	}
}

func TestSequencePenaltyAndTemporalAlert(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{},
		model.SequenceScore{RiskScore: 0.75, PatternDeviation: 0.8, Confidence: 0.7},
		model.FusionSideChannel{},
	)
	// 100 - floor(0.75*20) = 85
	assert.Equal(t, 85, res.Score)
	if assert.Len(t, res.AlertsToRaise, 1) {
		assert.Equal(t, model.AlertTemporal, res.AlertsToRaise[0].Kind)
	}
}

func TestSequenceNoAlertAtModerateDeviation(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{},
		model.SequenceScore{RiskScore: 0.5, PatternDeviation: 0.6, Confidence: 0.7},
		model.FusionSideChannel{},
	)
	assert.Equal(t, 90, res.Score)
	assert.Empty(t, res.AlertsToRaise)
}

func TestSpeedBrackets(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		score int
	}{
		{"Under all brackets", 30, 100},
		{"Over 40", 45, 85},
		{"Over 60", 70, 75},
		{"Over 80 largest only", 120, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Combine(
				geofence(model.GeofenceVerdict{}),
				model.PointScore{},
				model.SequenceScore{},
				model.FusionSideChannel{SpeedKmh: tt.speed},
			)
			assert.Equal(t, tt.score, res.Score)
		})
	}
}

func TestSafeDurationBonusCapped(t *testing.T) {
	// 100 - 40 (speed) + min(20, 5*10) = 80
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{},
		model.SequenceScore{},
		model.FusionSideChannel{SpeedKmh: 100, SafeDurationHours: 5},
	)
	assert.Equal(t, 80, res.Score)
}

func TestScoreClampedAtZero(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{InRestricted: true, ZoneName: "X", DangerLevel: 5}),
		model.PointScore{AnomalyScore: 1.0, IsAnomaly: true, Confidence: 1},
		model.SequenceScore{RiskScore: 1.0, PatternDeviation: 1.0, Confidence: 1},
		model.FusionSideChannel{SpeedKmh: 100},
	)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, model.SeverityCritical, res.Severity)
}

func TestSeverityBands(t *testing.T) {
	assert.Equal(t, model.SeveritySafe, model.SeverityForScore(80))
	assert.Equal(t, model.SeverityWarning, model.SeverityForScore(79))
	assert.Equal(t, model.SeverityWarning, model.SeverityForScore(50))
	assert.Equal(t, model.SeverityCritical, model.SeverityForScore(49))
}

func TestConfidenceIsMeanOfDetectors(t *testing.T) {
	res := Combine(
		geofence(model.GeofenceVerdict{}),
		model.PointScore{Confidence: 0.5},
		model.SequenceScore{Confidence: 0.4},
		model.FusionSideChannel{},
	)
	assert.InDelta(t, (1.0+0.5+0.4)/3.0, res.Confidence, 1e-9)
}
