// Package fusion combines the three detector verdicts into one bounded
// safety score.
package fusion

import (
	"fmt"
	"math"

	"trailguard/pkg/model"
)

// Combine is a pure function: given the geofence verdict, the two
// anomaly scores and the side channel, it produces the fused score,
// severity band, recommendations and the alerts to raise.
//
// The score starts at 100. SOS short-circuits to 0/CRITICAL. All other
// adjustments are additive and clamping happens once at the end, so
// the result does not depend on application order.
func Combine(gf model.GeofenceVerdict, pt model.PointScore, seq model.SequenceScore, side model.FusionSideChannel) model.FusionResult {
	if side.SOS {
		return model.FusionResult{
			Score:           0,
			Severity:        model.SeverityCritical,
			Confidence:      confidence(gf, pt, seq),
			Recommendations: []string{"SOS active: emergency services dispatched, stay where you are"},
			AlertsToRaise: []model.AlertRequest{{
				Kind:     model.AlertSOS,
				Severity: model.AlertSevCritical,
				Message:  "SOS button pressed",
			}},
		}
	}

	score := 100.0
	var recs []string
	var alerts []model.AlertRequest

	switch {
	case gf.InRestricted:
		score -= float64(gf.DangerLevel * 15)
		recs = append(recs, fmt.Sprintf("Leave restricted zone %q immediately", gf.ZoneName))
		alerts = append(alerts, model.AlertRequest{
			Kind:     model.AlertGeofence,
			Severity: model.AlertSevHigh,
			Message:  fmt.Sprintf("Entered restricted zone %s (danger level %d)", gf.ZoneName, gf.DangerLevel),
		})
	case gf.InSafe:
		score += float64((gf.SafetyRating - 3) * 5)
	}

	if pt.Confidence > 0 {
		score -= math.Floor(pt.AnomalyScore * 25)
		if pt.IsAnomaly {
			recs = append(recs, "Unusual movement detected, check in with your group")
			alerts = append(alerts, model.AlertRequest{
				Kind:     model.AlertAnomaly,
				Severity: model.AlertSevMedium,
				Message:  fmt.Sprintf("Movement anomaly detected (score %.2f)", pt.AnomalyScore),
			})
		}
	}

	if seq.Confidence > 0 {
		score -= math.Floor(seq.RiskScore * 20)
		if seq.PatternDeviation > 0.7 {
			recs = append(recs, "Travel pattern deviates from your recent routine")
			alerts = append(alerts, model.AlertRequest{
				Kind:     model.AlertTemporal,
				Severity: model.AlertSevMedium,
				Message:  fmt.Sprintf("Temporal pattern deviation (risk %.2f)", seq.RiskScore),
			})
		}
	}

	// Speed side-penalty, largest matching bracket only.
	switch {
	case side.SpeedKmh > 80:
		score -= 40
		recs = append(recs, "Dangerous travel speed, slow down")
	case side.SpeedKmh > 60:
		score -= 25
		recs = append(recs, "High travel speed detected")
	case side.SpeedKmh > 40:
		score -= 15
	}

	if side.SafeDurationHours > 0 {
		bonus := side.SafeDurationHours * 10
		if bonus > 20 {
			bonus = 20
		}
		score += bonus
	}

	final := model.ClampScore(int(score))
	severity := model.SeverityForScore(final)
	if severity == model.SeveritySafe && len(recs) == 0 {
		recs = append(recs, "Conditions normal, enjoy your trip")
	}

	return model.FusionResult{
		Score:           final,
		Severity:        severity,
		Confidence:      confidence(gf, pt, seq),
		Recommendations: recs,
		AlertsToRaise:   alerts,
	}
}

// confidence averages the three detector confidences. The geofence
// classifier is rule-based and always contributes 1.0.
func confidence(gf model.GeofenceVerdict, pt model.PointScore, seq model.SequenceScore) float64 {
	return model.ClampUnit((gf.Confidence + pt.Confidence + seq.Confidence) / 3.0)
}
