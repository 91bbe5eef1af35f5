package model

// GeofenceVerdict is the rule-based zone classification for one fix.
// Confidence is always 1.0 when a zone snapshot was consulted.
type GeofenceVerdict struct {
	InRestricted bool    `json:"in_restricted"`
	InSafe       bool    `json:"in_safe"`
	ZoneName     string  `json:"zone_name,omitempty"`
	DangerLevel  int     `json:"danger_level,omitempty"`
	SafetyRating int     `json:"safety_rating,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// PointScore is the point-anomaly detector output for one feature
// vector. Confidence 0 means the detector was unavailable or untrained
// and the score must be ignored.
type PointScore struct {
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomaly    bool    `json:"is_anomaly"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// SequenceScore is the sequence-anomaly detector output for one
// per-tourist window.
type SequenceScore struct {
	RiskScore        float64 `json:"risk_score"`
	PatternDeviation float64 `json:"pattern_deviation"`
	Confidence       float64 `json:"confidence"`
	ModelVersion     string  `json:"model_version,omitempty"`
}

// AlertRequest describes an alert the fusion scorer wants raised for
// an assessment.
type AlertRequest struct {
	Kind     AlertKind
	Severity AlertSeverity
	Message  string
}

// FusionSideChannel carries out-of-band risk context into the fusion
// scorer. The zero value is "no extra context".
type FusionSideChannel struct {
	SOS               bool
	SafeDurationHours float64
	SpeedKmh          float64
}

// HeatPoint is one fix joined with its assessment score for heatmap
// aggregation. Score is -1 when the fix has no assessment.
type HeatPoint struct {
	Latitude  float64
	Longitude float64
	Score     int
}

// FusionResult is the deterministic combination of the three detector
// outputs into one bounded decision.
type FusionResult struct {
	Score           int
	Severity        Severity
	Confidence      float64
	Recommendations []string
	AlertsToRaise   []AlertRequest
}
