package model

import "time"

// Severity is the safety band of an assessment score.
type Severity string

const (
	SeveritySafe     Severity = "SAFE"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityForScore maps a clamped safety score to its band.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 80:
		return SeveritySafe
	case score >= 50:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// AlertKind identifies the origin of an alert.
type AlertKind string

const (
	AlertPanic    AlertKind = "PANIC"
	AlertSOS      AlertKind = "SOS"
	AlertGeofence AlertKind = "GEOFENCE"
	AlertAnomaly  AlertKind = "ANOMALY"
	AlertTemporal AlertKind = "TEMPORAL"
	AlertLowScore AlertKind = "LOW_SCORE"
	AlertManual   AlertKind = "MANUAL"
)

// AlertSeverity grades an alert independently of the assessment band.
type AlertSeverity string

const (
	AlertSevLow      AlertSeverity = "LOW"
	AlertSevMedium   AlertSeverity = "MEDIUM"
	AlertSevHigh     AlertSeverity = "HIGH"
	AlertSevCritical AlertSeverity = "CRITICAL"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
	AlertFalseAlarm   AlertStatus = "FALSE_ALARM"
)

// Tourist is a registered device owner. Never hard-deleted; deactivated
// via IsActive.
type Tourist struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Contact          string    `json:"contact"`
	EmergencyContact string    `json:"emergency_contact"`
	Age              int       `json:"age,omitempty"`
	Nationality      string    `json:"nationality,omitempty"`
	PassportNumber   string    `json:"passport_number,omitempty"`
	SafetyScore      int       `json:"safety_score"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Location is one ingested GPS fix. Immutable once written.
type Location struct {
	ID        int64   `json:"id"`
	TouristID int64   `json:"tourist_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Heading   float64 `json:"heading,omitempty"`
	// RecordedAt is the device event time; CreatedAt the insert time.
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Assessment is the persisted verdict for one Location. Immutable.
type Assessment struct {
	ID          int64    `json:"id"`
	TouristID   int64    `json:"tourist_id"`
	LocationID  int64    `json:"location_id"`
	SafetyScore int      `json:"safety_score"`
	Severity    Severity `json:"severity"`

	GeofenceAlert bool    `json:"geofence_alert"`
	ZoneName      string  `json:"zone_name,omitempty"`
	AnomalyScore  float64 `json:"anomaly_score"`
	TemporalRisk  float64 `json:"temporal_risk"`
	Confidence    float64 `json:"confidence"`

	Recommendations []string `json:"recommendations"`

	PointModelVersion    string `json:"point_model_version,omitempty"`
	SequenceModelVersion string `json:"sequence_model_version,omitempty"`

	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is a raised safety event. Mutable only through status
// transitions.
type Alert struct {
	ID            int64         `json:"id"`
	TouristID     int64         `json:"tourist_id"`
	Kind          AlertKind     `json:"kind"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
	Description   string        `json:"description,omitempty"`
	Latitude      float64       `json:"latitude,omitempty"`
	Longitude     float64       `json:"longitude,omitempty"`
	Status        AlertStatus   `json:"status"`
	AutoGenerated bool          `json:"auto_generated"`

	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ZoneKind distinguishes the two zone tables.
type ZoneKind string

const (
	ZoneRestricted ZoneKind = "restricted"
	ZoneSafe       ZoneKind = "safe"
)

// Zone is a named polygon. Restricted zones carry DangerLevel, safe
// zones SafetyRating; the other field is zero.
type Zone struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Kind ZoneKind `json:"kind"`
	// Ring is the ordered polygon boundary as (lon, lat) pairs.
	Ring         [][2]float64 `json:"ring"`
	DangerLevel  int          `json:"danger_level,omitempty"`
	SafetyRating int          `json:"safety_rating,omitempty"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TrainingRun is one row of the model training log.
type TrainingRun struct {
	ID          int64     `json:"id"`
	Detector    string    `json:"detector"`
	Version     string    `json:"version"`
	SampleCount int       `json:"sample_count"`
	DurationMS  int64     `json:"duration_ms"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ClampScore bounds a safety score to [0, 100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClampUnit bounds a fraction to [0, 1]. NaN collapses to 0.
func ClampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
