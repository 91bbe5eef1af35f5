package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trailguard/pkg/db"
	"trailguard/pkg/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	TouristStore
	LocationStore
	AssessmentStore
	AlertStore
	ZoneStore
	TrainingLogStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tourists ---

func (s *SQLiteStore) CreateTourist(ctx context.Context, t *model.Tourist) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tourists (name, contact, emergency_contact, age, nationality, passport_number, safety_score, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.Name, t.Contact, t.EmergencyContact, t.Age, t.Nationality, t.PassportNumber, t.SafetyScore, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tourist: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetTourist(ctx context.Context, id int64) (*model.Tourist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, contact, emergency_contact, age, nationality, passport_number, safety_score, is_active, created_at, updated_at
		 FROM tourists WHERE id = ?`, id)
	return scanTourist(row)
}

func (s *SQLiteStore) ListTourists(ctx context.Context, activeOnly bool, limit, offset int) ([]*model.Tourist, error) {
	query := `SELECT id, name, contact, emergency_contact, age, nationality, passport_number, safety_score, is_active, created_at, updated_at
			  FROM tourists`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Tourist
	for rows.Next() {
		t, err := scanTourist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTouristScore(ctx context.Context, id int64, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tourists SET safety_score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s *SQLiteStore) CountTourists(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM tourists`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DeactivateTourist(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tourists SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTourist(row rowScanner) (*model.Tourist, error) {
	var t model.Tourist
	err := row.Scan(
		&t.ID, &t.Name, &t.Contact, &t.EmergencyContact,
		&t.Age, &t.Nationality, &t.PassportNumber,
		&t.SafetyScore, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Locations ---

func (s *SQLiteStore) InsertLocation(ctx context.Context, loc *model.Location) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (tourist_id, lat, lon, altitude, accuracy, speed, heading, recorded_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.TouristID, loc.Latitude, loc.Longitude, loc.Altitude, loc.Accuracy,
		loc.Speed, loc.Heading, loc.RecordedAt.UTC(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert location: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestLocation(ctx context.Context, touristID int64) (*model.Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tourist_id, lat, lon, altitude, accuracy, speed, heading, recorded_at, created_at
		 FROM locations WHERE tourist_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`, touristID)
	return scanLocation(row)
}

func (s *SQLiteStore) LocationsSince(ctx context.Context, touristID int64, since time.Time, limit int) ([]*model.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tourist_id, lat, lon, altitude, accuracy, speed, heading, recorded_at, created_at
		 FROM locations WHERE tourist_id = ? AND recorded_at >= ?
		 ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		touristID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectLocations(rows)
	if err != nil {
		return nil, err
	}
	// The cap trims the old end of the window; flip back to oldest
	// first for the caller.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) RecentLocations(ctx context.Context, touristID int64, limit int) ([]*model.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tourist_id, lat, lon, altitude, accuracy, speed, heading, recorded_at, created_at
		 FROM locations WHERE tourist_id = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		touristID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

func (s *SQLiteStore) CountLocations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) AllLocationsSince(ctx context.Context, since time.Time) ([]*model.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tourist_id, lat, lon, altitude, accuracy, speed, heading, recorded_at, created_at
		 FROM locations WHERE recorded_at >= ?
		 ORDER BY tourist_id ASC, recorded_at ASC, id ASC`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

func scanLocation(row rowScanner) (*model.Location, error) {
	var l model.Location
	err := row.Scan(
		&l.ID, &l.TouristID, &l.Latitude, &l.Longitude,
		&l.Altitude, &l.Accuracy, &l.Speed, &l.Heading,
		&l.RecordedAt, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func collectLocations(rows *sql.Rows) ([]*model.Location, error) {
	var out []*model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Assessments ---

func (s *SQLiteStore) InsertAssessment(ctx context.Context, a *model.Assessment) (int64, error) {
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (tourist_id, location_id, safety_score, severity, geofence_alert, zone_name,
			anomaly_score, temporal_risk, confidence, recommendations,
			point_model_version, sequence_model_version, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TouristID, a.LocationID, a.SafetyScore, string(a.Severity), a.GeofenceAlert, a.ZoneName,
		a.AnomalyScore, a.TemporalRisk, a.Confidence, string(recs),
		a.PointModelVersion, a.SequenceModelVersion, a.Degraded, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert assessment: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestAssessment(ctx context.Context, touristID int64) (*model.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tourist_id, location_id, safety_score, severity, geofence_alert, zone_name,
			anomaly_score, temporal_risk, confidence, recommendations,
			point_model_version, sequence_model_version, degraded, created_at
		 FROM assessments WHERE tourist_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, touristID)
	return scanAssessment(row)
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, touristID int64, limit, offset int) ([]*model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tourist_id, location_id, safety_score, severity, geofence_alert, zone_name,
			anomaly_score, temporal_risk, confidence, recommendations,
			point_model_version, sequence_model_version, degraded, created_at
		 FROM assessments WHERE tourist_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		touristID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) HeatPointsSince(ctx context.Context, since time.Time) ([]*model.HeatPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.lat, l.lon, COALESCE(a.safety_score, -1)
		 FROM locations l
		 LEFT JOIN assessments a ON a.location_id = l.id
		 WHERE l.recorded_at >= ?`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.HeatPoint
	for rows.Next() {
		var p model.HeatPoint
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Score); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanAssessment(row rowScanner) (*model.Assessment, error) {
	var a model.Assessment
	var severity, recs string
	err := row.Scan(
		&a.ID, &a.TouristID, &a.LocationID, &a.SafetyScore, &severity,
		&a.GeofenceAlert, &a.ZoneName,
		&a.AnomalyScore, &a.TemporalRisk, &a.Confidence, &recs,
		&a.PointModelVersion, &a.SequenceModelVersion, &a.Degraded, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Severity = model.Severity(severity)
	if recs != "" {
		if err := json.Unmarshal([]byte(recs), &a.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
		}
	}
	return &a, nil
}

// --- Alerts ---

func (s *SQLiteStore) InsertAlert(ctx context.Context, a *model.Alert) (int64, error) {
	now := time.Now().UTC()
	status := a.Status
	if status == "" {
		status = model.AlertActive
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (tourist_id, kind, severity, message, description, lat, lon, status, auto_generated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TouristID, string(a.Kind), string(a.Severity), a.Message, a.Description,
		a.Latitude, a.Longitude, string(status), a.AutoGenerated, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}
	return res.LastInsertId()
}

const alertColumns = `id, tourist_id, kind, severity, message, description, lat, lon, status, auto_generated,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_notes, created_at`

func (s *SQLiteStore) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, f AlertFilter, limit, offset int) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if f.TouristID > 0 {
		query += ` AND tourist_id = ?`
		args = append(args, f.TouristID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountAlerts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, id int64, by string) (*model.Alert, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, acknowledged_by = ?, acknowledged_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.AlertAcknowledged), by, now, id, string(model.AlertActive))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either absent or not ACTIVE. Distinguish for the caller.
		a, err := s.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("alert %d is %s: %w", id, a.Status, ErrInvalidTransition)
	}
	return s.GetAlert(ctx, id)
}

func (s *SQLiteStore) ResolveAlert(ctx context.Context, id int64, by, notes string, falseAlarm bool) (*model.Alert, error) {
	target := model.AlertResolved
	if falseAlarm {
		target = model.AlertFalseAlarm
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, resolved_by = ?, resolved_at = ?, resolution_notes = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(target), by, now, notes, id,
		string(model.AlertActive), string(model.AlertAcknowledged))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		a, err := s.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("alert %d is %s: %w", id, a.Status, ErrInvalidTransition)
	}
	return s.GetAlert(ctx, id)
}

// ErrInvalidTransition is returned when an alert status change is not
// allowed from the alert's current state.
var ErrInvalidTransition = errors.New("store: invalid alert status transition")

func scanAlert(row rowScanner) (*model.Alert, error) {
	var a model.Alert
	var kind, severity, status string
	var ackAt, resAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.TouristID, &kind, &severity, &a.Message, &a.Description,
		&a.Latitude, &a.Longitude, &status, &a.AutoGenerated,
		&a.AcknowledgedBy, &ackAt, &a.ResolvedBy, &resAt, &a.ResolutionNotes,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Kind = model.AlertKind(kind)
	a.Severity = model.AlertSeverity(severity)
	a.Status = model.AlertStatus(status)
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if resAt.Valid {
		a.ResolvedAt = &resAt.Time
	}
	return &a, nil
}

// --- Zones ---

func (s *SQLiteStore) InsertZone(ctx context.Context, z *model.Zone) (int64, error) {
	ring, err := json.Marshal(z.Ring)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal zone ring: %w", err)
	}

	var res sql.Result
	switch z.Kind {
	case model.ZoneRestricted:
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO restricted_zones (name, ring, danger_level, is_active, created_at)
			 VALUES (?, ?, ?, 1, ?)`,
			z.Name, string(ring), z.DangerLevel, time.Now().UTC())
	case model.ZoneSafe:
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO safe_zones (name, ring, safety_rating, is_active, created_at)
			 VALUES (?, ?, ?, 1, ?)`,
			z.Name, string(ring), z.SafetyRating, time.Now().UTC())
	default:
		return 0, fmt.Errorf("unknown zone kind: %s", z.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert zone: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListZones(ctx context.Context, kind model.ZoneKind, activeOnly bool) ([]*model.Zone, error) {
	var table, extraCol string
	switch kind {
	case model.ZoneRestricted:
		table, extraCol = "restricted_zones", "danger_level"
	case model.ZoneSafe:
		table, extraCol = "safe_zones", "safety_rating"
	default:
		return nil, fmt.Errorf("unknown zone kind: %s", kind)
	}

	query := fmt.Sprintf(`SELECT id, name, ring, %s, is_active, created_at FROM %s`, extraCol, table)
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Zone
	for rows.Next() {
		var z model.Zone
		var ring string
		var extra int
		if err := rows.Scan(&z.ID, &z.Name, &ring, &extra, &z.IsActive, &z.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ring), &z.Ring); err != nil {
			return nil, fmt.Errorf("failed to unmarshal zone ring: %w", err)
		}
		z.Kind = kind
		if kind == model.ZoneRestricted {
			z.DangerLevel = extra
		} else {
			z.SafetyRating = extra
		}
		out = append(out, &z)
	}
	return out, rows.Err()
}

// --- Training log ---

func (s *SQLiteStore) InsertTrainingRun(ctx context.Context, r *model.TrainingRun) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO model_training_log (detector, version, sample_count, duration_ms, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Detector, r.Version, r.SampleCount, r.DurationMS, r.Outcome, r.Error, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert training run: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListTrainingRuns(ctx context.Context, limit int) ([]*model.TrainingRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, detector, version, sample_count, duration_ms, outcome, error, created_at
		 FROM model_training_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TrainingRun
	for rows.Next() {
		var r model.TrainingRun
		if err := rows.Scan(&r.ID, &r.Detector, &r.Version, &r.SampleCount,
			&r.DurationMS, &r.Outcome, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
