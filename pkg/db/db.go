package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneLocations removes location rows recorded before the retention
// window, together with their assessments. Alerts are kept; they carry
// their own coordinates.
func (d *DB) PruneLocations(olderThan time.Duration) (int64, error) {
	// Format time compatible with SQLite DEFAULT CURRENT_TIMESTAMP (YYYY-MM-DD HH:MM:SS)
	deadline := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")

	if _, err := d.Exec(
		`DELETE FROM assessments WHERE location_id IN
			(SELECT id FROM locations WHERE recorded_at < ?)`, deadline); err != nil {
		return 0, fmt.Errorf("failed to prune assessments: %w", err)
	}
	res, err := d.Exec("DELETE FROM locations WHERE recorded_at < ?", deadline)
	if err != nil {
		return 0, fmt.Errorf("failed to prune locations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tourists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			contact TEXT NOT NULL,
			emergency_contact TEXT NOT NULL,
			age INTEGER DEFAULT 0,
			nationality TEXT DEFAULT '',
			passport_number TEXT DEFAULT '',
			safety_score INTEGER DEFAULT 100,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tourist_id INTEGER NOT NULL REFERENCES tourists(id),
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			altitude REAL DEFAULT 0,
			accuracy REAL DEFAULT 0,
			speed REAL DEFAULT 0,
			heading REAL DEFAULT 0,
			recorded_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_locations_tourist_time
			ON locations(tourist_id, recorded_at);`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tourist_id INTEGER NOT NULL REFERENCES tourists(id),
			location_id INTEGER NOT NULL REFERENCES locations(id),
			safety_score INTEGER NOT NULL,
			severity TEXT NOT NULL,
			geofence_alert BOOLEAN DEFAULT 0,
			zone_name TEXT DEFAULT '',
			anomaly_score REAL DEFAULT 0,
			temporal_risk REAL DEFAULT 0,
			confidence REAL DEFAULT 0,
			recommendations TEXT DEFAULT '[]',
			point_model_version TEXT DEFAULT '',
			sequence_model_version TEXT DEFAULT '',
			degraded BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_tourist_time
			ON assessments(tourist_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tourist_id INTEGER NOT NULL REFERENCES tourists(id),
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			description TEXT DEFAULT '',
			lat REAL DEFAULT 0,
			lon REAL DEFAULT 0,
			status TEXT DEFAULT 'ACTIVE',
			auto_generated BOOLEAN DEFAULT 0,
			acknowledged_by TEXT DEFAULT '',
			acknowledged_at DATETIME,
			resolved_by TEXT DEFAULT '',
			resolved_at DATETIME,
			resolution_notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status
			ON alerts(status, created_at);`,
		`CREATE TABLE IF NOT EXISTS restricted_zones (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			ring TEXT NOT NULL,
			danger_level INTEGER DEFAULT 1,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS safe_zones (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			ring TEXT NOT NULL,
			safety_rating INTEGER DEFAULT 3,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS model_training_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			detector TEXT NOT NULL,
			version TEXT NOT NULL,
			sample_count INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	return nil
}
