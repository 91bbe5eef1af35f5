package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Features FeaturesConfig `yaml:"features"`
	Assess   AssessConfig   `yaml:"assess"`
	Training TrainingConfig `yaml:"training"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	// IngestHighWater is the maximum number of concurrent location
	// ingests before new updates are rejected with a retryable error.
	IngestHighWater int `yaml:"ingest_high_water"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
	// Retention is how long location history is kept. Zero disables
	// pruning.
	Retention Duration `yaml:"retention"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Alerts   LogSettings `yaml:"alerts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// FeaturesConfig holds feature-extraction settings.
type FeaturesConfig struct {
	PointLookback    Duration `yaml:"point_lookback"`
	SequenceLookback Duration `yaml:"sequence_lookback"`
	SequenceLength   int      `yaml:"sequence_length"`
	// InactivityRadius is the displacement under which a tourist
	// counts as stationary.
	InactivityRadius Distance `yaml:"inactivity_radius"`
	// ConsistencyScale is the variance divisor C in
	// movement_consistency = 1 - min(1, speed_variance/C).
	ConsistencyScale float64 `yaml:"consistency_scale"`
}

// AssessConfig holds assessment-engine settings.
type AssessConfig struct {
	// DetectorDeadline is the per-detector soft deadline. A detector
	// that misses it contributes nothing to the fused score.
	DetectorDeadline Duration `yaml:"detector_deadline"`
	// HistoryLimit caps the per-tourist window read from the store.
	HistoryLimit int `yaml:"history_limit"`
}

// TrainingConfig holds retraining-scheduler settings.
type TrainingConfig struct {
	Period Duration `yaml:"period"`
	// Window is how far back the rolling training window reaches.
	Window        Duration `yaml:"window"`
	FitDeadline   Duration `yaml:"fit_deadline"`
	MinFitSamples int      `yaml:"min_fit_samples"`
	Contamination float64  `yaml:"contamination"`
}

// WebhookConfig holds the outbound emergency notification settings.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// HeatmapConfig holds settings for the telemetry heatmap endpoint.
type HeatmapConfig struct {
	Resolution int      `yaml:"resolution"`
	Window     Duration `yaml:"window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "localhost:8080",
			IngestHighWater: 256,
		},
		DB: DBConfig{
			Path:      "./data/trailguard.db",
			Retention: Duration(30 * Day),
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Alerts: LogSettings{
				Path: "./logs/alerts.log",
			},
		},
		Features: FeaturesConfig{
			PointLookback:    Duration(24 * time.Hour),
			SequenceLookback: Duration(6 * time.Hour),
			SequenceLength:   10,
			InactivityRadius: Distance(50),
			ConsistencyScale: 100.0,
		},
		Assess: AssessConfig{
			DetectorDeadline: Duration(100 * time.Millisecond),
			HistoryLimit:     200,
		},
		Training: TrainingConfig{
			Period:        Duration(60 * time.Second),
			Window:        Duration(3 * Day),
			FitDeadline:   Duration(30 * time.Second),
			MinFitSamples: 10,
			Contamination: 0.1,
		},
		Webhook: WebhookConfig{
			URL:     "",
			Token:   "",
			Timeout: Duration(10 * time.Second),
		},
		Heatmap: HeatmapConfig{
			Resolution: 7,
			Window:     Duration(24 * time.Hour),
		},
	}
}

// Load loads the configuration from the given path. If the file does
// not exist, it is created with defaults. Existing files are merged
// over the defaults but never written back, to preserve user comments.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	// Environment fallbacks for deploy-time settings and secrets.
	if v := os.Getenv("TRAILGUARD_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("TRAILGUARD_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("TRAILGUARD_WEBHOOK_TOKEN"); v != "" {
		cfg.Webhook.Token = v
	}
	if v := os.Getenv("TRAILGUARD_LOG_LEVEL"); v != "" {
		cfg.Log.Server.Level = v
	}
	if v := os.Getenv("TRAILGUARD_RETRAIN_PERIOD"); v != "" {
		dur, err := ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRAILGUARD_RETRAIN_PERIOD: %w", err)
		}
		cfg.Training.Period = Duration(dur)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Features.SequenceLength <= 0 {
		return fmt.Errorf("features.sequence_length must be positive")
	}
	if c.Training.MinFitSamples < 2 {
		return fmt.Errorf("training.min_fit_samples must be at least 2")
	}
	if c.Training.Contamination <= 0 || c.Training.Contamination >= 0.5 {
		return fmt.Errorf("training.contamination must be in (0, 0.5)")
	}
	if c.Server.IngestHighWater <= 0 {
		return fmt.Errorf("server.ingest_high_water must be positive")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# TrailGuard Configuration
# -----------------------
# Supported units:
#   Duration: ns, us, ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers)

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
