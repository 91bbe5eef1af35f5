package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"100ms", 100 * time.Millisecond, false},
		{"30s", 30 * time.Second, false},
		{"6h", 6 * time.Hour, false},
		{"1d", Day, false},
		{"3d", 3 * Day, false},
		{"1w", Week, false},
		{"1d12h", Day + 12*time.Hour, false},
		{"", 0, false},
		{"nonsense", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"50m", 50, false},
		{"2km", 2000, false},
		{"1.5km", 1500, false},
		{"75", 75, false},
		{"", 0, false},
		{"xkm", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDistance(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDistance(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDistance(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trailguard.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	if cfg.Features.SequenceLength != 10 {
		t.Errorf("SequenceLength = %d, want 10", cfg.Features.SequenceLength)
	}
	if time.Duration(cfg.Training.Period) != 60*time.Second {
		t.Errorf("Training.Period = %v, want 60s", time.Duration(cfg.Training.Period))
	}

	// Reload merges over defaults without error.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload error = %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trailguard.yaml")
	t.Setenv("TRAILGUARD_WEBHOOK_URL", "https://emergency.example/hook")
	t.Setenv("TRAILGUARD_RETRAIN_PERIOD", "5m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Webhook.URL != "https://emergency.example/hook" {
		t.Errorf("Webhook.URL = %q", cfg.Webhook.URL)
	}
	if time.Duration(cfg.Training.Period) != 5*time.Minute {
		t.Errorf("Training.Period = %v, want 5m", time.Duration(cfg.Training.Period))
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training.Contamination = 0.9
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for contamination out of range")
	}

	cfg = DefaultConfig()
	cfg.Server.IngestHighWater = 0
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for zero ingest high water")
	}
}
