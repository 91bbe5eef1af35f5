package probe

import (
	"context"
	"errors"
	"testing"
)

func TestRun(t *testing.T) {
	probes := []Probe{
		{
			Name:     "database",
			Check:    func(ctx context.Context) error { return nil },
			Critical: true,
		},
		{
			Name:     "webhook",
			Check:    func(ctx context.Context) error { return errors.New("not configured") },
			Critical: false,
		},
	}

	results := Run(context.Background(), probes)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error != nil {
		t.Errorf("database probe: unexpected error %v", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("webhook probe: expected an error")
	}
}

func TestAnalyzeResults(t *testing.T) {
	fail := errors.New("fail")
	tests := []struct {
		name    string
		results []Result
		wantErr bool
	}{
		{
			name:    "all pass",
			results: []Result{{Probe: Probe{Name: "db", Critical: true}}},
		},
		{
			name:    "critical failure",
			results: []Result{{Probe: Probe{Name: "db", Critical: true}, Error: fail}},
			wantErr: true,
		},
		{
			name:    "non-critical failure",
			results: []Result{{Probe: Probe{Name: "webhook"}, Error: fail}},
		},
		{
			name: "mixed",
			results: []Result{
				{Probe: Probe{Name: "webhook"}, Error: fail},
				{Probe: Probe{Name: "db", Critical: true}, Error: fail},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeResults(tt.results)
			if (err != nil) != tt.wantErr {
				t.Errorf("AnalyzeResults() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
