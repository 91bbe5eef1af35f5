// Package probe runs startup readiness checks and summarizes them in
// the server log before the listener comes up.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// checkTimeout bounds each individual check.
const checkTimeout = 5 * time.Second

// Probe is one named readiness check. Critical probes abort startup
// when they fail; the rest only surface in the summary.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
}

// Result is the outcome of one probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes the probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))
	for i, p := range probes {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Check(probeCtx)
		cancel()
		results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
	}
	return results
}

// AnalyzeResults logs the pass/fail summary and returns the joined
// errors of the critical failures, nil when startup may proceed.
func AnalyzeResults(results []Result) error {
	var critical []error

	slog.Info("Startup Checks Summary")
	for _, r := range results {
		line := fmt.Sprintf("[PASS] %-20s (%v)", r.Probe.Name, r.Duration.Round(time.Millisecond))
		if r.Error == nil {
			slog.Info(line)
			continue
		}
		line = fmt.Sprintf("[FAIL] %-20s (%v)", r.Probe.Name, r.Duration.Round(time.Millisecond))
		slog.Error(line, "error", r.Error)
		if r.Probe.Critical {
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		}
	}

	return errors.Join(critical...)
}
