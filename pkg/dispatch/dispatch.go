// Package dispatch persists raised alerts, deduplicates detector
// flapping, notifies emergency services and fans alerts out to live
// subscribers.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"trailguard/pkg/config"
	"trailguard/pkg/logging"
	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

// dedupWindow is how long an identical alert key suppresses repeats.
const dedupWindow = 2 * time.Second

// Dispatcher raises alerts. Safe for concurrent use.
type Dispatcher struct {
	alerts   store.AlertStore
	tourists store.TouristStore
	webhook  config.WebhookConfig
	client   *http.Client

	mu     sync.Mutex
	recent map[string]time.Time
	subs   map[chan *model.Alert]struct{}
}

// New creates a dispatcher. The webhook URL may be empty, in which
// case emergency notification is skipped.
func New(alerts store.AlertStore, tourists store.TouristStore, webhook config.WebhookConfig) *Dispatcher {
	timeout := time.Duration(webhook.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		alerts:   alerts,
		tourists: tourists,
		webhook:  webhook,
		client:   &http.Client{Timeout: timeout},
		recent:   make(map[string]time.Time),
		subs:     make(map[chan *model.Alert]struct{}),
	}
}

// Raise persists one alert. Duplicate alerts (same tourist, kind,
// second-bucketed timestamp and 5-decimal position) within the dedup
// window are dropped silently and return a nil alert.
//
// For PANIC and SOS kinds, Raise fires a best-effort webhook POST and
// reports whether emergency services were notified. Failures leave the
// alert persisted and are only logged; there is no retry.
func (d *Dispatcher) Raise(ctx context.Context, touristID int64, req model.AlertRequest, lat, lon float64, auto bool) (alert *model.Alert, notified bool, err error) {
	now := time.Now()
	key := fmt.Sprintf("%d|%s|%d|%.5f|%.5f", touristID, req.Kind, now.Unix(), lat, lon)
	if d.isDuplicate(key, now) {
		return nil, false, nil
	}

	a := &model.Alert{
		TouristID:     touristID,
		Kind:          req.Kind,
		Severity:      req.Severity,
		Message:       req.Message,
		Latitude:      lat,
		Longitude:     lon,
		Status:        model.AlertActive,
		AutoGenerated: auto,
	}
	id, err := d.alerts.InsertAlert(ctx, a)
	if err != nil {
		return nil, false, fmt.Errorf("failed to persist alert: %w", err)
	}
	a.ID = id
	a.CreatedAt = now

	logging.LogAlert(a)
	d.publish(a)

	if req.Kind == model.AlertPanic || req.Kind == model.AlertSOS {
		notified = d.notifyEmergency(ctx, a)
	}
	return a, notified, nil
}

// isDuplicate records the key and reports whether it was already seen
// inside the dedup window. Stale keys are pruned on the way.
func (d *Dispatcher) isDuplicate(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.recent {
		if now.Sub(at) > dedupWindow {
			delete(d.recent, k)
		}
	}
	if _, seen := d.recent[key]; seen {
		return true
	}
	d.recent[key] = now
	return false
}

// webhookPayload is the emergency notification body.
type webhookPayload struct {
	AlertID   int64          `json:"alert_id"`
	Kind      string         `json:"kind"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Tourist   *model.Tourist `json:"tourist,omitempty"`
	RaisedAt  time.Time      `json:"raised_at"`
}

func (d *Dispatcher) notifyEmergency(ctx context.Context, a *model.Alert) bool {
	if d.webhook.URL == "" {
		slog.Debug("no emergency webhook configured", "alert", a.ID)
		return false
	}

	payload := webhookPayload{
		AlertID:   a.ID,
		Kind:      string(a.Kind),
		Severity:  string(a.Severity),
		Message:   a.Message,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		RaisedAt:  a.CreatedAt,
	}
	if t, err := d.tourists.GetTourist(ctx, a.TouristID); err == nil {
		payload.Tourist = t
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "alert", a.ID, "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook.URL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build webhook request", "alert", a.ID, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if d.webhook.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.webhook.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("emergency webhook failed", "alert", a.ID, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("emergency webhook rejected", "alert", a.ID, "status", resp.StatusCode)
		return false
	}
	slog.Info("emergency services notified", "alert", a.ID, "kind", a.Kind)
	return true
}

// Subscribe registers a live alert feed. The returned cancel func must
// be called to release the channel. Slow subscribers drop alerts
// rather than blocking the dispatcher.
func (d *Dispatcher) Subscribe() (<-chan *model.Alert, func()) {
	ch := make(chan *model.Alert, 16)

	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
	}
	return ch, cancel
}

func (d *Dispatcher) publish(a *model.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- a:
		default:
		}
	}
}
