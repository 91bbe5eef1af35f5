// Package tracker keeps in-process pipeline counters with rolling
// last-hour deltas for the stats endpoint.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks pipeline event counts per category.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*CategoryStats
}

// CategoryStats holds counters for one event category.
// Total is accessed atomically; the ring of per-minute buckets backs
// the last-hour delta.
type CategoryStats struct {
	Total int64

	mu      sync.Mutex
	buckets [60]bucket
}

type bucket struct {
	minute int64
	count  int64
}

// Well-known categories.
const (
	CatLocations   = "locations"
	CatAssessments = "assessments"
	CatAlerts      = "alerts"
	CatDegraded    = "degraded"
	CatRejected    = "rejected"
)

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*CategoryStats),
	}
}

func (t *Tracker) getStats(category string) *CategoryStats {
	t.mu.RLock()
	s, ok := t.stats[category]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[category]; ok {
		return s
	}
	s = &CategoryStats{}
	t.stats[category] = s
	return s
}

// Track records one event in the category.
func (t *Tracker) Track(category string) {
	s := t.getStats(category)
	atomic.AddInt64(&s.Total, 1)

	minute := time.Now().Unix() / 60
	s.mu.Lock()
	b := &s.buckets[minute%60]
	if b.minute != minute {
		b.minute = minute
		b.count = 0
	}
	b.count++
	s.mu.Unlock()
}

// Counts is the snapshot for one category.
type Counts struct {
	Total    int64 `json:"total"`
	LastHour int64 `json:"last_hour"`
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() map[string]Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nowMinute := time.Now().Unix() / 60
	result := make(map[string]Counts, len(t.stats))
	for k, s := range t.stats {
		var lastHour int64
		s.mu.Lock()
		for i := range s.buckets {
			if nowMinute-s.buckets[i].minute < 60 {
				lastHour += s.buckets[i].count
			}
		}
		s.mu.Unlock()
		result[k] = Counts{
			Total:    atomic.LoadInt64(&s.Total),
			LastHour: lastHour,
		}
	}
	return result
}
