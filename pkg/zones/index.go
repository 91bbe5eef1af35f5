// Package zones maintains an in-memory snapshot of the restricted and
// safe zone polygons and classifies GPS fixes against it.
package zones

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"trailguard/pkg/model"
	"trailguard/pkg/store"
)

// Index is a lock-free zone classifier. Readers always see a complete
// snapshot; Reload swaps in a fresh one atomically.
type Index struct {
	store store.ZoneStore
	snap  atomic.Pointer[snapshot]
}

type snapshot struct {
	restricted []entry
	safe       []entry
	loadedAt   time.Time
}

type entry struct {
	zone  *model.Zone
	bound orb.Bound
}

// NewIndex creates an empty index. Call Reload before classifying.
func NewIndex(zs store.ZoneStore) *Index {
	idx := &Index{store: zs}
	idx.snap.Store(&snapshot{})
	return idx
}

// Reload reads all active zones from the store and swaps the snapshot.
// In-flight classifications keep using the old snapshot.
func (idx *Index) Reload(ctx context.Context) error {
	restricted, err := idx.store.ListZones(ctx, model.ZoneRestricted, true)
	if err != nil {
		return fmt.Errorf("failed to load restricted zones: %w", err)
	}
	safe, err := idx.store.ListZones(ctx, model.ZoneSafe, true)
	if err != nil {
		return fmt.Errorf("failed to load safe zones: %w", err)
	}

	snap := &snapshot{loadedAt: time.Now()}
	for _, z := range restricted {
		if b, ok := ringBound(z.Ring); ok {
			snap.restricted = append(snap.restricted, entry{zone: z, bound: b})
		} else {
			slog.Warn("skipping degenerate restricted zone", "zone", z.Name)
		}
	}
	for _, z := range safe {
		if b, ok := ringBound(z.Ring); ok {
			snap.safe = append(snap.safe, entry{zone: z, bound: b})
		} else {
			slog.Warn("skipping degenerate safe zone", "zone", z.Name)
		}
	}

	idx.snap.Store(snap)
	slog.Debug("zone snapshot reloaded",
		"restricted", len(snap.restricted), "safe", len(snap.safe))
	return nil
}

func ringBound(ring [][2]float64) (orb.Bound, bool) {
	if len(ring) < 3 {
		return orb.Bound{}, false
	}
	r := make(orb.Ring, len(ring))
	for i, pt := range ring {
		r[i] = orb.Point{pt[0], pt[1]}
	}
	return r.Bound(), true
}

// Classify returns the zone verdict for a fix. Containment is tested
// against each zone's bounding box; restricted zones win over safe
// zones, and among matches of the same kind the highest danger level
// (or safety rating) wins.
func (idx *Index) Classify(lat, lon float64) model.GeofenceVerdict {
	snap := idx.snap.Load()
	p := orb.Point{lon, lat}

	v := model.GeofenceVerdict{Confidence: 1.0}

	for i := range snap.restricted {
		e := &snap.restricted[i]
		if !e.bound.Contains(p) {
			continue
		}
		if !v.InRestricted || e.zone.DangerLevel > v.DangerLevel {
			v.InRestricted = true
			v.ZoneName = e.zone.Name
			v.DangerLevel = e.zone.DangerLevel
		}
	}
	if v.InRestricted {
		return v
	}

	for i := range snap.safe {
		e := &snap.safe[i]
		if !e.bound.Contains(p) {
			continue
		}
		if !v.InSafe || e.zone.SafetyRating > v.SafetyRating {
			v.InSafe = true
			v.ZoneName = e.zone.Name
			v.SafetyRating = e.zone.SafetyRating
		}
	}
	return v
}

// LoadedAt reports when the current snapshot was built. Zero for the
// initial empty snapshot.
func (idx *Index) LoadedAt() time.Time {
	return idx.snap.Load().loadedAt
}

// Counts reports the zone counts of the current snapshot.
func (idx *Index) Counts() (restricted, safe int) {
	snap := idx.snap.Load()
	return len(snap.restricted), len(snap.safe)
}
