package store

import (
	"context"
	"time"

	"trailguard/pkg/model"
)

// TouristStore handles tourist registry persistence.
type TouristStore interface {
	CreateTourist(ctx context.Context, t *model.Tourist) (int64, error)
	GetTourist(ctx context.Context, id int64) (*model.Tourist, error)
	ListTourists(ctx context.Context, activeOnly bool, limit, offset int) ([]*model.Tourist, error)
	UpdateTouristScore(ctx context.Context, id int64, score int) error
	DeactivateTourist(ctx context.Context, id int64) error
	CountTourists(ctx context.Context, activeOnly bool) (int, error)
}

// LocationStore handles GPS fix persistence.
type LocationStore interface {
	InsertLocation(ctx context.Context, loc *model.Location) (int64, error)
	// LatestLocation returns the most recent fix for a tourist, or
	// ErrNotFound when none exists.
	LatestLocation(ctx context.Context, touristID int64) (*model.Location, error)
	// LocationsSince returns a tourist's fixes with recorded_at >= since,
	// oldest first. When the window holds more than limit fixes the
	// oldest are dropped, never the newest.
	LocationsSince(ctx context.Context, touristID int64, since time.Time, limit int) ([]*model.Location, error)
	// RecentLocations returns the newest fixes for a tourist, newest
	// first, capped at limit.
	RecentLocations(ctx context.Context, touristID int64, limit int) ([]*model.Location, error)
	// AllLocationsSince returns every tourist's fixes with
	// recorded_at >= since, oldest first. Used by the training window
	// and the heatmap.
	AllLocationsSince(ctx context.Context, since time.Time) ([]*model.Location, error)
	CountLocations(ctx context.Context) (int, error)
}

// AssessmentStore handles safety assessment persistence.
type AssessmentStore interface {
	InsertAssessment(ctx context.Context, a *model.Assessment) (int64, error)
	// LatestAssessment returns the newest assessment for a tourist, or
	// ErrNotFound when none exists.
	LatestAssessment(ctx context.Context, touristID int64) (*model.Assessment, error)
	ListAssessments(ctx context.Context, touristID int64, limit, offset int) ([]*model.Assessment, error)
	// HeatPointsSince joins recent fixes with their assessment scores
	// for heatmap aggregation. Unassessed fixes carry score -1.
	HeatPointsSince(ctx context.Context, since time.Time) ([]*model.HeatPoint, error)
}

// AlertFilter narrows ListAlerts. Zero values mean no filter on that
// dimension.
type AlertFilter struct {
	Status    model.AlertStatus
	Kind      model.AlertKind
	Severity  model.AlertSeverity
	TouristID int64
}

// AlertStore handles alert persistence and lifecycle transitions.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *model.Alert) (int64, error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	// ListAlerts returns alerts matching the filter, newest first. The
	// filter applies before limit and offset.
	ListAlerts(ctx context.Context, f AlertFilter, limit, offset int) ([]*model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id int64, by string) (*model.Alert, error)
	ResolveAlert(ctx context.Context, id int64, by, notes string, falseAlarm bool) (*model.Alert, error)
	CountAlerts(ctx context.Context) (int, error)
}

// ZoneStore handles restricted and safe zone persistence.
type ZoneStore interface {
	InsertZone(ctx context.Context, z *model.Zone) (int64, error)
	ListZones(ctx context.Context, kind model.ZoneKind, activeOnly bool) ([]*model.Zone, error)
}

// TrainingLogStore records retraining outcomes.
type TrainingLogStore interface {
	InsertTrainingRun(ctx context.Context, r *model.TrainingRun) (int64, error)
	ListTrainingRuns(ctx context.Context, limit int) ([]*model.TrainingRun, error)
}
