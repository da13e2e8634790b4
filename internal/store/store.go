package store

import (
	"context"
	"errors"
	"time"

	"github.com/geowatch/geowatch/internal/model"
)

// Typed not-found errors. Callers branch on these to distinguish a missing
// entity (terminal, no retry) from an infrastructure failure.
var (
	ErrZoneNotFound   = errors.New("store: zone not found")
	ErrUserNotFound   = errors.New("store: user not found")
	ErrChangeNotFound = errors.New("store: change record not found")
)

// ZoneFilter specifies criteria for listing zones.
type ZoneFilter struct {
	Status  model.ZoneStatus `json:"status,omitempty"`
	OwnerID string           `json:"owner_id,omitempty"`
	Limit   int              `json:"limit,omitempty"`
}

// Store defines the persistence gateway for the monitoring pipeline.
// Implementations must be safe for concurrent use by the worker pool.
type Store interface {
	// Zones
	CreateZone(ctx context.Context, zone *model.Zone) error
	GetZone(ctx context.Context, id string) (*model.Zone, error)
	ListZones(ctx context.Context, filter ZoneFilter) ([]model.Zone, error)
	// MarkZoneChecked advances last_checked_at (never backwards) and
	// optionally bumps the change counter in the same statement.
	MarkZoneChecked(ctx context.Context, id string, checkedAt time.Time, changeDetected bool) error
	SetZoneStatus(ctx context.Context, id string, status model.ZoneStatus) error

	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Change records
	// CreateChangeRecord inserts rec unless a record for the same
	// (zone, epoch) already exists; returns false in that case. This is
	// the idempotency anchor for check re-execution.
	CreateChangeRecord(ctx context.Context, rec *model.ChangeRecord) (bool, error)
	GetChangeByZoneEpoch(ctx context.Context, zoneID string, epoch time.Time) (*model.ChangeRecord, error)
	MarkChangeNotified(ctx context.Context, recordID string, at time.Time) error
	ListChangesByZone(ctx context.Context, zoneID string, limit int) ([]model.ChangeRecord, error)

	// NDVI series
	ReplaceNDVISeries(ctx context.Context, zoneID string, points []model.NDVIDataPoint) error
	ListNDVISeries(ctx context.Context, zoneID string) ([]model.NDVIDataPoint, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
