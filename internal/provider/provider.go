// Package provider talks to the imagery analysis gateway that runs the
// actual change-detection and NDVI computations on satellite collections.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/geowatch/geowatch/internal/model"
)

// DateRange is a closed [Start, End] window over a collection, with dates
// formatted YYYY-MM-DD.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ChangeResult is the provider's answer for one before/after comparison.
type ChangeResult struct {
	// ChangeAreaM2 is the total area flagged as changed, in square meters.
	// Zero means the provider found nothing above its own noise floor.
	ChangeAreaM2 float64 `json:"change_area_m2"`

	// BeforeImage and AfterImage reproduce the comparison imagery. They may
	// be nil when the provider has no preview for the window.
	BeforeImage *model.ImageParams `json:"before_image,omitempty"`
	AfterImage  *model.ImageParams `json:"after_image,omitempty"`
}

// Provider computes change detection and vegetation timeseries for a
// geometry. Implementations must be safe for concurrent use.
type Provider interface {
	// ComputeChange compares the baseline and recent windows over the
	// geometry and returns the changed area.
	ComputeChange(ctx context.Context, geometry json.RawMessage, baseline, recent DateRange) (*ChangeResult, error)

	// QueryTimeseries returns NDVI samples over the geometry between start
	// and end, one sample per step.
	QueryTimeseries(ctx context.Context, geometry json.RawMessage, start, end time.Time, step time.Duration) ([]model.NDVIDataPoint, error)
}
