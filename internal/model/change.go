package model

import (
	"encoding/json"
	"time"
)

// Severity is the coarse classification of a detected change's magnitude.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ImageParams describes how to reproduce a satellite preview image for one
// side of a before/after comparison. The thumbnail service resolves these
// into an actual image; the core only stores them.
type ImageParams struct {
	Collection  string          `json:"collection"`
	DateRange   [2]string       `json:"date_range"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Bands       []string        `json:"bands,omitempty"`
	VisParams   map[string]any  `json:"vis_params,omitempty"`
	ThumbParams map[string]any  `json:"thumb_params,omitempty"`
}

// ChangeRecord is the immutable fact that a significant change was detected
// in a zone during one scheduling epoch. Exactly one record may exist per
// (zone, epoch); the pair is the idempotency key for check re-execution.
type ChangeRecord struct {
	ID            string       `json:"id"`
	ZoneID        string       `json:"zone_id"`
	OwnerID       string       `json:"owner_id"`
	ZoneName      string       `json:"zone_name"`
	Epoch         time.Time    `json:"epoch"`
	DetectedAt    time.Time    `json:"detected_at"`
	ChangeAreaM2  float64      `json:"change_area_m2"`
	ChangePercent float64      `json:"change_percent"`
	Severity      Severity     `json:"severity"`
	BeforeImage   *ImageParams `json:"before_image,omitempty"`
	AfterImage    *ImageParams `json:"after_image,omitempty"`
	Read          bool         `json:"read"`
	Notified      bool         `json:"notified"`
	NotifiedAt    *time.Time   `json:"notified_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
