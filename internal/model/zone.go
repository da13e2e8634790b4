package model

import (
	"encoding/json"
	"time"
)

// ZoneStatus is the lifecycle state of a monitoring zone.
type ZoneStatus string

const (
	ZoneStatusActive ZoneStatus = "active"
	ZoneStatusPaused ZoneStatus = "paused"
	// ZoneStatusFailed marks a zone that hit a permanent error (e.g. bad
	// geometry) and needs operator attention before it is checked again.
	ZoneStatusFailed ZoneStatus = "failed"
)

// Frequency is how often a zone is re-checked for changes.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Interval returns the minimum duration between checks for this frequency.
// Unknown frequencies fall back to weekly.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyBiweekly:
		return 14 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// Zone is a user-defined geographic monitoring region (AOI).
type Zone struct {
	ID                   string          `json:"id"`
	OwnerID              string          `json:"owner_id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Geometry             json.RawMessage `json:"geometry"`
	ChangeType           string          `json:"change_type"`
	Frequency            Frequency       `json:"frequency"`
	ConfidenceThreshold  int             `json:"confidence_threshold"`
	EmailAlerts          bool            `json:"email_alerts"`
	InAppAlerts          bool            `json:"in_app_alerts"`
	Status               ZoneStatus      `json:"status"`
	LastCheckedAt        *time.Time      `json:"last_checked_at,omitempty"`
	TotalChangesDetected int             `json:"total_changes_detected"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Due reports whether the zone should be checked now: the zone is active
// and has either never been checked or its frequency interval has elapsed.
func (z *Zone) Due(now time.Time) bool {
	if z.Status != ZoneStatusActive {
		return false
	}
	if z.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*z.LastCheckedAt) >= z.Frequency.Interval()
}

// User is the notification contact for a zone owner. Authentication and
// account management live outside this service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
