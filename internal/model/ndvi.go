package model

import "time"

// NDVIQuality flags the reliability of a single NDVI measurement.
type NDVIQuality string

const (
	NDVIQualityGood   NDVIQuality = "good"
	NDVIQualityCloudy NDVIQuality = "cloudy"
)

// NDVIDataPoint is one measurement in a zone's vegetation-index series.
// Value is in [-1, 1]. Trend and statistics are never stored; they are
// recomputed from the raw series on every read.
type NDVIDataPoint struct {
	ZoneID  string      `json:"zone_id"`
	Date    time.Time   `json:"date"`
	Value   float64     `json:"value"`
	Quality NDVIQuality `json:"quality"`
}
