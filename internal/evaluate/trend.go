package evaluate

import "github.com/geowatch/geowatch/internal/model"

// Trend labels for an NDVI series.
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// trendDelta is the mean-difference band outside which a series counts as
// moving rather than stable.
const trendDelta = 0.05

// TrendResult describes the direction of an NDVI series.
type TrendResult struct {
	Trend       string
	Description string
}

// Statistics summarizes an NDVI series. All fields are recomputed from the
// raw points on every call; nothing is cached alongside the series.
type Statistics struct {
	Min     float64
	Max     float64
	Mean    float64
	Current float64
}

// Trend classifies the direction of an ordered NDVI series by comparing the
// mean of its second half against the mean of its first half. The series is
// floor-split: with an odd length the extra point goes to the second half.
// Fewer than two points cannot establish a direction.
func Trend(points []model.NDVIDataPoint) TrendResult {
	if len(points) < 2 {
		return TrendResult{
			Trend:       TrendInsufficientData,
			Description: "Not enough data to determine trend",
		}
	}

	half := len(points) / 2
	firstMean := meanOf(points[:half])
	secondMean := meanOf(points[half:])

	diff := secondMean - firstMean
	switch {
	case diff > trendDelta:
		return TrendResult{Trend: TrendIncreasing, Description: "Vegetation health is improving"}
	case diff < -trendDelta:
		return TrendResult{Trend: TrendDecreasing, Description: "Vegetation health is declining"}
	default:
		return TrendResult{Trend: TrendStable, Description: "Vegetation health is stable"}
	}
}

// Summarize computes min/max/mean/current over an NDVI series. Returns
// ok=false for an empty series.
func Summarize(points []model.NDVIDataPoint) (Statistics, bool) {
	if len(points) == 0 {
		return Statistics{}, false
	}

	stats := Statistics{
		Min: points[0].Value,
		Max: points[0].Value,
	}
	var sum float64
	for _, p := range points {
		if p.Value < stats.Min {
			stats.Min = p.Value
		}
		if p.Value > stats.Max {
			stats.Max = p.Value
		}
		sum += p.Value
	}
	stats.Mean = sum / float64(len(points))
	stats.Current = points[len(points)-1].Value
	return stats, true
}

func meanOf(points []model.NDVIDataPoint) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}
