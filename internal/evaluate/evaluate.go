// Package evaluate holds the pure change-classification logic: deciding
// whether a raw change metric is significant, how severe it is, and what
// trend an NDVI series shows. Nothing here touches the network or the
// store, so every decision boundary is directly testable.
package evaluate

import (
	"fmt"

	"github.com/geowatch/geowatch/internal/model"
)

const (
	// SignificantAreaM2 is the absolute change-area gate: a check is
	// significant only when the detected change exceeds this many square
	// meters. The zone's percent-based confidence threshold is a display
	// and filtering parameter, not a pipeline gate.
	SignificantAreaM2 = 500.0

	// NormalizationAreaM2 is the fixed reference cell (one hectare) that
	// change percent is computed against. This is intentionally NOT the
	// zone's true geometric area; the percent is a comparable index
	// across zones, carried over as-is from the original detection logic.
	NormalizationAreaM2 = 10000.0
)

// Result is the classified outcome of one change measurement.
type Result struct {
	Significant bool
	Percent     float64
	Severity    model.Severity
}

// Evaluate classifies a raw change area against the significance gate and
// severity ladder. confidenceThreshold is accepted for interface parity
// with zone configuration but does not gate significance.
func Evaluate(changeAreaM2 float64, confidenceThreshold int) Result {
	percent := changeAreaM2 / NormalizationAreaM2 * 100

	return Result{
		Significant: changeAreaM2 > SignificantAreaM2,
		Percent:     percent,
		Severity:    SeverityFor(percent),
	}
}

// SeverityFor maps a change percent to its severity band. First match wins.
func SeverityFor(percent float64) model.Severity {
	switch {
	case percent >= 50:
		return model.SeverityCritical
	case percent >= 30:
		return model.SeverityHigh
	case percent >= 15:
		return model.SeverityModerate
	default:
		return model.SeverityLow
	}
}

// NDVI computes the Normalized Difference Vegetation Index from near-infrared
// and red reflectance. Returns a value in [-1, 1]; zero when both bands are zero.
func NDVI(nir, red float64) float64 {
	if nir+red == 0 {
		return 0
	}
	return (nir - red) / (nir + red)
}

// FormatArea renders an area in the most readable unit (m², ha, km²).
func FormatArea(areaM2 float64) string {
	switch {
	case areaM2 >= 1_000_000:
		return fmt.Sprintf("%.2f km²", areaM2/1_000_000)
	case areaM2 >= 10_000:
		return fmt.Sprintf("%.2f ha", areaM2/10_000)
	default:
		return fmt.Sprintf("%.2f m²", areaM2)
	}
}
