package evaluate

import (
	"math"
	"testing"

	"github.com/geowatch/geowatch/internal/model"
)

func TestEvaluate_SignificanceBoundary(t *testing.T) {
	if !Evaluate(500.01, 60).Significant {
		t.Error("500.01 m² must be significant")
	}
	if Evaluate(499.99, 60).Significant {
		t.Error("499.99 m² must not be significant")
	}
	if Evaluate(500.0, 60).Significant {
		t.Error("exactly 500 m² is not above the threshold")
	}
}

func TestEvaluate_ConfidenceThresholdDoesNotGate(t *testing.T) {
	// The zone confidence threshold is a display parameter; significance
	// must be identical across its whole range.
	for _, ct := range []int{30, 60, 90} {
		if !Evaluate(501, ct).Significant {
			t.Errorf("threshold %d changed the significance gate", ct)
		}
		if Evaluate(499, ct).Significant {
			t.Errorf("threshold %d changed the significance gate", ct)
		}
	}
}

func TestEvaluate_PercentNormalization(t *testing.T) {
	r := Evaluate(1200, 60)
	if r.Percent != 12.0 {
		t.Errorf("1200 m² over a 1 ha cell should be 12%%, got %f", r.Percent)
	}
	if r.Severity != model.SeverityLow {
		t.Errorf("12%% should be low severity, got %s", r.Severity)
	}
}

func TestSeverityFor_Boundaries(t *testing.T) {
	cases := []struct {
		percent float64
		want    model.Severity
	}{
		{50, model.SeverityCritical},
		{49.999, model.SeverityHigh},
		{30, model.SeverityHigh},
		{29.999, model.SeverityModerate},
		{15, model.SeverityModerate},
		{14.999, model.SeverityLow},
		{0, model.SeverityLow},
		{120, model.SeverityCritical},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.percent); got != tc.want {
			t.Errorf("percent=%v: expected %s, got %s", tc.percent, tc.want, got)
		}
	}
}

func TestNDVI(t *testing.T) {
	if got := NDVI(0.8, 0.2); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("expected 0.6, got %f", got)
	}
	if got := NDVI(0, 0); got != 0 {
		t.Errorf("zero bands should yield 0, got %f", got)
	}
	if got := NDVI(0.2, 0.8); math.Abs(got+0.6) > 1e-9 {
		t.Errorf("expected -0.6, got %f", got)
	}
}

func TestFormatArea(t *testing.T) {
	cases := map[float64]string{
		250:       "250.00 m²",
		25_000:    "2.50 ha",
		2_500_000: "2.50 km²",
	}
	for area, want := range cases {
		if got := FormatArea(area); got != want {
			t.Errorf("area=%v: expected %q, got %q", area, want, got)
		}
	}
}

func series(values ...float64) []model.NDVIDataPoint {
	pts := make([]model.NDVIDataPoint, len(values))
	for i, v := range values {
		pts[i] = model.NDVIDataPoint{Value: v, Quality: model.NDVIQualityGood}
	}
	return pts
}

func TestTrend(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   string
	}{
		{"stable flat", []float64{0.5, 0.5, 0.5, 0.5}, TrendStable},
		{"increasing", []float64{0.3, 0.3, 0.7, 0.7}, TrendIncreasing},
		{"decreasing", []float64{0.7, 0.7, 0.3, 0.3}, TrendDecreasing},
		{"single point", []float64{0.5}, TrendInsufficientData},
		{"empty", nil, TrendInsufficientData},
		{"within delta band", []float64{0.50, 0.50, 0.54, 0.54}, TrendStable},
	}
	for _, tc := range cases {
		if got := Trend(series(tc.values...)); got.Trend != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got.Trend)
		}
	}
}

func TestTrend_OddLengthFloorSplit(t *testing.T) {
	// Five points: first half is the first two, second half the remaining
	// three. first mean = 0.3, second mean = 0.7 → increasing.
	got := Trend(series(0.3, 0.3, 0.7, 0.7, 0.7))
	if got.Trend != TrendIncreasing {
		t.Errorf("expected increasing with floor split, got %s", got.Trend)
	}
}

func TestSummarize(t *testing.T) {
	stats, ok := Summarize(series(0.2, 0.8, 0.5))
	if !ok {
		t.Fatal("expected stats for non-empty series")
	}
	if stats.Min != 0.2 || stats.Max != 0.8 || stats.Current != 0.5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Mean < 0.499 || stats.Mean > 0.501 {
		t.Errorf("unexpected mean: %f", stats.Mean)
	}

	if _, ok := Summarize(nil); ok {
		t.Error("empty series must not produce stats")
	}
}
