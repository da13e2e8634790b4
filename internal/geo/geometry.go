package geo

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// earthRadiusM is the mean Earth radius used for rough planar area scaling.
const earthRadiusM = 6371000.0

// ParsePolygon decodes a GeoJSON geometry and ensures it is a non-empty
// Polygon or MultiPolygon in lon/lat order. Malformed input is a permanent
// condition for the caller: it will never parse on retry.
func ParsePolygon(raw json.RawMessage) (geom.T, error) {
	if len(raw) == 0 {
		return nil, eris.New("geo: empty geometry")
	}

	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}

	switch p := g.(type) {
	case *geom.Polygon:
		if p.NumLinearRings() == 0 || p.NumCoords() < 4 {
			return nil, eris.New("geo: polygon has no usable ring")
		}
	case *geom.MultiPolygon:
		if p.NumPolygons() == 0 {
			return nil, eris.New("geo: multipolygon is empty")
		}
	default:
		return nil, eris.Errorf("geo: unsupported geometry type %T", g)
	}

	return g, nil
}

// Validate reports whether raw is a usable zone geometry.
func Validate(raw json.RawMessage) error {
	_, err := ParsePolygon(raw)
	return err
}

// BBox returns the bounding box (minLon, minLat, maxLon, maxLat) of a zone
// geometry.
func BBox(raw json.RawMessage) (minLon, minLat, maxLon, maxLat float64, err error) {
	g, err := ParsePolygon(raw)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b := g.Bounds()
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1), nil
}

// ApproxAreaM2 estimates the geometry's area in square meters using an
// equirectangular projection centered on the geometry. Good enough for
// zone summaries; not used by the change-significance pipeline.
func ApproxAreaM2(raw json.RawMessage) (float64, error) {
	g, err := ParsePolygon(raw)
	if err != nil {
		return 0, err
	}

	b := g.Bounds()
	midLat := (b.Min(1) + b.Max(1)) / 2
	degLat := 2 * math.Pi * earthRadiusM / 360
	degLon := degLat * math.Cos(midLat*math.Pi/180)

	var areaDeg2 float64
	switch p := g.(type) {
	case *geom.Polygon:
		areaDeg2 = p.Area()
	case *geom.MultiPolygon:
		areaDeg2 = p.Area()
	}

	return math.Abs(areaDeg2) * degLat * degLon, nil
}
