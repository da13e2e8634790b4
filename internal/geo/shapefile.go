package geo

import (
	"encoding/json"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// ShapeZone is one polygon read from a shapefile, ready to become a zone.
type ShapeZone struct {
	Name     string
	Geometry json.RawMessage
}

// ReadShapefile loads polygon shapes from a shapefile and converts them to
// GeoJSON geometries. The zone name is taken from the first attribute field
// whose name contains "name" (case-insensitive), falling back to the
// record index. Non-polygon shapes are skipped with a log line.
func ReadShapefile(path string) ([]ShapeZone, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	nameField := -1
	fields := reader.Fields()
	for i, f := range fields {
		if strings.Contains(strings.ToLower(f.String()), "name") {
			nameField = i
			break
		}
	}

	var zones []ShapeZone
	for reader.Next() {
		n, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			zap.L().Debug("geo: skipping non-polygon shape", zap.Int("record", n))
			continue
		}

		g := polygonToGeom(poly)
		if g == nil {
			zap.L().Debug("geo: skipping malformed polygon", zap.Int("record", n))
			continue
		}

		raw, err := geojson.Marshal(g)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: encode record %d", n)
		}

		name := ""
		if nameField >= 0 {
			name = strings.TrimSpace(reader.ReadAttribute(n, nameField))
		}

		zones = append(zones, ShapeZone{Name: name, Geometry: raw})
	}

	return zones, nil
}

// polygonToGeom converts a shapefile polygon's parts to a geom.Polygon.
func polygonToGeom(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	poly := geom.NewPolygon(geom.XY)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geo: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if poly.NumLinearRings() == 0 {
		return nil
	}
	return poly
}
