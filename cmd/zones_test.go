package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/model"
)

func validSpec() zoneSpec {
	return zoneSpec{
		OwnerID: "u1",
		Name:    "North Field",
		Geometry: map[string]any{
			"type": "Polygon",
			"coordinates": []any{[]any{
				[]any{77.0, 12.0}, []any{77.01, 12.0}, []any{77.01, 12.01},
				[]any{77.0, 12.01}, []any{77.0, 12.0},
			}},
		},
	}
}

func TestZoneFromSpec_Defaults(t *testing.T) {
	zone, err := zoneFromSpec(validSpec())
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyWeekly, zone.Frequency)
	assert.Equal(t, 60, zone.ConfidenceThreshold)
	assert.Equal(t, "any", zone.ChangeType)
	assert.True(t, zone.EmailAlerts)
	assert.True(t, zone.InAppAlerts)
	assert.Equal(t, model.ZoneStatusActive, zone.Status)
}

func TestZoneFromSpec_Validation(t *testing.T) {
	spec := validSpec()
	spec.OwnerID = ""
	_, err := zoneFromSpec(spec)
	assert.ErrorContains(t, err, "owner_id")

	spec = validSpec()
	spec.Name = ""
	_, err = zoneFromSpec(spec)
	assert.ErrorContains(t, err, "name")

	spec = validSpec()
	spec.Geometry = nil
	_, err = zoneFromSpec(spec)
	assert.ErrorContains(t, err, "geometry")

	spec = validSpec()
	spec.Frequency = "hourly"
	_, err = zoneFromSpec(spec)
	assert.ErrorContains(t, err, "frequency")

	spec = validSpec()
	spec.ConfidenceThreshold = 150
	_, err = zoneFromSpec(spec)
	assert.ErrorContains(t, err, "confidence_threshold")

	spec = validSpec()
	spec.Geometry = map[string]any{"type": "Point", "coordinates": []any{77.0, 12.0}}
	_, err = zoneFromSpec(spec)
	assert.ErrorContains(t, err, "geometry")
}

func TestZoneFromSpec_ExplicitAlertFlags(t *testing.T) {
	off := false
	spec := validSpec()
	spec.EmailAlerts = &off

	zone, err := zoneFromSpec(spec)
	require.NoError(t, err)
	assert.False(t, zone.EmailAlerts)
	assert.True(t, zone.InAppAlerts)
}
