package cluster

import (
	"math"
	"testing"

	"github.com/jaewoo-shin/civicdedup/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name   string
		a, b   models.Coordinate
		meters float64
		delta  float64
	}{
		{
			name:   "same point",
			a:      models.Coordinate{Lat: 37.5665, Lon: 126.9780},
			b:      models.Coordinate{Lat: 37.5665, Lon: 126.9780},
			meters: 0,
			delta:  0.001,
		},
		{
			name:   "one degree of latitude",
			a:      models.Coordinate{Lat: 0, Lon: 0},
			b:      models.Coordinate{Lat: 1, Lon: 0},
			meters: 111195,
			delta:  100,
		},
		{
			name:   "city block in seoul",
			a:      models.Coordinate{Lat: 37.5665, Lon: 126.9780},
			b:      models.Coordinate{Lat: 37.5674, Lon: 126.9780},
			meters: 100,
			delta:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.meters, HaversineMeters(tt.a, tt.b), tt.delta)
		})
	}
}

func TestHaversineMeters_Symmetric(t *testing.T) {
	a := models.Coordinate{Lat: 37.5665, Lon: 126.9780}
	b := models.Coordinate{Lat: 35.1796, Lon: 129.0756}
	assert.InDelta(t, HaversineMeters(a, b), HaversineMeters(b, a), 1e-6)
}

func TestAdvanceCentroid_FirstPoint(t *testing.T) {
	p := models.Coordinate{Lat: 37.5, Lon: 127.0}
	got := advanceCentroid(nil, 0, p)
	assert.Equal(t, p, got)
}

func TestAdvanceCentroid_RunningMean(t *testing.T) {
	// Folding points one at a time must land on the arithmetic mean.
	points := []models.Coordinate{
		{Lat: 37.50, Lon: 127.00},
		{Lat: 37.52, Lon: 127.02},
		{Lat: 37.54, Lon: 127.04},
		{Lat: 37.56, Lon: 127.06},
	}

	var centroid *models.Coordinate
	for i, p := range points {
		next := advanceCentroid(centroid, i, p)
		centroid = &next
	}

	assert.InDelta(t, 37.53, centroid.Lat, 1e-9)
	assert.InDelta(t, 127.03, centroid.Lon, 1e-9)
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		name  string
		coord *models.Coordinate
		want  bool
	}{
		{"nil", nil, true},
		{"origin", &models.Coordinate{}, true},
		{"seoul", &models.Coordinate{Lat: 37.5665, Lon: 126.9780}, true},
		{"lat boundary", &models.Coordinate{Lat: 90, Lon: 0}, true},
		{"lon boundary", &models.Coordinate{Lat: 0, Lon: -180}, true},
		{"lat too high", &models.Coordinate{Lat: 90.1, Lon: 0}, false},
		{"lon too low", &models.Coordinate{Lat: 0, Lon: -180.1}, false},
		{"nan lat", &models.Coordinate{Lat: math.NaN(), Lon: 0}, false},
		{"nan lon", &models.Coordinate{Lat: 0, Lon: math.NaN()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validCoordinate(tt.coord))
		})
	}
}
