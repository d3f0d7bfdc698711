package cluster

import (
	"math"

	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b models.Coordinate) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// advanceCentroid folds point p into a running mean over geoCount previous
// geo-tagged members: new = old + (p - old) / (geoCount + 1). A nil old
// centroid means p is the first geo-tagged member.
func advanceCentroid(old *models.Coordinate, geoCount int, p models.Coordinate) models.Coordinate {
	if old == nil || geoCount == 0 {
		return p
	}
	n := float64(geoCount + 1)
	return models.Coordinate{
		Lat: old.Lat + (p.Lat-old.Lat)/n,
		Lon: old.Lon + (p.Lon-old.Lon)/n,
	}
}

// validCoordinate reports whether c is a well-formed WGS84 point. A nil
// coordinate is valid (geography is optional).
func validCoordinate(c *models.Coordinate) bool {
	return c == nil || c.Valid()
}
