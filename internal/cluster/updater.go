package cluster

import (
	"fmt"

	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// attachAggregates computes the incident summary fields after folding in one
// more member. Mutations are monotonic: the count only grows, and the centroid
// only advances toward new points. A member without a coordinate grows the
// count but leaves the centroid untouched, keeping it the mean of geo-tagged
// members only.
func attachAggregates(inc *models.Incident, coord *models.Coordinate) (memberCount, geoCount int, centroid *models.Coordinate) {
	memberCount = inc.MemberCount + 1
	geoCount = inc.GeoCount
	centroid = inc.Centroid
	if coord != nil {
		next := advanceCentroid(inc.Centroid, inc.GeoCount, *coord)
		centroid = &next
		geoCount = inc.GeoCount + 1
	}
	return memberCount, geoCount, centroid
}

// seedTitle derives a new incident's title from its first complaint,
// following the upstream convention for repeated-report clusters.
func seedTitle(c *models.Complaint) string {
	return fmt.Sprintf("Repeated reports: %s", c.Title)
}
