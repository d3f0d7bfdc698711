package cluster

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// IncidentIndex is an immutable snapshot of OPEN incidents taken at decision
// time. Closed incidents never enter the index, and incidents opened before
// the horizon are dropped so stale clusters cannot absorb fresh reports.
type IncidentIndex struct {
	incidents map[uuid.UUID]*models.Incident
}

// NewIncidentIndex builds an index from a FetchOpenIncidents result. The
// horizon filter is applied here as well in case the caller passed a zero
// OpenedAfter to the store.
func NewIncidentIndex(incidents []models.Incident, horizon time.Duration, now time.Time) *IncidentIndex {
	idx := &IncidentIndex{incidents: make(map[uuid.UUID]*models.Incident, len(incidents))}
	for i := range incidents {
		inc := &incidents[i]
		if !inc.Open() {
			continue
		}
		if horizon > 0 && inc.OpenedAt.Before(now.Add(-horizon)) {
			continue
		}
		idx.incidents[inc.ID] = inc
	}
	return idx
}

// Get returns the snapshot of an incident, if present.
func (ix *IncidentIndex) Get(id uuid.UUID) (*models.Incident, bool) {
	inc, ok := ix.incidents[id]
	return inc, ok
}

// Len returns the number of incidents in the snapshot.
func (ix *IncidentIndex) Len() int {
	return len(ix.incidents)
}

// IDs returns the incident ids in the snapshot, in no particular order.
func (ix *IncidentIndex) IDs() map[uuid.UUID]struct{} {
	ids := make(map[uuid.UUID]struct{}, len(ix.incidents))
	for id := range ix.incidents {
		ids[id] = struct{}{}
	}
	return ids
}

// IncidentDistance pairs an incident with its centroid distance from a query point.
type IncidentDistance struct {
	IncidentID uuid.UUID
	Meters     float64
}

// Nearest returns up to k incidents ordered by centroid distance from coord.
// Incidents without a centroid are excluded: with no geo-tagged members there
// is no distance to rank on.
func (ix *IncidentIndex) Nearest(coord models.Coordinate, k int) []IncidentDistance {
	out := make([]IncidentDistance, 0, len(ix.incidents))
	for id, inc := range ix.incidents {
		if inc.Centroid == nil {
			continue
		}
		out = append(out, IncidentDistance{IncidentID: id, Meters: HaversineMeters(coord, *inc.Centroid)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meters < out[j].Meters })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Eligible returns the set of incidents a complaint at coord may attach to.
// With a coordinate, incidents whose centroid lies beyond radiusMeters are
// excluded; incidents with no centroid stay eligible (their geography is
// unknown, not known-far). With a nil coordinate the geographic pre-filter is
// skipped and every incident in the snapshot is eligible.
func (ix *IncidentIndex) Eligible(coord *models.Coordinate, radiusMeters float64) map[uuid.UUID]struct{} {
	eligible := make(map[uuid.UUID]struct{}, len(ix.incidents))
	for id, inc := range ix.incidents {
		if coord != nil && radiusMeters > 0 && inc.Centroid != nil {
			if HaversineMeters(*coord, *inc.Centroid) > radiusMeters {
				continue
			}
		}
		eligible[id] = struct{}{}
	}
	return eligible
}
