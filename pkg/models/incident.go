package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	IncidentStatusOpen   = "open"
	IncidentStatusClosed = "closed"
)

// Incident is a persistent cluster of complaints believed to describe the same
// real-world event. Membership is owned by the complaint side (incident_id
// foreign key); MemberCount and Centroid are maintained summaries, not sources
// of truth. The centroid is the running mean coordinate of geo-tagged members
// and is nil while the incident has none.
type Incident struct {
	ID          uuid.UUID   `db:"id"           json:"id"`
	Title       string      `db:"title"        json:"title"`
	Status      string      `db:"status"       json:"status"`
	Centroid    *Coordinate `db:"-"            json:"centroid,omitempty"`
	MemberCount int         `db:"member_count" json:"member_count"`
	// GeoCount is the number of members that carried a coordinate. The
	// centroid is the running mean over exactly these members.
	GeoCount  int        `db:"geo_member_count" json:"geo_member_count"`
	OpenedAt  time.Time  `db:"opened_at"        json:"opened_at"`
	ClosedAt  *time.Time `db:"closed_at"        json:"closed_at,omitempty"`
	CreatedAt time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"       json:"updated_at"`
}

// Open reports whether the incident can still absorb new complaints.
func (i *Incident) Open() bool {
	return i.Status == IncidentStatusOpen
}

// Major reports whether the incident qualifies as major. This is a read-time
// predicate over the member count, never a stored state, so it cannot drift
// from the count it is derived from.
func (i *Incident) Major(minMembers int) bool {
	return i.MemberCount >= minMembers
}
