package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	ComplaintStatusReceived = "received"
	ComplaintStatusRouted   = "routed"
	ComplaintStatusAnswered = "answered"
	ComplaintStatusClosed   = "closed"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is a well-formed WGS84 coordinate.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Complaint is a single citizen report. Complaints are created once on intake
// and mutated only to set their incident link or transition status; they are
// never deleted. A nil IncidentID implies a nil IncidentLinkScore, and a
// non-nil link always carries a score in [0,1] rounded to 4 decimals.
type Complaint struct {
	ID                uuid.UUID   `db:"id"                  json:"id"`
	ReceivedAt        time.Time   `db:"received_at"         json:"received_at"`
	Title             string      `db:"title"               json:"title"`
	Body              string      `db:"body"                json:"body"`
	AddressText       string      `db:"address_text"        json:"address_text,omitempty"`
	Coordinate        *Coordinate `db:"-"                   json:"coordinate,omitempty"`
	Urgency           Urgency     `db:"urgency"             json:"urgency"`
	Status            string      `db:"status"              json:"status"`
	IncidentID        *uuid.UUID  `db:"incident_id"         json:"incident_id,omitempty"`
	IncidentLinkedAt  *time.Time  `db:"incident_linked_at"  json:"incident_linked_at,omitempty"`
	IncidentLinkScore *float64    `db:"incident_link_score" json:"incident_link_score,omitempty"`
	CreatedAt         time.Time   `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"          json:"updated_at"`
	ClosedAt          *time.Time  `db:"closed_at"           json:"closed_at,omitempty"`
}

// Linked reports whether the complaint has been folded into an incident.
func (c *Complaint) Linked() bool {
	return c.IncidentID != nil
}
