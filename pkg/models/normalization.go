package models

import (
	"time"

	"github.com/google/uuid"
)

// Normalization is a versioned analysis record for a complaint: the semantic
// embedding plus extracted summary fields produced by the upstream pipeline.
// Reprocessing a complaint appends a new record and flips the previous one's
// is_current flag in the same transaction, so at most one record per complaint
// is current at any time. Only current records participate in similarity search.
type Normalization struct {
	ID           uuid.UUID   `db:"id"            json:"id"`
	ComplaintID  uuid.UUID   `db:"complaint_id"  json:"complaint_id"`
	Embedding    []float64   `db:"embedding"     json:"embedding"`
	Summary      string      `db:"summary"       json:"summary,omitempty"`
	LocationHint string      `db:"location_hint" json:"location_hint,omitempty"`
	Coordinate   *Coordinate `db:"-"             json:"coordinate,omitempty"`
	IsCurrent    bool        `db:"is_current"    json:"is_current"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
}
