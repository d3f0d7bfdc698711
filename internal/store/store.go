package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrAlreadyLinked is returned by CommitLink and CommitNewIncident when the
	// complaint already carries an incident link. The caller treats a link to
	// the same incident as idempotent success.
	ErrAlreadyLinked = errors.New("complaint already linked to an incident")
	// ErrIncidentNotOpen is returned when a commit targets an incident that was
	// closed (or removed) after candidate selection.
	ErrIncidentNotOpen = errors.New("incident is not open")
)

// NormalizationEntry is a joined row used for similarity ranking: the current
// normalization of a complaint plus the link state of its owner.
type NormalizationEntry struct {
	ComplaintID     uuid.UUID
	NormalizationID uuid.UUID
	IncidentID      *uuid.UUID
	Vector          []float64
	Coordinate      *models.Coordinate
	ReceivedAt      time.Time
}

// NormalizationFilter restricts FetchCurrentNormalizations.
type NormalizationFilter struct {
	// ExcludeComplaint drops the complaint currently being clustered from the pool.
	ExcludeComplaint uuid.UUID
	// LinkedOnly keeps only complaints that already belong to an incident.
	LinkedOnly bool
}

// IncidentFilter restricts FetchOpenIncidents.
type IncidentFilter struct {
	// OpenedAfter excludes incidents opened before this instant. Zero means no horizon.
	OpenedAfter time.Time
}

// IncidentListFilter drives the read-side incident listing.
type IncidentListFilter struct {
	Status string
	// MinMembers keeps only incidents with at least this many members
	// (the major-incident listing sets this; 0 disables the filter).
	MinMembers int
	Page       int
	Limit      int
}

// CommitLinkParams carries a fully decided attach: the complaint link fields
// plus the recomputed incident aggregates, applied in one transaction.
type CommitLinkParams struct {
	ComplaintID uuid.UUID
	IncidentID  uuid.UUID
	Score       float64
	LinkedAt    time.Time
	MemberCount int
	GeoCount    int
	Centroid    *models.Coordinate
}

// CommitIncidentParams seeds a new incident from its first complaint.
type CommitIncidentParams struct {
	SeedComplaintID uuid.UUID
	Title           string
	Centroid        *models.Coordinate
	Score           float64
	LinkedAt        time.Time
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error)
	ListComplaintsByIncident(ctx context.Context, incidentID uuid.UUID) ([]models.Complaint, error)

	// InsertNormalization appends a new normalization record and flips the
	// previous current record's flag in the same transaction, so at most one
	// record per complaint is ever current.
	InsertNormalization(ctx context.Context, n *models.Normalization) error
	IsCurrentNormalization(ctx context.Context, complaintID, normalizationID uuid.UUID) (bool, error)
	FetchCurrentNormalizations(ctx context.Context, f NormalizationFilter) ([]NormalizationEntry, error)

	FetchOpenIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, f IncidentListFilter) ([]models.Incident, int, error)

	// CommitLink and CommitNewIncident are atomic with respect to concurrent
	// readers: no reader observes a complaint link without the matching
	// incident aggregates, or vice versa.
	CommitLink(ctx context.Context, p CommitLinkParams) (*models.Incident, error)
	CommitNewIncident(ctx context.Context, p CommitIncidentParams) (*models.Incident, error)
	CloseIncident(ctx context.Context, id uuid.UUID, closedAt time.Time) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}
