package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/similarity"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// Outcome is the terminal state of a clustering decision.
type Outcome string

const (
	OutcomeAttached Outcome = "attached"
	OutcomeCreated  Outcome = "created"
	OutcomeRejected Outcome = "rejected"
	// OutcomeStale marks a decision discarded because the normalization was
	// superseded mid-flight. Not an engine state; reported for observability.
	OutcomeStale Outcome = "stale"
)

// Storage is the slice of the store the engine consumes.
type Storage interface {
	GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error)
	FetchCurrentNormalizations(ctx context.Context, f store.NormalizationFilter) ([]store.NormalizationEntry, error)
	FetchOpenIncidents(ctx context.Context, f store.IncidentFilter) ([]models.Incident, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	IsCurrentNormalization(ctx context.Context, complaintID, normalizationID uuid.UUID) (bool, error)
	CommitLink(ctx context.Context, p store.CommitLinkParams) (*models.Incident, error)
	CommitNewIncident(ctx context.Context, p store.CommitIncidentParams) (*models.Incident, error)
	CloseIncident(ctx context.Context, id uuid.UUID, closedAt time.Time) error
}

// decision is one resolved pass of the attach/create/reject state machine,
// together with the incident snapshot it was decided against.
type decision struct {
	Outcome    Outcome
	IncidentID uuid.UUID // attach target, zero otherwise
	Score      float64   // linking score for attach/create
	seen       map[uuid.UUID]struct{}
}

// engine runs candidate selection. It performs no locking and no commits;
// the Coordinator owns both.
type engine struct {
	storage Storage
	cfg     Config
}

// validate rejects contract-violating input before any ranking happens.
func (e *engine) validate(norm *models.Normalization) error {
	if e.cfg.EmbeddingDim > 0 && len(norm.Embedding) != e.cfg.EmbeddingDim {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d",
			ErrInvalidInput, len(norm.Embedding), e.cfg.EmbeddingDim)
	}
	var mag float64
	for _, v := range norm.Embedding {
		mag += v * v
	}
	if mag == 0 {
		return fmt.Errorf("%w: zero-magnitude embedding", ErrInvalidInput)
	}
	if !validCoordinate(norm.Coordinate) {
		return fmt.Errorf("%w: malformed coordinate", ErrInvalidInput)
	}
	return nil
}

// decide ranks the complaint against current normalizations and open
// incidents, then resolves attach / create / reject.
func (e *engine) decide(ctx context.Context, complaint *models.Complaint, norm *models.Normalization) (*decision, error) {
	now := time.Now().UTC()
	coord := effectiveCoordinate(complaint, norm)
	// The intake coordinate is part of the effective input; a malformed one
	// would poison the centroid of whatever incident this complaint joins.
	if !validCoordinate(coord) {
		return nil, fmt.Errorf("%w: malformed complaint coordinate", ErrInvalidInput)
	}

	entries, err := e.storage.FetchCurrentNormalizations(ctx, store.NormalizationFilter{
		ExcludeComplaint: complaint.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch current normalizations: %w", err)
	}

	var openedAfter time.Time
	if e.cfg.IncidentHorizon > 0 {
		openedAfter = now.Add(-e.cfg.IncidentHorizon)
	}
	open, err := e.storage.FetchOpenIncidents(ctx, store.IncidentFilter{OpenedAfter: openedAfter})
	if err != nil {
		return nil, fmt.Errorf("fetch open incidents: %w", err)
	}
	idx := NewIncidentIndex(open, e.cfg.IncidentHorizon, now)

	// First report on an empty file seeds an incident by itself.
	if len(entries) == 0 {
		return &decision{Outcome: OutcomeCreated, Score: 1, seen: idx.IDs()}, nil
	}

	ranked, err := similarity.Rank(norm.Embedding, toRankEntries(entries), e.cfg.CandidateLimit)
	if err != nil {
		if errors.Is(err, similarity.ErrZeroVector) || errors.Is(err, similarity.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("rank candidates: %w", err)
	}

	var topScore float64
	if len(ranked) > 0 {
		topScore = ranked[0].Score
	}

	// Aggregate per incident the max similarity among its matched members,
	// restricted to incidents passing the geographic pre-filter.
	eligible := idx.Eligible(coord, e.cfg.GeoRadiusMeters)

	// On equal scores the incident with the nearest centroid wins the attach.
	var distRank map[uuid.UUID]int
	if coord != nil {
		nearest := idx.Nearest(*coord, 0)
		distRank = make(map[uuid.UUID]int, len(nearest))
		for i, d := range nearest {
			distRank[d.IncidentID] = i
		}
	}
	closer := func(a, b uuid.UUID) bool {
		ra, aok := distRank[a]
		rb, bok := distRank[b]
		return aok && (!bok || ra < rb)
	}

	var (
		bestID    uuid.UUID
		bestScore float64
		haveBest  bool
	)
	for _, cand := range ranked {
		if cand.IncidentID == nil {
			continue
		}
		if _, ok := eligible[*cand.IncidentID]; !ok {
			continue
		}
		// ranked is ordered by score desc, so the first hit per incident is
		// its max.
		if !haveBest || cand.Score > bestScore ||
			(cand.Score == bestScore && *cand.IncidentID != bestID && closer(*cand.IncidentID, bestID)) {
			bestID = *cand.IncidentID
			bestScore = cand.Score
			haveBest = true
		}
	}

	switch {
	case haveBest && bestScore >= e.cfg.AttachThreshold:
		return &decision{Outcome: OutcomeAttached, IncidentID: bestID, Score: bestScore, seen: idx.IDs()}, nil
	case topScore >= e.cfg.SeedThreshold:
		return &decision{Outcome: OutcomeCreated, Score: topScore, seen: idx.IDs()}, nil
	default:
		// The expected outcome for most complaints.
		return &decision{Outcome: OutcomeRejected, Score: topScore, seen: idx.IDs()}, nil
	}
}

// effectiveCoordinate prefers the normalization's location hint over the
// intake coordinate; either may be nil.
func effectiveCoordinate(c *models.Complaint, n *models.Normalization) *models.Coordinate {
	if n.Coordinate != nil {
		return n.Coordinate
	}
	return c.Coordinate
}

func toRankEntries(entries []store.NormalizationEntry) []similarity.Entry {
	out := make([]similarity.Entry, len(entries))
	for i, e := range entries {
		out[i] = similarity.Entry{
			ComplaintID: e.ComplaintID,
			IncidentID:  e.IncidentID,
			Vector:      e.Vector,
			ReceivedAt:  e.ReceivedAt,
		}
	}
	return out
}
