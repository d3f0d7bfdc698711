package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/similarity"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// LinkResult is the outcome of one linkComplaint call.
type LinkResult struct {
	Linked     bool       `json:"linked"`
	IncidentID *uuid.UUID `json:"incident_id,omitempty"`
	Score      *float64   `json:"score,omitempty"`
	Outcome    Outcome    `json:"outcome"`
}

// Coordinator serializes clustering commits so that two near-simultaneous
// near-duplicates cannot each spawn their own incident for the same event.
// Candidate selection runs unlocked; only the final re-check and commit hold
// a critical section: per-incident for attaches, a short-lived global one for
// creates.
type Coordinator struct {
	storage Storage
	cfg     Config
	engine  *engine

	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	createMu sync.Mutex
}

// NewCoordinator creates a Coordinator over the given storage collaborator.
func NewCoordinator(storage Storage, cfg Config) *Coordinator {
	return &Coordinator{
		storage: storage,
		cfg:     cfg,
		engine:  &engine{storage: storage, cfg: cfg},
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// ValidateNormalization checks a normalization against the engine's input
// contract without persisting or ranking anything. Callers use it to reject
// bad input before writing the record.
func (c *Coordinator) ValidateNormalization(norm *models.Normalization) error {
	return c.engine.validate(norm)
}

// LinkComplaint runs the full dedup/clustering transaction for one completed
// normalization: rank, decide, re-check under the critical section, commit.
// It is idempotent: resubmitting a normalization for an already linked
// complaint returns the existing link without touching aggregates. A stale
// normalization is dropped silently with Linked=false.
func (c *Coordinator) LinkComplaint(ctx context.Context, complaintID uuid.UUID, norm *models.Normalization) (*LinkResult, error) {
	if err := c.engine.validate(norm); err != nil {
		return nil, err
	}

	complaint, err := c.storage.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	if complaint.Linked() {
		return existingLink(complaint), nil
	}

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		dec, err := c.engine.decide(ctx, complaint, norm)
		if err != nil {
			return nil, err
		}

		var res *LinkResult
		switch dec.Outcome {
		case OutcomeRejected:
			// Not a failure: most complaints stand alone.
			return &LinkResult{Linked: false, Outcome: OutcomeRejected}, nil
		case OutcomeAttached:
			res, err = c.commitAttach(ctx, complaint, norm, dec)
		case OutcomeCreated:
			res, err = c.commitCreate(ctx, complaint, norm, dec)
		}
		if errors.Is(err, errConflict) {
			slog.Debug("clustering decision restarted",
				"complaint_id", complaintID, "attempt", attempt+1)
			continue
		}
		return res, err
	}

	return nil, fmt.Errorf("%w: complaint %s", ErrDeferred, complaintID)
}

// CloseIncident marks an incident closed. Invoked by external workflow, never
// by the engine itself; members keep their links.
func (c *Coordinator) CloseIncident(ctx context.Context, incidentID uuid.UUID) error {
	mu := c.lockFor(incidentID)
	mu.Lock()
	defer mu.Unlock()
	return c.storage.CloseIncident(ctx, incidentID, time.Now().UTC())
}

// commitAttach re-checks the chosen incident under its critical section and
// applies the link plus aggregate update in one storage transaction.
func (c *Coordinator) commitAttach(ctx context.Context, complaint *models.Complaint, norm *models.Normalization, dec *decision) (*LinkResult, error) {
	mu := c.lockFor(dec.IncidentID)
	mu.Lock()
	defer mu.Unlock()

	if res, err := c.dropIfStale(ctx, complaint.ID, norm.ID); res != nil || err != nil {
		return res, err
	}

	// Re-fetch under the lock: the incident may have been closed, or grown,
	// since candidate selection. Growth only refreshes the aggregates we
	// compute from; a closed incident restarts the decision.
	inc, err := c.storage.GetIncident(ctx, dec.IncidentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errConflict
		}
		return nil, fmt.Errorf("recheck incident: %w", err)
	}
	if !inc.Open() {
		return nil, errConflict
	}

	memberCount, geoCount, centroid := attachAggregates(inc, effectiveCoordinate(complaint, norm))
	updated, err := c.storage.CommitLink(ctx, store.CommitLinkParams{
		ComplaintID: complaint.ID,
		IncidentID:  inc.ID,
		Score:       similarity.Round4(dec.Score),
		LinkedAt:    time.Now().UTC(),
		MemberCount: memberCount,
		GeoCount:    geoCount,
		Centroid:    centroid,
	})
	switch {
	case errors.Is(err, store.ErrAlreadyLinked):
		return c.resolveExistingLink(ctx, complaint.ID)
	case errors.Is(err, store.ErrIncidentNotOpen):
		return nil, errConflict
	case err != nil:
		// Commit failed before persistence: no partial aggregate mutation is
		// visible and the complaint stays unlinked for retry.
		return nil, fmt.Errorf("commit link: %w", err)
	}

	score := similarity.Round4(dec.Score)
	slog.Info("complaint attached to incident",
		"complaint_id", complaint.ID,
		"incident_id", updated.ID,
		"score", score,
		"member_count", updated.MemberCount,
		"major", updated.Major(c.cfg.MajorMemberCount))
	return &LinkResult{Linked: true, IncidentID: &updated.ID, Score: &score, Outcome: OutcomeAttached}, nil
}

// commitCreate holds the global create section, verifies no qualifying
// incident appeared since candidate selection, and seeds a new incident with
// this complaint as its first member.
func (c *Coordinator) commitCreate(ctx context.Context, complaint *models.Complaint, norm *models.Normalization, dec *decision) (*LinkResult, error) {
	c.createMu.Lock()
	defer c.createMu.Unlock()

	if res, err := c.dropIfStale(ctx, complaint.ID, norm.ID); res != nil || err != nil {
		return res, err
	}

	// An incident created by a concurrent submission would not have been in
	// this decision's snapshot; restart so the complaint can consider it.
	var openedAfter time.Time
	if c.cfg.IncidentHorizon > 0 {
		openedAfter = time.Now().UTC().Add(-c.cfg.IncidentHorizon)
	}
	open, err := c.storage.FetchOpenIncidents(ctx, store.IncidentFilter{OpenedAfter: openedAfter})
	if err != nil {
		return nil, fmt.Errorf("recheck open incidents: %w", err)
	}
	for i := range open {
		if _, seen := dec.seen[open[i].ID]; !seen {
			return nil, errConflict
		}
	}

	updated, err := c.storage.CommitNewIncident(ctx, store.CommitIncidentParams{
		SeedComplaintID: complaint.ID,
		Title:           seedTitle(complaint),
		Centroid:        effectiveCoordinate(complaint, norm),
		Score:           similarity.Round4(dec.Score),
		LinkedAt:        time.Now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrAlreadyLinked):
		return c.resolveExistingLink(ctx, complaint.ID)
	case err != nil:
		return nil, fmt.Errorf("commit new incident: %w", err)
	}

	score := similarity.Round4(dec.Score)
	slog.Info("incident created from complaint",
		"complaint_id", complaint.ID,
		"incident_id", updated.ID,
		"score", score)
	return &LinkResult{Linked: true, IncidentID: &updated.ID, Score: &score, Outcome: OutcomeCreated}, nil
}

// dropIfStale discards the in-flight decision when the normalization has been
// superseded. Not an error: a newer attempt is already in flight or done.
func (c *Coordinator) dropIfStale(ctx context.Context, complaintID, normalizationID uuid.UUID) (*LinkResult, error) {
	current, err := c.storage.IsCurrentNormalization(ctx, complaintID, normalizationID)
	if err != nil {
		return nil, fmt.Errorf("recheck normalization currency: %w", err)
	}
	if current {
		return nil, nil
	}
	slog.Debug("stale normalization dropped",
		"complaint_id", complaintID, "normalization_id", normalizationID)
	return &LinkResult{Linked: false, Outcome: OutcomeStale}, nil
}

// resolveExistingLink reports an already linked complaint as idempotent success.
func (c *Coordinator) resolveExistingLink(ctx context.Context, complaintID uuid.UUID) (*LinkResult, error) {
	complaint, err := c.storage.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, fmt.Errorf("resolve existing link: %w", err)
	}
	if !complaint.Linked() {
		return nil, errConflict
	}
	return existingLink(complaint), nil
}

func existingLink(c *models.Complaint) *LinkResult {
	return &LinkResult{
		Linked:     true,
		IncidentID: c.IncidentID,
		Score:      c.IncidentLinkScore,
		Outcome:    OutcomeAttached,
	}
}

// lockFor returns the advisory mutex for one incident. Entries are never
// evicted; the table stays proportional to the set of incidents this process
// has contended on.
func (c *Coordinator) lockFor(id uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[id] = mu
	}
	return mu
}
