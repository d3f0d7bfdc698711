package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// memStore is an in-memory Storage used by engine and coordinator tests. It
// mirrors the transactional guarantees of the Postgres store: links are
// guarded against double-linking and commits update complaint and incident
// state together under one lock.
type memStore struct {
	mu          sync.Mutex
	complaints  map[uuid.UUID]*models.Complaint
	norms       map[uuid.UUID]*models.Normalization
	currentNorm map[uuid.UUID]uuid.UUID // complaint id -> current normalization id
	incidents   map[uuid.UUID]*models.Incident

	// onFetchOpen, when set, runs inside FetchOpenIncidents before the scan.
	// Tests use it to inject concurrent state changes.
	onFetchOpen func(s *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		complaints:  make(map[uuid.UUID]*models.Complaint),
		norms:       make(map[uuid.UUID]*models.Normalization),
		currentNorm: make(map[uuid.UUID]uuid.UUID),
		incidents:   make(map[uuid.UUID]*models.Incident),
	}
}

// addComplaint registers a complaint with a current normalization vector and
// returns the complaint. receivedAt breaks ranking ties, so tests set it.
func (s *memStore) addComplaint(title string, vector []float64, coord *models.Coordinate, receivedAt time.Time) *models.Complaint {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &models.Complaint{
		ID:         uuid.New(),
		ReceivedAt: receivedAt,
		Title:      title,
		Body:       "body of " + title,
		Coordinate: coord,
		Urgency:    models.UrgencyMedium,
		Status:     models.ComplaintStatusReceived,
	}
	s.complaints[c.ID] = c

	if vector != nil {
		n := &models.Normalization{
			ID:          uuid.New(),
			ComplaintID: c.ID,
			Embedding:   vector,
			Coordinate:  coord,
			IsCurrent:   true,
		}
		s.norms[n.ID] = n
		s.currentNorm[c.ID] = n.ID
	}
	return c
}

// addIncident registers an open incident directly, bypassing the engine.
func (s *memStore) addIncident(centroid *models.Coordinate, memberCount, geoCount int, openedAt time.Time) *models.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc := &models.Incident{
		ID:          uuid.New(),
		Title:       "Repeated reports: seeded",
		Status:      models.IncidentStatusOpen,
		Centroid:    centroid,
		MemberCount: memberCount,
		GeoCount:    geoCount,
		OpenedAt:    openedAt,
	}
	s.incidents[inc.ID] = inc
	return inc
}

// linkDirect marks a complaint as a member of an incident without going
// through the coordinator.
func (s *memStore) linkDirect(complaintID, incidentID uuid.UUID, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.complaints[complaintID]
	now := time.Now().UTC()
	c.IncidentID = &incidentID
	c.IncidentLinkedAt = &now
	c.IncidentLinkScore = &score
}

// currentNormalization returns a copy of the complaint's current record.
func (s *memStore) currentNormalization(complaintID uuid.UUID) *models.Normalization {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.norms[s.currentNorm[complaintID]]
	cp := *n
	return &cp
}

func (s *memStore) GetComplaint(_ context.Context, id uuid.UUID) (*models.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) FetchCurrentNormalizations(_ context.Context, f store.NormalizationFilter) ([]store.NormalizationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.NormalizationEntry
	for complaintID, normID := range s.currentNorm {
		if complaintID == f.ExcludeComplaint {
			continue
		}
		c := s.complaints[complaintID]
		if f.LinkedOnly && c.IncidentID == nil {
			continue
		}
		n := s.norms[normID]
		out = append(out, store.NormalizationEntry{
			ComplaintID:     complaintID,
			NormalizationID: normID,
			IncidentID:      c.IncidentID,
			Vector:          n.Embedding,
			Coordinate:      n.Coordinate,
			ReceivedAt:      c.ReceivedAt,
		})
	}
	return out, nil
}

func (s *memStore) FetchOpenIncidents(_ context.Context, f store.IncidentFilter) ([]models.Incident, error) {
	s.mu.Lock()
	if s.onFetchOpen != nil {
		s.onFetchOpen(s)
	}
	defer s.mu.Unlock()

	var out []models.Incident
	for _, inc := range s.incidents {
		if !inc.Open() {
			continue
		}
		if !f.OpenedAfter.IsZero() && inc.OpenedAt.Before(f.OpenedAfter) {
			continue
		}
		out = append(out, *inc)
	}
	return out, nil
}

func (s *memStore) GetIncident(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (s *memStore) IsCurrentNormalization(_ context.Context, complaintID, normalizationID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNorm[complaintID] == normalizationID, nil
}

func (s *memStore) CommitLink(_ context.Context, p store.CommitLinkParams) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.complaints[p.ComplaintID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.IncidentID != nil {
		return nil, store.ErrAlreadyLinked
	}
	inc, ok := s.incidents[p.IncidentID]
	if !ok || !inc.Open() {
		return nil, store.ErrIncidentNotOpen
	}

	c.IncidentID = &p.IncidentID
	c.IncidentLinkedAt = &p.LinkedAt
	score := p.Score
	c.IncidentLinkScore = &score

	inc.MemberCount = p.MemberCount
	inc.GeoCount = p.GeoCount
	inc.Centroid = p.Centroid

	cp := *inc
	return &cp, nil
}

func (s *memStore) CommitNewIncident(_ context.Context, p store.CommitIncidentParams) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.complaints[p.SeedComplaintID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.IncidentID != nil {
		return nil, store.ErrAlreadyLinked
	}

	geoCount := 0
	if p.Centroid != nil {
		geoCount = 1
	}
	inc := &models.Incident{
		ID:          uuid.New(),
		Title:       p.Title,
		Status:      models.IncidentStatusOpen,
		Centroid:    p.Centroid,
		MemberCount: 1,
		GeoCount:    geoCount,
		OpenedAt:    p.LinkedAt,
	}
	s.incidents[inc.ID] = inc

	c.IncidentID = &inc.ID
	c.IncidentLinkedAt = &p.LinkedAt
	score := p.Score
	c.IncidentLinkScore = &score

	cp := *inc
	return &cp, nil
}

func (s *memStore) CloseIncident(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return store.ErrNotFound
	}
	if !inc.Open() {
		return store.ErrIncidentNotOpen
	}
	inc.Status = models.IncidentStatusClosed
	inc.ClosedAt = &closedAt
	return nil
}

var _ Storage = (*memStore)(nil)
