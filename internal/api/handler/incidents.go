package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/api/response"
	"github.com/jaewoo-shin/civicdedup/internal/cache"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	incidentCacheTTL = 30 * time.Second
)

// IncidentCloser closes an incident through the clustering coordinator so the
// transition serializes with in-flight attaches.
type IncidentCloser interface {
	CloseIncident(ctx context.Context, incidentID uuid.UUID) error
}

type incidentResponse struct {
	*models.Incident
	Major bool `json:"major"`
}

func toIncidentResponse(inc *models.Incident, majorMemberCount int) incidentResponse {
	return incidentResponse{Incident: inc, Major: inc.Major(majorMemberCount)}
}

// NewListIncidentsHandler returns an http.HandlerFunc for GET /api/v1/incidents.
// Supports status, major, page, and limit query parameters.
func NewListIncidentsHandler(s store.Store, majorMemberCount int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		status := q.Get("status")
		if status != "" && status != models.IncidentStatusOpen && status != models.IncidentStatusClosed {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be open or closed", nil)
			return
		}

		minMembers := 0
		if q.Get("major") == "true" {
			minMembers = majorMemberCount
		}

		page := parsePositiveInt(q.Get("page"), 1)
		limit := parsePositiveInt(q.Get("limit"), defaultPageLimit)
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		incidents, total, err := s.ListIncidents(r.Context(), store.IncidentListFilter{
			Status:     status,
			MinMembers: minMembers,
			Page:       page,
			Limit:      limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list incidents", nil)
			return
		}

		items := make([]incidentResponse, len(incidents))
		for i := range incidents {
			items[i] = toIncidentResponse(&incidents[i], majorMemberCount)
		}

		response.Collection(w, items, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetIncidentHandler returns an http.HandlerFunc for GET /api/v1/incidents/{incidentID}.
// Reads go through the cache; misses fall back to the store and repopulate it.
func NewGetIncidentHandler(s store.Store, c cache.Cache, majorMemberCount int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "incidentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"incidentID must be a valid UUID", nil)
			return
		}

		if c != nil {
			if cached, ok, err := c.GetIncident(r.Context(), id); err == nil && ok {
				response.JSON(w, toIncidentResponse(cached, majorMemberCount))
				return
			}
		}

		inc, err := s.GetIncident(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.NotFound(w, "Incident not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch incident", nil)
			return
		}

		if c != nil {
			_ = c.SetIncident(r.Context(), inc, incidentCacheTTL)
		}

		response.JSON(w, toIncidentResponse(inc, majorMemberCount))
	}
}

// NewListIncidentMembersHandler returns an http.HandlerFunc for
// GET /api/v1/incidents/{incidentID}/complaints. Members are ordered most
// urgent first so triage reads top-down; ties keep intake order.
func NewListIncidentMembersHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "incidentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"incidentID must be a valid UUID", nil)
			return
		}

		if _, err := s.GetIncident(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.NotFound(w, "Incident not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch incident", nil)
			return
		}

		members, err := s.ListComplaintsByIncident(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list incident complaints", nil)
			return
		}

		sort.SliceStable(members, func(i, j int) bool {
			return models.CompareUrgency(members[i].Urgency, members[j].Urgency) > 0
		})

		response.JSON(w, members)
	}
}

// NewCloseIncidentHandler returns an http.HandlerFunc for POST /api/v1/incidents/{incidentID}/close.
// Closing is terminal; members keep their links and aggregates stop changing.
func NewCloseIncidentHandler(closer IncidentCloser, s store.Store, c cache.Cache, majorMemberCount int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "incidentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"incidentID must be a valid UUID", nil)
			return
		}

		if err := closer.CloseIncident(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.NotFound(w, "Incident not found")
			case errors.Is(err, store.ErrIncidentNotOpen):
				response.Error(w, http.StatusConflict, "INCIDENT_NOT_OPEN",
					"Incident is already closed", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to close incident", nil)
			}
			return
		}

		if c != nil {
			_ = c.InvalidateIncident(r.Context(), id)
		}

		inc, err := s.GetIncident(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Incident closed but could not be re-read", nil)
			return
		}

		response.JSON(w, toIncidentResponse(inc, majorMemberCount))
	}
}

func parsePositiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
