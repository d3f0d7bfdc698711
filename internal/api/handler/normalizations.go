package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/api/response"
	"github.com/jaewoo-shin/civicdedup/internal/cache"
	"github.com/jaewoo-shin/civicdedup/internal/cluster"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// Linker is the clustering interface the handler depends on.
type Linker interface {
	ValidateNormalization(norm *models.Normalization) error
	LinkComplaint(ctx context.Context, complaintID uuid.UUID, norm *models.Normalization) (*cluster.LinkResult, error)
}

// NewSubmitNormalizationHandler returns an http.HandlerFunc for
// POST /api/v1/complaints/{complaintID}/normalizations. Submitting a
// normalization persists it as the complaint's current analysis record and
// runs the dedup/clustering decision in the same request.
func NewSubmitNormalizationHandler(s store.Store, linker Linker, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		complaintID, err := uuid.Parse(chi.URLParam(r, "complaintID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"complaintID must be a valid UUID", nil)
			return
		}

		var req struct {
			Embedding    []float64          `json:"embedding"`
			Summary      string             `json:"summary"`
			LocationHint string             `json:"location_hint"`
			Coordinate   *models.Coordinate `json:"coordinate"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		norm := &models.Normalization{
			ID:           uuid.New(),
			ComplaintID:  complaintID,
			Embedding:    req.Embedding,
			Summary:      req.Summary,
			LocationHint: req.LocationHint,
			Coordinate:   req.Coordinate,
			IsCurrent:    true,
			CreatedAt:    time.Now().UTC(),
		}

		// Reject contract-violating input before anything is written.
		if err := linker.ValidateNormalization(norm); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_NORMALIZATION", err.Error(), nil)
			return
		}

		if _, err := s.GetComplaint(r.Context(), complaintID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.NotFound(w, "Complaint not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch complaint", nil)
			return
		}

		if err := s.InsertNormalization(r.Context(), norm); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record normalization", nil)
			return
		}

		result, err := linker.LinkComplaint(r.Context(), complaintID, norm)
		if err != nil {
			switch {
			case errors.Is(err, cluster.ErrInvalidInput):
				response.Error(w, http.StatusBadRequest, "INVALID_NORMALIZATION", err.Error(), nil)
			case errors.Is(err, cluster.ErrDeferred):
				response.Error(w, http.StatusServiceUnavailable, "CLUSTERING_DEFERRED",
					"Clustering could not complete under contention; resubmit the normalization", nil)
			case errors.Is(err, store.ErrNotFound):
				response.NotFound(w, "Complaint not found")
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		if result.Linked && result.IncidentID != nil && c != nil {
			// Best effort: a stale snapshot expires on its own TTL anyway.
			_ = c.InvalidateIncident(r.Context(), *result.IncidentID)
		}

		response.JSON(w, linkResponse{
			NormalizationID: norm.ID,
			Linked:          result.Linked,
			IncidentID:      result.IncidentID,
			Score:           result.Score,
			Outcome:         string(result.Outcome),
		})
	}
}

type linkResponse struct {
	NormalizationID uuid.UUID  `json:"normalization_id"`
	Linked          bool       `json:"linked"`
	IncidentID      *uuid.UUID `json:"incident_id,omitempty"`
	Score           *float64   `json:"score,omitempty"`
	Outcome         string     `json:"outcome"`
}
