package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/api/response"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

const maxBodyBytes = 1 << 20

// NewCreateComplaintHandler returns an http.HandlerFunc for POST /api/v1/complaints.
// Intake only records the complaint; clustering happens later, when a
// normalization arrives.
func NewCreateComplaintHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title       string             `json:"title"`
			Body        string             `json:"body"`
			AddressText string             `json:"address_text"`
			Coordinate  *models.Coordinate `json:"coordinate"`
			Urgency     string             `json:"urgency"`
			ReceivedAt  string             `json:"received_at"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Title == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
			return
		}
		if req.Body == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "body is required", nil)
			return
		}
		if req.Coordinate != nil && !req.Coordinate.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"coordinate must be a valid WGS84 point", nil)
			return
		}

		urgency := models.Urgency(req.Urgency)
		if req.Urgency == "" {
			urgency = models.UrgencyMedium
		}
		if !urgency.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"urgency must be one of low, medium, high, critical", nil)
			return
		}

		receivedAt := time.Now().UTC()
		if req.ReceivedAt != "" {
			t, err := time.Parse(time.RFC3339, req.ReceivedAt)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"received_at must be a valid RFC3339 timestamp", nil)
				return
			}
			receivedAt = t.UTC()
		}

		now := time.Now().UTC()
		complaint := &models.Complaint{
			ID:          uuid.New(),
			ReceivedAt:  receivedAt,
			Title:       req.Title,
			Body:        req.Body,
			AddressText: req.AddressText,
			Coordinate:  req.Coordinate,
			Urgency:     urgency,
			Status:      models.ComplaintStatusReceived,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := s.CreateComplaint(r.Context(), complaint); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create complaint", nil)
			return
		}

		response.Created(w, complaint)
	}
}

// NewGetComplaintHandler returns an http.HandlerFunc for GET /api/v1/complaints/{complaintID}.
func NewGetComplaintHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "complaintID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"complaintID must be a valid UUID", nil)
			return
		}

		complaint, err := s.GetComplaint(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.NotFound(w, "Complaint not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch complaint", nil)
			return
		}

		response.JSON(w, complaint)
	}
}
