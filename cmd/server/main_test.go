package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/internal/cache"
	"github.com/jaewoo-shin/civicdedup/internal/store"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }
func (s *testStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *testStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *testStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *testStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (s *testStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }
func (s *testStore) CreateComplaint(_ context.Context, _ *models.Complaint) error { return nil }
func (s *testStore) GetComplaint(_ context.Context, _ uuid.UUID) (*models.Complaint, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListComplaintsByIncident(_ context.Context, _ uuid.UUID) ([]models.Complaint, error) {
	return nil, nil
}
func (s *testStore) InsertNormalization(_ context.Context, _ *models.Normalization) error {
	return nil
}
func (s *testStore) IsCurrentNormalization(_ context.Context, _ uuid.UUID, _ uuid.UUID) (bool, error) {
	return false, nil
}
func (s *testStore) FetchCurrentNormalizations(_ context.Context, _ store.NormalizationFilter) ([]store.NormalizationEntry, error) {
	return nil, nil
}
func (s *testStore) FetchOpenIncidents(_ context.Context, _ store.IncidentFilter) ([]models.Incident, error) {
	return nil, nil
}
func (s *testStore) GetIncident(_ context.Context, _ uuid.UUID) (*models.Incident, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListIncidents(_ context.Context, _ store.IncidentListFilter) ([]models.Incident, int, error) {
	return nil, 0, nil
}
func (s *testStore) CommitLink(_ context.Context, _ store.CommitLinkParams) (*models.Incident, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) CommitNewIncident(_ context.Context, _ store.CommitIncidentParams) (*models.Incident, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) CloseIncident(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return store.ErrNotFound
}

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *testCache) Ping(_ context.Context) error                                     { return c.pingErr }
func (c *testCache) SetIncident(_ context.Context, _ *models.Incident, _ time.Duration) error {
	return nil
}
func (c *testCache) GetIncident(_ context.Context, _ uuid.UUID) (*models.Incident, bool, error) {
	return nil, false, nil
}
func (c *testCache) InvalidateIncident(_ context.Context, _ uuid.UUID) error { return nil }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	h := healthHandler(
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
