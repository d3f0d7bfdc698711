package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Complaints ---

func (s *PostgresStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	lat, lon := splitCoordinate(c.Coordinate)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO complaints (id, received_at, title, body, address_text, lat, lon, urgency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ReceivedAt, c.Title, c.Body, c.AddressText, lat, lon, c.Urgency, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create complaint: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	var (
		c        models.Complaint
		lat, lon *float64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, received_at, title, body, address_text, lat, lon, urgency, status,
		        incident_id, incident_linked_at, incident_link_score, created_at, updated_at, closed_at
		 FROM complaints WHERE id = $1`, id,
	).Scan(&c.ID, &c.ReceivedAt, &c.Title, &c.Body, &c.AddressText, &lat, &lon, &c.Urgency, &c.Status,
		&c.IncidentID, &c.IncidentLinkedAt, &c.IncidentLinkScore, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	c.Coordinate = joinCoordinate(lat, lon)
	return &c, nil
}

// ListComplaintsByIncident returns the member complaints of an incident in
// intake order. Callers own any further ordering.
func (s *PostgresStore) ListComplaintsByIncident(ctx context.Context, incidentID uuid.UUID) ([]models.Complaint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, received_at, title, body, address_text, lat, lon, urgency, status,
		        incident_id, incident_linked_at, incident_link_score, created_at, updated_at, closed_at
		 FROM complaints WHERE incident_id = $1 ORDER BY received_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list complaints by incident: %w", err)
	}
	defer rows.Close()

	var complaints []models.Complaint
	for rows.Next() {
		var (
			c        models.Complaint
			lat, lon *float64
		)
		if err := rows.Scan(&c.ID, &c.ReceivedAt, &c.Title, &c.Body, &c.AddressText, &lat, &lon,
			&c.Urgency, &c.Status, &c.IncidentID, &c.IncidentLinkedAt, &c.IncidentLinkScore,
			&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		c.Coordinate = joinCoordinate(lat, lon)
		complaints = append(complaints, c)
	}
	return complaints, rows.Err()
}

// --- Normalizations ---

// InsertNormalization flips the previous current record and appends the new
// one in a single transaction, so no complaint ever has two current records.
func (s *PostgresStore) InsertNormalization(ctx context.Context, n *models.Normalization) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert normalization: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE complaint_normalizations SET is_current = FALSE
		 WHERE complaint_id = $1 AND is_current`, n.ComplaintID); err != nil {
		return fmt.Errorf("retire previous normalization: %w", err)
	}

	lat, lon := splitCoordinate(n.Coordinate)
	if _, err := tx.Exec(ctx,
		`INSERT INTO complaint_normalizations (id, complaint_id, embedding, summary, location_hint, lat, lon, is_current, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)`,
		n.ID, n.ComplaintID, n.Embedding, n.Summary, n.LocationHint, lat, lon, n.CreatedAt); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert normalization: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert normalization: %w", err)
	}
	n.IsCurrent = true
	return nil
}

func (s *PostgresStore) IsCurrentNormalization(ctx context.Context, complaintID, normalizationID uuid.UUID) (bool, error) {
	var current bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_current FROM complaint_normalizations WHERE id = $1 AND complaint_id = $2`,
		normalizationID, complaintID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check normalization currency: %w", err)
	}
	return current, nil
}

func (s *PostgresStore) FetchCurrentNormalizations(ctx context.Context, f NormalizationFilter) ([]NormalizationEntry, error) {
	conditions := []string{"n.is_current"}
	args := []any{}
	argIdx := 1

	if f.ExcludeComplaint != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("c.id <> $%d", argIdx))
		args = append(args, f.ExcludeComplaint)
		argIdx++
	}
	if f.LinkedOnly {
		conditions = append(conditions, "c.incident_id IS NOT NULL")
	}

	query := `SELECT n.complaint_id, n.id, c.incident_id, n.embedding,
	                 COALESCE(n.lat, c.lat), COALESCE(n.lon, c.lon), c.received_at
	          FROM complaint_normalizations n
	          JOIN complaints c ON c.id = n.complaint_id
	          WHERE ` + strings.Join(conditions, " AND ")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch current normalizations: %w", err)
	}
	defer rows.Close()

	var entries []NormalizationEntry
	for rows.Next() {
		var (
			e        NormalizationEntry
			lat, lon *float64
		)
		if err := rows.Scan(&e.ComplaintID, &e.NormalizationID, &e.IncidentID, &e.Vector,
			&lat, &lon, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan normalization entry: %w", err)
		}
		e.Coordinate = joinCoordinate(lat, lon)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Incidents ---

const incidentColumns = `id, title, status, centroid_lat, centroid_lon, member_count, geo_member_count,
	opened_at, closed_at, created_at, updated_at`

func scanIncident(row pgx.Row) (*models.Incident, error) {
	var (
		inc      models.Incident
		lat, lon *float64
	)
	err := row.Scan(&inc.ID, &inc.Title, &inc.Status, &lat, &lon, &inc.MemberCount, &inc.GeoCount,
		&inc.OpenedAt, &inc.ClosedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inc.Centroid = joinCoordinate(lat, lon)
	return &inc, nil
}

func (s *PostgresStore) FetchOpenIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status = 'open'`
	args := []any{}
	if !f.OpenedAfter.IsZero() {
		query += ` AND opened_at >= $1`
		args = append(args, f.OpenedAfter)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch open incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

func (s *PostgresStore) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, f IncidentListFilter) ([]models.Incident, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}
	if f.MinMembers > 0 {
		conditions = append(conditions, fmt.Sprintf("member_count >= $%d", argIdx))
		args = append(args, f.MinMembers)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM incidents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT `+incidentColumns+` FROM incidents WHERE %s
		ORDER BY opened_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, total, rows.Err()
}

// CommitLink applies an attach decision atomically: the complaint's link
// fields and the incident's aggregates change together or not at all. The
// link update is guarded by incident_id IS NULL, so a retried request can
// never double-increment the member count.
func (s *PostgresStore) CommitLink(ctx context.Context, p CommitLinkParams) (*models.Incident, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit link: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE complaints
		 SET incident_id = $2, incident_linked_at = $3, incident_link_score = $4, updated_at = NOW()
		 WHERE id = $1 AND incident_id IS NULL`,
		p.ComplaintID, p.IncidentID, p.LinkedAt, p.Score)
	if err != nil {
		return nil, fmt.Errorf("link complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyLinked
	}

	lat, lon := splitCoordinate(p.Centroid)
	inc, err := scanIncident(tx.QueryRow(ctx,
		`UPDATE incidents
		 SET member_count = $2, geo_member_count = $3, centroid_lat = $4, centroid_lon = $5, updated_at = NOW()
		 WHERE id = $1 AND status = 'open'
		 RETURNING `+incidentColumns,
		p.IncidentID, p.MemberCount, p.GeoCount, lat, lon))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIncidentNotOpen
	}
	if err != nil {
		return nil, fmt.Errorf("update incident aggregates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit link: %w", err)
	}
	return inc, nil
}

// CommitNewIncident inserts the incident and links its seed complaint in one
// transaction. If the seed was linked concurrently the whole transaction
// rolls back and ErrAlreadyLinked is returned.
func (s *PostgresStore) CommitNewIncident(ctx context.Context, p CommitIncidentParams) (*models.Incident, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit incident: %w", err)
	}
	defer tx.Rollback(ctx)

	geoCount := 0
	if p.Centroid != nil {
		geoCount = 1
	}
	lat, lon := splitCoordinate(p.Centroid)
	inc, err := scanIncident(tx.QueryRow(ctx,
		`INSERT INTO incidents (id, title, status, centroid_lat, centroid_lon, member_count, geo_member_count, opened_at, created_at, updated_at)
		 VALUES ($1, $2, 'open', $3, $4, 1, $5, $6, NOW(), NOW())
		 RETURNING `+incidentColumns,
		uuid.New(), p.Title, lat, lon, geoCount, p.LinkedAt))
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE complaints
		 SET incident_id = $2, incident_linked_at = $3, incident_link_score = $4, updated_at = NOW()
		 WHERE id = $1 AND incident_id IS NULL`,
		p.SeedComplaintID, inc.ID, p.LinkedAt, p.Score)
	if err != nil {
		return nil, fmt.Errorf("link seed complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyLinked
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit new incident: %w", err)
	}
	return inc, nil
}

// CloseIncident sets closed_at and status. Members keep their links.
func (s *PostgresStore) CloseIncident(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = 'closed', closed_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'open'`, id, closedAt)
	if err != nil {
		return fmt.Errorf("close incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already closed.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("close incident: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrIncidentNotOpen
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- helpers ---

func splitCoordinate(c *models.Coordinate) (lat, lon *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Lat, &c.Lon
}

func joinCoordinate(lat, lon *float64) *models.Coordinate {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Coordinate{Lat: *lat, Lon: *lon}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
