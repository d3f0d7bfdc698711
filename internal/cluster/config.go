package cluster

import "time"

// Config holds the clustering policy. All thresholds are inclusive and applied
// to scores rounded to 4 decimal places.
type Config struct {
	// EmbeddingDim is the required dimensionality of incoming embeddings.
	EmbeddingDim int
	// AttachThreshold is the minimum per-incident aggregate similarity to fold
	// a complaint into an existing incident.
	AttachThreshold float64
	// SeedThreshold is the minimum top similarity against any existing
	// complaint for a non-matching complaint to seed a new incident.
	SeedThreshold float64
	// GeoRadiusMeters bounds the centroid distance for geographic candidate
	// incidents when the complaint carries a coordinate.
	GeoRadiusMeters float64
	// IncidentHorizon excludes incidents opened longer ago than this from
	// candidate selection. Zero disables the horizon.
	IncidentHorizon time.Duration
	// CandidateLimit caps the ranked candidate list per decision.
	CandidateLimit int
	// MajorMemberCount is the member count at which an incident reads as major.
	MajorMemberCount int
	// MaxRetries bounds decision restarts after concurrent state changes.
	MaxRetries int
}

// DefaultConfig returns the policy defaults. The similarity, radius, and
// horizon values follow the operational settings of the upstream batch
// clusterer; all of them are meant to be tuned per deployment.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:     768,
		AttachThreshold:  0.80,
		SeedThreshold:    0.60,
		GeoRadiusMeters:  200,
		IncidentHorizon:  7 * 24 * time.Hour,
		CandidateLimit:   50,
		MajorMemberCount: 5,
		MaxRetries:       3,
	}
}
