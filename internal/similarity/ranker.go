package similarity

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrZeroVector is returned for a zero-magnitude embedding. The caller must
	// reject the complaint for clustering rather than divide by zero.
	ErrZeroVector = errors.New("zero-magnitude embedding vector")
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Entry is one current normalization eligible for ranking.
type Entry struct {
	ComplaintID uuid.UUID
	IncidentID  *uuid.UUID // incident of the owning complaint, nil if unlinked
	Vector      []float64
	ReceivedAt  time.Time
}

// Candidate is a ranked match.
type Candidate struct {
	ComplaintID uuid.UUID
	IncidentID  *uuid.UUID
	Score       float64
	ReceivedAt  time.Time
}

// Cosine computes the cosine similarity between a and b. Values are reported
// raw, not clamped; normalized text embeddings land in [0,1] in practice.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Round4 rounds a score to 4 decimal places. All threshold comparisons and
// persisted link scores go through this so identical inputs cannot flap
// around a threshold between runs.
func Round4(s float64) float64 {
	return math.Round(s*10000) / 10000
}

// Rank scores query against every entry in pool and returns at most k
// candidates ordered by score descending. Equal scores break by most recent
// ReceivedAt, preferring newer evidence. Entries whose vectors do not match
// the query dimension are a contract violation and fail the whole call;
// a zero-magnitude query does the same.
func Rank(query []float64, pool []Entry, k int) ([]Candidate, error) {
	var qNorm float64
	for _, v := range query {
		qNorm += v * v
	}
	if qNorm == 0 {
		return nil, ErrZeroVector
	}

	candidates := make([]Candidate, 0, len(pool))
	for _, e := range pool {
		score, err := Cosine(query, e.Vector)
		if err != nil {
			if errors.Is(err, ErrZeroVector) {
				// A stored zero vector cannot match anything; skip it.
				continue
			}
			return nil, err
		}
		candidates = append(candidates, Candidate{
			ComplaintID: e.ComplaintID,
			IncidentID:  e.IncidentID,
			Score:       Round4(score),
			ReceivedAt:  e.ReceivedAt,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ReceivedAt.After(candidates[j].ReceivedAt)
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
