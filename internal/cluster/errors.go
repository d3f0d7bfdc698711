package cluster

import "errors"

var (
	// ErrInvalidInput marks a rejected normalization: zero or wrong-dimension
	// embedding, or a malformed coordinate. Retryable after re-normalization;
	// never fatal to the ingestion pipeline.
	ErrInvalidInput = errors.New("invalid clustering input")

	// ErrDeferred is returned when the bounded conflict-retry budget is
	// exhausted. The complaint stays unlinked and should be resubmitted later.
	ErrDeferred = errors.New("clustering deferred after repeated conflicts")

	// errConflict signals that the world changed between candidate selection
	// and commit; the coordinator restarts the decision against fresh state.
	errConflict = errors.New("concurrent state change")
)
