package docs

import "errors"

// Error taxonomy shared across the index manager, retriever and vector
// client. Collaborator failures are wrapped into one of these sentinels so
// callers depend on a stable surface rather than raw backend errors.
var (
	// ErrInvalidConfig marks invalid or missing configuration and caller
	// input: bad strategy names, non-positive top_k, fetch_k below top_k,
	// empty session ids. Never retried.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBackendUnavailable marks embedding or storage calls that could not
	// be completed. Recoverable by caller-directed retry; the core itself
	// does not retry.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
