package domain

import "errors"

// Failure taxonomy for a reconciliation run. Callers classify with errors.Is;
// lower layers wrap these with entity and table context.
var (
	// ErrSourceUnavailable means a snapshot could not be fully enumerated.
	// Retryable externally; the run ends FAILED.
	ErrSourceUnavailable = errors.New("snapshot source unavailable")

	// ErrSchemaMismatch means a table present in the reference store is
	// absent from the candidate. The candidate was built incorrectly; fatal,
	// operator intervention required.
	ErrSchemaMismatch = errors.New("snapshot schema mismatch")

	// ErrStaleChangeSet means a REMOVE or MODIFY target no longer exists in
	// production. Fatal for the run; safe to recompute and retry fresh.
	ErrStaleChangeSet = errors.New("change set is stale")

	// ErrDuplicateKey means a CREATE target already exists in production.
	ErrDuplicateKey = errors.New("duplicate entity key")

	// ErrRunAlreadyClosed means finish was called on a run that already
	// reached a terminal status. Ordering bug in the caller.
	ErrRunAlreadyClosed = errors.New("run already closed")

	// ErrRunCancelled means the run was cancelled between table batches.
	// Batches committed before the cancellation point remain applied.
	ErrRunCancelled = errors.New("run cancelled")
)
