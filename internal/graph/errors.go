package graph

import "errors"

var (
	// ErrNotFound is returned when an entity or edge id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by CompareAndUpdate when the stored
	// version no longer matches the caller's expected version. Transient:
	// callers re-read, recompute and resubmit.
	ErrVersionConflict = errors.New("version conflict")

	// ErrWriteExhausted is returned by the retry layer once the bounded
	// attempt budget is spent. The ingestion pipeline treats it as a
	// task-level failure (queue retry, eventually dead-letter).
	ErrWriteExhausted = errors.New("write retries exhausted")

	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStoreUnavailable wraps backend connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)
