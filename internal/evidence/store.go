package evidence

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps backend connectivity failures.
var ErrStoreUnavailable = errors.New("evidence store unavailable")

// Store is the append-only evidence store. There is no update and no
// delete; history is immutable, which removes every write-conflict concern
// for this store.
type Store interface {
	// Append writes a chunk. Writing an id that already exists is a no-op,
	// which makes re-processing after queue redelivery safe.
	Append(ctx context.Context, chunk Chunk) error

	// Search returns up to k chunks ordered nearest-first by cosine
	// similarity to the query embedding, subject to the filter.
	Search(ctx context.Context, embedding []float32, filter Filter, k int) ([]Scored, error)

	Close(ctx context.Context) error
}
