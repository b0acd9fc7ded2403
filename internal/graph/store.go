package graph

import "context"

// Store is the structured store: versioned entities and edges, mutated only
// through optimistic compare-and-set. Implementations must make
// CompareAndUpdate atomic — either the whole attribute delta and version
// bump apply, or nothing does.
type Store interface {
	Get(ctx context.Context, id string) (*Entity, error)

	// GetByName looks up an entity by (type, canonical name) within a user's
	// graph. Returns ErrNotFound when absent.
	GetByName(ctx context.Context, userID, entityType, name string) (*Entity, error)

	// ListByType returns all of a user's entities of the given type. Used by
	// the fuzzy resolution pass.
	ListByType(ctx context.Context, userID, entityType string) ([]*Entity, error)

	// FindEntities returns a user's entities whose name occurs in the given
	// text. Lexical, case-insensitive; serves the query planner's
	// mention-lookup operation.
	FindEntities(ctx context.Context, userID, text string) ([]*Entity, error)

	// Create stores a new entity at version 1. The entity keeps its id when
	// one is set, otherwise the store assigns one.
	Create(ctx context.Context, e *Entity) (*Entity, error)

	// CompareAndUpdate applies mutate to the entity iff its stored version
	// equals expectedVersion, then bumps the version. On mismatch it returns
	// ErrVersionConflict and writes nothing.
	CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*Entity)) (*Entity, error)

	CreateEdge(ctx context.Context, e *Edge) (*Edge, error)

	// SupersedeEdge closes the old edge's validity window and creates the
	// replacement. The old edge is kept; history is never deleted.
	SupersedeEdge(ctx context.Context, oldID string, replacement *Edge) (*Edge, error)

	// ActiveEdges returns the currently valid edges touching an entity.
	ActiveEdges(ctx context.Context, userID, entityID string) ([]*Edge, error)

	// EdgesBetween returns the full edge lineage of the given type from
	// source to target, closed edges included. The ingestion worker filters
	// for the active one; history readers get the rest.
	EdgesBetween(ctx context.Context, sourceID, targetID, edgeType string) ([]*Edge, error)

	Close(ctx context.Context) error
}
