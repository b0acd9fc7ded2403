package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process structured store backend. The commit path
// mirrors the bolt backend: a snapshot read, then an exclusive
// check-and-set that rejects on version mismatch. Default backend for dev
// and the contention tests.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]*Entity
	nameIndex map[string]string // userID|type|canonical name -> entity id
	edges     map[string]*Edge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:  make(map[string]*Entity),
		nameIndex: make(map[string]string),
		edges:     make(map[string]*Edge),
	}
}

func nameKey(userID, entityType, name string) string {
	return userID + "|" + entityType + "|" + CanonicalName(name)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return e.clone(), nil
}

func (s *MemoryStore) GetByName(ctx context.Context, userID, entityType, name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nameIndex[nameKey(userID, entityType, name)]
	if !ok {
		return nil, fmt.Errorf("entity %s/%s %q: %w", userID, entityType, name, ErrNotFound)
	}
	return s.entities[id].clone(), nil
}

func (s *MemoryStore) ListByType(ctx context.Context, userID, entityType string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entity
	for _, e := range s.entities {
		if e.UserID == userID && e.Type == entityType {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) FindEntities(ctx context.Context, userID, text string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(text)
	var out []*Entity
	for _, e := range s.entities {
		if e.UserID != userID {
			continue
		}
		if name := CanonicalName(e.Name); name != "" && strings.Contains(lower, name) {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, e *Entity) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, ok := s.entities[e.ID]; ok {
		return nil, fmt.Errorf("entity %s: %w", e.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	stored := e.clone()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.entities[stored.ID] = stored
	if stored.Name != "" {
		s.nameIndex[nameKey(stored.UserID, stored.Type, stored.Name)] = stored.ID
	}
	return stored.clone(), nil
}

func (s *MemoryStore) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*Entity)) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("entity %s: expected version %d, stored version %d: %w",
			id, expectedVersion, current.Version, ErrVersionConflict)
	}

	// Mutate a copy so a panicking or misbehaving mutator cannot leave a
	// partial write behind.
	next := current.clone()
	mutate(next)
	next.ID = current.ID
	next.UserID = current.UserID
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()

	if next.Name != current.Name || next.Type != current.Type {
		delete(s.nameIndex, nameKey(current.UserID, current.Type, current.Name))
	}
	s.entities[id] = next
	if next.Name != "" {
		s.nameIndex[nameKey(next.UserID, next.Type, next.Name)] = next.ID
	}
	return next.clone(), nil
}

func (s *MemoryStore) CreateEdge(ctx context.Context, e *Edge) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEdgeLocked(e)
}

func (s *MemoryStore) createEdgeLocked(e *Edge) (*Edge, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, ok := s.edges[e.ID]; ok {
		return nil, fmt.Errorf("edge %s: %w", e.ID, ErrAlreadyExists)
	}
	stored := e.clone()
	stored.Version = 1
	if stored.ValidFrom.IsZero() {
		stored.ValidFrom = time.Now().UTC()
	}
	s.edges[stored.ID] = stored
	return stored.clone(), nil
}

func (s *MemoryStore) SupersedeEdge(ctx context.Context, oldID string, replacement *Edge) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.edges[oldID]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", oldID, ErrNotFound)
	}
	if old.ValidTo == nil {
		now := time.Now().UTC()
		old.ValidTo = &now
		old.Version++
	}
	return s.createEdgeLocked(replacement)
}

func (s *MemoryStore) ActiveEdges(ctx context.Context, userID, entityID string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for _, e := range s.edges {
		if e.UserID != userID || !e.Active() {
			continue
		}
		if e.SourceID == entityID || e.TargetID == entityID {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) EdgesBetween(ctx context.Context, sourceID, targetID, edgeType string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for _, e := range s.edges {
		if e.SourceID == sourceID && e.TargetID == targetID && e.Type == edgeType {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
