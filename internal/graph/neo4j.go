package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore backs the structured store with a bolt-protocol graph database
// (Neo4j or Memgraph). Entity attributes are stored as a JSON string
// property; the version guard on updates lives in the Cypher itself so the
// check-and-set is atomic inside the database.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jStore(ctx context.Context, uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return &Neo4jStore{driver: driver}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// BuildIndices creates the lookup indices. Failures are ignored per index
// since they usually mean the index already exists.
func (s *Neo4jStore) BuildIndices(ctx context.Context) error {
	for _, q := range indexQueries {
		_, _ = s.run(ctx, q, nil)
	}
	return nil
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return result, nil
}

func (s *Neo4jStore) Get(ctx context.Context, id string) (*Entity, error) {
	res, err := s.run(ctx, getEntityQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return entityFromRecord(res.Records[0])
}

func (s *Neo4jStore) GetByName(ctx context.Context, userID, entityType, name string) (*Entity, error) {
	res, err := s.run(ctx, getEntityByNameQuery, map[string]interface{}{
		"user_id":        userID,
		"type":           entityType,
		"canonical_name": CanonicalName(name),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("entity %s/%s %q: %w", userID, entityType, name, ErrNotFound)
	}
	return entityFromRecord(res.Records[0])
}

func (s *Neo4jStore) ListByType(ctx context.Context, userID, entityType string) ([]*Entity, error) {
	res, err := s.run(ctx, listEntitiesByTypeQuery, map[string]interface{}{
		"user_id": userID,
		"type":    entityType,
	})
	if err != nil {
		return nil, err
	}
	return entitiesFromRecords(res.Records)
}

func (s *Neo4jStore) FindEntities(ctx context.Context, userID, text string) ([]*Entity, error) {
	res, err := s.run(ctx, findEntitiesQuery, map[string]interface{}{
		"user_id": userID,
		"text":    CanonicalName(text),
	})
	if err != nil {
		return nil, err
	}
	return entitiesFromRecords(res.Records)
}

func (s *Neo4jStore) Create(ctx context.Context, e *Entity) (*Entity, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, err := s.Get(ctx, e.ID); err == nil {
		return nil, fmt.Errorf("entity %s: %w", e.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	stored := e.clone()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	attrs, err := marshalAttributes(stored.Attributes)
	if err != nil {
		return nil, err
	}
	_, err = s.run(ctx, createEntityQuery, map[string]interface{}{
		"id":             stored.ID,
		"user_id":        stored.UserID,
		"type":           stored.Type,
		"name":           stored.Name,
		"canonical_name": CanonicalName(stored.Name),
		"attributes":     attrs,
		"confidence":     stored.Confidence,
		"created_at":     stored.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     stored.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Neo4jStore) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*Entity)) (*Entity, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("entity %s: expected version %d, stored version %d: %w",
			id, expectedVersion, current.Version, ErrVersionConflict)
	}

	next := current.clone()
	mutate(next)
	next.ID = current.ID
	next.UserID = current.UserID
	next.UpdatedAt = time.Now().UTC()

	attrs, err := marshalAttributes(next.Attributes)
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, compareAndUpdateQuery, map[string]interface{}{
		"id":               id,
		"expected_version": expectedVersion,
		"name":             next.Name,
		"canonical_name":   CanonicalName(next.Name),
		"type":             next.Type,
		"attributes":       attrs,
		"confidence":       next.Confidence,
		"updated_at":       next.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		// Lost the race between our read and the guarded SET.
		return nil, fmt.Errorf("entity %s: expected version %d: %w", id, expectedVersion, ErrVersionConflict)
	}
	next.Version = expectedVersion + 1
	return next, nil
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, e *Edge) (*Edge, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	stored := e.clone()
	stored.Version = 1
	if stored.ValidFrom.IsZero() {
		stored.ValidFrom = time.Now().UTC()
	}

	attrs, err := marshalAttributes(stored.Attributes)
	if err != nil {
		return nil, err
	}
	chunkIDs := stored.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	res, err := s.run(ctx, createEdgeQuery, map[string]interface{}{
		"id":         stored.ID,
		"user_id":    stored.UserID,
		"type":       stored.Type,
		"source_id":  stored.SourceID,
		"target_id":  stored.TargetID,
		"fact":       stored.Fact,
		"attributes": attrs,
		"confidence": stored.Confidence,
		"chunk_ids":  chunkIDs,
		"valid_from": stored.ValidFrom.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("edge %s: source or target entity missing: %w", stored.ID, ErrNotFound)
	}
	return stored, nil
}

func (s *Neo4jStore) SupersedeEdge(ctx context.Context, oldID string, replacement *Edge) (*Edge, error) {
	now := time.Now().UTC()
	if _, err := s.run(ctx, closeEdgeQuery, map[string]interface{}{
		"id":       oldID,
		"valid_to": now.Format(time.RFC3339Nano),
	}); err != nil {
		return nil, err
	}
	return s.CreateEdge(ctx, replacement)
}

func (s *Neo4jStore) ActiveEdges(ctx context.Context, userID, entityID string) ([]*Edge, error) {
	res, err := s.run(ctx, activeEdgesQuery, map[string]interface{}{
		"user_id":   userID,
		"entity_id": entityID,
	})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(res.Records)
}

func (s *Neo4jStore) EdgesBetween(ctx context.Context, sourceID, targetID, edgeType string) ([]*Edge, error) {
	res, err := s.run(ctx, edgesBetweenQuery, map[string]interface{}{
		"source_id": sourceID,
		"target_id": targetID,
		"type":      edgeType,
	})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(res.Records)
}

func marshalAttributes(attrs map[string]interface{}) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(data), nil
}

func unmarshalAttributes(raw interface{}) (map[string]interface{}, error) {
	str, ok := raw.(string)
	if !ok || str == "" || str == "{}" {
		return nil, nil
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal([]byte(str), &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return attrs, nil
}

func entityFromRecord(rec *neo4j.Record) (*Entity, error) {
	e := &Entity{}
	e.ID = stringField(rec, "id")
	e.UserID = stringField(rec, "user_id")
	e.Type = stringField(rec, "type")
	e.Name = stringField(rec, "name")
	e.Confidence = floatField(rec, "confidence")
	e.Version = intField(rec, "version")

	attrs, err := unmarshalAttributes(recordValue(rec, "attributes"))
	if err != nil {
		return nil, err
	}
	e.Attributes = attrs
	e.CreatedAt = timeField(rec, "created_at")
	e.UpdatedAt = timeField(rec, "updated_at")
	return e, nil
}

func entitiesFromRecords(records []*neo4j.Record) ([]*Entity, error) {
	var out []*Entity
	for _, rec := range records {
		e, err := entityFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func edgesFromRecords(records []*neo4j.Record) ([]*Edge, error) {
	var out []*Edge
	for _, rec := range records {
		e := &Edge{
			ID:         stringField(rec, "id"),
			UserID:     stringField(rec, "user_id"),
			Type:       stringField(rec, "type"),
			SourceID:   stringField(rec, "source_id"),
			TargetID:   stringField(rec, "target_id"),
			Fact:       stringField(rec, "fact"),
			Confidence: floatField(rec, "confidence"),
			Version:    intField(rec, "version"),
		}
		attrs, err := unmarshalAttributes(recordValue(rec, "attributes"))
		if err != nil {
			return nil, err
		}
		e.Attributes = attrs
		if ids, ok := recordValue(rec, "chunk_ids").([]interface{}); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok {
					e.ChunkIDs = append(e.ChunkIDs, s)
				}
			}
		}
		e.ValidFrom = timeField(rec, "valid_from")
		if t := timeField(rec, "valid_to"); !t.IsZero() {
			e.ValidTo = &t
		}
		out = append(out, e)
	}
	return out, nil
}

func recordValue(rec *neo4j.Record, key string) interface{} {
	v, _ := rec.Get(key)
	return v
}

func stringField(rec *neo4j.Record, key string) string {
	s, _ := recordValue(rec, key).(string)
	return s
}

func floatField(rec *neo4j.Record, key string) float64 {
	switch v := recordValue(rec, key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func intField(rec *neo4j.Record, key string) int64 {
	switch v := recordValue(rec, key).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func timeField(rec *neo4j.Record, key string) time.Time {
	switch v := recordValue(rec, key).(type) {
	case string:
		if v == "" {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case time.Time:
		return v
	}
	return time.Time{}
}
