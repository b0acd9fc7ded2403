package graph

import (
	"strings"
	"time"
)

// Entity is a node in the structured store. ID is stable once assigned;
// Version increments on every successful mutation and is the optimistic
// locking token. Confidence reflects provenance trust: entities created
// through the ambiguous resolution path sit below the auto-trust threshold
// until later evidence reconciles them.
type Entity struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Type       string                 `json:"type"`
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Confidence float64                `json:"confidence"`
	Version    int64                  `json:"version"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Edge is a relationship between two entities. Edges are never deleted on
// change: a superseding fact sets ValidTo on the old edge and creates a new
// one, so temporal history lives inside the structured store itself.
// ChunkIDs records the evidence chunks the edge was derived from.
type Edge struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Type       string                 `json:"type"`
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Fact       string                 `json:"fact,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Confidence float64                `json:"confidence"`
	Version    int64                  `json:"version"`
	ChunkIDs   []string               `json:"chunk_ids,omitempty"`
	ValidFrom  time.Time              `json:"valid_from"`
	ValidTo    *time.Time             `json:"valid_to,omitempty"`
}

// Active reports whether the edge is the current fact for its lineage.
func (e *Edge) Active() bool {
	return e.ValidTo == nil
}

// CanonicalName normalizes an entity name for exact-match resolution.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (e *Entity) clone() *Entity {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

func (e *Edge) clone() *Edge {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	if e.ChunkIDs != nil {
		cp.ChunkIDs = append([]string(nil), e.ChunkIDs...)
	}
	if e.ValidTo != nil {
		t := *e.ValidTo
		cp.ValidTo = &t
	}
	return &cp
}
