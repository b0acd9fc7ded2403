package evidence

import "time"

// Chunk is one unit of unstructured historical evidence. Its ID is the
// ingestion event's idempotency key, so appending the same event twice is a
// no-op. Chunks are immutable once written: corrections are new chunks,
// never updates.
type Chunk struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	EntityIDs []string  `json:"entity_ids,omitempty"`

	// Claims records, per referenced entity, the attribute values this
	// chunk asserts (e.g. {"location": "SF"}). The merger compares claims
	// against the structured store's current values to apply the
	// Hierarchy-of-Truth rule; the chunk itself is never rewritten.
	Claims map[string]map[string]string `json:"claims,omitempty"`

	Dimension int `json:"dimension"`
}

// Filter narrows a similarity search.
type Filter struct {
	UserID    string
	EntityIDs []string
	Since     time.Time
	Until     time.Time
}

// Scored is a chunk with its similarity score, nearest-first ordering.
type Scored struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
