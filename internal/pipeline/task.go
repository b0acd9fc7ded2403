package pipeline

import (
	"time"

	"github.com/agenthands/recall/internal/ident"
)

// Event is one raw observation submitted for ingestion. The server accepts
// it, derives its idempotency key, and enqueues it without touching the
// stores.
type Event struct {
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Key derives the event's idempotency key. The same event always yields the
// same key, so re-submissions collapse in the queue and the evidence store.
func (e Event) Key() string {
	return ident.Key(e.UserID, e.Timestamp, e.Type, e.Source, e.Content)
}

// Task statuses, as stored in the queue backend.
const (
	StatusPending      = "pending"
	StatusInFlight     = "in_flight"
	StatusDone         = "done"
	StatusDeadLettered = "dead_lettered"
)

// Task wraps an event with its processing state.
type Task struct {
	Key        string    `json:"key"`
	Event      Event     `json:"event"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// NewTask builds a pending task for an event.
func NewTask(e Event) Task {
	return Task{
		Key:        e.Key(),
		Event:      e,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
}
