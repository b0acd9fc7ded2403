package pipeline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueUnavailable wraps backend connectivity failures.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrTaskNotFound is returned for acks, nacks, and requeues of unknown
	// keys.
	ErrTaskNotFound = errors.New("task not found")
)

// DeadLetter is a task that exhausted its attempts, held for inspection and
// manual requeue.
type DeadLetter struct {
	Task         Task      `json:"task"`
	DeadAt       time.Time `json:"dead_at"`
	FailureCount int       `json:"failure_count"`
}

// Queue is the ingestion work queue. Delivery is at-least-once: a worker
// that leases a task and dies loses the lease, and the task is redelivered
// with its attempt count bumped. Everything downstream must therefore be
// idempotent per task key.
type Queue interface {
	// Enqueue adds a task unless its key is already known, in which case
	// the call is a no-op and reports false.
	Enqueue(ctx context.Context, task Task) (bool, error)

	// Lease hands the oldest ready task to workerID under a visibility
	// timeout. It returns nil with no error when the queue is empty.
	Lease(ctx context.Context, workerID string) (*Task, error)

	// Ack marks a leased task done.
	Ack(ctx context.Context, key string) error

	// Nack records a failure. The task is scheduled for a delayed retry,
	// or dead-lettered once its attempts are exhausted.
	Nack(ctx context.Context, key string, reason string) error

	// DeadLetters lists the dead-lettered tasks, most recent first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)

	// Requeue moves a dead-lettered task back to pending with a reset
	// attempt count.
	Requeue(ctx context.Context, key string) error

	Close() error
}
