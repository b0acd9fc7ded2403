package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetryConfig = RetryConfig{
	MaxAttempts:    16,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     20 * time.Millisecond,
}

// Fifty concurrent increments against one entity: the final counter must
// equal the sum of all applied deltas, and every writer must observe a
// distinct version. This is the no-lost-updates contract.
func TestConcurrentIncrementsNoLostUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &Entity{
		UserID:     "user-1",
		Type:       "Counter",
		Name:       "meetings",
		Attributes: map[string]interface{}{"count": 0},
	})
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	errs := make([]error, writers)
	versions := make([]int64, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			updated, err := Update(ctx, s, created.ID, testRetryConfig, func(e *Entity) {
				n := toInt(e.Attributes["count"])
				e.Attributes["count"] = n + 1
			})
			errs[i] = err
			if err == nil {
				versions[i] = updated.Version
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	final, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, toInt(final.Attributes["count"]))
	assert.Equal(t, int64(writers+1), final.Version)

	// No two successful writers may produce the same (id, version) pair.
	seen := make(map[int64]bool, writers)
	for _, v := range versions {
		assert.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// conflictingStore always rejects the guarded write, as if a faster writer
// wins every race.
type conflictingStore struct {
	Store
	gets int
}

func (s *conflictingStore) Get(ctx context.Context, id string) (*Entity, error) {
	s.gets++
	return &Entity{ID: id, Version: int64(s.gets)}, nil
}

func (s *conflictingStore) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*Entity)) (*Entity, error) {
	return nil, fmt.Errorf("entity %s: %w", id, ErrVersionConflict)
}

func TestUpdateExhaustsRetryBudget(t *testing.T) {
	s := &conflictingStore{}
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	_, err := Update(context.Background(), s, "e-1", cfg, func(e *Entity) {})
	assert.ErrorIs(t, err, ErrWriteExhausted)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 3, s.gets, "one re-read per attempt")
}

func TestUpdateDoesNotRetryNonConflictErrors(t *testing.T) {
	s := NewMemoryStore()
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	_, err := Update(context.Background(), s, "missing", cfg, func(e *Entity) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateHonorsContextCancellation(t *testing.T) {
	s := &conflictingStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond}
	_, err := Update(ctx, s, "e-1", cfg, func(e *Entity) {})
	assert.ErrorIs(t, err, context.Canceled)
}
