package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	chunk := Chunk{
		ID:        "chunk-1",
		UserID:    "user-1",
		Content:   "moved to Berlin",
		Embedding: []float32{1, 0, 0},
		Timestamp: time.Now(),
	}
	require.NoError(t, s.Append(ctx, chunk))

	// A redelivered task replays the same append. The first write wins and
	// the duplicate is silently dropped.
	dup := chunk
	dup.Content = "this content must not overwrite the original"
	require.NoError(t, s.Append(ctx, dup))

	assert.Equal(t, 1, s.Len())

	got, err := s.Search(ctx, []float32{1, 0, 0}, Filter{UserID: "user-1"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "moved to Berlin", got[0].Chunk.Content)
}

func TestSearchOrdersNearestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, Chunk{ID: "far", UserID: "u", Embedding: []float32{0, 1, 0}, Timestamp: now}))
	require.NoError(t, s.Append(ctx, Chunk{ID: "near", UserID: "u", Embedding: []float32{0.9, 0.1, 0}, Timestamp: now}))
	require.NoError(t, s.Append(ctx, Chunk{ID: "exact", UserID: "u", Embedding: []float32{1, 0, 0}, Timestamp: now}))

	got, err := s.Search(ctx, []float32{1, 0, 0}, Filter{UserID: "u"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2, "k caps the result set")
	assert.Equal(t, "exact", got[0].Chunk.ID)
	assert.Equal(t, "near", got[1].Chunk.ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestSearchFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	emb := []float32{1, 0}

	require.NoError(t, s.Append(ctx, Chunk{ID: "a", UserID: "alice", Embedding: emb, Timestamp: base, EntityIDs: []string{"e-1"}}))
	require.NoError(t, s.Append(ctx, Chunk{ID: "b", UserID: "alice", Embedding: emb, Timestamp: base.Add(48 * time.Hour), EntityIDs: []string{"e-2"}}))
	require.NoError(t, s.Append(ctx, Chunk{ID: "c", UserID: "bob", Embedding: emb, Timestamp: base}))

	t.Run("user isolation", func(t *testing.T) {
		got, err := s.Search(ctx, emb, Filter{UserID: "bob"}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].Chunk.ID)
	})

	t.Run("time window", func(t *testing.T) {
		got, err := s.Search(ctx, emb, Filter{UserID: "alice", Since: base.Add(24 * time.Hour)}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Chunk.ID)

		got, err = s.Search(ctx, emb, Filter{UserID: "alice", Until: base.Add(24 * time.Hour)}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Chunk.ID)
	})

	t.Run("entity scope", func(t *testing.T) {
		got, err := s.Search(ctx, emb, Filter{UserID: "alice", EntityIDs: []string{"e-2"}}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Chunk.ID)
	})
}

func TestSearchHandlesDimensionMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Chunk{ID: "a", UserID: "u", Embedding: []float32{1, 0, 0}, Timestamp: time.Now()}))

	// Mismatched query dimension scores zero rather than panicking.
	got, err := s.Search(ctx, []float32{1, 0}, Filter{UserID: "u"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Score)
}
