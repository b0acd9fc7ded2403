package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/recall/internal/evidence"
	"github.com/agenthands/recall/internal/extract"
	"github.com/agenthands/recall/internal/graph"
	"github.com/agenthands/recall/internal/logger"
	"github.com/agenthands/recall/internal/resolve"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

// stubExtractor maps event content to canned extraction results.
type stubExtractor struct {
	byContent map[string]extract.Candidates
	err       error
}

func (s *stubExtractor) Extract(ctx context.Context, content string, ts time.Time) (extract.Candidates, error) {
	if s.err != nil {
		return extract.Candidates{}, s.err
	}
	return s.byContent[content], nil
}

type fixture struct {
	pool     *Pool
	graph    *graph.MemoryStore
	evidence *evidence.MemoryStore
}

func newFixture(t *testing.T, ex extract.Extractor) *fixture {
	t.Helper()
	g := graph.NewMemoryStore()
	ev := evidence.NewMemoryStore()
	pool := NewPool(
		nil,
		&stubEmbedder{},
		ex,
		resolve.New(g, resolve.DefaultConfig()),
		g,
		ev,
		logger.NewNop(),
		PoolConfig{
			Workers:     1,
			MaxAttempts: 3,
			Retry:       graph.RetryConfig{MaxAttempts: 8, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		},
	)
	return &fixture{pool: pool, graph: g, evidence: ev}
}

func movedEvent() Event {
	return Event{
		UserID:    "user-1",
		Timestamp: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		Type:      "message",
		Source:    "chat",
		Content:   "Jordan moved to San Francisco and joined Acme Corp",
	}
}

func movedCandidates() extract.Candidates {
	return extract.Candidates{
		Entities: []extract.CandidateEntity{
			{Mention: "Jordan", Type: "Person", Confidence: 0.9, Attributes: map[string]interface{}{"location": "San Francisco"}},
			{Mention: "Acme Corp", Type: "Company", Confidence: 0.85},
		},
		Edges: []extract.CandidateEdge{
			{Source: "Jordan", Target: "Acme Corp", Type: "WORKS_AT", Fact: "Jordan works at Acme Corp", Confidence: 0.8},
		},
	}
}

func TestProcessHappyPath(t *testing.T) {
	event := movedEvent()
	f := newFixture(t, &stubExtractor{byContent: map[string]extract.Candidates{
		event.Content: movedCandidates(),
	}})
	ctx := context.Background()

	task := NewTask(event)
	task.Attempts = 1
	require.NoError(t, f.pool.Process(ctx, &task))

	// Both mentions became entities.
	jordan, err := f.graph.GetByName(ctx, "user-1", "Person", "Jordan")
	require.NoError(t, err)
	assert.Equal(t, "San Francisco", jordan.Attributes["location"])
	assert.Less(t, jordan.Confidence, 0.75, "fresh entities start below the trust threshold")

	acme, err := f.graph.GetByName(ctx, "user-1", "Company", "Acme Corp")
	require.NoError(t, err)

	// One active edge between them, carrying the chunk as provenance.
	edges, err := f.graph.EdgesBetween(ctx, jordan.ID, acme.ID, "WORKS_AT")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].Active())
	assert.Equal(t, []string{task.Key}, edges[0].ChunkIDs)

	// The chunk records the resolved ids and the asserted claims.
	require.Equal(t, 1, f.evidence.Len())
	got, err := f.evidence.Search(ctx, []float32{1, 0, 0}, evidence.Filter{UserID: "user-1"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, task.Key, got[0].Chunk.ID)
	assert.ElementsMatch(t, []string{jordan.ID, acme.ID}, got[0].Chunk.EntityIDs)
	assert.Equal(t, "San Francisco", got[0].Chunk.Claims[jordan.ID]["location"])
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	event := movedEvent()
	f := newFixture(t, &stubExtractor{byContent: map[string]extract.Candidates{
		event.Content: movedCandidates(),
	}})
	ctx := context.Background()

	task := NewTask(event)
	task.Attempts = 1
	require.NoError(t, f.pool.Process(ctx, &task))

	// Lease expiry redelivers the same task to another worker.
	replay := NewTask(event)
	replay.Attempts = 2
	require.NoError(t, f.pool.Process(ctx, &replay))

	assert.Equal(t, 1, f.evidence.Len(), "one chunk despite two deliveries")

	people, err := f.graph.ListByType(ctx, "user-1", "Person")
	require.NoError(t, err)
	assert.Len(t, people, 1, "no duplicate entities")

	companies, err := f.graph.ListByType(ctx, "user-1", "Company")
	require.NoError(t, err)
	require.Len(t, companies, 1)

	edges, err := f.graph.EdgesBetween(ctx, people[0].ID, companies[0].ID, "WORKS_AT")
	require.NoError(t, err)
	assert.Len(t, edges, 1, "identical assertion is skipped, not duplicated")
}

func TestProcessMergesIntoExistingEntity(t *testing.T) {
	event := movedEvent()
	f := newFixture(t, &stubExtractor{byContent: map[string]extract.Candidates{
		event.Content: movedCandidates(),
	}})
	ctx := context.Background()

	existing, err := f.graph.Create(ctx, &graph.Entity{
		UserID:     "user-1",
		Type:       "Person",
		Name:       "Jordan",
		Attributes: map[string]interface{}{"location": "Berlin", "title": "engineer"},
		Confidence: 0.95,
	})
	require.NoError(t, err)

	task := NewTask(event)
	task.Attempts = 1
	require.NoError(t, f.pool.Process(ctx, &task))

	merged, err := f.graph.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "San Francisco", merged.Attributes["location"], "new assertion wins")
	assert.Equal(t, "engineer", merged.Attributes["title"], "unrelated attributes survive")
	assert.Equal(t, 0.95, merged.Confidence, "confidence never drops on merge")
	assert.Equal(t, int64(2), merged.Version)

	people, err := f.graph.ListByType(ctx, "user-1", "Person")
	require.NoError(t, err)
	assert.Len(t, people, 1, "the mention bound to the stored entity")
}

func TestProcessSupersedesContradictedEdge(t *testing.T) {
	first := movedEvent()
	second := Event{
		UserID:    "user-1",
		Timestamp: first.Timestamp.Add(30 * 24 * time.Hour),
		Type:      "message",
		Source:    "chat",
		Content:   "Jordan left Acme Corp for a sabbatical",
	}
	f := newFixture(t, &stubExtractor{byContent: map[string]extract.Candidates{
		first.Content: movedCandidates(),
		second.Content: {
			Entities: []extract.CandidateEntity{
				{Mention: "Jordan", Type: "Person", Confidence: 0.9},
				{Mention: "Acme Corp", Type: "Company", Confidence: 0.85},
			},
			Edges: []extract.CandidateEdge{
				{Source: "Jordan", Target: "Acme Corp", Type: "WORKS_AT", Fact: "Jordan no longer works at Acme Corp", Confidence: 0.8},
			},
		},
	}})
	ctx := context.Background()

	t1 := NewTask(first)
	t1.Attempts = 1
	require.NoError(t, f.pool.Process(ctx, &t1))
	t2 := NewTask(second)
	t2.Attempts = 1
	require.NoError(t, f.pool.Process(ctx, &t2))

	jordan, err := f.graph.GetByName(ctx, "user-1", "Person", "Jordan")
	require.NoError(t, err)
	acme, err := f.graph.GetByName(ctx, "user-1", "Company", "Acme Corp")
	require.NoError(t, err)

	edges, err := f.graph.EdgesBetween(ctx, jordan.ID, acme.ID, "WORKS_AT")
	require.NoError(t, err)
	require.Len(t, edges, 2, "the contradicted edge is closed, never deleted")

	var active, closed int
	for _, e := range edges {
		if e.Active() {
			active++
			assert.Equal(t, "Jordan no longer works at Acme Corp", e.Fact)
		} else {
			closed++
			assert.Equal(t, "Jordan works at Acme Corp", e.Fact)
			assert.NotNil(t, e.ValidTo)
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, closed)
}

func TestProcessSalvagesEvidenceOnFinalAttempt(t *testing.T) {
	event := movedEvent()
	f := newFixture(t, &stubExtractor{err: fmt.Errorf("model returned garbage")})
	ctx := context.Background()

	task := NewTask(event)
	task.Attempts = 1
	err := f.pool.Process(ctx, &task)
	assert.Error(t, err)
	assert.Equal(t, 0, f.evidence.Len(), "early attempts leave no bare chunk; a retry may still extract")

	task.Attempts = 3 // MaxAttempts in the fixture
	err = f.pool.Process(ctx, &task)
	assert.Error(t, err)
	require.Equal(t, 1, f.evidence.Len(), "the dead-lettered event's raw content survives as evidence")

	got, err := f.evidence.Search(ctx, []float32{1, 0, 0}, evidence.Filter{UserID: "user-1"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event.Content, got[0].Chunk.Content)
	assert.Empty(t, got[0].Chunk.EntityIDs)
}

func TestProcessEmbedFailureLeavesNothingBehind(t *testing.T) {
	event := movedEvent()
	g := graph.NewMemoryStore()
	ev := evidence.NewMemoryStore()
	pool := NewPool(nil, &stubEmbedder{err: fmt.Errorf("embedding service down")},
		&stubExtractor{}, resolve.New(g, resolve.DefaultConfig()), g, ev, logger.NewNop(),
		PoolConfig{Workers: 1, MaxAttempts: 3})

	task := NewTask(event)
	task.Attempts = 1
	assert.Error(t, pool.Process(context.Background(), &task))
	assert.Equal(t, 0, ev.Len())
	people, err := g.ListByType(context.Background(), "user-1", "Person")
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestPoolDrainsQueue(t *testing.T) {
	event := movedEvent()
	q := newTestQueue(t, RedisQueueOptions{RetryDelay: time.Millisecond})
	g := graph.NewMemoryStore()
	ev := evidence.NewMemoryStore()
	pool := NewPool(q, &stubEmbedder{},
		&stubExtractor{byContent: map[string]extract.Candidates{event.Content: movedCandidates()}},
		resolve.New(g, resolve.DefaultConfig()), g, ev, logger.NewNop(),
		PoolConfig{Workers: 2, MaxAttempts: 3, PollInterval: 5 * time.Millisecond,
			Retry: graph.RetryConfig{MaxAttempts: 8, InitialBackoff: time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, NewTask(event))
	require.NoError(t, err)

	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return ev.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()

	people, err := g.ListByType(context.Background(), "user-1", "Person")
	require.NoError(t, err)
	assert.Len(t, people, 1)
}
