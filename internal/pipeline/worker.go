package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/recall/internal/evidence"
	"github.com/agenthands/recall/internal/extract"
	"github.com/agenthands/recall/internal/graph"
	"github.com/agenthands/recall/internal/llm"
	"github.com/agenthands/recall/internal/logger"
	"github.com/agenthands/recall/internal/resolve"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers int
	// MaxAttempts mirrors the queue's dead-letter limit; the pool uses it
	// to salvage evidence on a task's final attempt.
	MaxAttempts int
	// PollInterval is the sleep between lease attempts on an empty queue.
	PollInterval time.Duration
	// Retry governs guarded entity writes under contention.
	Retry graph.RetryConfig
}

// Pool runs N workers that drain the ingestion queue. Each task flows
// through a fixed sequence: embed, extract, resolve, append evidence, then
// guarded graph writes, then ack. Evidence is always written before any
// structured mutation, so a mid-task crash can leave an unindexed chunk but
// never a graph claim without its supporting evidence.
type Pool struct {
	queue     Queue
	embedder  llm.EmbedderClient
	extractor extract.Extractor
	resolver  *resolve.Resolver
	graph     graph.Store
	evidence  evidence.Store
	log       *logger.Logger
	cfg       PoolConfig

	wg sync.WaitGroup
}

func NewPool(
	queue Queue,
	embedder llm.EmbedderClient,
	extractor extract.Extractor,
	resolver *resolve.Resolver,
	graphStore graph.Store,
	evidenceStore evidence.Store,
	log *logger.Logger,
	cfg PoolConfig,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Pool{
		queue:     queue,
		embedder:  embedder,
		extractor: extractor,
		resolver:  resolver,
		graph:     graphStore,
		evidence:  evidenceStore,
		log:       log,
		cfg:       cfg,
	}
}

// Start launches the workers. They run until ctx is cancelled; Wait blocks
// until all have drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Lease(ctx, workerID)
		if err != nil {
			p.log.Warn("lease failed", "worker", workerID, "error", err)
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if task == nil {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}

		if err := p.Process(ctx, task); err != nil {
			p.log.Warn("task failed",
				"worker", workerID, "key", task.Key, "attempt", task.Attempts, "error", err)
			if nackErr := p.queue.Nack(ctx, task.Key, err.Error()); nackErr != nil {
				p.log.Error("nack failed", "key", task.Key, "error", nackErr)
			}
			continue
		}
		if err := p.queue.Ack(ctx, task.Key); err != nil {
			p.log.Error("ack failed", "key", task.Key, "error", err)
		}
	}
}

// Process runs one task end to end. Every step is idempotent per task key,
// so redelivery after a crash or lease expiry replays safely.
func (p *Pool) Process(ctx context.Context, task *Task) error {
	event := task.Event

	embedding, err := p.embedder.Embed(ctx, event.Content)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	cands, err := p.extractor.Extract(ctx, event.Content, event.Timestamp)
	if err != nil {
		// On the final attempt the task is about to dead-letter. Append
		// the chunk without structure first: raw evidence survives even
		// when extraction never succeeds.
		if task.Attempts >= p.cfg.MaxAttempts {
			bare := evidence.Chunk{
				ID:        task.Key,
				UserID:    event.UserID,
				Content:   event.Content,
				Embedding: embedding,
				Source:    event.Source,
				Timestamp: event.Timestamp,
			}
			if appendErr := p.evidence.Append(ctx, bare); appendErr != nil {
				p.log.Error("bare chunk append failed", "key", task.Key, "error", appendErr)
			}
		}
		return fmt.Errorf("extract: %w", err)
	}

	// Resolution only reads the graph, so it can run before the evidence
	// append without risking a structured write ahead of the chunk.
	resolved := make([]resolution, 0, len(cands.Entities))
	byMention := make(map[string]string, len(cands.Entities))
	for _, cand := range cands.Entities {
		res, err := p.resolver.Resolve(ctx, event.UserID, resolve.Mention{
			Text:       cand.Mention,
			Type:       cand.Type,
			KnownID:    cand.KnownID,
			Confidence: cand.Confidence,
			Attributes: cand.Attributes,
		})
		if err != nil {
			return fmt.Errorf("resolve %q: %w", cand.Mention, err)
		}
		entityID := res.EntityID
		if res.Kind == resolve.KindNew {
			// Deterministic id per (task, mention): redelivery proposes
			// the same id again instead of minting a duplicate entity.
			entityID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(task.Key+"|"+cand.Type+"|"+cand.Mention)).String()
		}
		resolved = append(resolved, resolution{cand: cand, res: res, entityID: entityID})
		byMention[cand.Mention] = entityID
	}

	chunk := evidence.Chunk{
		ID:        task.Key,
		UserID:    event.UserID,
		Content:   event.Content,
		Embedding: embedding,
		Source:    event.Source,
		Timestamp: event.Timestamp,
		EntityIDs: entityIDs(resolved),
		Claims:    claims(resolved),
	}
	if err := p.evidence.Append(ctx, chunk); err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}

	for _, r := range resolved {
		if err := p.writeEntity(ctx, event, r); err != nil {
			return fmt.Errorf("write entity %q: %w", r.cand.Mention, err)
		}
	}

	for _, edge := range cands.Edges {
		if err := p.writeEdge(ctx, event, task.Key, byMention, edge); err != nil {
			return fmt.Errorf("write edge %s: %w", edge.Type, err)
		}
	}

	p.log.Debug("task processed",
		"key", task.Key, "entities", len(resolved), "edges", len(cands.Edges))
	return nil
}

type resolution struct {
	cand     extract.CandidateEntity
	res      resolve.Resolution
	entityID string
}

func (p *Pool) writeEntity(ctx context.Context, event Event, r resolution) error {
	if r.res.Kind == resolve.KindNew {
		_, err := p.graph.Create(ctx, &graph.Entity{
			ID:         r.entityID,
			UserID:     event.UserID,
			Type:       r.cand.Type,
			Name:       r.cand.Mention,
			Attributes: r.cand.Attributes,
			Confidence: r.res.Confidence,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, graph.ErrAlreadyExists) {
			return err
		}
		// Redelivery: the entity landed on an earlier attempt. Fall
		// through to a guarded merge of this task's attributes.
	}

	_, err := graph.Update(ctx, p.graph, r.entityID, p.cfg.Retry, func(e *graph.Entity) {
		if e.Attributes == nil && len(r.cand.Attributes) > 0 {
			e.Attributes = make(map[string]interface{}, len(r.cand.Attributes))
		}
		for k, v := range r.cand.Attributes {
			e.Attributes[k] = v
		}
		if r.cand.Confidence > e.Confidence {
			e.Confidence = r.cand.Confidence
		}
	})
	return err
}

// writeEdge applies a relationship assertion. An identical active edge
// makes this a replay, so it is skipped; a contradicting active edge is
// superseded, preserving the old assertion as history; otherwise a new
// edge is created carrying the chunk as provenance.
func (p *Pool) writeEdge(ctx context.Context, event Event, chunkID string, byMention map[string]string, cand extract.CandidateEdge) error {
	sourceID, ok := byMention[cand.Source]
	if !ok {
		return nil
	}
	targetID, ok := byMention[cand.Target]
	if !ok {
		return nil
	}

	existing, err := p.graph.EdgesBetween(ctx, sourceID, targetID, cand.Type)
	if err != nil {
		return err
	}

	replacement := &graph.Edge{
		UserID:     event.UserID,
		Type:       cand.Type,
		SourceID:   sourceID,
		TargetID:   targetID,
		Fact:       cand.Fact,
		Attributes: cand.Attributes,
		Confidence: cand.Confidence,
		ChunkIDs:   []string{chunkID},
		ValidFrom:  event.Timestamp,
	}

	for _, e := range existing {
		if !e.Active() {
			continue
		}
		if e.Fact == cand.Fact {
			return nil
		}
		_, err := p.graph.SupersedeEdge(ctx, e.ID, replacement)
		return err
	}

	_, err = p.graph.CreateEdge(ctx, replacement)
	return err
}

func entityIDs(resolved []resolution) []string {
	ids := make([]string, 0, len(resolved))
	seen := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		if !seen[r.entityID] {
			seen[r.entityID] = true
			ids = append(ids, r.entityID)
		}
	}
	return ids
}

// claims flattens the extracted attribute assertions into the chunk's claim
// map, keyed by resolved entity id. The merger later compares these against
// the live graph to flag superseded statements.
func claims(resolved []resolution) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, r := range resolved {
		if len(r.cand.Attributes) == 0 {
			continue
		}
		m := out[r.entityID]
		if m == nil {
			m = make(map[string]string, len(r.cand.Attributes))
			out[r.entityID] = m
		}
		for k, v := range r.cand.Attributes {
			m[k] = fmt.Sprintf("%v", v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
