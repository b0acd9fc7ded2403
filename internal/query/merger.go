package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/recall/internal/evidence"
	"github.com/agenthands/recall/internal/graph"
	"github.com/agenthands/recall/internal/llm"
	"github.com/agenthands/recall/internal/logger"
)

// Config tunes query execution.
type Config struct {
	// TopK caps the evidence results per query.
	TopK int
	// StoreTimeout bounds each store call. A store that misses it degrades
	// the result instead of failing the query.
	StoreTimeout time.Duration
}

// EvidenceItem is a retrieved chunk plus its merge-time annotations.
type EvidenceItem struct {
	Chunk evidence.Chunk `json:"chunk"`
	Score float64        `json:"score"`
	// Historical marks a chunk whose claims contradict the structured
	// store's current state. The chunk is kept and surfaced, never
	// discarded; it just stops being an answer to "current state"
	// questions.
	Historical bool `json:"historical"`
	// Superseded lists "entity_id.attribute" pairs whose claimed value the
	// structured store has since overridden.
	Superseded []string `json:"superseded,omitempty"`
}

// Source attributes one merged item to its store of origin.
type Source struct {
	Store      string  `json:"store"` // "structured" or "evidence"
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// Result is the merged answer context for one query.
type Result struct {
	AnswerContext string          `json:"answer_context"`
	Entities      []*graph.Entity `json:"entities"`
	Edges         []*graph.Edge   `json:"edges"`
	Evidence      []EvidenceItem  `json:"evidence"`
	Sources       []Source        `json:"sources"`
	Degraded      bool            `json:"degraded"`
	Plan          Plan            `json:"plan"`
}

// Merger classifies a query, fans out to the targeted stores, and merges
// the answers under the plan's strategy. Store failures degrade the result;
// a query never fails because one backend is down or slow.
type Merger struct {
	graph    graph.Store
	evidence evidence.Store
	embedder llm.EmbedderClient
	log      *logger.Logger
	cfg      Config
}

func NewMerger(g graph.Store, ev evidence.Store, embedder llm.EmbedderClient, log *logger.Logger, cfg Config) *Merger {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Merger{graph: g, evidence: ev, embedder: embedder, log: log, cfg: cfg}
}

// Query runs the full read path for one user query.
func (m *Merger) Query(ctx context.Context, userID, text string) (*Result, error) {
	plan := PlanFor(Classify(text))

	var (
		entities []*graph.Entity
		edges    []*graph.Edge
		scored   []evidence.Scored

		structuredDown bool
		evidenceDown   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	if plan.Structured {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, m.cfg.StoreTimeout)
			defer cancel()
			var err error
			entities, edges, err = m.queryStructured(sctx, userID, text)
			if err != nil {
				m.log.Warn("structured store query failed", "user_id", userID, "error", err)
				structuredDown = true
			}
			return nil
		})
	}
	if plan.Evidence {
		g.Go(func() error {
			ectx, cancel := context.WithTimeout(gctx, m.cfg.StoreTimeout)
			defer cancel()
			var err error
			scored, err = m.queryEvidence(ectx, userID, text)
			if err != nil {
				m.log.Warn("evidence store query failed", "user_id", userID, "error", err)
				evidenceDown = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := m.applyHierarchy(ctx, entities, scored)
	result := m.merge(plan, entities, edges, items)
	result.Degraded = structuredDown || evidenceDown
	return result, nil
}

func (m *Merger) queryStructured(ctx context.Context, userID, text string) ([]*graph.Entity, []*graph.Edge, error) {
	entities, err := m.graph.FindEntities(ctx, userID, text)
	if err != nil {
		return nil, nil, err
	}

	var edges []*graph.Edge
	seen := make(map[string]bool)
	for _, e := range entities {
		active, err := m.graph.ActiveEdges(ctx, userID, e.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, edge := range active {
			if !seen[edge.ID] {
				seen[edge.ID] = true
				edges = append(edges, edge)
			}
		}
	}
	return entities, edges, nil
}

func (m *Merger) queryEvidence(ctx context.Context, userID, text string) ([]evidence.Scored, error) {
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.evidence.Search(ctx, embedding, evidence.Filter{UserID: userID}, m.cfg.TopK)
}

// applyHierarchy compares each chunk's claims against the structured
// store's current attribute values and flags contradicted chunks as
// historical. Comparison is best-effort: if the graph cannot answer, the
// chunk passes through unflagged rather than blocking the query.
func (m *Merger) applyHierarchy(ctx context.Context, entities []*graph.Entity, scored []evidence.Scored) []EvidenceItem {
	byID := make(map[string]*graph.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	items := make([]EvidenceItem, 0, len(scored))
	for _, s := range scored {
		item := EvidenceItem{Chunk: s.Chunk, Score: s.Score}
		for entityID, claimed := range s.Chunk.Claims {
			current, ok := byID[entityID]
			if !ok {
				cctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
				fetched, err := m.graph.Get(cctx, entityID)
				cancel()
				if err != nil {
					continue
				}
				byID[entityID] = fetched
				current = fetched
			}
			for attr, claimedValue := range claimed {
				currentValue, ok := current.Attributes[attr]
				if !ok {
					continue
				}
				if fmt.Sprintf("%v", currentValue) != claimedValue {
					item.Historical = true
					item.Superseded = append(item.Superseded, entityID+"."+attr)
				}
			}
		}
		sort.Strings(item.Superseded)
		items = append(items, item)
	}
	return items
}

func (m *Merger) merge(plan Plan, entities []*graph.Entity, edges []*graph.Edge, items []EvidenceItem) *Result {
	if plan.Strategy == StrategyIntersection {
		entities, edges, items = intersect(entities, edges, items)
	}

	result := &Result{
		Entities: entities,
		Edges:    edges,
		Evidence: items,
		Plan:     plan,
		Sources:  make([]Source, 0, len(entities)+len(items)),
	}

	for _, e := range entities {
		result.Sources = append(result.Sources, Source{Store: "structured", ID: e.ID, Confidence: e.Confidence})
	}
	for _, item := range items {
		result.Sources = append(result.Sources, Source{Store: "evidence", ID: item.Chunk.ID, Confidence: item.Score})
	}

	result.AnswerContext = renderContext(plan.Strategy, entities, edges, items)
	return result
}

// intersect keeps only entities referenced by at least one retrieved chunk,
// and chunks referencing at least one retained entity.
func intersect(entities []*graph.Entity, edges []*graph.Edge, items []EvidenceItem) ([]*graph.Entity, []*graph.Edge, []EvidenceItem) {
	referenced := make(map[string]bool)
	for _, item := range items {
		for _, id := range item.Chunk.EntityIDs {
			referenced[id] = true
		}
	}

	var keptEntities []*graph.Entity
	kept := make(map[string]bool)
	for _, e := range entities {
		if referenced[e.ID] {
			keptEntities = append(keptEntities, e)
			kept[e.ID] = true
		}
	}

	var keptEdges []*graph.Edge
	for _, e := range edges {
		if kept[e.SourceID] && kept[e.TargetID] {
			keptEdges = append(keptEdges, e)
		}
	}

	var keptItems []EvidenceItem
	for _, item := range items {
		for _, id := range item.Chunk.EntityIDs {
			if kept[id] {
				keptItems = append(keptItems, item)
				break
			}
		}
	}
	return keptEntities, keptEdges, keptItems
}

// renderContext flattens the merged results into the prompt-ready answer
// context. Ordering follows the strategy: authoritative facts lead under
// graph-first and union, ranked evidence leads under vector-first.
func renderContext(strategy Strategy, entities []*graph.Entity, edges []*graph.Edge, items []EvidenceItem) string {
	var facts, ev []string

	for _, e := range entities {
		facts = append(facts, renderEntity(e))
	}
	for _, edge := range edges {
		if edge.Fact != "" {
			facts = append(facts, "- "+edge.Fact)
		}
	}
	for _, item := range items {
		line := "- " + item.Chunk.Content
		if item.Historical {
			line = "- [historical] " + item.Chunk.Content
		}
		ev = append(ev, line)
	}

	var b strings.Builder
	writeSection := func(header string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(header + "\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}

	if strategy == StrategyVectorFirst {
		writeSection("Relevant evidence:", ev)
		writeSection("Known facts:", facts)
	} else {
		writeSection("Known facts:", facts)
		writeSection("Relevant evidence:", ev)
	}
	return b.String()
}

func renderEntity(e *graph.Entity) string {
	if len(e.Attributes) == 0 {
		return fmt.Sprintf("- %s (%s)", e.Name, e.Type)
	}
	attrs := make([]string, 0, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(attrs)
	return fmt.Sprintf("- %s (%s): %s", e.Name, e.Type, strings.Join(attrs, ", "))
}
