package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthands/recall/internal/graph"
)

// Kind classifies how a mention was resolved.
type Kind string

const (
	// KindPreResolved means the upstream extractor supplied a known entity
	// id and the id exists. No matching ran at all.
	KindPreResolved Kind = "pre_resolved"
	// KindExact means the canonical (type, name) pair matched a stored
	// entity.
	KindExact Kind = "exact"
	// KindFuzzy means a single stored entity scored at or above the
	// acceptance threshold.
	KindFuzzy Kind = "fuzzy"
	// KindNew means no stored entity matched; the mention should become a
	// new low-confidence candidate entity.
	KindNew Kind = "new"
)

// Mention is one entity reference awaiting resolution.
type Mention struct {
	// Text is the surface form as extracted, e.g. "Acme Corp.".
	Text string
	// Type is the entity type the extractor assigned, e.g. "Company".
	Type string
	// KnownID carries a pre-resolved entity id from the caller, if any.
	// When set and valid it short-circuits every matching stage.
	KnownID string
	// Confidence is the extractor's own confidence in the mention.
	Confidence float64
	// Attributes are attribute values the mention asserts.
	Attributes map[string]interface{}
}

// Resolution is the outcome for one mention.
type Resolution struct {
	// EntityID is the matched entity's id, empty when Kind is KindNew.
	EntityID string
	Kind     Kind
	// Score is the fuzzy match score; 1 for pre-resolved and exact.
	Score float64
	// Ambiguous marks a tie between distinct stored entities at the top
	// score. The mention must then be treated as a new candidate so a bad
	// guess never corrupts an existing entity.
	Ambiguous bool
	// Confidence is the confidence the resulting entity write should carry.
	Confidence float64
}

// Config holds the matching thresholds.
type Config struct {
	// AcceptThreshold is the minimum fuzzy score for an automatic match.
	AcceptThreshold float64
	// TrustThreshold separates trusted entities from unconfirmed
	// candidates; new and ambiguous mentions always land below it.
	TrustThreshold float64
	// CandidateConfidence is assigned to freshly created candidate
	// entities.
	CandidateConfidence float64
}

func DefaultConfig() Config {
	return Config{
		AcceptThreshold:     0.84,
		TrustThreshold:      0.75,
		CandidateConfidence: 0.30,
	}
}

// Resolver maps extracted mentions onto stored entities. It only reads the
// graph; creating entities for KindNew resolutions is the caller's job, so
// resolution itself carries no write-conflict risk.
type Resolver struct {
	store graph.Store
	cfg   Config
}

func New(store graph.Store, cfg Config) *Resolver {
	if cfg.AcceptThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Resolver{store: store, cfg: cfg}
}

// Resolve runs the precedence chain for one mention: pre-resolved id, then
// exact canonical-name lookup, then fuzzy matching over same-type entities.
func (r *Resolver) Resolve(ctx context.Context, userID string, m Mention) (Resolution, error) {
	if m.KnownID != "" {
		e, err := r.store.Get(ctx, m.KnownID)
		if err == nil {
			if e.UserID != userID {
				return Resolution{}, fmt.Errorf("entity %s does not belong to user %s: %w", m.KnownID, userID, graph.ErrNotFound)
			}
			return Resolution{EntityID: e.ID, Kind: KindPreResolved, Score: 1, Confidence: e.Confidence}, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return Resolution{}, err
		}
		// A stale pre-resolved id falls through to matching.
	}

	e, err := r.store.GetByName(ctx, userID, m.Type, m.Text)
	if err == nil {
		return Resolution{EntityID: e.ID, Kind: KindExact, Score: 1, Confidence: e.Confidence}, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return Resolution{}, err
	}

	return r.fuzzy(ctx, userID, m)
}

func (r *Resolver) fuzzy(ctx context.Context, userID string, m Mention) (Resolution, error) {
	candidates, err := r.store.ListByType(ctx, userID, m.Type)
	if err != nil {
		return Resolution{}, err
	}

	var (
		best      *graph.Entity
		bestScore float64
		tied      bool
	)
	for _, c := range candidates {
		score := Score(m.Text, c.Name)
		switch {
		case score > bestScore:
			best, bestScore, tied = c, score, false
		case score == bestScore && best != nil && c.ID != best.ID:
			tied = true
		}
	}

	if best != nil && bestScore >= r.cfg.AcceptThreshold {
		if tied {
			// Two stored entities are equally plausible. Refuse to guess:
			// the mention becomes an unconfirmed candidate and a human or a
			// later, more specific mention settles it.
			return Resolution{Kind: KindNew, Score: bestScore, Ambiguous: true, Confidence: r.cfg.CandidateConfidence}, nil
		}
		return Resolution{EntityID: best.ID, Kind: KindFuzzy, Score: bestScore, Confidence: best.Confidence}, nil
	}

	return Resolution{Kind: KindNew, Score: bestScore, Confidence: r.cfg.CandidateConfidence}, nil
}

// Trusted reports whether a confidence clears the trust threshold.
func (r *Resolver) Trusted(confidence float64) bool {
	return confidence >= r.cfg.TrustThreshold
}
