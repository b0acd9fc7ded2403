package evidence

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps chunks in process. Backend for dev profiles and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]Chunk)}
}

func (s *MemoryStore) Append(ctx context.Context, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[chunk.ID]; ok {
		return nil
	}
	if chunk.Dimension == 0 {
		chunk.Dimension = len(chunk.Embedding)
	}
	s.chunks[chunk.ID] = chunk
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, embedding []float32, filter Filter, k int) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Scored
	for _, c := range s.chunks {
		if !matches(c, filter) {
			continue
		}
		out = append(out, Scored{Chunk: c, Score: cosine(embedding, c.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Len reports the number of stored chunks. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func matches(c Chunk, f Filter) bool {
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && c.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && c.Timestamp.After(f.Until) {
		return false
	}
	if len(f.EntityIDs) > 0 {
		found := false
		for _, want := range f.EntityIDs {
			for _, have := range c.EntityIDs {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
