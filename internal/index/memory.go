package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vektor-ai/vektor/internal/domain"
)

// Memory is an exact, in-memory VectorIndex using brute-force cosine
// similarity. Writes take the exclusive lock; searches share the read lock, so
// a search never observes a partially written passage.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	passages  map[string]*domain.Passage
	nextSeq   int64
}

// NewMemory creates an empty in-memory index for vectors of the given dimension.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		passages:  make(map[string]*domain.Passage),
	}
}

// Dimension returns the configured embedding dimension.
func (m *Memory) Dimension() int {
	return m.dimension
}

// Upsert inserts or replaces a passage by ID. Replacing keeps the original
// insertion sequence so ranking ties stay stable across re-ingestion.
func (m *Memory) Upsert(ctx context.Context, p *domain.Passage) error {
	if err := domain.ValidatePassage(p); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid passage", err)
	}
	if len(p.Embedding) != m.dimension {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndex,
			domain.ErrDimensionMismatch.Message,
			fmt.Errorf("index dimension %d, passage %q has %d", m.dimension, p.ID, len(p.Embedding)))
	}

	stored := clonePassage(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.passages[p.ID]; ok {
		stored.Seq = existing.Seq
	} else {
		m.nextSeq++
		stored.Seq = m.nextSeq
	}
	m.passages[p.ID] = stored
	return nil
}

// Search returns at most topK passages ranked by descending cosine similarity,
// ties broken by insertion order (oldest first).
func (m *Memory) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]domain.ScoredPassage, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	if len(query) != m.dimension {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex,
			domain.ErrDimensionMismatch.Message,
			fmt.Errorf("index dimension %d, query has %d", m.dimension, len(query)))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]domain.ScoredPassage, 0, len(m.passages))
	for _, p := range m.passages {
		if !matchesFilter(p, filter) {
			continue
		}
		results = append(results, domain.ScoredPassage{
			Passage: clonePassage(p),
			Score:   cosineSimilarity(query, p.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Passage.Seq < results[j].Passage.Seq
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteBySource removes all passages of one source file, returning the count
// removed. A non-existent source removes zero and is not an error.
func (m *Memory) DeleteBySource(ctx context.Context, namespace, filename string) (int, error) {
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, p := range m.passages {
		if p.Namespace == namespace && p.SourceFile == filename {
			delete(m.passages, id)
			removed++
		}
	}
	return removed, nil
}

// DeleteByIDs removes the passages with the given IDs, returning the count removed.
func (m *Memory) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := m.passages[id]; ok {
			delete(m.passages, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the total number of passages in the index.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.passages), nil
}

// ListSources enumerates indexed source files with aggregate passage counts
// and byte sizes. An empty namespace lists all namespaces.
func (m *Memory) ListSources(ctx context.Context, namespace string) ([]domain.SourceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ namespace, filename string }
	agg := make(map[key]*domain.SourceInfo)
	for _, p := range m.passages {
		if namespace != "" && p.Namespace != namespace {
			continue
		}
		k := key{p.Namespace, p.SourceFile}
		info, ok := agg[k]
		if !ok {
			info = &domain.SourceInfo{
				Filename:  p.SourceFile,
				Namespace: p.Namespace,
				FileID:    domain.SourceFileID(p.Namespace, p.SourceFile),
			}
			agg[k] = info
		}
		info.PassageCount++
		info.ByteSize += int64(len(p.Content))
	}

	sources := make([]domain.SourceInfo, 0, len(agg))
	for _, info := range agg {
		sources = append(sources, *info)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Namespace != sources[j].Namespace {
			return sources[i].Namespace < sources[j].Namespace
		}
		return sources[i].Filename < sources[j].Filename
	})
	return sources, nil
}

func clonePassage(p *domain.Passage) *domain.Passage {
	clone := *p
	clone.Embedding = append([]float32(nil), p.Embedding...)
	if p.Meta != nil {
		clone.Meta = make(domain.Meta, len(p.Meta))
		for k, v := range p.Meta {
			clone.Meta[k] = v
		}
	}
	return &clone
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
