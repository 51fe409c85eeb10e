package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektor-ai/vektor/internal/domain"
)

func newPassage(id, content, sourceFile string, embedding []float32) *domain.Passage {
	return &domain.Passage{
		ID:         id,
		Content:    content,
		SourceFile: sourceFile,
		Namespace:  domain.DefaultNamespace,
		Embedding:  embedding,
	}
}

func TestMemoryUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(3)

	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "north", "a.txt", []float32{1, 0, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("p2", "east", "a.txt", []float32{0, 1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("p3", "northeast", "b.txt", []float32{1, 1, 0})))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].Passage.ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
	assert.Equal(t, "p3", results[1].Passage.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemorySearchRankedDescending(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	for i := 0; i < 10; i++ {
		p := newPassage(fmt.Sprintf("p%d", i), "content", "a.txt", []float32{1, float32(i) * 0.1})
		require.NoError(t, idx.Upsert(ctx, p))
	}

	for topK := 1; topK <= 12; topK++ {
		results, err := idx.Search(ctx, []float32{1, 0}, topK, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), topK)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, float32(-1))
			assert.LessOrEqual(t, r.Score, float32(1))
		}
	}
}

func TestMemorySearchTieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	// Identical embeddings: insertion order must decide.
	require.NoError(t, idx.Upsert(ctx, newPassage("older", "same", "a.txt", []float32{1, 1})))
	require.NoError(t, idx.Upsert(ctx, newPassage("newer", "same", "a.txt", []float32{1, 1})))

	results, err := idx.Search(ctx, []float32{1, 1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "older", results[0].Passage.ID)
	assert.Equal(t, "newer", results[1].Passage.ID)
}

func TestMemoryUpsertReplacesKeepingSeq(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "old content", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("p2", "other", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "new content", "a.txt", []float32{1, 0})))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := idx.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// p1 keeps its original sequence, so it still wins the tie.
	assert.Equal(t, "p1", results[0].Passage.ID)
	assert.Equal(t, "new content", results[0].Passage.Content)
}

func TestMemorySearchInvalidTopK(t *testing.T) {
	idx := NewMemory(2)
	for _, topK := range []int{0, -1} {
		_, err := idx.Search(context.Background(), []float32{1, 0}, topK, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidTopK)
	}
}

func TestMemoryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(3)

	err := idx.Upsert(ctx, newPassage("p1", "content", "a.txt", []float32{1, 0}))
	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeIndex, domainErr.Code)

	_, err = idx.Search(ctx, []float32{1, 0}, 3, nil)
	require.Error(t, err)
}

func TestMemorySearchScopedToSourceFile(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	require.NoError(t, idx.Upsert(ctx, newPassage("a1", "from a", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("b1", "from b", "b.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("b2", "from b too", "b.txt", []float32{0, 1})))

	results, err := idx.Search(ctx, []float32{1, 0}, 10, &Filter{SourceFile: "b.txt"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "b.txt", r.Passage.SourceFile)
	}
}

func TestMemorySearchScopedToNamespace(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	p := newPassage("n1", "isolated", "a.txt", []float32{1, 0})
	p.Namespace = "tenant-a"
	require.NoError(t, idx.Upsert(ctx, p))
	require.NoError(t, idx.Upsert(ctx, newPassage("d1", "default", "a.txt", []float32{1, 0})))

	results, err := idx.Search(ctx, []float32{1, 0}, 10, &Filter{Namespace: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].Passage.ID)
}

func TestMemorySearchUnknownScopeReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "content", "a.txt", []float32{1, 0})))

	results, err := idx.Search(ctx, []float32{1, 0}, 5, &Filter{SourceFile: "missing.txt"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryDeleteBySource(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	require.NoError(t, idx.Upsert(ctx, newPassage("a1", "one", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("a2", "two", "a.txt", []float32{0, 1})))
	require.NoError(t, idx.Upsert(ctx, newPassage("b1", "three", "b.txt", []float32{1, 1})))

	removed, err := idx.DeleteBySource(ctx, domain.DefaultNamespace, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Repeating the delete is a no-op.
	removed, err = idx.DeleteBySource(ctx, domain.DefaultNamespace, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// The other source is untouched.
	results, err := idx.Search(ctx, []float32{1, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].Passage.ID)
}

func TestMemoryDeleteByIDs(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "one", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("p2", "two", "a.txt", []float32{0, 1})))

	removed, err := idx.DeleteByIDs(ctx, []string{"p1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryListSources(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)

	require.NoError(t, idx.Upsert(ctx, newPassage("a1", "12345", "a.txt", []float32{1, 0})))
	require.NoError(t, idx.Upsert(ctx, newPassage("a2", "123", "a.txt", []float32{0, 1})))
	other := newPassage("c1", "1234", "c.txt", []float32{1, 1})
	other.Namespace = "tenant-a"
	require.NoError(t, idx.Upsert(ctx, other))

	all, err := idx.ListSources(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "a.txt", all[0].Filename)
	assert.Equal(t, domain.DefaultNamespace, all[0].Namespace)
	assert.Equal(t, 2, all[0].PassageCount)
	assert.Equal(t, int64(8), all[0].ByteSize)
	assert.Equal(t, domain.SourceFileID(domain.DefaultNamespace, "a.txt"), all[0].FileID)

	scoped, err := idx.ListSources(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "c.txt", scoped[0].Filename)
}

func TestMemorySearchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, newPassage("p1", "content", "a.txt", []float32{1, 0})))

	results, err := idx.Search(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	results[0].Passage.Content = "mutated"
	results[0].Passage.Embedding[0] = 99

	again, err := idx.Search(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "content", again[0].Passage.Content)
	assert.Equal(t, float32(1), again[0].Passage.Embedding[0])
}
