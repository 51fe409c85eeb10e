// Package index provides vector storage and nearest-neighbor search over
// passages. The in-memory implementation is the exact brute-force baseline;
// the pgvector implementation persists the same contract in Postgres.
package index

import (
	"context"

	"github.com/vektor-ai/vektor/internal/domain"
)

// Filter restricts a search or listing to one namespace and/or source file.
type Filter struct {
	Namespace  string
	SourceFile string
}

// VectorIndex is the storage contract for passages.
//
// Upsert is atomic per passage ID and its effect is visible to subsequent
// searches. Search returns at most topK passages ranked by descending cosine
// similarity; ties break by insertion order, oldest first. DeleteBySource
// removes every passage of one source file atomically with respect to Search.
type VectorIndex interface {
	Upsert(ctx context.Context, p *domain.Passage) error
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]domain.ScoredPassage, error)
	DeleteBySource(ctx context.Context, namespace, filename string) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
	ListSources(ctx context.Context, namespace string) ([]domain.SourceInfo, error)
}

func matchesFilter(p *domain.Passage, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Namespace != "" && p.Namespace != filter.Namespace {
		return false
	}
	if filter.SourceFile != "" && p.SourceFile != filter.SourceFile {
		return false
	}
	return true
}
