package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vektor-ai/vektor/internal/domain"
	"github.com/vektor-ai/vektor/internal/index"
)

// FallbackAnswer is returned when no passages match a query.
const FallbackAnswer = "I don't know."

// promptTemplate grounds the generator in retrieved passages only.
const promptTemplate = `Answer the question using only the context below. If the context does not contain the answer, say "I don't know."

Context:
%s

Question: %s

Answer:`

// GenerationClient synthesizes an answer from a grounded prompt.
type GenerationClient interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// RetrievalEngine answers queries by embedding the query text, searching the
// vector index, and optionally synthesizing an answer from the retrieved
// passages. Generation is best-effort: when it fails, the ranked passages are
// still returned with empty answers.
type RetrievalEngine struct {
	idx       index.VectorIndex
	embedder  EmbeddingClient
	generator GenerationClient
}

// NewRetrievalEngine creates a retrieval engine. A nil generator disables
// answer synthesis entirely; queries then return passages only.
func NewRetrievalEngine(idx index.VectorIndex, embedder EmbeddingClient, generator GenerationClient) *RetrievalEngine {
	return &RetrievalEngine{
		idx:       idx,
		embedder:  embedder,
		generator: generator,
	}
}

// Query retrieves the topK passages most similar to the query text. Blank
// text is rejected before any embedding call. A non-positive topK falls back
// to domain.DefaultTopK. Scores are surfaced unmodified.
func (e *RetrievalEngine) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, domain.ErrEmptyQuery
	}

	topK := req.TopK
	if topK <= 0 {
		topK = domain.DefaultTopK
	}

	embedding, err := e.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "failed to embed query", err)
	}

	var filter *index.Filter
	if req.SourceFile != "" || req.Namespace != "" {
		filter = &index.Filter{Namespace: req.Namespace, SourceFile: req.SourceFile}
	}

	passages, err := e.idx.Search(ctx, embedding, topK, filter)
	if err != nil {
		return nil, err
	}

	result := &domain.QueryResult{Passages: passages}

	if len(passages) == 0 {
		result.Answers = []string{FallbackAnswer}
		return result, nil
	}

	if e.generator == nil {
		return result, nil
	}

	answer, err := e.generator.GenerateAnswer(ctx, buildPrompt(text, passages))
	if err != nil {
		// Degrade gracefully: the caller still gets the ranked passages.
		log.Printf("query generation failed: %v", err)
		return result, nil
	}
	result.Answers = []string{answer}
	return result, nil
}

func buildPrompt(query string, passages []domain.ScoredPassage) string {
	contents := make([]string, len(passages))
	for i, sp := range passages {
		contents[i] = sp.Passage.Content
	}
	return fmt.Sprintf(promptTemplate, strings.Join(contents, "\n\n"), query)
}
