package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vektor-ai/vektor/internal/domain"
	"github.com/vektor-ai/vektor/internal/index"
)

// MockGenerationClient mocks the chat completion client
type MockGenerationClient struct {
	mock.Mock
}

func (m *MockGenerationClient) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func seedPassages(t *testing.T, idx *index.Memory) {
	t.Helper()
	passages := []*domain.Passage{
		{ID: "p1", Content: "Go was released in 2009.", SourceFile: "go.txt", Namespace: domain.DefaultNamespace, Embedding: []float32{1, 0, 0, 0}},
		{ID: "p2", Content: "Rust was released in 2015.", SourceFile: "rust.txt", Namespace: domain.DefaultNamespace, Embedding: []float32{0, 1, 0, 0}},
		{ID: "p3", Content: "Go has goroutines.", SourceFile: "go.txt", Namespace: domain.DefaultNamespace, Embedding: []float32{0.9, 0.1, 0, 0}},
	}
	for _, p := range passages {
		require.NoError(t, idx.Upsert(context.Background(), p))
	}
}

func TestRetrievalEngine_Query_RanksAndGenerates(t *testing.T) {
	idx := index.NewMemory(testDimension)
	seedPassages(t, idx)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, "When was Go released?").
		Return([]float32{1, 0, 0, 0}, nil)

	mockGenerator := new(MockGenerationClient)
	mockGenerator.On("GenerateAnswer", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Go was released in 2009.") &&
			strings.Contains(prompt, "When was Go released?")
	})).Return("Go was released in 2009.", nil)

	engine := NewRetrievalEngine(idx, mockEmbedder, mockGenerator)

	result, err := engine.Query(context.Background(), domain.QueryRequest{Text: "When was Go released?", TopK: 2})
	require.NoError(t, err)

	require.Len(t, result.Passages, 2)
	assert.Equal(t, "p1", result.Passages[0].Passage.ID)
	assert.Equal(t, "p3", result.Passages[1].Passage.ID)
	assert.Greater(t, result.Passages[0].Score, result.Passages[1].Score)
	assert.Equal(t, []string{"Go was released in 2009."}, result.Answers)

	mockEmbedder.AssertExpectations(t)
	mockGenerator.AssertExpectations(t)
}

func TestRetrievalEngine_Query_BlankText(t *testing.T) {
	idx := index.NewMemory(testDimension)
	mockEmbedder := new(MockEmbeddingClient)
	engine := NewRetrievalEngine(idx, mockEmbedder, nil)

	_, err := engine.Query(context.Background(), domain.QueryRequest{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	mockEmbedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
}

func TestRetrievalEngine_Query_TopKDefault(t *testing.T) {
	idx := index.NewMemory(testDimension)
	seedPassages(t, idx)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return([]float32{1, 0, 0, 0}, nil)

	engine := NewRetrievalEngine(idx, mockEmbedder, nil)

	result, err := engine.Query(context.Background(), domain.QueryRequest{Text: "go", TopK: 0})
	require.NoError(t, err)
	assert.Len(t, result.Passages, domain.DefaultTopK)
	assert.Empty(t, result.Answers)
}

func TestRetrievalEngine_Query_SourceFileFilter(t *testing.T) {
	idx := index.NewMemory(testDimension)
	seedPassages(t, idx)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return([]float32{0, 1, 0, 0}, nil)

	engine := NewRetrievalEngine(idx, mockEmbedder, nil)

	result, err := engine.Query(context.Background(), domain.QueryRequest{
		Text:       "rust",
		TopK:       5,
		SourceFile: "rust.txt",
	})
	require.NoError(t, err)
	require.Len(t, result.Passages, 1)
	assert.Equal(t, "p2", result.Passages[0].Passage.ID)
}

func TestRetrievalEngine_Query_EmptyRetrievalFallback(t *testing.T) {
	idx := index.NewMemory(testDimension)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return([]float32{1, 0, 0, 0}, nil)

	mockGenerator := new(MockGenerationClient)
	engine := NewRetrievalEngine(idx, mockEmbedder, mockGenerator)

	result, err := engine.Query(context.Background(), domain.QueryRequest{Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, result.Passages)
	assert.Equal(t, []string{FallbackAnswer}, result.Answers)

	// An empty index means no generation call at all.
	mockGenerator.AssertNotCalled(t, "GenerateAnswer", mock.Anything, mock.Anything)
}

func TestRetrievalEngine_Query_GenerationFailureDegrades(t *testing.T) {
	idx := index.NewMemory(testDimension)
	seedPassages(t, idx)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return([]float32{1, 0, 0, 0}, nil)

	mockGenerator := new(MockGenerationClient)
	mockGenerator.On("GenerateAnswer", mock.Anything, mock.Anything).
		Return("", errors.New("model overloaded"))

	engine := NewRetrievalEngine(idx, mockEmbedder, mockGenerator)

	result, err := engine.Query(context.Background(), domain.QueryRequest{Text: "go", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, result.Passages, 2)
	assert.Empty(t, result.Answers)
}

func TestRetrievalEngine_Query_EmbedFailure(t *testing.T) {
	idx := index.NewMemory(testDimension)
	seedPassages(t, idx)

	mockEmbedder := new(MockEmbeddingClient)
	mockEmbedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return(nil, errors.New("api down"))

	engine := NewRetrievalEngine(idx, mockEmbedder, nil)

	_, err := engine.Query(context.Background(), domain.QueryRequest{Text: "go"})
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeEmbedding, domainErr.Code)
}
