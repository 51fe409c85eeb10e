package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vektor-ai/vektor/internal/api"
	"github.com/vektor-ai/vektor/internal/domain"
)

type QueryService interface {
	Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Text       string `json:"text"`
	TopK       int    `json:"top_k"`
	SourceFile string `json:"source_file"`
	Namespace  string `json:"namespace"`
}

type PassageResponse struct {
	ID      string      `json:"id"`
	Content string      `json:"content"`
	Meta    domain.Meta `json:"meta,omitempty"`
	Score   float32     `json:"score"`
}

type QueryResponse struct {
	Answers  []string          `json:"answers"`
	Passages []PassageResponse `json:"passages"`
	Error    string            `json:"error,omitempty"`
}

// Query embeds the request text, searches the index and returns ranked
// passages with optional synthesized answers.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Query(r.Context(), domain.QueryRequest{
		Text:       req.Text,
		TopK:       req.TopK,
		SourceFile: req.SourceFile,
		Namespace:  req.Namespace,
	})
	if err != nil {
		status := api.DomainErrorToHTTP(err)
		api.JSON(w, status, QueryResponse{
			Answers:  []string{},
			Passages: []PassageResponse{},
			Error:    err.Error(),
		})
		return
	}

	passages := make([]PassageResponse, 0, len(result.Passages))
	for _, sp := range result.Passages {
		passages = append(passages, PassageResponse{
			ID:      sp.Passage.ID,
			Content: sp.Passage.Content,
			Meta:    sp.Passage.Meta,
			Score:   sp.Score,
		})
	}

	answers := result.Answers
	if answers == nil {
		answers = []string{}
	}

	api.JSON(w, http.StatusOK, QueryResponse{Answers: answers, Passages: passages})
}
