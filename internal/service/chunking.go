package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vektor-ai/vektor/internal/domain"
)

// ChunkConfig controls how document text is split into passages.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1200,
		Overlap:  200,
	}
}

// Validate checks the chunking parameters.
func (cfg ChunkConfig) Validate() error {
	if cfg.MaxChars <= 0 {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
			domain.ErrInvalidChunkParams.Message,
			fmt.Errorf("max chars must be positive, got %d", cfg.MaxChars))
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
			domain.ErrInvalidChunkParams.Message,
			fmt.Errorf("overlap must be in [0, %d), got %d", cfg.MaxChars, cfg.Overlap))
	}
	return nil
}

// ChunkText splits text into chunks of at most cfg.MaxChars runes, preferring
// paragraph breaks, then sentence ends, then whitespace, with a hard cut as the
// last resort. Consecutive chunks overlap by cfg.Overlap runes. The same input
// and config always produce the same chunk boundaries. Blank input yields nil.
func ChunkText(text string, cfg ChunkConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil, nil
	}

	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}, nil
	}

	chunks := make([]string, 0, 8)
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			end = boundaryCut(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		nextStart := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			nextStart = end - cfg.Overlap
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return chunks, nil
}

// boundaryCut finds the best cut point in runes[start:end], scanning backward
// no further than half the chunk budget so chunks stay reasonably full.
func boundaryCut(runes []rune, start, end int) int {
	minCut := start + (end-start)/2

	// Paragraph break
	for i := end; i > minCut; i-- {
		if runes[i-1] == '\n' && i-2 >= start && runes[i-2] == '\n' {
			return i
		}
	}

	// Sentence end followed by whitespace
	for i := end; i > minCut; i-- {
		if i-2 >= start && isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	// Any whitespace
	for i := end; i > minCut; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	// Hard cut
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
