package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Plaintext extracts UTF-8 text files as-is.
type Plaintext struct{}

func (p *Plaintext) Extract(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return strings.TrimSpace(string(data)), nil
}
