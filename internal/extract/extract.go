// Package extract converts raw uploaded file bytes into plain text, selecting
// an extractor by file extension.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Extractor converts one file format's raw bytes to plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// Registry maps file extensions (with leading dot, lower case) to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates a registry with the default document extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	plain := &Plaintext{}
	r.Register(".txt", plain)
	r.Register(".md", plain)
	r.Register(".pdf", &PDF{})
	r.Register(".docx", &DOCX{})
	return r
}

// Register adds or replaces the extractor for an extension.
func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

// Supported reports whether the filename's extension has an extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.extractors[normalizeExt(filename)]
	return ok
}

// Extensions returns the registered extensions, for error messages.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	return exts
}

// Extract converts the file's bytes to plain text using the extractor
// registered for its extension.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	extractor, ok := r.extractors[normalizeExt(filename)]
	if !ok {
		return "", fmt.Errorf("no extractor registered for %s", filename)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("file %s is empty", filename)
	}
	return extractor.Extract(data)
}

func normalizeExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
