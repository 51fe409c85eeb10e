package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DefaultNamespace is used when a caller does not specify a namespace.
const DefaultNamespace = "default"

// MetaKind identifies which primitive a MetaValue holds.
type MetaKind string

const (
	MetaKindString MetaKind = "string"
	MetaKindNumber MetaKind = "number"
	MetaKindBool   MetaKind = "bool"
)

// MetaValue holds one metadata value of a closed set of primitive types.
// Exactly one of Str, Num, Bool is meaningful, selected by Kind.
type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Bool bool
}

// MetaString creates a string-valued MetaValue.
func MetaString(s string) MetaValue { return MetaValue{Kind: MetaKindString, Str: s} }

// MetaNumber creates a number-valued MetaValue.
func MetaNumber(n float64) MetaValue { return MetaValue{Kind: MetaKindNumber, Num: n} }

// MetaBool creates a bool-valued MetaValue.
func MetaBool(b bool) MetaValue { return MetaValue{Kind: MetaKindBool, Bool: b} }

// MarshalJSON renders the underlying primitive directly.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case MetaKindString:
		return json.Marshal(v.Str)
	case MetaKindNumber:
		return json.Marshal(v.Num)
	case MetaKindBool:
		return json.Marshal(v.Bool)
	default:
		return nil, fmt.Errorf("meta value has unknown kind %q", v.Kind)
	}
}

// Meta maps string keys to primitive metadata values.
type Meta map[string]MetaValue

// Passage is one indexed, embedded chunk of a source document.
type Passage struct {
	ID         string
	Content    string
	SourceFile string
	Namespace  string
	Embedding  []float32
	Meta       Meta

	// Seq is the insertion sequence number assigned by the index,
	// used to break similarity-score ties deterministically.
	Seq int64
}

// ScoredPassage pairs a passage with its similarity score for a query.
type ScoredPassage struct {
	Passage *Passage
	Score   float32
}

// SourceInfo summarizes all passages that share one source file.
type SourceInfo struct {
	Filename     string
	Namespace    string
	PassageCount int
	ByteSize     int64
	FileID       string
}

// SourceFileID derives a stable identifier for a (namespace, filename) pair.
func SourceFileID(namespace, filename string) string {
	sum := sha256.Sum256([]byte(namespace + "/" + filename))
	return hex.EncodeToString(sum[:8])
}

// ValidatePassage validates a Passage instance before indexing.
func ValidatePassage(p *Passage) error {
	if p == nil {
		return fmt.Errorf("passage cannot be nil")
	}
	if p.ID == "" {
		return fmt.Errorf("passage ID is required")
	}
	if p.Content == "" {
		return fmt.Errorf("passage content is required")
	}
	if p.SourceFile == "" {
		return fmt.Errorf("passage source file is required")
	}
	if p.Namespace == "" {
		return fmt.Errorf("passage namespace is required")
	}
	if len(p.Embedding) == 0 {
		return fmt.Errorf("passage embedding is required")
	}
	return nil
}
