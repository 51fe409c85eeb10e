package domain

// DefaultTopK is the number of passages returned when a query does not specify one.
const DefaultTopK = 3

// QueryRequest describes one retrieval request. Not persisted.
type QueryRequest struct {
	Text       string
	TopK       int
	SourceFile string
	Namespace  string
}

// QueryResult carries ranked passages and, when generation is enabled,
// synthesized answers. Not persisted.
type QueryResult struct {
	Answers  []string
	Passages []ScoredPassage
}
