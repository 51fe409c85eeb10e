package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeExtraction = "EXTRACTION_ERROR"
	ErrCodeEmbedding  = "EMBEDDING_ERROR"
	ErrCodeIndex      = "INDEX_ERROR"
	ErrCodeGeneration = "GENERATION_ERROR"
	ErrCodeInternal   = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery         = NewDomainError(ErrCodeValidation, "query text cannot be blank")
	ErrInvalidTopK        = NewDomainError(ErrCodeValidation, "topK must be positive")
	ErrEmptyBatch         = NewDomainError(ErrCodeValidation, "ingestion batch must contain at least one file")
	ErrEmptyFileContent   = NewDomainError(ErrCodeValidation, "file content cannot be empty")
	ErrInvalidChunkParams = NewDomainError(ErrCodeValidation, "invalid chunking parameters")
)

// Not found errors
var (
	ErrUploadNotFound = NewDomainError(ErrCodeNotFound, "upload job not found")
)

// Index errors
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeIndex, "embedding dimension does not match index dimension")
)

// NewUnsupportedFileTypeError reports a file rejected by the extension allow-list.
func NewUnsupportedFileTypeError(filename string) *DomainError {
	return NewDomainError(ErrCodeValidation, fmt.Sprintf("unsupported file type: %s", filename))
}

// NewExtractionError reports a file whose text could not be extracted.
func NewExtractionError(filename string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeExtraction, fmt.Sprintf("failed to extract text from %s", filename), err)
}
