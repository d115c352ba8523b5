package domain

import (
	"errors"
	"fmt"
)

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

// Is reports whether target is a DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
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

// Domain error codes
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeEmbeddingUnavailable    = "EMBEDDING_UNAVAILABLE"
	ErrCodeIndexUnavailable        = "INDEX_UNAVAILABLE"
	ErrCodeUnsupportedSourceFormat = "UNSUPPORTED_SOURCE_FORMAT"
	ErrCodeInvalidScope            = "INVALID_SCOPE"
)

var (
	ErrEmbeddingUnavailable    = NewDomainError(ErrCodeEmbeddingUnavailable, "embedding backend unavailable")
	ErrIndexUnavailable        = NewDomainError(ErrCodeIndexUnavailable, "vector index unavailable")
	ErrUnsupportedSourceFormat = NewDomainError(ErrCodeUnsupportedSourceFormat, "unsupported source format")
	ErrInvalidScope            = NewDomainError(ErrCodeInvalidScope, "patient scope is missing or unresolvable")
)

// Validation errors
var (
	ErrInvalidDocType      = NewDomainError(ErrCodeValidation, "invalid doc type")
	ErrReservedMetadataKey = NewDomainError(ErrCodeValidation, "reserved metadata key")
	ErrMissingRequired     = NewDomainError(ErrCodeValidation, "missing required field")
)

// EmbeddingUnavailable wraps a backend failure as EMBEDDING_UNAVAILABLE.
func EmbeddingUnavailable(err error) error {
	return NewDomainErrorWithCause(ErrCodeEmbeddingUnavailable, "embedding backend unavailable", err)
}

// IndexUnavailable wraps a storage failure as INDEX_UNAVAILABLE.
func IndexUnavailable(err error) error {
	return NewDomainErrorWithCause(ErrCodeIndexUnavailable, "vector index unavailable", err)
}

// UnsupportedSourceFormat reports a source with no extractor.
func UnsupportedSourceFormat(ext string) error {
	return NewDomainErrorWithCause(ErrCodeUnsupportedSourceFormat, "unsupported source format", fmt.Errorf("no extractor for %q", ext))
}

// ErrorCode returns the domain error code carried by err, or "" if none.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
