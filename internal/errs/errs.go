// Package errs defines the error kinds surfaced by the ingestion, deletion, and chat pipelines.
package errs

import (
	"errors"
	"net/http"
)

// Error is a distinguishable failure kind. Wrap it with fmt.Errorf("...: %w", ErrX)
// to add detail; callers match kinds with errors.Is.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
}

// New returns an error kind with a stable code and HTTP status.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Error kinds
var (
	ErrValidation           = New("validation_error", http.StatusBadRequest, "invalid request")
	ErrUnsupportedFormat    = New("unsupported_format", http.StatusBadRequest, "unsupported file type")
	ErrDuplicateFilename    = New("duplicate_filename", http.StatusConflict, "a document with this filename already exists")
	ErrExtraction           = New("extraction_error", http.StatusUnprocessableEntity, "text extraction failed")
	ErrIndexingFailed       = New("indexing_failed", http.StatusInternalServerError, "vector index write failed")
	ErrIndexDeleteFailed    = New("index_delete_failed", http.StatusInternalServerError, "vector index deletion failed")
	ErrMetadataDeleteFailed = New("metadata_delete_failed", http.StatusInternalServerError, "metadata deletion failed after index deletion succeeded")
	ErrConnectionFailure    = New("connection_failure", http.StatusServiceUnavailable, "metadata store unreachable")
	ErrDocumentNotFound     = New("document_not_found", http.StatusNotFound, "document not found")
	ErrLanguageModel        = New("language_model_error", http.StatusBadGateway, "language model call failed")
	ErrEmbedding            = New("embedding_error", http.StatusBadGateway, "embedding model call failed")
)

// Inconsistency classes reported alongside partial pipeline failures.
const (
	// InconsistencyOrphanRecord is a document record with no passages in the vector index.
	InconsistencyOrphanRecord = "orphan_record"
	// InconsistencyOrphanVectors is a set of passages whose document record is gone.
	InconsistencyOrphanVectors = "orphan_vectors"
	// InconsistencyNone means the failure left no partial state behind.
	InconsistencyNone = ""
)

// Kind returns the first *Error in err's chain, or nil.
func Kind(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatus maps err to an HTTP status code; unknown errors map to 500.
func HTTPStatus(err error) int {
	if e := Kind(err); e != nil {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the stable code of err's kind, or "internal_error".
func Code(err error) string {
	if e := Kind(err); e != nil {
		return e.Code
	}
	return "internal_error"
}

// PartialFailure wraps a pipeline error that left state behind. Inconsistency names
// which class of orphan the failure produced so an operator can reconcile it.
type PartialFailure struct {
	Err           error
	DocumentID    string
	Inconsistency string
}

func (p *PartialFailure) Error() string {
	if p.Inconsistency == InconsistencyNone {
		return p.Err.Error()
	}
	return p.Err.Error() + " (" + p.Inconsistency + ": document " + p.DocumentID + ")"
}

func (p *PartialFailure) Unwrap() error {
	return p.Err
}

// Inconsistency returns the inconsistency class carried by err, if any.
func Inconsistency(err error) string {
	var p *PartialFailure
	if errors.As(err, &p) {
		return p.Inconsistency
	}
	return InconsistencyNone
}
