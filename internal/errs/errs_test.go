package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("insert document %q: %w", "a.pdf", ErrDuplicateFilename)
	if !errors.Is(err, ErrDuplicateFilename) {
		t.Fatal("errors.Is should match wrapped kind")
	}
	if got := HTTPStatus(err); got != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want 409", got)
	}
	if got := Code(err); got != "duplicate_filename" {
		t.Errorf("Code = %q", got)
	}
}

func TestUnknownErrorMapsToInternal(t *testing.T) {
	err := errors.New("boom")
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Error("unknown error should map to 500")
	}
	if Code(err) != "internal_error" {
		t.Errorf("Code = %q", Code(err))
	}
	if Kind(err) != nil {
		t.Error("Kind should be nil for unknown error")
	}
}

func TestPartialFailure(t *testing.T) {
	err := &PartialFailure{
		Err:           fmt.Errorf("delete record: %w", ErrMetadataDeleteFailed),
		DocumentID:    "doc-1",
		Inconsistency: InconsistencyOrphanRecord,
	}
	wrapped := fmt.Errorf("delete: %w", err)
	if !errors.Is(wrapped, ErrMetadataDeleteFailed) {
		t.Error("kind should be reachable through PartialFailure")
	}
	if got := Inconsistency(wrapped); got != InconsistencyOrphanRecord {
		t.Errorf("Inconsistency = %q", got)
	}
	if Inconsistency(ErrIndexDeleteFailed) != InconsistencyNone {
		t.Error("plain kind carries no inconsistency")
	}
}
