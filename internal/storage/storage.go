// Package storage persists document records and conversation turns.
package storage

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// MetadataStore holds two independent record families: documents and conversation turns.
// Every operation acquires its own connection and releases it before returning; failing
// to acquire one surfaces errs.ErrConnectionFailure.
type MetadataStore interface {
	// InsertDocument registers filename and returns the new document. A filename that
	// already exists fails with errs.ErrDuplicateFilename.
	InsertDocument(ctx context.Context, filename string) (*models.Document, error)
	// DeleteDocument reports whether a record was removed.
	DeleteDocument(ctx context.Context, id string) (bool, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByFilename(ctx context.Context, filename string) (*models.Document, error)
	// ListDocuments returns all documents, most recently uploaded first.
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
	CountDocuments(ctx context.Context) (int64, error)

	// AppendTurn stores a new turn; turns are never overwritten.
	AppendTurn(ctx context.Context, sessionID, question, answer, model string) (*models.ConversationTurn, error)
	// History returns the turns of sessionID in creation order.
	History(ctx context.Context, sessionID string) ([]*models.ConversationTurn, error)
	CountTurns(ctx context.Context) (int64, error)

	Close() error
}
