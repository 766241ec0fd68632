// Package vector stores passage embeddings and answers nearest-neighbour queries.
package vector

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// Index stores passages with their embeddings. Passage.DocumentID is a relation only;
// the index never creates or removes documents.
type Index interface {
	// Add stores passages. A passage whose ID already exists is overwritten.
	Add(ctx context.Context, passages []*models.Passage) error
	// Search returns up to k passages ordered by descending inner product with query.
	Search(ctx context.Context, query []float32, k int) ([]*models.ScoredPassage, error)
	// DeleteByDocument removes every passage of documentID, or none on error.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	// CountByDocument returns the number of stored passages of documentID.
	CountByDocument(ctx context.Context, documentID string) (int, error)
	// DocumentIDs returns the distinct document ids that have passages, sorted.
	DocumentIDs(ctx context.Context) ([]string, error)
	Size() int
	Close() error
}
