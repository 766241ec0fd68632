// Package indexer provides document chunking, the ingestion pipeline, and document teardown.
package indexer

import (
	"fmt"

	"github.com/hyperjump/docchat/internal/contentid"
	"github.com/hyperjump/docchat/internal/models"
)

// Chunker splits text into overlapping fixed-size passages measured in characters (runes).
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// Overlap must be non-negative and strictly less than size.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split returns the ordered passage texts of text. Consecutive passages share exactly
// chunkOverlap characters; a text no longer than chunkSize yields one passage equal to
// the whole text, and empty text yields none. Split has no side effects.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// Chunk splits text and tags every passage with docID.
func (c *Chunker) Chunk(docID, text string) []*models.Passage {
	parts := c.Split(text)
	passages := make([]*models.Passage, len(parts))
	for i, part := range parts {
		passages[i] = &models.Passage{
			ID:         contentid.PassageID(docID, i, part),
			DocumentID: docID,
			ChunkIndex: i,
			Text:       part,
		}
	}
	return passages
}
