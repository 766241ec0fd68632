// Package models defines core data structures for documents, passages, and conversation turns.
package models

import "time"

// Document is one uploaded source file registered in the metadata store.
type Document struct {
	ID         string    `json:"id" db:"id"`
	Filename   string    `json:"filename" db:"filename"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// Passage is a chunk of a document's text plus its embedding, the unit stored in the vector index.
// DocumentID is a relation only; the vector index never owns the document lifecycle.
type Passage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// ScoredPassage is a vector search hit.
type ScoredPassage struct {
	Passage *Passage `json:"passage"`
	Score   float64  `json:"score"`
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Passages   int    `json:"passages"`
}
