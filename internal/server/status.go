package server

import (
	"context"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
)

// CollectStatus gathers document, passage, and turn counts plus a configuration summary.
// Disk usage is omitted when it cannot be measured.
func CollectStatus(ctx context.Context, store storage.MetadataStore, index vector.Index, cfg *config.Config) (*models.Status, error) {
	docs, err := store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	turns, err := store.CountTurns(ctx)
	if err != nil {
		return nil, err
	}
	status := &models.Status{
		Documents: docs,
		Passages:  index.Size(),
		Turns:     turns,
		Config: &models.StatusConfig{
			VectorIndexType:     cfg.Storage.VectorIndexType,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			ChunkSize:           cfg.Ingest.ChunkSize,
			ChunkOverlap:        cfg.Ingest.ChunkOverlap,
			RetrievalK:          cfg.Retrieval.K,
			DefaultModel:        cfg.LLM.DefaultModel,
			DatabasePath:        cfg.Storage.DatabasePath,
			VectorIndexPath:     cfg.Storage.VectorIndexPath,
		},
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.VectorIndexPath); err == nil {
		status.DiskUsageBytes = &n
	}
	return status, nil
}
