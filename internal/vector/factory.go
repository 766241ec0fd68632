package vector

import (
	"fmt"
	"path/filepath"

	"github.com/hyperjump/docchat/internal/config"
	"go.uber.org/zap"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeBadger persists every write in a Badger database.
	IndexTypeBadger IndexType = "badger"
	// IndexTypeMemory keeps passages in memory and snapshots them to a file on Close.
	IndexTypeMemory IndexType = "memory"
)

// snapshotFile is the MemoryIndex snapshot name inside the vector index directory.
const snapshotFile = "index.bin"

// Open creates the vector index selected by cfg.VectorIndexType under cfg.VectorIndexPath.
func Open(cfg *config.StorageConfig, dimensions int, logger *zap.Logger) (Index, error) {
	switch IndexType(cfg.VectorIndexType) {
	case IndexTypeBadger, "":
		idx, err := OpenBadgerIndex(cfg.VectorIndexPath, dimensions, logger)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypeMemory:
		idx, err := OpenMemoryIndex(dimensions, filepath.Join(cfg.VectorIndexPath, snapshotFile))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: badger, memory)", cfg.VectorIndexType)
	}
}
