package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

// BadgerIndex persists passages in a Badger database and serves searches from an
// in-memory mirror that is rebuilt on open. Writes reach the mirror only after the
// Badger transaction commits.
type BadgerIndex struct {
	store  *badgerhold.Store
	mirror *MemoryIndex
	logger *zap.Logger
	// mu pairs every commit with its mirror update.
	mu sync.Mutex
}

// OpenBadgerIndex opens (creating if needed) the Badger database in dir.
func OpenBadgerIndex(dir string, dimensions int, logger *zap.Logger) (*BadgerIndex, error) {
	logger = utils.OrNop(logger)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector index directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger vector index: %w", err)
	}

	mirror, err := NewMemoryIndex(dimensions)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var stored []models.Passage
	if err := store.Find(&stored, nil); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load passages: %w", err)
	}
	loaded := make([]*models.Passage, len(stored))
	for i := range stored {
		loaded[i] = &stored[i]
	}
	if err := mirror.Add(context.Background(), loaded); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("stored passages do not match the embedding model: %w", err)
	}

	logger.Info("vector index opened",
		zap.String("path", dir),
		zap.Int("passages", mirror.Size()),
		zap.Int("dimensions", dimensions),
	)
	return &BadgerIndex{store: store, mirror: mirror, logger: logger}, nil
}

// maxAddBatch is the largest number of passages upserted in one transaction.
// A batch that still exceeds Badger's transaction size limit is split in half.
const maxAddBatch = 128

// Add upserts passages in batches, one transaction per batch. If a batch
// fails, the batches before it stay stored; passage ids are content-derived,
// so adding the same passages again overwrites them.
func (b *BadgerIndex) Add(ctx context.Context, passages []*models.Passage) error {
	for _, p := range passages {
		if err := b.mirror.check(p); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := maxAddBatch
	for start := 0; start < len(passages); {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]

		err := b.update(func(tx *badger.Txn) error {
			for _, p := range batch {
				if err := b.store.TxUpsert(tx, p.ID, p); err != nil {
					return fmt.Errorf("upsert passage %s: %w", p.ID, err)
				}
			}
			return nil
		})
		if errors.Is(err, badger.ErrTxnTooBig) && size > 1 {
			size /= 2
			b.logger.Debug("badger transaction too big, shrinking batch", zap.Int("batch", size))
			continue
		}
		if err != nil {
			return err
		}
		if err := b.mirror.Add(ctx, batch); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// maxConflictRetries bounds retries of a transaction that lost a write conflict.
const maxConflictRetries = 3

// update runs fn in a read-write transaction and commits it. Nothing is written
// unless fn and the commit both succeed.
func (b *BadgerIndex) update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.commit(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("badger transaction conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return err
}

func (b *BadgerIndex) commit(fn func(tx *badger.Txn) error) error {
	tx := b.store.Badger().NewTransaction(true)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Search implements Index.
func (b *BadgerIndex) Search(ctx context.Context, query []float32, k int) ([]*models.ScoredPassage, error) {
	return b.mirror.Search(ctx, query, k)
}

// DeleteByDocument deletes all passages of documentID in one transaction.
func (b *BadgerIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// DocumentID is not a badgerhold index; this scans every stored passage.
	query := badgerhold.Where("DocumentID").Eq(documentID)

	b.mu.Lock()
	defer b.mu.Unlock()

	var count uint64
	err := b.update(func(tx *badger.Txn) error {
		var err error
		if count, err = b.store.TxCount(tx, &models.Passage{}, query); err != nil {
			return fmt.Errorf("count passages of %s: %w", documentID, err)
		}
		if err := b.store.TxDeleteMatching(tx, &models.Passage{}, query); err != nil {
			return fmt.Errorf("delete passages of %s: %w", documentID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := b.mirror.DeleteByDocument(ctx, documentID); err != nil {
		return 0, err
	}
	b.logger.Debug("passages deleted", zap.String("document_id", documentID), zap.Uint64("count", count))
	return int(count), nil
}

// CountByDocument implements Index.
func (b *BadgerIndex) CountByDocument(ctx context.Context, documentID string) (int, error) {
	return b.mirror.CountByDocument(ctx, documentID)
}

// DocumentIDs implements Index.
func (b *BadgerIndex) DocumentIDs(ctx context.Context) ([]string, error) {
	return b.mirror.DocumentIDs(ctx)
}

// Size returns the number of stored passages.
func (b *BadgerIndex) Size() int {
	return b.mirror.Size()
}

// Close closes the Badger database.
func (b *BadgerIndex) Close() error {
	return b.store.Close()
}
