package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/extract"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/pkg/utils"
	"go.uber.org/zap"
)

// State is a step of the per-upload state machine.
type State string

const (
	StateReceived   State = "received"
	StateRegistered State = "registered"
	StateChunked    State = "chunked"
	StateIndexed    State = "indexed"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Pipeline ingests uploaded documents into the metadata store and the vector index,
// and tears them down again.
type Pipeline struct {
	store    storage.MetadataStore
	index    vector.Index
	embedder embedding.Embedder
	chunker  *Chunker
	cfg      *config.IngestConfig
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for state transitions and teardown results.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline. It fails if the chunking settings are invalid.
func NewPipeline(
	store storage.MetadataStore,
	index vector.Index,
	embedder embedding.Embedder,
	cfg *config.IngestConfig,
	opts ...Option,
) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		store:    store,
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p, nil
}

// CheckUpload validates filename and size without touching any state.
func (p *Pipeline) CheckUpload(filename string, size int64) error {
	if strings.TrimSpace(filename) == "" || filename != filepath.Base(filename) {
		return fmt.Errorf("invalid filename %q: %w", filename, errs.ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !p.cfg.IsAllowedExtension(ext) || !extract.Supported(ext) {
		return fmt.Errorf("file type %q not allowed (allowed: %s): %w",
			ext, strings.Join(p.cfg.AllowedExtensions, ", "), errs.ErrUnsupportedFormat)
	}
	if p.cfg.MaxUploadBytes > 0 && size > p.cfg.MaxUploadBytes {
		return fmt.Errorf("file is %d bytes, limit is %d: %w", size, p.cfg.MaxUploadBytes, errs.ErrValidation)
	}
	return nil
}

// Upload registers filename, extracts and chunks content, embeds the passages, and adds
// them to the vector index. Unsupported types are rejected before anything is written.
// A failure after registration leaves the document record behind; the returned error is
// then an *errs.PartialFailure reporting an orphan record.
func (p *Pipeline) Upload(ctx context.Context, filename string, content []byte) (*models.UploadResult, error) {
	log := p.logger.With(zap.String("filename", filename))
	log.Debug("upload state", zap.String("state", string(StateReceived)), zap.Int("bytes", len(content)))

	if err := p.CheckUpload(filename, int64(len(content))); err != nil {
		log.Debug("upload state", zap.String("state", string(StateFailed)), zap.Error(err))
		return nil, err
	}

	doc, err := p.store.InsertDocument(ctx, filename)
	if err != nil {
		log.Debug("upload state", zap.String("state", string(StateFailed)), zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("document_id", doc.ID))
	log.Debug("upload state", zap.String("state", string(StateRegistered)))

	n, err := p.ingest(ctx, log, doc, content)
	if err != nil {
		log.Warn("upload failed after registration; document record has no passages",
			zap.String("state", string(StateFailed)), zap.Error(err))
		return nil, &errs.PartialFailure{Err: err, DocumentID: doc.ID, Inconsistency: errs.InconsistencyOrphanRecord}
	}

	log.Info("document uploaded", zap.String("state", string(StateDone)), zap.Int("passages", n))
	return &models.UploadResult{DocumentID: doc.ID, Filename: doc.Filename, Passages: n}, nil
}

// Resume re-runs extraction, chunking, and indexing for an already registered document,
// typically an orphan record left by a failed upload. Passage ids are derived from the
// document id and content, so resuming more than once never duplicates passages.
func (p *Pipeline) Resume(ctx context.Context, documentID string, content []byte) (*models.UploadResult, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := p.CheckUpload(doc.Filename, int64(len(content))); err != nil {
		return nil, err
	}
	log := p.logger.With(zap.String("filename", doc.Filename), zap.String("document_id", doc.ID))
	n, err := p.ingest(ctx, log, doc, content)
	if err != nil {
		return nil, &errs.PartialFailure{Err: err, DocumentID: doc.ID, Inconsistency: errs.InconsistencyOrphanRecord}
	}
	log.Info("document resumed", zap.Int("passages", n))
	return &models.UploadResult{DocumentID: doc.ID, Filename: doc.Filename, Passages: n}, nil
}

// ingest runs the CHUNKED and INDEXED steps for a registered document.
func (p *Pipeline) ingest(ctx context.Context, log *zap.Logger, doc *models.Document, content []byte) (int, error) {
	text, err := extract.Extract(content, filepath.Ext(doc.Filename))
	if err != nil {
		return 0, err
	}
	passages := p.chunker.Chunk(doc.ID, Preprocess(text))
	if len(passages) == 0 {
		return 0, fmt.Errorf("document contains no text: %w", errs.ErrExtraction)
	}
	log.Debug("upload state", zap.String("state", string(StateChunked)), zap.Int("passages", len(passages)))

	texts := make([]string, len(passages))
	for i, ps := range passages {
		texts[i] = ps.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed passages: %v: %w", err, errs.ErrIndexingFailed)
	}
	for i := range passages {
		passages[i].Embedding = embeddings[i]
	}
	if err := p.index.Add(ctx, passages); err != nil {
		return 0, fmt.Errorf("add passages: %v: %w", err, errs.ErrIndexingFailed)
	}
	log.Debug("upload state", zap.String("state", string(StateIndexed)))
	return len(passages), nil
}

// UploadFile reads the file at path and uploads it under its base name.
func (p *Pipeline) UploadFile(ctx context.Context, path string) (*models.UploadResult, error) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s: %w", path, errs.ErrValidation)
	}
	if err := p.CheckUpload(name, info.Size()); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return p.Upload(ctx, name, content)
}

// UploadDirectory uploads every allowed regular file under dir. Files whose name is
// already registered are skipped. It returns the number of files uploaded and the
// first error other than a duplicate or unsupported type.
func (p *Pipeline) UploadDirectory(ctx context.Context, dir string, recursive bool) (n int, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", dir)
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if _, upErr := p.UploadFile(ctx, path); upErr != nil {
			if errors.Is(upErr, errs.ErrDuplicateFilename) || errors.Is(upErr, errs.ErrUnsupportedFormat) {
				return nil
			}
			return fmt.Errorf("%s: %w", path, upErr)
		}
		n++
		return nil
	})
	return n, err
}

// DeleteResult describes a completed teardown.
type DeleteResult struct {
	DocumentID    string `json:"document_id"`
	Passages      int    `json:"passages_removed"`
	RecordRemoved bool   `json:"record_removed"`
}

// Delete tears a document down, vector index first. If the index deletion fails the
// record is left untouched and errs.ErrIndexDeleteFailed is returned. If the record
// deletion then fails, the passages are already gone and the error is an
// *errs.PartialFailure wrapping errs.ErrMetadataDeleteFailed with an orphan record.
func (p *Pipeline) Delete(ctx context.Context, documentID string) (*DeleteResult, error) {
	log := p.logger.With(zap.String("document_id", documentID))

	n, err := p.index.DeleteByDocument(ctx, documentID)
	if err != nil {
		log.Warn("index deletion failed; document left intact", zap.Error(err))
		return nil, fmt.Errorf("delete passages of %s: %v: %w", documentID, err, errs.ErrIndexDeleteFailed)
	}

	removed, err := p.store.DeleteDocument(ctx, documentID)
	if err != nil {
		log.Error("metadata deletion failed after passages were removed",
			zap.Int("passages_removed", n), zap.Error(err))
		return nil, &errs.PartialFailure{
			Err:           fmt.Errorf("delete record %s: %v: %w", documentID, err, errs.ErrMetadataDeleteFailed),
			DocumentID:    documentID,
			Inconsistency: errs.InconsistencyOrphanRecord,
		}
	}
	if !removed && n == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrDocumentNotFound)
	}

	log.Info("document deleted", zap.Int("passages_removed", n), zap.Bool("record_removed", removed))
	return &DeleteResult{DocumentID: documentID, Passages: n, RecordRemoved: removed}, nil
}

// DeleteByFilename resolves filename to its document and deletes it.
func (p *Pipeline) DeleteByFilename(ctx context.Context, filename string) (*DeleteResult, error) {
	doc, err := p.store.GetDocumentByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}
	return p.Delete(ctx, doc.ID)
}
