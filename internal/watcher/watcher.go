// Package watcher keeps inbox directories in sync with the document store: files that
// appear are uploaded, files that disappear are deleted by filename.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives inbox changes. *indexer.Pipeline satisfies it.
type Sink interface {
	UploadFile(ctx context.Context, path string) (*models.UploadResult, error)
	DeleteByFilename(ctx context.Context, filename string) (*indexer.DeleteResult, error)
}

// Inbox watches directories with fsnotify and forwards debounced file events to a Sink.
type Inbox struct {
	roots      []string
	extensions []string
	recursive  bool
	sink       Sink
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets a logger for inbox events.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is uploaded.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// NewInbox creates an inbox over roots. Only files whose extension is in extensions
// are forwarded; an empty list forwards everything.
func NewInbox(roots, extensions []string, recursive bool, sink Sink, opts ...Option) *Inbox {
	in := &Inbox{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		sink:       sink,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = utils.OrNop(in.logger)
	return in
}

// Start begins watching. Missing roots are created. It runs until ctx is cancelled
// or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range in.roots {
		if err := in.watchTree(w, root); err != nil {
			_ = w.Close()
			return err
		}
	}
	in.watcher = w
	in.ctx = ctx
	in.started = true
	in.logger.Info("inbox watching",
		zap.Strings("directories", in.roots),
		zap.Strings("extensions", in.extensions),
		zap.Bool("recursive", in.recursive))
	go in.run(ctx, w)
	return nil
}

func (in *Inbox) watchTree(w *fsnotify.Watcher, root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !in.recursive {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !in.underRoot(path) {
		return
	}
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			in.handleNewDirectory(path)
			return
		}
		if matchExtension(path, in.extensions) {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
		if matchExtension(path, in.extensions) {
			in.remove(path)
		}
	}
}

// handleNewDirectory watches a directory moved or created inside a root and uploads
// the files already in it.
func (in *Inbox) handleNewDirectory(dir string) {
	in.mu.Lock()
	w := in.watcher
	in.mu.Unlock()
	if w == nil {
		return
	}
	if in.recursive {
		if err := in.watchTree(w, dir); err != nil {
			in.logger.Warn("inbox failed to watch directory", zap.String("path", dir), zap.Error(err))
		}
	}
	in.syncDirectory(dir)
}

func (in *Inbox) underRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range in.roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule uploads path once it has been quiet for the debounce interval.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.upload(path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) context() context.Context {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ctx == nil {
		return context.Background()
	}
	return in.ctx
}

func (in *Inbox) upload(path string) {
	log := in.logger.With(zap.String("path", path))
	res, err := in.sink.UploadFile(in.context(), path)
	switch {
	case errors.Is(err, errs.ErrDuplicateFilename):
		log.Debug("inbox file already uploaded")
	case err != nil:
		log.Warn("inbox upload failed", zap.Error(err),
			zap.String("inconsistency", errs.Inconsistency(err)))
	default:
		log.Info("inbox file uploaded", zap.String("document_id", res.DocumentID), zap.Int("passages", res.Passages))
	}
}

func (in *Inbox) remove(path string) {
	log := in.logger.With(zap.String("path", path))
	res, err := in.sink.DeleteByFilename(in.context(), filepath.Base(path))
	switch {
	case errors.Is(err, errs.ErrDocumentNotFound):
		log.Debug("inbox file was not uploaded")
	case err != nil:
		log.Warn("inbox delete failed", zap.Error(err),
			zap.String("inconsistency", errs.Inconsistency(err)))
	default:
		log.Info("inbox file deleted", zap.String("document_id", res.DocumentID))
	}
}

func (in *Inbox) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !in.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, in.extensions) {
			in.upload(path)
		}
		return nil
	})
}

// Directories returns the watched root directories.
func (in *Inbox) Directories() []string {
	return append([]string(nil), in.roots...)
}

// Sync uploads the files already present in every root. Files uploaded before are skipped.
func (in *Inbox) Sync() {
	for _, root := range in.roots {
		in.syncDirectory(root)
	}
}

// Stop stops watching and drops pending uploads.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
}
