package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
)

// recordingSink records uploads and deletions; a filename uploaded twice is a duplicate.
type recordingSink struct {
	mu       sync.Mutex
	uploaded map[string]bool
	uploads  []string
	deleted  []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{uploaded: make(map[string]bool)}
}

func (s *recordingSink) UploadFile(_ context.Context, path string) (*models.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := filepath.Base(path)
	if s.uploaded[name] {
		return nil, errs.ErrDuplicateFilename
	}
	s.uploaded[name] = true
	s.uploads = append(s.uploads, name)
	return &models.UploadResult{DocumentID: "id-" + name, Filename: name, Passages: 1}, nil
}

func (s *recordingSink) DeleteByFilename(_ context.Context, name string) (*indexer.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.uploaded[name] {
		return nil, errs.ErrDocumentNotFound
	}
	delete(s.uploaded, name)
	s.deleted = append(s.deleted, name)
	return &indexer.DeleteResult{DocumentID: "id-" + name, RecordRemoved: true}, nil
}

func (s *recordingSink) snapshot() (uploads, deleted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uploads = append([]string(nil), s.uploads...)
	deleted = append([]string(nil), s.deleted...)
	sort.Strings(uploads)
	return uploads, deleted
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startInbox(t *testing.T, roots []string, recursive bool, sink Sink) *Inbox {
	t.Helper()
	in := NewInbox(roots, []string{".txt", ".md"}, recursive, sink, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(in.Stop)
	return in
}

func TestInbox_uploadsNewFilesAndDeletesRemoved(t *testing.T) {
	dir := t.TempDir()
	sink := newRecordingSink()
	startInbox(t, []string{dir}, true, sink)

	path := filepath.Join(dir, "policy.txt")
	if err := os.WriteFile(path, []byte("refunds within 30 days"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		uploads, _ := sink.snapshot()
		return len(uploads) == 1
	})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, deleted := sink.snapshot()
		return len(deleted) == 1 && deleted[0] == "policy.txt"
	})
}

func TestInbox_newDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	sink := newRecordingSink()
	startInbox(t, []string{dir}, true, sink)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(nested, "deep.md"), []byte("deep"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		uploads, _ := sink.snapshot()
		for _, u := range uploads {
			if u == "deep.md" {
				return true
			}
		}
		return false
	})
}

func TestInbox_SyncSkipsAlreadyUploaded(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.md", "c.xyz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0600); err != nil {
			t.Fatal(err)
		}
	}
	sink := newRecordingSink()
	in := NewInbox([]string{dir}, []string{".txt", ".md"}, false, sink)
	in.Sync()
	in.Sync()

	uploads, _ := sink.snapshot()
	if len(uploads) != 2 || uploads[0] != "a.txt" || uploads[1] != "b.md" {
		t.Errorf("uploads = %v, want [a.txt b.md]", uploads)
	}
}

func TestInbox_Start_createsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "incoming")
	startInbox(t, []string{root}, false, newRecordingSink())
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b.pdf", []string{"pdf"}, true},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
