package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

// snapshotMagic starts every MemoryIndex snapshot file.
const snapshotMagic = "DCVI"

// MemoryIndex is an in-memory passage index using brute-force inner product search.
// When opened with a snapshot path it is loaded on open and saved on Close.
type MemoryIndex struct {
	dimensions int
	passages   map[string]*models.Passage
	order      []string
	path       string
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		passages:   make(map[string]*models.Passage),
	}, nil
}

// OpenMemoryIndex creates an index backed by the snapshot file at path, loading it if it exists.
func OpenMemoryIndex(dimensions int, path string) (*MemoryIndex, error) {
	m, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	m.path = path
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Add stores copies of passages, overwriting any with the same ID.
func (m *MemoryIndex) Add(ctx context.Context, passages []*models.Passage) error {
	for _, p := range passages {
		if err := m.check(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range passages {
		m.put(p)
	}
	return nil
}

func (m *MemoryIndex) check(p *models.Passage) error {
	if p.ID == "" || p.DocumentID == "" {
		return fmt.Errorf("passage must have an id and a document id")
	}
	if len(p.Embedding) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(p.Embedding), m.dimensions)
	}
	return nil
}

// put stores a copy of p; the caller holds the write lock.
func (m *MemoryIndex) put(p *models.Passage) {
	cp := *p
	cp.Embedding = append([]float32(nil), p.Embedding...)
	if _, ok := m.passages[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.passages[p.ID] = &cp
}

// Search returns the top-k passages by inner product (cosine similarity for normalized vectors).
// Ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*models.ScoredPassage, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.order) == 0 {
		return nil, nil
	}
	scores := make([]*models.ScoredPassage, len(m.order))
	for i, id := range m.order {
		p := m.passages[id]
		scores[i] = &models.ScoredPassage{Passage: p, Score: utils.Dot(query, p.Embedding)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*models.ScoredPassage, k)
	for i := 0; i < k; i++ {
		hit := *scores[i].Passage
		hit.Embedding = nil
		result[i] = &models.ScoredPassage{Passage: &hit, Score: scores[i].Score}
	}
	return result, nil
}

// DeleteByDocument removes all passages of documentID and returns how many were removed.
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.passages[id].DocumentID == documentID {
			delete(m.passages, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

// CountByDocument returns the number of passages of documentID.
func (m *MemoryIndex) CountByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.passages {
		if p.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// DocumentIDs returns the sorted distinct document ids present in the index.
func (m *MemoryIndex) DocumentIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, p := range m.passages {
		seen[p.DocumentID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Size returns the number of passages in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Close saves the snapshot when the index was opened with a path.
func (m *MemoryIndex) Close() error {
	return m.Save(m.path)
}

// Save writes a snapshot to path atomically. Format: magic, dimension (4), count (4), then per
// passage: id, document id, chunk index (4), text, vector (dimension*4 bytes). Strings are
// length-prefixed with a uint32. All integers are little endian.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = m.writeSnapshot(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write index snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeSnapshot(w io.Writer) error {
	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(m.dimensions), uint32(len(m.order))}); err != nil {
		return err
	}
	for _, id := range m.order {
		p := m.passages[id]
		for _, s := range []string{p.ID, p.DocumentID} {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(p.ChunkIndex)); err != nil {
			return err
		}
		if err := writeString(w, p.Text); err != nil {
			return err
		}
		if _, err := w.Write(float32SliceToBytes(p.Embedding)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the snapshot at path and replaces the in-memory contents. Dimensions must match.
// A missing file leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return fmt.Errorf("%s is not an index snapshot", path)
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if int(header[0]) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", header[0], m.dimensions)
	}

	passages := make([]*models.Passage, 0, header[1])
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < header[1]; i++ {
		p := &models.Passage{}
		if p.ID, err = readString(r); err != nil {
			return fmt.Errorf("read passage %d: %w", i, err)
		}
		if p.DocumentID, err = readString(r); err != nil {
			return fmt.Errorf("read passage %d: %w", i, err)
		}
		var chunk uint32
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return fmt.Errorf("read passage %d: %w", i, err)
		}
		p.ChunkIndex = int(chunk)
		if p.Text, err = readString(r); err != nil {
			return fmt.Errorf("read passage %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		p.Embedding = bytesToFloat32Slice(buf)
		passages = append(passages, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.passages = make(map[string]*models.Passage, len(passages))
	m.order = m.order[:0]
	for _, p := range passages {
		m.put(p)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<26 {
		return "", errors.New("string length out of range")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
