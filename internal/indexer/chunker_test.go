package indexer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewChunker_rejectsBadOverlap(t *testing.T) {
	tests := []struct {
		size, overlap int
	}{
		{10, 10},
		{10, 11},
		{10, -1},
		{0, 0},
	}
	for _, tt := range tests {
		if _, err := NewChunker(tt.size, tt.overlap); err == nil {
			t.Errorf("NewChunker(%d, %d) should fail", tt.size, tt.overlap)
		}
	}
}

func TestChunker_SplitShortText(t *testing.T) {
	c := mustChunker(t, 1000, 300)
	got := c.Split("short document")
	if len(got) != 1 || got[0] != "short document" {
		t.Errorf("short text should yield itself, got %q", got)
	}
}

func TestChunker_SplitEmpty(t *testing.T) {
	c := mustChunker(t, 5, 1)
	if got := c.Split(""); got != nil {
		t.Errorf("empty text should return nil, got %v", got)
	}
}

func TestChunker_SplitOverlapInvariant(t *testing.T) {
	tests := []struct {
		length, size, overlap int
	}{
		{3500, 1000, 300},
		{1001, 1000, 300},
		{2000, 1000, 0},
		{57, 10, 3},
		{100, 7, 6},
	}
	for _, tt := range tests {
		c := mustChunker(t, tt.size, tt.overlap)
		text := sampleText(tt.length)
		parts := c.Split(text)
		step := tt.size - tt.overlap
		want := (tt.length - tt.overlap + step - 1) / step
		if len(parts) != want {
			t.Errorf("L=%d S=%d O=%d: got %d passages, want %d", tt.length, tt.size, tt.overlap, len(parts), want)
		}
		for i, p := range parts {
			if n := utf8.RuneCountInString(p); n > tt.size {
				t.Errorf("passage %d has %d chars > %d", i, n, tt.size)
			}
			if i == 0 {
				continue
			}
			prev := []rune(parts[i-1])
			cur := []rune(p)
			tail := string(prev[len(prev)-tt.overlap:])
			head := string(cur[:tt.overlap])
			if tail != head {
				t.Errorf("passages %d/%d do not share %d chars", i-1, i, tt.overlap)
			}
		}
		if strings.Join(reassemble(parts, tt.overlap), "") != text {
			t.Errorf("L=%d: passages do not cover the text", tt.length)
		}
	}
}

func TestChunker_SplitDeterministic(t *testing.T) {
	c := mustChunker(t, 10, 3)
	text := sampleText(95)
	a := c.Split(text)
	b := c.Split(text)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Error("Split should be deterministic")
	}
}

func TestChunker_SplitMultibyte(t *testing.T) {
	c := mustChunker(t, 4, 1)
	parts := c.Split("日本語のテキスト")
	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Errorf("passage %q is not valid UTF-8", p)
		}
	}
	if parts[0] != "日本語の" || parts[1] != "のテキス" {
		t.Errorf("unexpected split: %q", parts)
	}
}

func TestChunker_ChunkTagsDocument(t *testing.T) {
	c := mustChunker(t, 1000, 300)
	passages := c.Chunk("doc1", sampleText(3500))
	if len(passages) != 5 {
		t.Fatalf("expected 5 passages, got %d", len(passages))
	}
	seen := map[string]bool{}
	for i, p := range passages {
		if p.DocumentID != "doc1" {
			t.Errorf("passage %d DocumentID=%s", i, p.DocumentID)
		}
		if p.ChunkIndex != i {
			t.Errorf("passage %d ChunkIndex=%d", i, p.ChunkIndex)
		}
		if p.ID == "" || seen[p.ID] {
			t.Errorf("passage %d has empty or duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	again := c.Chunk("doc1", sampleText(3500))
	if again[0].ID != passages[0].ID {
		t.Error("re-chunking the same document should give the same passage ids")
	}
}

func sampleText(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789 "
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[(i*7)%len(alphabet)])
	}
	return b.String()
}

func reassemble(parts []string, overlap int) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		if i == 0 {
			out[i] = p
			continue
		}
		out[i] = string([]rune(p)[overlap:])
	}
	return out
}

func BenchmarkChunkerSplit(b *testing.B) {
	c, _ := NewChunker(1000, 300)
	text := strings.Repeat("Refunds are issued within 30 days of purchase. ", 2000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Split(text)
	}
}
