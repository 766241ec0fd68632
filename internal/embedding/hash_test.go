package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/pkg/utils"
)

func TestHashEmbedder_deterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "Refunds are issued within 30 days.")
	b, _ := e.Embed(ctx, "Refunds are issued within 30 days.")
	if len(a) != 64 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should embed identically")
		}
	}
	if n := utils.Dot(a, a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %f, want 1", n)
	}
}

func TestHashEmbedder_sharedWordsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "what is the refund policy")
	related, _ := e.Embed(ctx, "Our refund policy: refunds are issued within 30 days.")
	unrelated, _ := e.Embed(ctx, "Shipping takes five business days.")
	if utils.Dot(q, related) <= utils.Dot(q, unrelated) {
		t.Errorf("related=%f should exceed unrelated=%f", utils.Dot(q, related), utils.Dot(q, unrelated))
	}
}

func TestHashEmbedder_canceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("expected context error")
	}
}

func TestNew_hashProviderWithCache(t *testing.T) {
	e, err := New(context.Background(), &config.EmbeddingConfig{Provider: "hash", Dimensions: 32, CacheSize: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if e.Dimensions() != 32 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestNew_geminiRequiresKey(t *testing.T) {
	_, err := New(context.Background(), &config.EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 768}, nil)
	if err == nil {
		t.Error("gemini provider without API key should fail")
	}
}

func TestNew_unknownProvider(t *testing.T) {
	if _, err := New(context.Background(), &config.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func BenchmarkHashEmbedder_Embed(b *testing.B) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
