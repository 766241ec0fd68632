package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/docchat/internal/models"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := NewMemoryIndex(384)
	ctx := context.Background()
	passages := make([]*models.Passage, 1000)
	for i := range passages {
		emb := make([]float32, 384)
		emb[0] = float32(i) / 1000
		passages[i] = &models.Passage{ID: fmt.Sprintf("p%d", i), DocumentID: fmt.Sprintf("d%d", i%26), Embedding: emb}
	}
	_ = idx.Add(ctx, passages)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 3)
	}
}
