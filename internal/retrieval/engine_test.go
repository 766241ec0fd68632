package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 64

// scriptedModel returns canned replies and records what it was given.
type scriptedModel struct {
	rewrite    string
	answer     string
	err        error
	reformCall []models.HistoryMessage
	reformed   int
	answered   []string
}

func (m *scriptedModel) Reformulate(_ context.Context, _, question string, history []models.HistoryMessage) (string, error) {
	m.reformed++
	m.reformCall = history
	if m.rewrite == "" {
		return question, nil
	}
	return m.rewrite, nil
}

func (m *scriptedModel) Answer(_ context.Context, _, question string, passages []*models.ScoredPassage, _ []models.HistoryMessage) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.answered = append(m.answered, question)
	return m.answer, nil
}

func newEngine(t *testing.T, lm *scriptedModel) (*Engine, storage.MetadataStore) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "docchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	index, err := vector.NewMemoryIndex(dims)
	require.NoError(t, err)
	embedder := embedding.NewHashEmbedder(dims)

	texts := map[string]string{
		"refund": "Refund policy: refunds are issued within 30 days of purchase.",
		"ship":   "Shipping takes five business days to most regions.",
		"hours":  "Support hours are nine to five on weekdays.",
	}
	var passages []*models.Passage
	for id, text := range texts {
		emb, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		passages = append(passages, &models.Passage{ID: id, DocumentID: "doc-" + id, Text: text, Embedding: emb})
	}
	require.NoError(t, index.Add(ctx, passages))

	cfg := &config.LLMConfig{DefaultModel: "gemini-2.5-flash", AllowedModels: []string{"claude-sonnet-4-5"}}
	return NewEngine(store, index, embedder, lm, cfg, 1, nil), store
}

func TestChat_firstTurnSkipsReformulation(t *testing.T) {
	lm := &scriptedModel{answer: "Refunds are issued within 30 days."}
	engine, store := newEngine(t, lm)
	ctx := context.Background()

	resp, err := engine.Chat(ctx, &models.ChatRequest{Question: "What is the refund policy?"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "Refunds are issued within 30 days.", resp.Answer)
	assert.Zero(t, lm.reformed)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "refund", resp.Sources[0].Passage.ID)

	turns, err := store.History(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "What is the refund policy?", turns[0].Question)
}

func TestChat_followUpUsesHistory(t *testing.T) {
	lm := &scriptedModel{answer: "Refunds are issued within 30 days."}
	engine, _ := newEngine(t, lm)
	ctx := context.Background()

	first, err := engine.Chat(ctx, &models.ChatRequest{Question: "What is the refund policy?"})
	require.NoError(t, err)

	lm.rewrite = "What is the refund policy for digital goods?"
	lm.answer = "Within 30 days."
	second, err := engine.Chat(ctx, &models.ChatRequest{Question: "And for digital goods?", SessionID: first.SessionID})
	require.NoError(t, err)

	assert.Equal(t, 1, lm.reformed)
	assert.Equal(t, []models.HistoryMessage{
		{Role: models.RoleUser, Content: "What is the refund policy?"},
		{Role: models.RoleAssistant, Content: "Refunds are issued within 30 days."},
	}, lm.reformCall)
	assert.Equal(t, lm.rewrite, second.Query)
	assert.Equal(t, "refund", second.Sources[0].Passage.ID)
	// the answer step sees the question as asked
	assert.Equal(t, "And for digital goods?", lm.answered[1])

	turns, err := engine.History(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "What is the refund policy?", turns[0].Question)
	assert.Equal(t, "And for digital goods?", turns[1].Question)
	assert.Equal(t, "Within 30 days.", turns[1].Answer)
}

func TestChat_sessionsAreIsolated(t *testing.T) {
	lm := &scriptedModel{answer: "ok"}
	engine, _ := newEngine(t, lm)
	ctx := context.Background()

	_, err := engine.Chat(ctx, &models.ChatRequest{Question: "hello", SessionID: "a"})
	require.NoError(t, err)
	_, err = engine.Chat(ctx, &models.ChatRequest{Question: "hello", SessionID: "b"})
	require.NoError(t, err)
	assert.Zero(t, lm.reformed)
}

func TestChat_rejectsInvalidRequests(t *testing.T) {
	engine, _ := newEngine(t, &scriptedModel{answer: "ok"})
	ctx := context.Background()

	_, err := engine.Chat(ctx, &models.ChatRequest{Question: "   "})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = engine.Chat(ctx, &models.ChatRequest{Question: "hi", Model: "gpt-unknown"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	resp, err := engine.Chat(ctx, &models.ChatRequest{Question: "hi", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
}

func TestChat_modelFailureStoresNothing(t *testing.T) {
	lm := &scriptedModel{err: errors.Join(errors.New("quota exceeded"), errs.ErrLanguageModel)}
	engine, store := newEngine(t, lm)
	ctx := context.Background()

	_, err := engine.Chat(ctx, &models.ChatRequest{Question: "What is the refund policy?", SessionID: "s"})
	assert.ErrorIs(t, err, errs.ErrLanguageModel)

	n, err := store.CountTurns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
