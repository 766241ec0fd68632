// Package retrieval answers questions about the indexed documents, carrying
// conversation history across turns of a session.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/pkg/utils"
	"go.uber.org/zap"
)

// Engine runs the conversational retrieval pipeline: load history, reformulate the
// question, retrieve passages, answer, persist the turn.
type Engine struct {
	store    storage.MetadataStore
	index    vector.Index
	embedder embedding.Embedder
	model    llm.LanguageModel
	llmCfg   *config.LLMConfig
	k        int
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine that returns k passages per question.
func NewEngine(
	store storage.MetadataStore,
	index vector.Index,
	embedder embedding.Embedder,
	model llm.LanguageModel,
	llmCfg *config.LLMConfig,
	k int,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		model:    model,
		llmCfg:   llmCfg,
		k:        k,
		logger:   utils.OrNop(logger),
	}
}

// Chat answers req.Question. A missing session id starts a new session. The stored
// turn always holds the question as asked, never its reformulation. Nothing is stored
// when any step fails.
func (e *Engine) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrValidation)
	}

	model := req.Model
	if model == "" {
		model = e.llmCfg.DefaultModel
	}
	if !e.llmCfg.IsAllowedModel(model) {
		return nil, fmt.Errorf("model %q is not allowed: %w", model, errs.ErrValidation)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := e.logger.With(zap.String("session_id", sessionID), zap.String("model", model))

	turns, err := e.store.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := models.Messages(turns)

	query := req.Question
	if len(history) > 0 {
		query, err = e.model.Reformulate(ctx, model, req.Question, history)
		if err != nil {
			return nil, err
		}
		log.Debug("question reformulated", zap.String("query", utils.Truncate(query, 200)))
	}

	passages, err := e.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	answer, err := e.model.Answer(ctx, model, req.Question, passages, history)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.AppendTurn(ctx, sessionID, req.Question, answer, model); err != nil {
		return nil, err
	}

	log.Info("chat turn",
		zap.Int("history_turns", len(turns)),
		zap.Int("sources", len(passages)),
		zap.Duration("took", time.Since(start)))
	return &models.ChatResponse{
		Answer:    answer,
		SessionID: sessionID,
		Model:     model,
		Query:     query,
		Sources:   passages,
	}, nil
}

// Retrieve embeds query and returns the k nearest passages.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]*models.ScoredPassage, error) {
	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %v: %w", err, errs.ErrEmbedding)
	}
	passages, err := e.index.Search(ctx, emb, e.k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return passages, nil
}

// History returns the stored turns of sessionID in creation order.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*models.ConversationTurn, error) {
	return e.store.History(ctx, sessionID)
}
