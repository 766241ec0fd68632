// Package llm wraps the chat language models used to reformulate follow-up questions
// and to synthesize answers from retrieved passages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/models"
	"go.uber.org/zap"
)

// LanguageModel is the collaborator used by the retrieval engine.
type LanguageModel interface {
	// Reformulate rewrites question into a standalone query using history as context.
	Reformulate(ctx context.Context, model, question string, history []models.HistoryMessage) (string, error)
	// Answer synthesizes an answer to question from the retrieved passages and the history.
	Answer(ctx context.Context, model, question string, passages []*models.ScoredPassage, history []models.HistoryMessage) (string, error)
}

// Request is a provider-agnostic generation request.
type Request struct {
	Model       string
	System      string
	Messages    []models.HistoryMessage
	Temperature float64
	MaxTokens   int
}

// Generator produces one completion for a request.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// Provider names a model vendor.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
)

// DetectProvider determines the provider from a model string such as
// "claude-sonnet-4-5", "claude/claude-sonnet-4-5", "gemini-2.5-flash" or "gemini/gemini-2.5-flash".
// Unrecognized names fall back to Gemini.
func DetectProvider(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude/"), strings.HasPrefix(m, "anthropic/"), strings.HasPrefix(m, "claude-"):
		return ProviderClaude
	default:
		return ProviderGemini
	}
}

// NormalizeModel removes a provider prefix from model, if present.
func NormalizeModel(model string) string {
	for _, prefix := range []string{"claude/", "anthropic/", "gemini/", "google/"} {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// Router implements LanguageModel by routing each call to the provider of the requested model.
type Router struct {
	generators          map[Provider]Generator
	temperature         float64
	maxTokens           int
	timeout             time.Duration
	contextualizePrompt string
	logger              *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithGenerator registers g for provider p, replacing any existing one.
func WithGenerator(p Provider, g Generator) RouterOption {
	return func(r *Router) { r.generators[p] = g }
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// NewRouter builds a router from cfg. A Gemini or Claude generator is created for
// each provider whose API key is configured.
func NewRouter(ctx context.Context, cfg *config.LLMConfig, opts ...RouterOption) (*Router, error) {
	r := &Router{
		generators:          make(map[Provider]Generator),
		temperature:         cfg.Temperature,
		maxTokens:           cfg.MaxTokens,
		timeout:             time.Duration(cfg.TimeoutSeconds) * time.Second,
		contextualizePrompt: cfg.ContextualizePrompt,
		logger:              zap.NewNop(),
	}
	if cfg.GeminiAPIKey != "" {
		g, err := NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		r.generators[ProviderGemini] = g
	}
	if cfg.AnthropicAPIKey != "" {
		r.generators[ProviderClaude] = NewClaude(cfg.AnthropicAPIKey)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.contextualizePrompt == "" {
		r.contextualizePrompt = config.DefaultContextualizePrompt
	}
	return r, nil
}

// Reformulate implements LanguageModel.
func (r *Router) Reformulate(ctx context.Context, model, question string, history []models.HistoryMessage) (string, error) {
	out, err := r.generate(ctx, model, ReformulationRequest(r.contextualizePrompt, question, history))
	if err != nil {
		return "", err
	}
	if out = strings.TrimSpace(out); out == "" {
		return question, nil
	}
	return out, nil
}

// Answer implements LanguageModel.
func (r *Router) Answer(ctx context.Context, model, question string, passages []*models.ScoredPassage, history []models.HistoryMessage) (string, error) {
	return r.generate(ctx, model, AnswerRequest(question, passages, history))
}

func (r *Router) generate(ctx context.Context, model string, req *Request) (string, error) {
	provider := DetectProvider(model)
	g, ok := r.generators[provider]
	if !ok {
		return "", fmt.Errorf("no %s API key configured for model %q: %w", provider, model, errs.ErrLanguageModel)
	}
	req.Model = NormalizeModel(model)
	req.Temperature = r.temperature
	req.MaxTokens = r.maxTokens

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.Generate(ctx, req)
	r.logger.Debug("language model call",
		zap.String("provider", string(provider)),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		if errors.Is(err, errs.ErrLanguageModel) {
			return "", err
		}
		return "", fmt.Errorf("%s: %v: %w", provider, err, errs.ErrLanguageModel)
	}
	return out, nil
}
