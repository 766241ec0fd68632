// Package server provides the HTTP API for docchat.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/retrieval"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/pkg/utils"
	"go.uber.org/zap"
)

// InboxLister reports the inbox directories being watched.
type InboxLister interface {
	Directories() []string
}

// Server is the HTTP server for the docchat API.
type Server struct {
	pipeline *indexer.Pipeline
	engine   *retrieval.Engine
	store    storage.MetadataStore
	index    vector.Index
	config   *config.Config
	inbox    InboxLister
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. inbox may be nil.
func NewServer(
	pipeline *indexer.Pipeline,
	engine *retrieval.Engine,
	store storage.MetadataStore,
	index vector.Index,
	cfg *config.Config,
	inbox InboxLister,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline: pipeline,
		engine:   engine,
		store:    store,
		index:    index,
		config:   cfg,
		inbox:    inbox,
		logger:   utils.OrNop(logger),
	}
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(s.config.LLM.TimeoutSeconds+30) * time.Second))

	r.Post("/upload-doc", s.handleUpload)
	r.Post("/chat", s.handleChat)
	r.Get("/list-docs", s.handleListDocuments)
	r.Post("/delete-doc", s.handleDeleteDoc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/chat", s.handleChat)
		r.Get("/sessions/{id}/history", s.handleHistory)
		r.Get("/status", s.handleStatus)
		r.Get("/inbox", s.handleInbox)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
