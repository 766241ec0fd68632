// Package main is the docchat CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/docchat/internal/cli"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/retrieval"
	"github.com/hyperjump/docchat/internal/server"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/internal/watcher"
	"github.com/hyperjump/docchat/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/docchat/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, and a missing default file falls back to built-in
// defaults with paths relative to the current directory.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	for _, candidate := range []string{filepath.Join(cwd, "config.yaml"), defaultConfigPath} {
		if _, statErr := os.Stat(candidate); statErr == nil {
			cfg, loadErr := config.Load(candidate)
			return cfg, candidate, loadErr
		}
	}
	cfg, err := config.Default(cwd)
	return cfg, "", err
}

func main() {
	// Environment variables already set take precedence over .env.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "chat":
		runChat()
	case "history":
		runHistory()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "reconcile":
		runReconcile()
	case "reindex":
		runReindex()
	case "version", "--version", "-v":
		fmt.Printf("docchat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// argsReorder moves flags that appear after positional arguments to the front so
// flag.Parse sees them; Go's flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so questions work with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// describeError adds the operator hint for partial failures.
func describeError(err error) string {
	var pf *errs.PartialFailure
	if errors.As(err, &pf) && pf.Inconsistency != errs.InconsistencyNone {
		return fmt.Sprintf("%v\nrun \"docchat reconcile\" to inspect the %s left behind", err, pf.Inconsistency)
	}
	return err.Error()
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (pipeline states, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var inbox *watcher.Inbox
	if len(cfg.Inbox.Directories) > 0 {
		inbox = watcher.NewInbox(
			cfg.Inbox.Directories,
			cfg.Ingest.AllowedExtensions,
			cfg.Inbox.RecursiveOrDefault(),
			components.Pipeline,
			watcher.WithLogger(logger),
		)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox", zap.Error(err))
		}
		go inbox.Sync()
	}

	var lister server.InboxLister
	if inbox != nil {
		lister = inbox
	}
	srv := server.NewServer(
		components.Pipeline,
		components.Engine,
		components.Store,
		components.Index,
		cfg,
		lister,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// directSetup loads config and components for commands that bypass the server.
func directSetup(configPath string, withLLM bool) (*Components, *config.Config, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger, withLLM)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return components, cfg, func() {
		components.Close()
		_ = logger.Sync()
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	recursive := fs.Bool("recursive", true, "descend into subdirectories when uploading a directory")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: docchat upload [flags] <file-or-directory>")
	}
	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}
	ctx := context.Background()

	if *serverURL != "" && !info.IsDir() {
		res, err := cli.NewClient(*serverURL, 5*time.Minute).Upload(ctx, path)
		if err != nil {
			fatalf("Upload failed: %v", err)
		}
		fmt.Printf("Uploaded %s: document %s (%d passages)\n", res.Filename, res.DocumentID, res.Passages)
		return
	}

	components, _, done := directSetup(*configPath, false)
	defer done()
	if info.IsDir() {
		n, err := components.Pipeline.UploadDirectory(ctx, path, *recursive)
		if err != nil {
			fatalf("Upload failed after %d file(s): %s", n, describeError(err))
		}
		fmt.Printf("Uploaded %d file(s) from %s\n", n, path)
		return
	}
	res, err := components.Pipeline.UploadFile(ctx, path)
	if err != nil {
		fatalf("Upload failed: %s", describeError(err))
	}
	fmt.Printf("Uploaded %s: document %s (%d passages)\n", res.Filename, res.DocumentID, res.Passages)
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	sessionID := fs.String("session", "", "session id to continue (empty starts a new session)")
	model := fs.String("model", "", "language model (empty = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := joinArgs(fs.Args())
	if question == "" {
		fatalf("Usage: docchat chat [flags] <question>")
	}
	format := parseFormat(*outputFormat)
	req := &models.ChatRequest{Question: question, SessionID: *sessionID, Model: *model}
	ctx := context.Background()

	var resp *models.ChatResponse
	var err error
	if *serverURL != "" {
		resp, err = cli.NewClient(*serverURL, 5*time.Minute).Chat(ctx, req)
	} else {
		components, _, done := directSetup(*configPath, true)
		defer done()
		resp, err = components.Engine.Chat(ctx, req)
	}
	if err != nil {
		fatalf("Chat failed: %v", err)
	}
	if err := cli.WriteChat(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: docchat history [flags] <session-id>")
	}
	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var turns []*models.ConversationTurn
	var err error
	if *serverURL != "" {
		turns, err = cli.NewClient(*serverURL, 30*time.Second).History(ctx, fs.Arg(0))
	} else {
		components, _, done := directSetup(*configPath, false)
		defer done()
		turns, err = components.Store.History(ctx, fs.Arg(0))
	}
	if err != nil {
		fatalf("History failed: %v", err)
	}
	if err := cli.WriteHistory(os.Stdout, turns, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var docs []*models.Document
	var err error
	if *serverURL != "" {
		docs, err = cli.NewClient(*serverURL, 30*time.Second).ListDocuments(ctx)
	} else {
		components, _, done := directSetup(*configPath, false)
		defer done()
		docs, err = components.Store.ListDocuments(ctx)
	}
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: docchat delete [flags] <document-id>")
	}
	docID := fs.Arg(0)
	ctx := context.Background()

	if *serverURL != "" {
		if err := cli.NewClient(*serverURL, time.Minute).Delete(ctx, docID); err != nil {
			fatalf("Deletion failed: %v", err)
		}
		fmt.Printf("Document deleted: %s\n", docID)
		return
	}
	components, _, done := directSetup(*configPath, false)
	defer done()
	res, err := components.Pipeline.Delete(ctx, docID)
	if err != nil {
		fatalf("Deletion failed: %s", describeError(err))
	}
	fmt.Printf("Document deleted: %s (%d passages)\n", res.DocumentID, res.Passages)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var status *models.Status
	var err error
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL, 30*time.Second).Status(ctx)
	} else {
		components, cfg, done := directSetup(*configPath, false)
		defer done()
		status, err = server.CollectStatus(ctx, components.Store, components.Index, cfg)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	apply := fs.Bool("apply", false, "remove the orphans found (default: report only)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	components, _, done := directSetup(*configPath, false)
	defer done()
	ctx := context.Background()

	report, err := components.Pipeline.Reconcile(ctx)
	if err != nil {
		fatalf("Reconcile failed: %v", err)
	}
	if err := cli.WriteReconcileReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if !*apply || report.Clean() {
		return
	}
	if err := components.Pipeline.Prune(ctx, report); err != nil {
		fatalf("Prune failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Removed %d orphan record(s) and passages of %d document(s)\n",
		len(report.OrphanRecords), len(report.OrphanVectors))
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fatalf("Usage: docchat reindex [flags] <document-id> <file>")
	}
	content, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		fatalf("Failed to read file: %v", err)
	}
	components, _, done := directSetup(*configPath, false)
	defer done()
	res, err := components.Pipeline.Resume(context.Background(), fs.Arg(0), content)
	if err != nil {
		fatalf("Reindex failed: %s", describeError(err))
	}
	fmt.Printf("Reindexed %s: document %s (%d passages)\n", res.Filename, res.DocumentID, res.Passages)
}

// Components holds initialized services.
type Components struct {
	Store    storage.MetadataStore
	Embedder embedding.Embedder
	Index    vector.Index
	Pipeline *indexer.Pipeline
	Engine   *retrieval.Engine
}

// Close releases the stores; the memory index writes its snapshot here.
func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withLLM bool) (*Components, error) {
	c := &Components{}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	c.Store = store

	c.Embedder, err = embedding.New(ctx, &cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.Index, err = vector.Open(&cfg.Storage, c.Embedder.Dimensions(), logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("type", cfg.Storage.VectorIndexType),
		zap.Int("passages", c.Index.Size()))

	c.Pipeline, err = indexer.NewPipeline(c.Store, c.Index, c.Embedder, &cfg.Ingest, indexer.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, err
	}

	if withLLM {
		router, err := llm.NewRouter(ctx, &cfg.LLM, llm.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize language models: %w", err)
		}
		c.Engine = retrieval.NewEngine(c.Store, c.Index, c.Embedder, router, &cfg.LLM, cfg.Retrieval.K, logger)
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`docchat - chat with your documents

Usage:
  docchat server [flags]                     Start the HTTP server
  docchat upload [flags] <file-or-dir>       Upload and index a document (or a directory)
  docchat chat [flags] <question>            Ask a question
  docchat history [flags] <session-id>       Show the turns of a session
  docchat list [flags]                       List documents
  docchat delete [flags] <document-id>       Delete a document and its passages
  docchat status [flags]                     Show store/index status
  docchat reconcile [--apply]                Report (and optionally remove) orphans
  docchat reindex <document-id> <file>       Re-ingest a document record that has no passages
  docchat version                            Show version
  docchat help                               Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docchat/config.yaml, or ./config.yaml)
  --server string    Server URL (default: http://localhost:8000). Use --server "" to open the
                     stores directly when the server is not running.
  --output string    Output format: text or json (chat, history, list, status, reconcile)

Chat Flags:
  --session string   Continue a session
  --model string     Language model (must be allowed by llm.allowed_models)

reconcile and reindex always open the stores directly; stop the server first.

Environment:
  GEMINI_API_KEY, ANTHROPIC_API_KEY, LLM_MODEL, LLM_TEMPERATURE, RETRIEVER_K,
  CONTEXTUALIZE_Q_PROMPT (a .env file in the working directory is loaded first)

Examples:
  docchat server
  docchat upload handbook.pdf
  docchat chat What is the refund policy?
  docchat chat --session 5f0c... How long does it take?
  docchat list --output json
  docchat delete 3b7e...
  docchat reconcile --apply`)
}
