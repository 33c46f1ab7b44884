// docchat - document question answering over a governed streaming pipeline.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jeranaias/docchat/internal/chat"
	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/conversation"
	"github.com/jeranaias/docchat/internal/govern"
	"github.com/jeranaias/docchat/internal/ingest"
	"github.com/jeranaias/docchat/internal/lang"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/retrieval"
	"github.com/jeranaias/docchat/internal/server"
	"github.com/jeranaias/docchat/internal/telemetry"
	"github.com/jeranaias/docchat/internal/token"
	"github.com/jeranaias/docchat/internal/vectorindex"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "docchat.toml", "path to TOML configuration file")
		repl        = flag.Bool("repl", false, "run an interactive terminal session instead of the HTTP server")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("docchat %s (%s)\n", Version, GitCommit)
		return
	}

	if err := run(*configPath, *repl); err != nil {
		fmt.Fprintf(os.Stderr, "docchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, repl bool) error {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "[docchat] ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if repl {
		return runREPL(ctx, app)
	}
	return app.server.ListenAndServe(ctx)
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	orch    *chat.Orchestrator
	indexer *ingest.Indexer
	gov     *govern.Governor
	server  *server.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, func(), error) {
	upstream := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Model,
		provider.WithEmbeddingModel(cfg.Provider.EmbeddingModel))

	var index vectorindex.Client
	var closeIndex func()
	switch cfg.Index.Backend {
	case "postgres":
		pg, err := vectorindex.OpenPostgres(ctx, cfg.Index.PostgresDSN, upstream)
		if err != nil {
			return nil, nil, fmt.Errorf("open vector index: %w", err)
		}
		index = pg
		closeIndex = func() { pg.Close() }
	default:
		index = vectorindex.NewMemory()
		closeIndex = func() {}
	}

	usageLog, err := telemetry.Open(cfg.Telemetry.DatabasePath)
	if err != nil {
		closeIndex()
		return nil, nil, fmt.Errorf("open usage log: %w", err)
	}

	detector := lang.NewDetector()
	counter := token.NewEstimator()

	gov := govern.New(
		govern.Pricing{
			PromptPer1K:     cfg.Governor.PromptPer1K,
			CompletionPer1K: cfg.Governor.CompletionPer1K,
			EmbeddingPer1K:  cfg.Governor.EmbeddingPer1K,
		},
		govern.Limits{
			RequestsPerMinute: cfg.Governor.RequestsPerMinute,
			DailyCapUSD:       cfg.Governor.DailyCapUSD,
		},
	)

	store := conversation.NewStore(detector)
	retriever := retrieval.New(index, counter, retrieval.Config{
		TopK:          cfg.Retrieval.TopK,
		MaxSections:   cfg.Retrieval.MaxSections,
		MaxDistance:   cfg.Retrieval.MaxDistance,
		MinChunkChars: cfg.Retrieval.MinChunkChars,
	})

	chatCfg := chat.DefaultConfig()
	if cfg.Chat.SystemPrompt != "" {
		chatCfg.SystemPrompt = cfg.Chat.SystemPrompt
	}
	chatCfg.MaxHistory = cfg.Chat.MaxHistory
	chatCfg.CompletionEstimate = cfg.Chat.CompletionEstimate
	chatCfg.MaxTokens = cfg.Chat.MaxTokens
	chatCfg.Temperature = cfg.Chat.Temperature
	chatCfg.ContextTokenBudget = cfg.Chat.ContextTokenBudget
	chatCfg.AnswerWithoutContext = cfg.Chat.AnswerWithoutContext

	orch := chat.New(gov, store, retriever, upstream, counter, detector, usageLog, chatCfg, logger)
	indexer := ingest.NewIndexer(index, detector, logger)
	srv := server.New(orch, indexer, gov, usageLog, cfg.Server, logger)

	cleanup := func() {
		usageLog.Close()
		closeIndex()
	}
	return &app{orch: orch, indexer: indexer, gov: gov, server: srv}, cleanup, nil
}
