// Package app is the composition root: it loads configuration, wires every
// component (C1-C13) together, and exposes the resulting process as a
// single App with Run/Close, matching the teacher's inference-gateway
// app package.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/memsubstrate/internal/access"
	"github.com/yungbote/memsubstrate/internal/backfill"
	"github.com/yungbote/memsubstrate/internal/boundary"
	"github.com/yungbote/memsubstrate/internal/budget"
	"github.com/yungbote/memsubstrate/internal/chatapi"
	"github.com/yungbote/memsubstrate/internal/config"
	"github.com/yungbote/memsubstrate/internal/embedclient"
	"github.com/yungbote/memsubstrate/internal/extraction"
	"github.com/yungbote/memsubstrate/internal/llmclient"
	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/memstore"
	"github.com/yungbote/memsubstrate/internal/ranker"
	"github.com/yungbote/memsubstrate/internal/retrieval"
	"github.com/yungbote/memsubstrate/internal/telemetry"
	"github.com/yungbote/memsubstrate/internal/tracker"
)

// embeddingDimension is the fixed vector width every component agrees on:
// the embedding client's output, the graph store's schema, and retrieval's
// similarity math all assume it.
const embeddingDimension = 768

// App holds every long-lived collaborator the process needs to serve
// requests and run its background workers.
type App struct {
	Log    *logger.Logger
	Config *config.Config

	server         *http.Server
	backfillWorker *backfill.Worker
	graphClient    *memstore.Client
	otelShutdown   func(context.Context) error
}

// New loads configuration and wires the full dependency graph. Any
// collaborator that fails to construct is a startup error; a graph backend
// that is simply unconfigured is not (memstore.NewFromEnv degrades to a
// disabled store, and every downstream component tolerates that).
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("app: init logger: %w", err)
	}

	otelShutdown := telemetry.Init(ctx, log, telemetry.Config{
		ServiceName: "memsubstrate",
		Environment: cfg.Env,
	})

	graphClient, err := memstore.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("app: init graph client: %w", err)
	}
	store := memstore.New(graphClient, log)
	if store.Enabled() {
		graphClient.EnsureSchema(ctx, log, embeddingDimension)
	} else {
		log.Warn("memstore disabled: NEO4J_URI not set, running with retrieval/extraction persistence off")
	}

	embed := embedclient.New(embedclient.Config{
		BaseURL:   cfg.EmbeddingBaseURL,
		Dimension: embeddingDimension,
	}, log)

	llm := llmclient.New(llmclient.Config{
		BaseURL: resolveLLMBaseURL(cfg.ModelSelection.Provider),
		Model:   cfg.ModelSelection.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, log)

	extractor := extraction.New(extraction.Config{
		MinConfidence: cfg.Extraction.MinConfidence,
	}, llm, log)

	sink := tracker.NewFileSink(cfg.TranscriptDir)
	sessions, err := tracker.New(tracker.Config{
		MaxTracked: cfg.Tracker.MaxTrackedSessions,
		BoundaryConfig: boundary.Config{
			IdleThreshold: cfg.Boundary.IdleThreshold,
			DropFraction:  cfg.Boundary.DropFraction,
		},
	}, sink, log)
	if err != nil {
		return nil, fmt.Errorf("app: init tracker: %w", err)
	}

	rank := ranker.New(ranker.Config{})
	retriever := retrieval.New(embed, store, rank, log)
	accessTracker := access.New(store, log)

	budgetMgr, err := budget.New(nil, 0)
	if err != nil {
		return nil, fmt.Errorf("app: init budget manager: %w", err)
	}

	orchestrator := chatapi.NewOrchestrator(chatapi.Config{
		SystemPrompt:          cfg.LLM.SystemPrompt,
		ContextWindowMessages: cfg.ContextWindowMessages,
		MaxContextTokens:      8000,
	}, sessions, extractor, embed, store, retriever, accessTracker, budgetMgr, llm, log)

	addr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	server := chatapi.NewServer(addr, cfg.HTTP.ReadHeaderTimeout.Duration, cfg.HTTP.IdleTimeout.Duration, orchestrator)

	backfillWorker := backfill.New(store, embed, backfill.Config{}, log)

	return &App{
		Log:            log,
		Config:         cfg,
		server:         server,
		backfillWorker: backfillWorker,
		graphClient:    graphClient,
		otelShutdown:   otelShutdown,
	}, nil
}

// resolveLLMBaseURL maps a known provider name to its chat-completions
// base URL. A provider string that isn't one of the known short names is
// treated as already being a fully-qualified base URL, so self-hosted or
// proxy deployments can point MODEL_SELECTION straight at their endpoint.
func resolveLLMBaseURL(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "https://api.openai.com/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return provider
	}
}

// Run starts the background backfill worker and serves HTTP until ctx is
// canceled, then shuts down both in turn.
func (a *App) Run(ctx context.Context) error {
	a.backfillWorker.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("chat orchestrator listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		a.Log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.Close(context.Background())
			return fmt.Errorf("app: server error: %w", err)
		}
	}

	return a.Close(context.Background())
}

// Close gracefully stops the backfill worker, drains the HTTP server, and
// closes the graph driver and telemetry exporter. Safe to call more than
// once.
func (a *App) Close(ctx context.Context) error {
	a.backfillWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("server shutdown did not complete cleanly", "error", err.Error())
	}

	if a.graphClient != nil {
		if err := a.graphClient.Close(shutdownCtx); err != nil {
			a.Log.Warn("graph client close failed", "error", err.Error())
		}
	}

	if a.otelShutdown != nil {
		if err := a.otelShutdown(shutdownCtx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err.Error())
		}
	}

	return nil
}
