// Package chatapi is the Chat Orchestrator (C13): the OpenAI-compatible
// HTTP surface that ties every other component together into a single
// request lifecycle (session resolution, boundary tracking, retrieval,
// budgeting, streamed completion).
package chatapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/memsubstrate/internal/budget"
	"github.com/yungbote/memsubstrate/internal/ctxutil"
	"github.com/yungbote/memsubstrate/internal/extraction"
	apierrors "github.com/yungbote/memsubstrate/internal/errors"
	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/memstore"
	"github.com/yungbote/memsubstrate/internal/retrieval"
	"github.com/yungbote/memsubstrate/internal/tracker"
)

// SessionTracker is the narrow tracker.Tracker slice the orchestrator needs.
type SessionTracker interface {
	ProcessRequest(sessionID string, messages []tracker.Message) tracker.ProcessResult
}

// MemoryExtractor is the narrow extraction.Extractor slice the orchestrator
// needs to run the off-hot-path C3/C4 pipeline once a boundary closes.
type MemoryExtractor interface {
	ExtractMemories(ctx context.Context, t tracker.Transcript) extraction.Result
}

// EmbeddingBatcher is the narrow embedclient.Client slice the orchestrator
// needs to embed newly extracted memories before persisting them.
type EmbeddingBatcher interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// MemoryPersister is the narrow memstore.Store slice the orchestrator needs
// to persist a closed transcript's extracted memories.
type MemoryPersister interface {
	Enabled() bool
	StoreExtractionResult(ctx context.Context, t memstore.Transcript, memories []memstore.NewMemory) (memstore.StoreResult, error)
}

// Retriever is the narrow retrieval.Service slice the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Response, error)
}

// AccessRecorder is the narrow access.Tracker slice the orchestrator needs.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, memoryIDs []string)
}

// BudgetFitter is the narrow budget.Manager slice the orchestrator needs.
type BudgetFitter interface {
	Fit(items []budget.Item, tokenBudget int, strategy budget.Strategy) budget.Result
	CountTokens(text string) int
}

// ChatClient is the external LLM collaborator that actually generates
// completions. onDelta is called for every incremental token the upstream
// model emits; callers that don't need streaming can pass a no-op.
type ChatClient interface {
	StreamChat(ctx context.Context, systemPrompt string, messages []Message, onDelta func(string)) (string, error)
}

// Config tunes request-level behavior.
type Config struct {
	SystemPrompt          string
	ContextWindowMessages int // default 20
	MaxContextTokens      int // default 8000, fed to the Budget Manager
	BudgetStrategy        budget.Strategy
}

func (c Config) withDefaults() Config {
	if c.ContextWindowMessages <= 0 {
		c.ContextWindowMessages = 20
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 8000
	}
	if c.BudgetStrategy == "" {
		c.BudgetStrategy = budget.HardCutoff
	}
	return c
}

// Orchestrator wires every component into the single-request lifecycle
// spec.md §4.12 describes.
type Orchestrator struct {
	cfg Config

	sessions   SessionTracker
	extractor  MemoryExtractor
	embed      EmbeddingBatcher
	memstore   MemoryPersister
	retriever  Retriever
	access     AccessRecorder
	budgetMgr  BudgetFitter
	chat       ChatClient
	log        *logger.Logger
}

// NewOrchestrator builds the orchestrator. Every dependency except chat may
// be nil; the affected behavior (boundary tracking and extraction, memory
// retrieval, access tracking, or budget fitting) is then skipped.
func NewOrchestrator(cfg Config, sessions SessionTracker, extractor MemoryExtractor, embed EmbeddingBatcher, store MemoryPersister, retriever Retriever, access AccessRecorder, budgetMgr BudgetFitter, chat ChatClient, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		sessions:  sessions,
		extractor: extractor,
		embed:     embed,
		memstore:  store,
		retriever: retriever,
		access:    access,
		budgetMgr: budgetMgr,
		chat:      chat,
		log:       log,
	}
}

// NewServer builds the http.Server hosting the orchestrator's routes.
func NewServer(addr string, readHeaderTimeout, idleTimeout time.Duration, o *Orchestrator) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(o),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		WriteTimeout:      0, // streaming responses set their own pace
	}
}

// NewHandler builds the routed, middleware-wrapped HTTP handler.
func NewHandler(o *Orchestrator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz)
	mux.HandleFunc("GET /v1/models", o.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", o.handleChatCompletions)

	var h http.Handler = mux
	h = recoverMiddleware(o.log)(h)
	h = accessLogMiddleware(o.log)(h)
	h = correlationIDMiddleware()(h)
	return h
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func correlationIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := strings.TrimSpace(r.Header.Get("X-Correlation-ID"))
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			td := &ctxutil.TraceData{
				CorrelationID:  correlationID,
				ConversationID: strings.TrimSpace(r.Header.Get("X-Conversation-ID")),
			}
			ctx := ctxutil.WithTraceData(r.Context(), td)
			w.Header().Set("X-Correlation-ID", correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func accessLogMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if log == nil {
				return
			}
			log.With(
				"correlation_id", ctxutil.CorrelationID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			).Info("http request")
		})
	}
}

func recoverMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if log != nil {
						log.With(
							"correlation_id", ctxutil.CorrelationID(r.Context()),
							"panic", rec,
							"stack", string(debug.Stack()),
						).Error("panic recovered")
					}
					writeAPIError(w, apierrors.Internal(nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
