// Package backfill is the Embedding Backfill Worker (C7): it polls the
// Memory Store for records still missing embeddings, generates vectors for
// them through the embedding client, and persists them back. It runs on
// its own goroutine, independent of the request path, so retrieval never
// blocks on embedding generation.
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/memstore"
)

// Embedder is the narrow slice of embedclient.Client this worker needs.
// Declared here (rather than depending on the concrete client) so tests
// can supply a fake without standing up a real HTTP transport.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Health(ctx context.Context) error
}

// MemoryStore is the narrow slice of memstore.Store this worker needs.
type MemoryStore interface {
	Enabled() bool
	FindMemoriesWithoutEmbeddings(ctx context.Context, batchSize int) ([]memstore.MemoryStub, error)
	StoreEmbedding(ctx context.Context, memoryID string, vector []float32, version string) error
}

// Config controls batch size, poll cadence, and the embedding version tag
// stamped onto every vector this worker stores.
type Config struct {
	BatchSize        int
	PollInterval     time.Duration
	EmbeddingVersion string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.EmbeddingVersion == "" {
		c.EmbeddingVersion = "nomic-embed-text-v1"
	}
	return c
}

// Progress is a point-in-time snapshot of the worker's counters. It is
// returned by value so callers never hold a reference into state the
// worker is concurrently mutating.
type Progress struct {
	Processed           int
	Failed              int
	Total               int
	SuccessRate         float64
	DeadLetterQueueSize int
	IsRunning           bool
}

// Worker polls memstore for memories without embeddings, embeds their
// content, and writes the vector back. Failures go to an in-memory dead
// letter queue for later retry rather than being dropped.
type Worker struct {
	store MemoryStore
	embed Embedder
	cfg   Config
	log   *logger.Logger

	mu             sync.Mutex
	running        bool
	processedCount int
	failedCount    int
	deadLetter     []memstore.MemoryStub

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(store MemoryStore, embed Embedder, cfg Config, log *logger.Logger) *Worker {
	return &Worker{
		store: store,
		embed: embed,
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// Start launches the poll loop in the background and returns immediately.
// Calling Start twice while already running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.log.Warn("backfill worker already running")
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("starting embedding backfill worker",
		"batch_size", w.cfg.BatchSize,
		"poll_interval", w.cfg.PollInterval.String(),
		"embedding_version", w.cfg.EmbeddingVersion,
	)

	go w.runLoop(ctx)
}

// Stop requests a graceful shutdown: the current batch (if any) is allowed
// to finish, then the loop exits. It blocks until the loop has actually
// stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	w.log.Info("stopping backfill worker")
	close(stopCh)
	<-doneCh
}

func (w *Worker) runLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		done := w.doneCh
		w.mu.Unlock()
		close(done)
		w.log.Info("backfill worker stopped")
	}()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		batch, err := w.nextBatch(ctx)
		if err != nil {
			w.log.Error("failed to fetch backfill batch", "error", err.Error())
		} else if len(batch) > 0 {
			result := w.processBatch(ctx, batch)
			w.log.Info("backfill batch complete",
				"processed", result.Processed,
				"failed", result.Failed,
			)
		} else {
			w.log.Debug("no memories to backfill, waiting", "poll_interval", w.cfg.PollInterval.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) nextBatch(ctx context.Context) ([]memstore.MemoryStub, error) {
	if w.store == nil || !w.store.Enabled() {
		return nil, nil
	}
	return w.store.FindMemoriesWithoutEmbeddings(ctx, w.cfg.BatchSize)
}

// BatchResult reports how many items in a processed batch succeeded or
// failed.
type BatchResult struct {
	Processed int
	Failed    int
}

func (w *Worker) processBatch(ctx context.Context, batch []memstore.MemoryStub) BatchResult {
	var result BatchResult
	for _, stub := range batch {
		if err := w.embedAndStore(ctx, stub); err != nil {
			result.Failed++
			w.recordFailure(stub, err)
			continue
		}
		result.Processed++
		w.recordSuccess()
	}
	return result
}

func (w *Worker) embedAndStore(ctx context.Context, stub memstore.MemoryStub) error {
	vector, err := w.embed.Embed(ctx, stub.Content)
	if err != nil {
		return err
	}
	return w.store.StoreEmbedding(ctx, stub.MemoryID, vector, w.cfg.EmbeddingVersion)
}

func (w *Worker) recordSuccess() {
	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()
}

func (w *Worker) recordFailure(stub memstore.MemoryStub, err error) {
	w.mu.Lock()
	w.failedCount++
	w.deadLetter = append(w.deadLetter, stub)
	w.mu.Unlock()
	w.log.Warn("failed to backfill memory embedding", "memory_id", stub.MemoryID, "error", err.Error())
}

// RetryDeadLetterQueue drains the current dead letter queue and retries
// each entry once. Entries that fail again are re-enqueued.
func (w *Worker) RetryDeadLetterQueue(ctx context.Context) BatchResult {
	w.mu.Lock()
	toRetry := w.deadLetter
	w.deadLetter = nil
	w.mu.Unlock()

	if len(toRetry) == 0 {
		return BatchResult{}
	}
	w.log.Info("retrying dead letter queue", "count", len(toRetry))
	return w.processBatch(ctx, toRetry)
}

// Progress returns a snapshot of the worker's counters.
func (w *Worker) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := w.processedCount + w.failedCount
	var rate float64
	if total > 0 {
		rate = float64(w.processedCount) / float64(total)
	}
	return Progress{
		Processed:           w.processedCount,
		Failed:              w.failedCount,
		Total:               total,
		SuccessRate:         rate,
		DeadLetterQueueSize: len(w.deadLetter),
		IsRunning:           w.running,
	}
}

// Health reports whether the worker's embedding client is usable. The
// memory store is not checked.
func (w *Worker) Health(ctx context.Context) error {
	if w.embed != nil {
		if err := w.embed.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}
