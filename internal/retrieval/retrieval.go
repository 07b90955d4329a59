// Package retrieval is the Retrieval Service (C8): the read-path
// orchestrator that turns a query into ranked memories. It embeds the
// query (or accepts a precomputed vector), searches the graph's vector
// index, removes duplicates, and re-ranks the survivors.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/yungbote/memsubstrate/internal/dedup"
	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/memstore"
	"github.com/yungbote/memsubstrate/internal/ranker"
)

var tracer = otel.Tracer("memsubstrate/retrieval")

// Embedder is the narrow embedclient.Client slice this service needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the narrow memstore.Store slice this service needs.
type Searcher interface {
	VectorSearch(ctx context.Context, q memstore.VectorSearchQuery) ([]memstore.Memory, error)
}

// Query is a single retrieval request. Either QueryText or a precomputed
// QueryEmbedding must be set.
type Query struct {
	QueryText      string
	QueryEmbedding []float32
	TopK           int
	MinSimilarity  float64
	MinConfidence  float64
	MemoryTypes    []memstore.MemoryType
	DedupThreshold float64
}

func (q Query) withDefaults() Query {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	if q.DedupThreshold <= 0 {
		q.DedupThreshold = dedup.DefaultSimilarityThreshold
	}
	return q
}

// Response reports the ranked results plus enough timing/count metadata
// for callers to reason about degraded modes without re-instrumenting.
type Response struct {
	Query                string
	Results              []ranker.Ranked
	TotalResults         int
	Mode                 string // "ok", "degraded_embed", "empty"
	TotalLatency         time.Duration
	EmbeddingLatency     time.Duration
	SearchLatency        time.Duration
	TopK                 int
	MinSimilarity        float64
	MinConfidence        float64
	MemoriesSearched     int
	MemoriesMatched      int
	MemoriesDeduplicated int
	Trace                map[string]any
}

// Service wires the embedding client, the graph's vector search, the
// deduplicator, and the ranker into a single retrieval call.
type Service struct {
	embed  Embedder
	search Searcher
	rank   *ranker.Ranker
	log    *logger.Logger
}

func New(embed Embedder, search Searcher, rank *ranker.Ranker, log *logger.Logger) *Service {
	if rank == nil {
		rank = ranker.New(ranker.Config{})
	}
	return &Service{embed: embed, search: search, rank: rank, log: log}
}

// Retrieve runs the full embed -> search -> dedup -> rank -> truncate
// pipeline. It only returns an error for a failed vector search; a failed
// query embedding degrades gracefully to an empty result (Mode is set to
// "degraded_embed" rather than propagated as an error).
func (s *Service) Retrieve(ctx context.Context, q Query) (Response, error) {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	q = q.withDefaults()
	start := time.Now()
	resp := Response{
		Query:         strings.TrimSpace(q.QueryText),
		TopK:          q.TopK,
		MinSimilarity: q.MinSimilarity,
		MinConfidence: q.MinConfidence,
		Trace:         map[string]any{},
	}

	queryVector, embedLatency, err := s.resolveQueryVector(ctx, q)
	resp.EmbeddingLatency = embedLatency
	if err != nil {
		resp.Mode = "degraded_embed"
		resp.Trace["embed_err"] = err.Error()
		resp.TotalLatency = time.Since(start)
		if s.log != nil {
			s.log.Warn("retrieval: query embedding failed, returning empty result", "error", err.Error())
		}
		return resp, nil
	}

	searchStart := time.Now()
	raw, err := s.search.VectorSearch(ctx, memstore.VectorSearchQuery{
		Vector:        queryVector,
		TopK:          q.TopK,
		MinSimilarity: q.MinSimilarity,
		MinConfidence: q.MinConfidence,
		MemoryTypes:   memoryTypeStrings(q.MemoryTypes),
	})
	resp.SearchLatency = time.Since(searchStart)
	if err != nil {
		return resp, fmt.Errorf("retrieval: vector search: %w", err)
	}
	resp.MemoriesSearched = len(raw)

	if len(raw) == 0 {
		resp.Mode = "empty"
		resp.TotalLatency = time.Since(start)
		return resp, nil
	}

	unique := raw
	if len(raw) > 1 {
		dd, err := dedup.Deduplicate(raw, q.DedupThreshold)
		if err != nil {
			if s.log != nil {
				s.log.Warn("retrieval: deduplication failed, using raw results", "error", err.Error())
			}
		} else {
			unique = dd.UniqueMemories
			resp.MemoriesDeduplicated = len(raw) - len(unique)
		}
	}
	resp.MemoriesMatched = len(unique)

	ranked := s.rank.Rerank(unique)
	if len(ranked) > q.TopK {
		ranked = ranked[:q.TopK]
	}

	resp.Results = ranked
	resp.TotalResults = len(ranked)
	resp.Mode = "ok"
	resp.TotalLatency = time.Since(start)
	return resp, nil
}

func memoryTypeStrings(types []memstore.MemoryType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (s *Service) resolveQueryVector(ctx context.Context, q Query) ([]float32, time.Duration, error) {
	if len(q.QueryEmbedding) > 0 {
		return q.QueryEmbedding, 0, nil
	}
	if s.embed == nil {
		return nil, 0, fmt.Errorf("retrieval: no embedding client configured")
	}
	start := time.Now()
	v, err := s.embed.Embed(ctx, q.QueryText)
	return v, time.Since(start), err
}

// MemoryIDs returns the memory IDs surfaced in a response, for handing off
// to the Access Tracker (C11).
func (r Response) MemoryIDs() []string {
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		ids = append(ids, res.Memory.MemoryID)
	}
	return ids
}
