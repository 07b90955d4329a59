package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"

	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/vecmath"
)

const contradictionSimilarityThreshold = 0.75

var tracer = otel.Tracer("memsubstrate/memstore")

// Store is C6: the Memory Store. It owns all writes to Memory Records and
// exposes the narrow read paths C7/C8/C11 need.
type Store struct {
	client *Client
	log    *logger.Logger
}

func New(client *Client, log *logger.Logger) *Store {
	return &Store{client: client, log: log}
}

// Enabled reports whether a graph backend is actually configured.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil && s.client.Driver != nil
}

// StoreExtractionResult persists a transcript's Conversation node and each
// extracted memory, sequentially (contradiction checks must see the effect
// of prior memories in the same batch), per spec.md §4.5.
func (s *Store) StoreExtractionResult(ctx context.Context, t Transcript, memories []NewMemory) (StoreResult, error) {
	var result StoreResult
	if !s.Enabled() {
		return result, fmt.Errorf("memstore: not configured")
	}

	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, cypherUpsertConversation, map[string]any{
			"session_id":    t.SessionID,
			"start_time":    t.StartTime.UTC().Format(time.RFC3339Nano),
			"end_time":      t.EndTime.UTC().Format(time.RFC3339Nano),
			"message_count": t.MessageCount,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return result, fmt.Errorf("memstore: upsert conversation: %w", err)
	}

	for _, mem := range memories {
		if mem.MemoryID == "" {
			mem.MemoryID = uuid.NewString()
		}
		if mem.ExtractionTimestamp.IsZero() {
			mem.ExtractionTimestamp = time.Now().UTC()
		}

		supersedes := mem.Supersedes
		if len(mem.Embedding) > 0 {
			if found, simErr := s.findContradiction(ctx, mem); simErr != nil {
				result.Errors = append(result.Errors, fmt.Errorf("contradiction search for %s: %w", mem.MemoryID, simErr))
				if s.log != nil {
					s.log.Warn("contradiction search failed, storing without superseding", "memory_id", mem.MemoryID, "error", simErr.Error())
				}
			} else if found != "" {
				supersedes = found
			}
		}

		if err := s.createMemory(ctx, mem, supersedes); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("create memory %s: %w", mem.MemoryID, err))
			continue
		}
		result.Stored = append(result.Stored, mem.MemoryID)

		if supersedes != "" {
			if err := s.supersede(ctx, supersedes, mem.MemoryID, mem.ExtractionTimestamp); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("supersede %s: %w", supersedes, err))
				continue
			}
			result.Superseded = append(result.Superseded, supersedes)
		}
	}

	return result, nil
}

// findContradiction implements spec.md §4.5 step 1: among embedded,
// temporally-open records of the same memory_type (excluding self), find
// the single most-similar record whose content differs and whose
// similarity clears the threshold. Returns "" when none qualifies.
func (s *Store) findContradiction(ctx context.Context, mem NewMemory) (string, error) {
	ctx, span := tracer.Start(ctx, "memstore.contradiction_search")
	defer span.End()

	session := s.client.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	validFrom := mem.ExtractionTimestamp
	res, err := session.Run(ctx, cypherFindContradictionCandidates, map[string]any{
		"memory_type":   string(mem.MemoryType),
		"new_memory_id": mem.MemoryID,
		"valid_from":    validFrom.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}

	candidates := make([]vecmath.Candidate, 0)
	contentByID := map[string]string{}
	for res.Next(ctx) {
		rec := res.Record()
		id, _ := rec.Get("memory_id")
		content, _ := rec.Get("content")
		embeddingRaw, _ := rec.Get("embedding")
		idStr, _ := id.(string)
		contentStr, _ := content.(string)
		vec := toFloat32Slice(embeddingRaw)
		if idStr == "" || len(vec) == 0 {
			continue
		}
		candidates = append(candidates, vecmath.Candidate{ID: idStr, Embedding: vec})
		contentByID[idStr] = contentStr
	}
	if err := res.Err(); err != nil {
		return "", err
	}

	return pickContradiction(candidates, contentByID, mem.Embedding, mem.Content, contradictionSimilarityThreshold), nil
}

// pickContradiction is the pure decision at the heart of spec.md §4.5 step
// 1: the single most-similar candidate, provided it clears the threshold
// and its content actually differs from the new memory's. Pulled out of
// findContradiction so the contradiction rule can be exercised without a
// live graph.
func pickContradiction(candidates []vecmath.Candidate, contentByID map[string]string, target []float32, targetContent string, threshold float64) string {
	best, score, _ := vecmath.MostSimilar(target, candidates)
	if best.ID == "" || score < threshold {
		return ""
	}
	if contentByID[best.ID] == targetContent {
		return ""
	}
	return best.ID
}

func (s *Store) createMemory(ctx context.Context, mem NewMemory, supersedes string) error {
	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		params := map[string]any{
			"memory_id":              mem.MemoryID,
			"memory_type":            string(mem.MemoryType),
			"content":                mem.Content,
			"confidence":             mem.Confidence,
			"category":               mem.Category,
			"source_conversation_id": mem.SourceConversationID,
			"extraction_timestamp":   mem.ExtractionTimestamp.UTC().Format(time.RFC3339Nano),
			"learned_at":             now,
			"valid_from":             mem.ExtractionTimestamp.UTC().Format(time.RFC3339Nano),
			"supersedes":             nullableString(supersedes),
			"embedding":              float32SliceToAny(mem.Embedding),
			"has_embedding":          len(mem.Embedding) > 0,
			"embedding_version":      nullableString(""),
			"embedding_updated_at":   nullableString(""),
			"metadata_json":          string(metadataJSON),
		}
		res, err := tx.Run(ctx, cypherCreateMemory, params)
		if err != nil {
			return nil, err
		}
		return nil, consumeOrErr(ctx, res)
	})
	return err
}

func (s *Store) supersede(ctx context.Context, oldID, newID string, validFrom time.Time) error {
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherSupersede, map[string]any{
			"old_id":     oldID,
			"new_id":     newID,
			"valid_from": validFrom.UTC().Format(time.RFC3339Nano),
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		return nil, consumeOrErr(ctx, res)
	})
	return err
}

// StoreEmbedding updates a Memory Record's vector fields and tags them with
// version; it is C7's write path. A memory that arrives with an embedding
// from extraction gets its vector in createMemory instead, which sets
// has_embedding but leaves embedding_version null.
func (s *Store) StoreEmbedding(ctx context.Context, memoryID string, vector []float32, version string) error {
	if !s.Enabled() {
		return fmt.Errorf("memstore: not configured")
	}
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherStoreEmbedding, map[string]any{
			"memory_id":         memoryID,
			"embedding":         float32SliceToAny(vector),
			"embedding_version": version,
			"now":               time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("memory %s not found", memoryID)
		}
		_ = rec
		return nil, nil
	})
	return err
}

// MemoryStub is the minimal shape FindMemoriesWithoutEmbeddings returns.
type MemoryStub struct {
	MemoryID   string
	MemoryType MemoryType
	Content    string
}

// FindMemoriesWithoutEmbeddings is C7's read path.
func (s *Store) FindMemoriesWithoutEmbeddings(ctx context.Context, batchSize int) ([]MemoryStub, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("memstore: not configured")
	}
	session := s.client.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypherMemoriesWithoutEmbeddings, map[string]any{"batch_size": batchSize})
	if err != nil {
		return nil, err
	}
	var out []MemoryStub
	for res.Next(ctx) {
		rec := res.Record()
		id, _ := rec.Get("memory_id")
		mt, _ := rec.Get("memory_type")
		content, _ := rec.Get("content")
		idStr, _ := id.(string)
		if idStr == "" {
			continue
		}
		mtStr, _ := mt.(string)
		contentStr, _ := content.(string)
		out = append(out, MemoryStub{MemoryID: idStr, MemoryType: MemoryType(mtStr), Content: contentStr})
	}
	return out, res.Err()
}

// VectorSearchQuery is the input to VectorSearch.
type VectorSearchQuery struct {
	Vector        []float32
	TopK          int
	MinSimilarity float64
	MinConfidence float64
	MemoryTypes   []string
}

// VectorSearch is C8's primary read: queries the native vector index,
// over-fetching 2x top_k so downstream dedup/rank still has a real pool.
func (s *Store) VectorSearch(ctx context.Context, q VectorSearchQuery) ([]Memory, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("memstore: not configured")
	}
	ctx, span := tracer.Start(ctx, "memstore.vector_search")
	defer span.End()

	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	searchK := topK * 2

	query := cypherVectorSearch
	params := map[string]any{
		"index_name":     vectorIndexName,
		"search_k":       searchK,
		"query_vector":   float32SliceToAny(q.Vector),
		"min_confidence": q.MinConfidence,
		"min_similarity": q.MinSimilarity,
		"top_k":          topK,
	}
	if len(q.MemoryTypes) > 0 {
		query = strings.Replace(query, "RETURN\n", "AND m.memory_type IN $memory_types\nRETURN\n", 1)
		params["memory_types"] = q.MemoryTypes
	}

	session := s.client.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	var out []Memory
	for res.Next(ctx) {
		out = append(out, memoryFromRecord(res.Record()))
	}
	return out, res.Err()
}

// TouchAccess is C11's best-effort write (last_accessed/access_count).
// Failures are logged, never propagated: access bookkeeping must never
// block a retrieval response.
func (s *Store) TouchAccess(ctx context.Context, memoryID string) {
	if !s.Enabled() {
		return
	}
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherTouchAccess, map[string]any{
			"memory_id": memoryID,
			"now":       time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		return nil, consumeOrErr(ctx, res)
	})
	if err != nil && s.log != nil {
		s.log.Warn("access tracking write failed", "memory_id", memoryID, "error", err.Error())
	}
}

func consumeOrErr(ctx context.Context, res neo4j.ResultWithContext) error {
	_, err := res.Consume(ctx)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func float32SliceToAny(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32Slice(raw any) []float32 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		}
	}
	return out
}

func memoryFromRecord(rec *neo4j.Record) Memory {
	get := func(key string) any {
		v, _ := rec.Get(key)
		return v
	}
	str := func(key string) string {
		s, _ := get(key).(string)
		return s
	}
	f64 := func(key string) float64 {
		v := get(key)
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		default:
			return 0
		}
	}
	i64 := func(key string) int {
		v := get(key)
		switch n := v.(type) {
		case int64:
			return int(n)
		case float64:
			return int(n)
		default:
			return 0
		}
	}
	boolv := func(key string) bool {
		b, _ := get(key).(bool)
		return b
	}
	tval := func(key string) time.Time {
		t, err := time.Parse(time.RFC3339Nano, str(key))
		if err != nil {
			return time.Time{}
		}
		return t
	}
	tptr := func(key string) *time.Time {
		s := str(key)
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &t
	}

	var metadata map[string]any
	_ = json.Unmarshal([]byte(str("metadata_json")), &metadata)

	return Memory{
		MemoryID:             str("memory_id"),
		MemoryType:           MemoryType(str("memory_type")),
		Content:              str("content"),
		Confidence:           f64("confidence"),
		Category:             str("category"),
		SourceConversationID: str("source_conversation_id"),
		ExtractionTimestamp:  tval("extraction_timestamp"),
		LearnedAt:            tval("learned_at"),
		ValidFrom:            tval("valid_from"),
		ValidUntil:           tptr("valid_until"),
		Embedding:            toFloat32Slice(get("embedding")),
		HasEmbedding:         boolv("has_embedding"),
		EmbeddingVersion:     str("embedding_version"),
		EmbeddingUpdatedAt:   tptr("embedding_updated_at"),
		LastAccessed:         tptr("last_accessed"),
		Supersedes:           str("supersedes"),
		SupersededBy:         str("superseded_by"),
		AccessCount:          i64("access_count"),
		Metadata:             metadata,
		Similarity:           f64("similarity"),
	}
}
