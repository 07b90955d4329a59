// Package memstore is the Neo4j-backed Memory Store (C6): it persists
// Memory Records, maintains the supersede chain across contradicting
// records, and exposes the read paths C7 (backfill) and C8 (retrieval)
// need over the graph.
package memstore

import "time"

// MemoryType mirrors extraction.MemoryType without importing it, so this
// package stays independent of the extraction pipeline's internal types.
type MemoryType string

const (
	MemoryTypePreference       MemoryType = "preference"
	MemoryTypePersonalFact     MemoryType = "personal_fact"
	MemoryTypeTechnicalContext MemoryType = "technical_context"
	MemoryTypeDecision         MemoryType = "decision"
	MemoryTypeCorrection       MemoryType = "correction"
)

// NewMemory is the input shape for persisting a freshly extracted memory.
// MemoryID is assigned by the store if empty.
type NewMemory struct {
	MemoryID             string
	MemoryType           MemoryType
	Content              string
	Confidence           float64
	Category             string
	SourceConversationID string
	ExtractionTimestamp  time.Time
	Supersedes           string // memory_id, if the extractor/LLM already identified one
	Embedding            []float32
	Metadata             map[string]any
}

// Memory is a full Memory Record as read back from the graph.
type Memory struct {
	MemoryID             string
	MemoryType           MemoryType
	Content              string
	Confidence           float64
	Category             string
	SourceConversationID string
	ExtractionTimestamp  time.Time
	LearnedAt            time.Time
	ValidFrom            time.Time
	ValidUntil           *time.Time
	Supersedes           string
	SupersededBy         string
	Embedding            []float32
	HasEmbedding         bool
	EmbeddingVersion     string
	EmbeddingUpdatedAt   *time.Time
	LastAccessed         *time.Time
	AccessCount          int
	Metadata             map[string]any

	// Similarity is populated only by similarity-ranked reads (vector
	// search results); zero for plain lookups.
	Similarity float64
}

// Transcript is the minimal view of a closed conversation the store needs
// to create the owning Conversation node.
type Transcript struct {
	SessionID    string
	StartTime    time.Time
	EndTime      time.Time
	MessageCount int
}

// StoreResult reports what happened during StoreExtractionResult, so
// callers (and tests) can assert on supersede behavior without re-reading
// the graph.
type StoreResult struct {
	Stored     []string // memory_ids created
	Superseded []string // memory_ids whose valid_until/superseded_by were set
	Errors     []error  // non-fatal per-memory errors (contradiction lookup failures etc.)
}
