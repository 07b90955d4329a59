// Package extraction turns a closed conversation transcript into candidate
// memory records (C3) and assigns each a deterministic final confidence
// score (C4).
package extraction

import (
	"time"
)

// MemoryType enumerates the categories a candidate memory can fall into.
type MemoryType string

const (
	MemoryTypePreference       MemoryType = "preference"
	MemoryTypePersonalFact     MemoryType = "personal_fact"
	MemoryTypeTechnicalContext MemoryType = "technical_context"
	MemoryTypeDecision         MemoryType = "decision"
	MemoryTypeCorrection       MemoryType = "correction"
)

// Candidate is a single memory as produced by the LLM, before calibration.
type Candidate struct {
	MemoryType     MemoryType
	Content        string
	BaseConfidence float64
	IsExplicit     bool
	IsCorrection   bool
	Supersedes     string // memory_id this correction claims to supersede, if any
	Metadata       map[string]any
}

// Memory is a Candidate after C4 has assigned a final confidence.
type Memory struct {
	MemoryType           MemoryType
	Content              string
	Confidence           float64
	SourceConversationID string
	ExtractionTimestamp  time.Time
	MentionCount         int
	HasContradiction     bool
	Supersedes           string
	Metadata             map[string]any
}

// Result is the outcome of extracting memories from one transcript.
type Result struct {
	ConversationID     string
	Memories           []Memory
	ExtractionDuration time.Duration
	ModelUsed          string
	Error              string
}

// IsSuccessful reports whether extraction completed without error. A
// successful extraction may still yield zero memories.
func (r Result) IsSuccessful() bool { return r.Error == "" }
