// Package config loads the substrate's environment-driven configuration.
// There is no config-file format here, only env vars with typed defaults
// and bounds validation, following the teacher's own inference-gateway
// config package.
package config

import "time"

// Duration wraps time.Duration so it can be parsed from a plain env-var
// string like "30s" or a bare integer count of nanoseconds, matching the
// teacher's dual string/int UnmarshalJSON pattern.
type Duration struct {
	time.Duration
}

// HTTPConfig controls the chat orchestrator's listener.
type HTTPConfig struct {
	Host              string
	Port              string
	ReadHeaderTimeout Duration
	IdleTimeout       Duration
	ShutdownTimeout   Duration
	MaxRequestBytes   int64
}

// ModelConfig identifies the external LLM the chat orchestrator streams
// completions from, in "provider:model" form.
type ModelConfig struct {
	Provider string
	Model    string
}

// GraphConfig addresses the Neo4j-backed memory store.
type GraphConfig struct {
	URI      string
	User     string
	Password string
}

// BoundaryConfig holds the Boundary Detector's tunables.
type BoundaryConfig struct {
	IdleThreshold time.Duration
	DropFraction  float64
}

// TrackerConfig holds the Conversation Tracker's tunables.
type TrackerConfig struct {
	MaxTrackedSessions int
}

// ExtractionConfig holds the Extractor/Calibrator's tunables.
type ExtractionConfig struct {
	MinConfidence float64
}

// LLMConfig holds the external LLM client's tunables.
type LLMConfig struct {
	TimeoutSeconds int
	SystemPrompt   string
}

// Config is the fully resolved, validated configuration for the process.
type Config struct {
	Env string

	ModelSelection   ModelConfig
	EmbeddingBaseURL string
	LLM              LLMConfig
	ProfilePath      string

	ContextWindowMessages int

	Graph         GraphConfig
	TranscriptDir string
	Boundary      BoundaryConfig
	Tracker       TrackerConfig
	Extraction    ExtractionConfig

	HTTP HTTPConfig
}
