package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

var allEnvKeys = []string{
	"MODEL_SELECTION", "EMBEDDING_BASE_URL", "LLM_TIMEOUT_SECONDS", "SYSTEM_PROMPT",
	"PROFILE_PATH", "CONTEXT_WINDOW_MESSAGES", "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD",
	"TRANSCRIPT_DIR", "BOUNDARY_IDLE_MINUTES", "BOUNDARY_DROP_FRACTION",
	"MAX_TRACKED_SESSIONS", "EXTRACTION_MIN_CONFIDENCE", "HOST", "PORT",
}

func TestLoad_RequiresModelSelection(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when MODEL_SELECTION is unset")
	}
}

func TestLoad_RejectsMalformedModelSelection(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "not-a-valid-selection")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for MODEL_SELECTION without a colon")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ModelSelection.Provider != "ollama" || cfg.ModelSelection.Model != "llama3" {
		t.Fatalf("unexpected model selection: %+v", cfg.ModelSelection)
	}
	if cfg.LLM.TimeoutSeconds != 30 {
		t.Fatalf("expected default LLM timeout 30, got %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Tracker.MaxTrackedSessions != 1000 {
		t.Fatalf("expected default max tracked sessions 1000, got %d", cfg.Tracker.MaxTrackedSessions)
	}
	if cfg.Extraction.MinConfidence != 0.4 {
		t.Fatalf("expected default min confidence 0.4, got %v", cfg.Extraction.MinConfidence)
	}
}

func TestLoad_BoundsCheckLLMTimeout(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")
	os.Setenv("LLM_TIMEOUT_SECONDS", "601")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for LLM_TIMEOUT_SECONDS above 600")
	}
}

func TestLoad_BoundsCheckMaxTrackedSessions(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")
	os.Setenv("MAX_TRACKED_SESSIONS", "5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for MAX_TRACKED_SESSIONS below 10")
	}
}

func TestLoad_BoundsCheckBoundaryIdleMinutes(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")
	os.Setenv("BOUNDARY_IDLE_MINUTES", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for BOUNDARY_IDLE_MINUTES below 1")
	}
}

func TestLoad_BoundsCheckDropFraction(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")
	os.Setenv("BOUNDARY_DROP_FRACTION", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for BOUNDARY_DROP_FRACTION above 1")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t, allEnvKeys...)
	os.Setenv("MODEL_SELECTION", "ollama:llama3")
	os.Setenv("TRANSCRIPT_DIR", "/var/data/transcripts")
	os.Setenv("NEO4J_URI", "neo4j://localhost:7687")
	os.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TranscriptDir != "/var/data/transcripts" {
		t.Fatalf("expected transcript dir override, got %q", cfg.TranscriptDir)
	}
	if cfg.Graph.URI != "neo4j://localhost:7687" {
		t.Fatalf("expected graph uri override, got %q", cfg.Graph.URI)
	}
	if cfg.HTTP.Port != "9090" {
		t.Fatalf("expected port override, got %q", cfg.HTTP.Port)
	}
}
