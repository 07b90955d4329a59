package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func defaultConfig() *Config {
	return &Config{
		Env:                   "development",
		EmbeddingBaseURL:      "http://localhost:11434",
		LLM:                   LLMConfig{TimeoutSeconds: 30},
		ContextWindowMessages: 20,
		TranscriptDir:         "./transcripts",
		Boundary: BoundaryConfig{
			IdleThreshold: 10 * time.Minute,
			DropFraction:  0.5,
		},
		Tracker:    TrackerConfig{MaxTrackedSessions: 1000},
		Extraction: ExtractionConfig{MinConfidence: 0.4},
		HTTP: HTTPConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			ReadHeaderTimeout: Duration{5 * time.Second},
			IdleTimeout:       Duration{2 * time.Minute},
			ShutdownTimeout:   Duration{15 * time.Second},
			MaxRequestBytes:   10 << 20,
		},
	}
}

// Load reads configuration from environment variables, applying the spec's
// named defaults and bounds. It is the sole configuration surface: there is
// no config file, since profile/config-file parsing is an out-of-scope
// external collaborator for this system.
func Load() (*Config, error) {
	cfg := defaultConfig()

	selection := strings.TrimSpace(os.Getenv("MODEL_SELECTION"))
	if selection == "" {
		return nil, fmt.Errorf("config: MODEL_SELECTION is required (form \"provider:model\")")
	}
	provider, model, ok := strings.Cut(selection, ":")
	if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("config: MODEL_SELECTION must be of the form \"provider:model\", got %q", selection)
	}
	cfg.ModelSelection = ModelConfig{Provider: strings.TrimSpace(provider), Model: strings.TrimSpace(model)}

	if v := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SYSTEM_PROMPT")); v != "" {
		cfg.LLM.SystemPrompt = v
	}
	if v := strings.TrimSpace(os.Getenv("PROFILE_PATH")); v != "" {
		cfg.ProfilePath = v
	}
	if v := strings.TrimSpace(os.Getenv("TRANSCRIPT_DIR")); v != "" {
		cfg.TranscriptDir = v
	}
	if v := strings.TrimSpace(os.Getenv("NEO4J_URI")); v != "" {
		cfg.Graph.URI = v
	}
	if v := strings.TrimSpace(os.Getenv("NEO4J_USER")); v != "" {
		cfg.Graph.User = v
	}
	if v := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD")); v != "" {
		cfg.Graph.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.HTTP.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.HTTP.Port = v
	}

	if err := loadIntBounded("LLM_TIMEOUT_SECONDS", &cfg.LLM.TimeoutSeconds, 1, 600); err != nil {
		return nil, err
	}
	if err := loadIntBounded("CONTEXT_WINDOW_MESSAGES", &cfg.ContextWindowMessages, 1, 100000); err != nil {
		return nil, err
	}
	if err := loadIntBounded("MAX_TRACKED_SESSIONS", &cfg.Tracker.MaxTrackedSessions, 10, 100000); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("BOUNDARY_IDLE_MINUTES")); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: BOUNDARY_IDLE_MINUTES must be an int: %w", err)
		}
		if minutes < 1 || minutes > 1440 {
			return nil, fmt.Errorf("config: BOUNDARY_IDLE_MINUTES must be in [1, 1440], got %d", minutes)
		}
		cfg.Boundary.IdleThreshold = time.Duration(minutes) * time.Minute
	}

	if err := loadFloatBounded("BOUNDARY_DROP_FRACTION", &cfg.Boundary.DropFraction, 0, 1); err != nil {
		return nil, err
	}
	if err := loadFloatBounded("EXTRACTION_MIN_CONFIDENCE", &cfg.Extraction.MinConfidence, 0, 1); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadIntBounded(envVar string, dst *int, min, max int) error {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s must be an int: %w", envVar, err)
	}
	if n < min || n > max {
		return fmt.Errorf("config: %s must be in [%d, %d], got %d", envVar, min, max, n)
	}
	*dst = n
	return nil
}

func loadFloatBounded(envVar string, dst *float64, min, max float64) error {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s must be a float: %w", envVar, err)
	}
	if f < min || f > max {
		return fmt.Errorf("config: %s must be in [%g, %g], got %g", envVar, min, max, f)
	}
	*dst = f
	return nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = parsed
	return nil
}
