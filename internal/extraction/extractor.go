package extraction

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/memsubstrate/internal/logger"
	"github.com/yungbote/memsubstrate/internal/tracker"
)

// Config tunes the extractor's filtering and concurrency.
type Config struct {
	MinConfidence    float64 // candidates below this are dropped before calibration (default 0.6)
	MaxConcurrency   int     // default 5
	ModelName        string
	CalibratorConfig CalibratorConfig
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.ModelName == "" {
		c.ModelName = "external-llm"
	}
	if c.CalibratorConfig == (CalibratorConfig{}) {
		c.CalibratorConfig = DefaultCalibratorConfig()
	}
	return c
}

// Extractor is C3: it formats a transcript, delegates structured extraction
// to an LLMClient, and hands candidates to C4 for final confidence scoring.
type Extractor struct {
	cfg        Config
	llm        LLMClient
	calibrator *Calibrator
	log        *logger.Logger
}

func New(cfg Config, llm LLMClient, log *logger.Logger) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		cfg:        cfg,
		llm:        llm,
		calibrator: NewCalibrator(cfg.CalibratorConfig),
		log:        log,
	}
}

// ExtractMemories runs C3+C4 over one transcript. LLM failures never
// propagate as an error to the caller: they are captured in Result.Error so
// the transcript itself is never lost, matching the teacher's "partial
// result on failure" idiom.
func (e *Extractor) ExtractMemories(ctx context.Context, t tracker.Transcript) Result {
	start := time.Now()

	if e.log != nil {
		e.log.Info("extraction started", "session_id", t.SessionID, "message_count", t.MessageCount)
	}

	candidates, err := e.runLLM(ctx, t)
	if err != nil {
		if e.log != nil {
			e.log.Error("extraction failed", "session_id", t.SessionID, "error", err.Error())
		}
		return Result{
			ConversationID:     t.SessionID,
			ExtractionDuration: time.Since(start),
			ModelUsed:          e.cfg.ModelName,
			Error:              err.Error(),
		}
	}

	memories := make([]Memory, 0, len(candidates))
	for _, cand := range candidates {
		if cand.BaseConfidence < e.cfg.MinConfidence {
			continue
		}
		mentionCount := CountMentions(cand.Content, t.Messages)
		hasContradiction, _ := cand.Metadata["has_contradiction"].(bool)
		final := e.calibrator.Calibrate(cand, mentionCount, hasContradiction)
		if final < e.calibrator.cfg.MinThreshold {
			continue
		}
		memories = append(memories, Memory{
			MemoryType:           cand.MemoryType,
			Content:              cand.Content,
			Confidence:           final,
			SourceConversationID: t.SessionID,
			ExtractionTimestamp:  time.Now(),
			MentionCount:         mentionCount,
			HasContradiction:     hasContradiction,
			Supersedes:           cand.Supersedes,
			Metadata:             cand.Metadata,
		})
	}

	duration := time.Since(start)
	if e.log != nil {
		e.log.Info("extraction complete", "session_id", t.SessionID, "duration_ms", duration.Milliseconds(), "memory_count", len(memories))
	}

	return Result{
		ConversationID:     t.SessionID,
		Memories:           memories,
		ExtractionDuration: duration,
		ModelUsed:          e.cfg.ModelName,
	}
}

// ExtractBatch runs ExtractMemories over several transcripts with bounded
// concurrency (default 5), matching spec's batch extraction guarantee.
func (e *Extractor) ExtractBatch(ctx context.Context, transcripts []tracker.Transcript) []Result {
	results := make([]Result, len(transcripts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for i, t := range transcripts {
		i, t := i, t
		g.Go(func() error {
			results[i] = e.ExtractMemories(gctx, t)
			return nil
		})
	}
	_ = g.Wait() // ExtractMemories never returns an error path that should abort siblings

	return results
}

func (e *Extractor) runLLM(ctx context.Context, t tracker.Transcript) ([]Candidate, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("extraction: no LLM client configured")
	}

	user := formatTranscript(t)
	obj, err := e.llm.GenerateJSON(ctx, systemPrompt(), user, "memory_extraction", candidateSchema())
	if err != nil {
		return nil, fmt.Errorf("extraction: llm call: %w", err)
	}
	return parseCandidates(obj)
}

func parseCandidates(obj map[string]any) ([]Candidate, error) {
	raw, ok := obj["memories"]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("extraction: memories field is not a list")
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cand := Candidate{
			MemoryType:     MemoryType(stringField(m, "memory_type")),
			Content:        stringField(m, "content"),
			BaseConfidence: floatField(m, "base_confidence"),
			IsExplicit:     boolField(m, "is_explicit"),
			IsCorrection:   boolField(m, "is_correction"),
			Supersedes:     stringField(m, "supersedes"),
			Metadata:       metadataField(m, "metadata"),
		}
		if cand.Content == "" {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func metadataField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
