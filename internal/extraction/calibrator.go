package extraction

import (
	"strings"

	"github.com/yungbote/memsubstrate/internal/tracker"
)

// CalibratorConfig holds the tunable weights for final confidence
// calculation. Zero value is not valid; use DefaultCalibratorConfig.
type CalibratorConfig struct {
	MinThreshold         float64
	ExplicitBoost        float64
	MultiMentionBoost    float64
	MultiMentionCap      float64
	ContradictionPenalty float64
	CorrectionConfidence float64
}

func DefaultCalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		MinThreshold:         0.4,
		ExplicitBoost:        0.10,
		MultiMentionBoost:    0.05,
		MultiMentionCap:      0.20,
		ContradictionPenalty: 0.30,
		CorrectionConfidence: 0.80,
	}
}

// Calibrator applies C4's deterministic rule set to a candidate.
type Calibrator struct {
	cfg CalibratorConfig
}

func NewCalibrator(cfg CalibratorConfig) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Calibrate computes the final confidence score for one candidate.
// hasContradiction is supplied by the caller (C6 owns contradiction
// detection at write time); the calibrator itself only applies the rule.
func (c *Calibrator) Calibrate(cand Candidate, mentionCount int, hasContradiction bool) float64 {
	if cand.IsCorrection {
		return c.cfg.CorrectionConfidence
	}

	confidence := cand.BaseConfidence
	if cand.IsExplicit {
		confidence += c.cfg.ExplicitBoost
	}
	if mentionCount > 1 {
		boost := c.cfg.MultiMentionBoost * float64(mentionCount-1)
		if boost > c.cfg.MultiMentionCap {
			boost = c.cfg.MultiMentionCap
		}
		confidence += boost
	}
	if hasContradiction {
		confidence -= c.cfg.ContradictionPenalty
	}

	if confidence < 0.0 {
		confidence = 0.0
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

var mentionStopwords = map[string]struct{}{
	"about":   {},
	"using":   {},
	"prefer":  {},
	"prefers": {},
	"cluster": {},
	"server":  {},
}

// CountMentions counts how many transcript messages contain at least one
// keyword (>4 chars, not a stopword) drawn from content. Minimum return
// value is 1 — the memory's own source message always counts as a mention.
func CountMentions(content string, messages []tracker.Message) int {
	keyTerms := keyTerms(content)
	if len(keyTerms) == 0 {
		return 1
	}

	count := 0
	for _, m := range messages {
		lower := strings.ToLower(m.Content)
		for _, term := range keyTerms {
			if strings.Contains(lower, term) {
				count++
				break
			}
		}
	}
	if count < 1 {
		count = 1
	}
	return count
}

func keyTerms(content string) []string {
	words := strings.Fields(strings.ToLower(content))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 4 {
			continue
		}
		if _, stop := mentionStopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// DetectCorrectionPattern reports whether text contains a correction
// indicator. Used as a deterministic fallback/cross-check against the
// LLM's own is_correction flag.
func DetectCorrectionPattern(text string) bool {
	lower := strings.ToLower(text)
	indicators := []string{
		"actually", "i meant", "correction", "sorry", "not ",
		"i misspoke", "no wait", "let me correct", "to be clear",
	}
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
