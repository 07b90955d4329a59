// Package ranker is the Ranker (C10): it re-scores a deduplicated candidate
// set using a weighted combination of similarity, confidence, recency, and
// access frequency, and returns them sorted highest-first.
package ranker

import (
	"math"
	"sort"
	"time"

	"github.com/yungbote/memsubstrate/internal/memstore"
)

// Weights controls how much each factor contributes to the composite score.
// The zero value is invalid; use DefaultWeights.
type Weights struct {
	Similarity float64
	Confidence float64
	Recency    float64
	Frequency  float64
}

// DefaultWeights matches the reference system's default split: 40%
// similarity, 25% confidence, 20% recency, 15% frequency.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.40, Confidence: 0.25, Recency: 0.20, Frequency: 0.15}
}

// Config controls the ranker's scoring curves.
type Config struct {
	Weights              Weights
	RecencyHalfLifeDays  float64
	FrequencyScaleFactor float64
}

func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.RecencyHalfLifeDays <= 0 {
		c.RecencyHalfLifeDays = 43.3
	}
	if c.FrequencyScaleFactor <= 0 {
		c.FrequencyScaleFactor = 10.0
	}
	return c
}

// Ranked pairs a memory with its composite score and final rank (1-indexed).
type Ranked struct {
	Memory memstore.Memory
	Score  float64
	Rank   int
}

type Ranker struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg.withDefaults(), now: time.Now}
}

// Rerank scores every memory and returns them sorted by composite score
// descending, with Rank populated.
func (r *Ranker) Rerank(memories []memstore.Memory) []Ranked {
	if len(memories) == 0 {
		return nil
	}

	now := r.now()
	out := make([]Ranked, len(memories))
	for i, m := range memories {
		out[i] = Ranked{Memory: m, Score: r.compositeScore(m, now)}
	}

	if len(out) == 1 {
		out[0].Rank = 1
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (r *Ranker) compositeScore(m memstore.Memory, now time.Time) float64 {
	w := r.cfg.Weights
	return w.Similarity*m.Similarity +
		w.Confidence*m.Confidence +
		w.Recency*r.recencyScore(m.ExtractionTimestamp, now) +
		w.Frequency*r.frequencyScore(m.AccessCount)
}

// recencyScore applies exponential decay: score = e^(-ln(2)/halfLife * days).
func (r *Ranker) recencyScore(extractionTimestamp time.Time, now time.Time) float64 {
	if extractionTimestamp.IsZero() {
		return 0.5
	}
	daysAgo := now.Sub(extractionTimestamp).Hours() / 24.0
	decayConstant := math.Ln2 / r.cfg.RecencyHalfLifeDays
	score := math.Exp(-decayConstant * daysAgo)
	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}

// frequencyScore applies logarithmic scaling with diminishing returns:
// log(1+count) / log(1+count+scale).
func (r *Ranker) frequencyScore(accessCount int) float64 {
	if accessCount <= 0 {
		return 0.0
	}
	numerator := math.Log(1 + float64(accessCount))
	denominator := math.Log(1 + float64(accessCount) + r.cfg.FrequencyScaleFactor)
	return numerator / denominator
}
