package ranker

import (
	"testing"
	"time"

	"github.com/yungbote/memsubstrate/internal/memstore"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	w := DefaultWeights()
	total := w.Similarity + w.Confidence + w.Recency + w.Frequency
	if diff := total - 1.0; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected weights to sum to 1.0, got %v", total)
	}
}

func TestRecencyScore_RecentHigherThanOld(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{})
	r.now = fixedNow(now)

	recent := r.recencyScore(now.Add(-1*time.Hour), now)
	old := r.recencyScore(now.Add(-100*24*time.Hour), now)

	if recent <= 0.95 {
		t.Fatalf("expected near-1.0 recency score for very recent memory, got %v", recent)
	}
	// 100 days is about 2.31 half-lives at the default 43.3 days: ≈0.20.
	if old < 0.19 || old > 0.21 {
		t.Fatalf("expected ≈0.20 recency score for 100-day-old memory, got %v", old)
	}
}

func TestFrequencyScore_MonotonicallyIncreasing(t *testing.T) {
	r := New(Config{})
	zero := r.frequencyScore(0)
	single := r.frequencyScore(1)
	medium := r.frequencyScore(10)
	high := r.frequencyScore(100)

	if zero != 0.0 {
		t.Fatalf("expected zero accesses to score 0, got %v", zero)
	}
	if !(single < medium && medium < high) {
		t.Fatalf("expected monotonically increasing frequency score: %v < %v < %v", single, medium, high)
	}
}

func TestRerank_SortsByCompositeScoreDescending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{})
	r.now = fixedNow(now)

	memories := []memstore.Memory{
		{MemoryID: "low", Confidence: 0.3, Similarity: 0.3, ExtractionTimestamp: now.Add(-60 * 24 * time.Hour)},
		{MemoryID: "high", Confidence: 0.95, Similarity: 0.95, ExtractionTimestamp: now},
		{MemoryID: "mid", Confidence: 0.6, Similarity: 0.6, ExtractionTimestamp: now.Add(-10 * 24 * time.Hour)},
	}

	ranked := r.Rerank(memories)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked results, got %d", len(ranked))
	}
	if ranked[0].Memory.MemoryID != "high" || ranked[0].Rank != 1 {
		t.Fatalf("expected 'high' ranked first, got %+v", ranked[0])
	}
	for i := 0; i < len(ranked)-1; i++ {
		if ranked[i].Score < ranked[i+1].Score {
			t.Fatalf("expected descending scores, got %v then %v", ranked[i].Score, ranked[i+1].Score)
		}
		if ranked[i].Rank != i+1 {
			t.Fatalf("expected rank %d at position %d, got %d", i+1, i, ranked[i].Rank)
		}
	}
}

func TestRerank_FrequencyBoostsAccessedMemory(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{})
	r.now = fixedNow(now)

	memories := []memstore.Memory{
		{MemoryID: "mem_frequent", Confidence: 0.7, Similarity: 0.7, ExtractionTimestamp: now, AccessCount: 50},
		{MemoryID: "mem_rare", Confidence: 0.7, Similarity: 0.7, ExtractionTimestamp: now, AccessCount: 0},
	}

	ranked := r.Rerank(memories)
	if ranked[0].Memory.MemoryID != "mem_frequent" {
		t.Fatalf("expected frequently accessed memory ranked first, got %q", ranked[0].Memory.MemoryID)
	}
}

func TestRerank_EmptyInputReturnsEmpty(t *testing.T) {
	r := New(Config{})
	if got := r.Rerank(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestRerank_SingleItemGetsRankOne(t *testing.T) {
	r := New(Config{})
	ranked := r.Rerank([]memstore.Memory{{MemoryID: "only", Confidence: 0.5, Similarity: 0.5}})
	if len(ranked) != 1 || ranked[0].Rank != 1 {
		t.Fatalf("expected single item with rank 1, got %+v", ranked)
	}
}

func TestRerank_IdempotentAcrossCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{})
	r.now = fixedNow(now)

	memories := []memstore.Memory{
		{MemoryID: "a", Confidence: 0.8, Similarity: 0.8, ExtractionTimestamp: now},
		{MemoryID: "b", Confidence: 0.5, Similarity: 0.5, ExtractionTimestamp: now},
	}

	first := r.Rerank(memories)
	second := r.Rerank(memories)

	for i := range first {
		if first[i].Memory.MemoryID != second[i].Memory.MemoryID || first[i].Score != second[i].Score {
			t.Fatalf("expected idempotent reranking, got %+v vs %+v", first, second)
		}
	}
}
