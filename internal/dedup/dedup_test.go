package dedup

import (
	"testing"

	"github.com/yungbote/memsubstrate/internal/memstore"
)

func orthogonalEmbeddings() ([]float32, []float32) {
	a := make([]float32, 8)
	b := make([]float32, 8)
	for i := range a {
		if i < 4 {
			a[i] = 1
		} else {
			b[i] = 1
		}
	}
	return a, b
}

func TestDeduplicate_ExactDuplicatesKeepsHigherConfidence(t *testing.T) {
	embA, embB := orthogonalEmbeddings()
	memories := []memstore.Memory{
		{MemoryID: "mem_1", MemoryType: memstore.MemoryTypePreference, Confidence: 0.9, Embedding: embA, HasEmbedding: true},
		{MemoryID: "mem_2", MemoryType: memstore.MemoryTypePreference, Confidence: 0.85, Embedding: embA, HasEmbedding: true},
		{MemoryID: "mem_3", MemoryType: memstore.MemoryTypeTechnicalContext, Confidence: 0.88, Embedding: embB, HasEmbedding: true},
	}

	result, err := Deduplicate(memories, 0.92)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UniqueMemories) != 2 {
		t.Fatalf("expected 2 unique memories, got %d", len(result.UniqueMemories))
	}
	if result.DuplicateCount != 1 || result.SimilarCount != 0 || result.SupersededCount != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	ids := idsOf(result.UniqueMemories)
	if !ids["mem_1"] || ids["mem_2"] || !ids["mem_3"] {
		t.Fatalf("expected mem_1 and mem_3 kept, mem_2 removed: %v", ids)
	}
}

func TestDeduplicate_SemanticSimilarBelowExactThresholdRemoved(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0.95, 0.31, 0, 0} // similarity ~0.95, not >= 0.999
	c := []float32{0, 1, 0, 0}

	memories := []memstore.Memory{
		{MemoryID: "mem_1", MemoryType: memstore.MemoryTypePreference, Confidence: 0.92, Embedding: a, HasEmbedding: true},
		{MemoryID: "mem_2", MemoryType: memstore.MemoryTypePreference, Confidence: 0.88, Embedding: b, HasEmbedding: true},
		{MemoryID: "mem_3", MemoryType: memstore.MemoryTypePreference, Confidence: 0.85, Embedding: c, HasEmbedding: true},
	}

	result, err := Deduplicate(memories, 0.92)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DuplicateCount != 0 {
		t.Fatalf("expected no exact duplicates, got %d", result.DuplicateCount)
	}
	if result.SimilarCount != 1 {
		t.Fatalf("expected 1 semantic duplicate, got %d", result.SimilarCount)
	}
	ids := idsOf(result.UniqueMemories)
	if ids["mem_2"] {
		t.Fatalf("expected mem_2 removed as semantic duplicate")
	}
}

func TestDeduplicate_CorrectionSupersedesOlderMemory(t *testing.T) {
	emb, _ := orthogonalEmbeddings()
	memories := []memstore.Memory{
		{MemoryID: "mem_old", MemoryType: memstore.MemoryTypeTechnicalContext, Confidence: 0.85, Embedding: emb, HasEmbedding: true},
		{MemoryID: "mem_correction", MemoryType: memstore.MemoryTypeCorrection, Confidence: 0.80, Embedding: emb, HasEmbedding: true, Supersedes: "mem_old"},
	}

	result, err := Deduplicate(memories, 0.92)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UniqueMemories) != 1 {
		t.Fatalf("expected 1 unique memory, got %d", len(result.UniqueMemories))
	}
	if result.SupersededCount != 1 {
		t.Fatalf("expected superseded count 1, got %d", result.SupersededCount)
	}
	ids := idsOf(result.UniqueMemories)
	if !ids["mem_correction"] || ids["mem_old"] {
		t.Fatalf("expected correction kept and old memory removed: %v", ids)
	}
	if result.RemovalReasons["mem_old"] != "superseded_by_correction" {
		t.Fatalf("expected removal reason recorded, got %q", result.RemovalReasons["mem_old"])
	}
}

func TestDeduplicate_PartialOverlapBelowThresholdPreserved(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0.7, 0.7, 0, 0}

	memories := []memstore.Memory{
		{MemoryID: "mem_1", MemoryType: memstore.MemoryTypePreference, Confidence: 0.90, Embedding: a, HasEmbedding: true},
		{MemoryID: "mem_2", MemoryType: memstore.MemoryTypePreference, Confidence: 0.85, Embedding: b, HasEmbedding: true},
	}

	result, err := Deduplicate(memories, 0.92)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UniqueMemories) != 2 {
		t.Fatalf("expected both memories preserved, got %d", len(result.UniqueMemories))
	}
}

func TestDeduplicate_MemoriesWithoutEmbeddingsSkipComparison(t *testing.T) {
	emb, _ := orthogonalEmbeddings()
	memories := []memstore.Memory{
		{MemoryID: "mem_1", Confidence: 0.9, Embedding: emb, HasEmbedding: true},
		{MemoryID: "mem_2", Confidence: 0.8, HasEmbedding: false},
	}

	result, err := Deduplicate(memories, 0.92)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UniqueMemories) != 2 {
		t.Fatalf("expected both memories kept when fewer than 2 have embeddings, got %d", len(result.UniqueMemories))
	}
}

func TestDeduplicate_EmptyInputReturnsError(t *testing.T) {
	if _, err := Deduplicate(nil, 0.92); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestDeduplicate_InvalidThresholdReturnsError(t *testing.T) {
	emb, _ := orthogonalEmbeddings()
	memories := []memstore.Memory{{MemoryID: "mem_1", Embedding: emb, HasEmbedding: true}}
	if _, err := Deduplicate(memories, 1.5); err == nil {
		t.Fatalf("expected error for out-of-range threshold")
	}
}

func idsOf(memories []memstore.Memory) map[string]bool {
	out := make(map[string]bool, len(memories))
	for _, m := range memories {
		out[m.MemoryID] = true
	}
	return out
}
