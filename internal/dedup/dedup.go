// Package dedup is the Deduplicator (C9): it removes duplicate and
// near-duplicate memories from a retrieved candidate set in three passes —
// correction superseding, exact duplicates, then semantic duplicates. The
// correction pass drops every record that a correction in the set
// supersedes; the two similarity passes keep the higher-confidence record
// of a pair.
package dedup

import (
	"fmt"

	"github.com/yungbote/memsubstrate/internal/memstore"
	"github.com/yungbote/memsubstrate/internal/vecmath"
)

// exactDuplicateThreshold is the similarity above which two memories are
// treated as the same record rather than merely similar, regardless of the
// caller's semantic threshold.
const exactDuplicateThreshold = 0.999

// DefaultSimilarityThreshold is the semantic-duplicate cutoff used when a
// caller doesn't override it.
const DefaultSimilarityThreshold = 0.92

// Result reports the deduplicated set plus per-category counts and reasons,
// so callers (and tests) can assert on what was removed and why.
type Result struct {
	UniqueMemories   []memstore.Memory
	DuplicateCount   int
	SimilarCount     int
	SupersededCount  int
	RemovedMemoryIDs []string
	RemovalReasons   map[string]string
}

// Deduplicate removes duplicate memories from the given set. similarityThreshold
// controls the semantic-duplicate pass (must be in [0,1]); the exact-duplicate
// pass always uses 0.999 regardless of this value.
func Deduplicate(memories []memstore.Memory, similarityThreshold float64) (Result, error) {
	if len(memories) == 0 {
		return Result{}, fmt.Errorf("dedup: at least one memory required")
	}
	if similarityThreshold < 0.0 || similarityThreshold > 1.0 {
		return Result{}, fmt.Errorf("dedup: threshold must be between 0.0 and 1.0, got %v", similarityThreshold)
	}

	withEmbeddings, withoutEmbeddings := splitByEmbedding(memories)

	// Deduplication needs at least two embedded candidates to compare;
	// anything less returns the input untouched.
	if len(withEmbeddings) <= 1 {
		return Result{UniqueMemories: memories, RemovalReasons: map[string]string{}}, nil
	}

	afterCorrections, supersededIDs := handleCorrections(withEmbeddings)

	sim := similarityMatrix(afterCorrections)

	dupRemoved, dupIDs := identifyDuplicates(afterCorrections, sim)
	simRemoved, simIDs := identifySimilar(afterCorrections, sim, similarityThreshold, dupRemoved)

	unique := make([]memstore.Memory, 0, len(afterCorrections))
	for i, m := range afterCorrections {
		if dupRemoved[i] || simRemoved[i] {
			continue
		}
		unique = append(unique, m)
	}
	unique = append(unique, withoutEmbeddings...)

	reasons := make(map[string]string, len(supersededIDs)+len(dupIDs)+len(simIDs))
	for _, id := range supersededIDs {
		reasons[id] = "superseded_by_correction"
	}
	for _, id := range dupIDs {
		reasons[id] = "exact_duplicate"
	}
	for _, id := range simIDs {
		reasons[id] = fmt.Sprintf("semantic_similar (>%.2f)", similarityThreshold)
	}

	removedIDs := make([]string, 0, len(supersededIDs)+len(dupIDs)+len(simIDs))
	removedIDs = append(removedIDs, supersededIDs...)
	removedIDs = append(removedIDs, dupIDs...)
	removedIDs = append(removedIDs, simIDs...)

	return Result{
		UniqueMemories:   unique,
		DuplicateCount:   len(dupIDs),
		SimilarCount:     len(simIDs),
		SupersededCount:  len(supersededIDs),
		RemovedMemoryIDs: removedIDs,
		RemovalReasons:   reasons,
	}, nil
}

func splitByEmbedding(memories []memstore.Memory) (with, without []memstore.Memory) {
	for _, m := range memories {
		if m.HasEmbedding && len(m.Embedding) > 0 {
			with = append(with, m)
		} else {
			without = append(without, m)
		}
	}
	return with, without
}

// handleCorrections removes memories superseded by a correction already
// present in the candidate set, before similarity comparison runs.
func handleCorrections(memories []memstore.Memory) ([]memstore.Memory, []string) {
	var supersededIDs []string
	for _, m := range memories {
		if m.MemoryType == memstore.MemoryTypeCorrection && m.Supersedes != "" {
			supersededIDs = append(supersededIDs, m.Supersedes)
		}
	}
	if len(supersededIDs) == 0 {
		return memories, nil
	}

	superseded := make(map[string]bool, len(supersededIDs))
	for _, id := range supersededIDs {
		superseded[id] = true
	}

	filtered := make([]memstore.Memory, 0, len(memories))
	for _, m := range memories {
		if !superseded[m.MemoryID] {
			filtered = append(filtered, m)
		}
	}
	return filtered, supersededIDs
}

func similarityMatrix(memories []memstore.Memory) [][]float64 {
	n := len(memories)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		matrix[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			sim := vecmath.CosineSimilarity(memories[i].Embedding, memories[j].Embedding)
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

// identifyDuplicates marks near-identical (similarity >= 0.999) pairs for
// removal, keeping whichever has the higher confidence.
func identifyDuplicates(memories []memstore.Memory, sim [][]float64) (map[int]bool, []string) {
	removed := map[int]bool{}
	var removedIDs []string

	n := len(memories)
	for i := 0; i < n; i++ {
		if removed[i] {
			continue
		}
		for j := i + 1; j < n; j++ {
			if removed[j] {
				continue
			}
			if sim[i][j] < exactDuplicateThreshold {
				continue
			}
			if memories[i].Confidence >= memories[j].Confidence {
				removed[j] = true
				removedIDs = append(removedIDs, memories[j].MemoryID)
			} else {
				removed[i] = true
				removedIDs = append(removedIDs, memories[i].MemoryID)
				break
			}
		}
	}
	return removed, removedIDs
}

// identifySimilar marks semantically-similar (threshold < similarity <
// 0.999) pairs for removal, excluding anything already removed as an exact
// duplicate.
func identifySimilar(memories []memstore.Memory, sim [][]float64, threshold float64, alreadyRemoved map[int]bool) (map[int]bool, []string) {
	removed := map[int]bool{}
	var removedIDs []string

	n := len(memories)
	for i := 0; i < n; i++ {
		if alreadyRemoved[i] || removed[i] {
			continue
		}
		for j := i + 1; j < n; j++ {
			if alreadyRemoved[j] || removed[j] {
				continue
			}
			if !(sim[i][j] > threshold && sim[i][j] < exactDuplicateThreshold) {
				continue
			}
			if memories[i].Confidence >= memories[j].Confidence {
				removed[j] = true
				removedIDs = append(removedIDs, memories[j].MemoryID)
			} else {
				removed[i] = true
				removedIDs = append(removedIDs, memories[i].MemoryID)
				break
			}
		}
	}
	return removed, removedIDs
}
