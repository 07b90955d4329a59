// Package vecmath provides the vector-similarity primitives shared by the
// Memory Store, Retrieval Service, Deduplicator, and Ranker.
package vecmath

import "math"

// CosineSimilarity returns a value in [-1, 1]; 1 means identical direction.
// Mismatched or empty vectors return 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Candidate pairs an identifier with an embedding for top-k / threshold scans.
type Candidate struct {
	ID        string
	Embedding []float32
}

// MostSimilar returns the candidate with highest cosine similarity to target,
// its score, and its index. Returns (Candidate{}, 0, -1) on empty input or
// when no candidate has an embedding.
func MostSimilar(target []float32, candidates []Candidate) (Candidate, float64, int) {
	best := Candidate{}
	bestSim := -1.0
	bestIdx := -1
	if len(target) == 0 {
		return best, 0, -1
	}
	for i, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(target, c.Embedding)
		if sim > bestSim {
			bestSim, best, bestIdx = sim, c, i
		}
	}
	if bestIdx < 0 {
		return Candidate{}, 0, -1
	}
	return best, bestSim, bestIdx
}

// AboveThreshold returns every candidate with similarity >= threshold.
func AboveThreshold(target []float32, candidates []Candidate, threshold float64) []Candidate {
	if len(target) == 0 || len(candidates) == 0 {
		return nil
	}
	var out []Candidate
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		if CosineSimilarity(target, c.Embedding) >= threshold {
			out = append(out, c)
		}
	}
	return out
}
