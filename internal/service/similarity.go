package service

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// It is 0 when either vector has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// EpsilonForThreshold converts a duplicate similarity threshold into the cosine
// distance radius used by density clustering: two reports are neighbours when
// their similarity is at least threshold.
func EpsilonForThreshold(threshold float64) float64 {
	eps := 1 - threshold
	switch {
	case eps < 0:
		return 0
	case eps > 2:
		return 2
	}
	return eps
}

// MeanPairwiseSimilarity averages the cosine similarity over every unordered pair.
// Fewer than two vectors score 1.
func MeanPairwiseSimilarity(vectors [][]float32) float64 {
	if len(vectors) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += CosineSimilarity(vectors[i], vectors[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// MeanVector returns the element-wise mean of equally sized vectors.
func MeanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i := range mean {
			if i < len(v) {
				mean[i] += float64(v[i])
			}
		}
	}
	out := make([]float32, len(mean))
	n := float64(len(vectors))
	for i, s := range mean {
		out[i] = float32(s / n)
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
