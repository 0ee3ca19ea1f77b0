package retriever

import "math"

type mmrCandidate struct {
	Embedding []float32
	Relevance float64
}

const mmrEpsilon = 1e-12

// maximalMarginalRelevance returns candidate indices in selection order.
// Each round picks the candidate maximizing
//
//	bias*relevance - (1-bias)*maxSimilarityToSelected
//
// with ties broken by higher relevance to the query. bias=1 degenerates to
// pure relevance ordering, bias=0 to maximum diversity.
func maximalMarginalRelevance(candidates []mmrCandidate, bias float64, k int) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))
	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		bestRelevance := math.Inf(-1)
		// Candidates are visited in retrieval order, so exact ties fall back
		// to the backend's ordering deterministically.
		for idx, candidate := range candidates {
			if used[idx] {
				continue
			}
			redundancy := 0.0
			for _, chosen := range selected {
				if sim := cosineSimilarity(candidate.Embedding, candidates[chosen].Embedding); sim > redundancy {
					redundancy = sim
				}
			}
			score := bias*candidate.Relevance - (1-bias)*redundancy
			better := score > bestScore+mmrEpsilon
			tied := math.Abs(score-bestScore) <= mmrEpsilon && candidate.Relevance > bestRelevance+mmrEpsilon
			if best == -1 || better || tied {
				best = idx
				bestScore = score
				bestRelevance = candidate.Relevance
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		selected = append(selected, best)
	}
	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
