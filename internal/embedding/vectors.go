package embedding

import (
	"context"
	"math"
	"strings"
)

// CosineSimilarity is 0 when either vector is empty, the lengths differ or a
// norm is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}

// EmbedKeywords embeds a keyword list joined into one phrase. An empty list
// or a failing embedder yields nil, which scores as similarity 0.
func EmbedKeywords(ctx context.Context, e Embedder, keywords []string) ([]float32, error) {
	text := strings.TrimSpace(strings.Join(keywords, ", "))
	if e == nil || text == "" {
		return nil, nil
	}
	return e.Embed(ctx, text)
}
