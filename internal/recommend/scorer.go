package recommend

import (
	"sort"
	"strings"

	"github.com/suPer8Hu/playmate/internal/embedding"
	"github.com/suPer8Hu/playmate/internal/models"
)

const (
	gameplayWeight   = 0.6
	preferenceWeight = 0.4

	dislikeExcludeAt = 0.5
	penaltyNegative  = 0.8
	penaltyDefault   = 0.5
	scoreFloor       = 0.01
)

var negativeMoods = map[string]struct{}{
	"sad": {}, "angry": {}, "anxious": {}, "bored": {}, "stressed": {}, "lonely": {},
	"frustrated": {}, "tired": {}, "depressed": {}, "upset": {}, "overwhelmed": {},
}

// IsNegativeMood reports membership in the fixed negative-mood set.
func IsNegativeMood(mood string) bool {
	_, ok := negativeMoods[strings.ToLower(strings.TrimSpace(mood))]
	return ok
}

// Query is the embedded form of a session's signals.
type Query struct {
	Gameplay   []float32
	Preference []float32
	Dislike    []float32
	Mood       string
}

// Score is deterministic for fixed embeddings. A dislike similarity of 0.5
// or more scores exactly 0; anything else is floored at 0.01.
func Score(item *models.Item, q Query) float64 {
	dislikeSim := embedding.CosineSimilarity(q.Dislike, item.PreferenceEmbedding)
	if dislikeSim >= dislikeExcludeAt {
		return 0
	}
	gameplaySim := embedding.CosineSimilarity(q.Gameplay, item.GameplayEmbedding)
	preferenceSim := embedding.CosineSimilarity(q.Preference, item.PreferenceEmbedding)

	penalty := penaltyDefault
	if IsNegativeMood(q.Mood) {
		penalty = penaltyNegative
	}
	s := gameplayWeight*gameplaySim + preferenceWeight*preferenceSim - penalty*dislikeSim
	return clampScore(s)
}

// seedScore compares an item against a seed item with no dislike penalty.
func seedScore(seed, item *models.Item) float64 {
	s := gameplayWeight*embedding.CosineSimilarity(seed.GameplayEmbedding, item.GameplayEmbedding) +
		preferenceWeight*embedding.CosineSimilarity(seed.PreferenceEmbedding, item.PreferenceEmbedding)
	return clampScore(s)
}

func clampScore(s float64) float64 {
	if s < scoreFloor {
		return scoreFloor
	}
	if s > 1 {
		return 1
	}
	return s
}

type Scored struct {
	Item  *models.Item
	Score float64
}

// Rank scores items, drops hard exclusions and the last-recommended item,
// and sorts descending. Ties keep input order.
func Rank(items []*models.Item, q Query, lastRecommended *uint64) []Scored {
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		s := Score(it, q)
		if s == 0 {
			continue
		}
		out = append(out, Scored{Item: it, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return dropItem(out, lastRecommended)
}

func dropItem(ranked []Scored, id *uint64) []Scored {
	if id == nil {
		return ranked
	}
	out := ranked[:0]
	for _, r := range ranked {
		if r.Item.ID != *id {
			out = append(out, r)
		}
	}
	return out
}
