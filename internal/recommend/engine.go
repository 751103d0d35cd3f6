// Package recommend picks the next item to suggest for a session.
package recommend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/playmate/internal/embedding"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/datatypes"
)

// AdultRating is the age rating at and above which an unknown age must be confirmed.
const AdultRating = 18

// Result is the outcome of one recommendation attempt. A nil Item means
// nothing matched; callers must say so rather than substitute.
type Result struct {
	Item                 *models.Item
	NeedsAgeConfirmation bool
	IsLastSessionGame    bool
	Icebreaker           bool
}

type Engine struct {
	repo         *Repo
	embedder     embedding.Embedder
	embedTimeout time.Duration
	log          *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine takes an explicit random source so icebreaker picks are
// reproducible. Each embedding call is bounded by embedTimeout.
func NewEngine(repo *Repo, embedder embedding.Embedder, rng *rand.Rand, embedTimeout time.Duration, log *logger.Logger) *Engine {
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		repo:         repo,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		rng:          rng,
		log:          log.With("service", "RecommendationEngine"),
	}
}

// Recommend selects at most one item for the session. On success the record
// is persisted and sess.LastRecommendedItemID / sess.ServedCount are updated
// in memory; saving the session is the caller's job.
func (e *Engine) Recommend(ctx context.Context, user *models.User, sess *models.Session) (Result, error) {
	items, err := e.repo.ListItems(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list items: %w", err)
	}
	served, err := e.repo.RecommendedItemIDs(ctx, sess.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("served items: %w", err)
	}

	pool := make([]*models.Item, 0, len(items))
	for _, it := range items {
		if sess.HasRejected(it.ID) || containsID(served, it.ID) {
			continue
		}
		if rejectsAnyGenre(user, it) {
			continue
		}
		pool = append(pool, it)
	}

	var (
		q                 Query
		isLastSessionGame bool
	)
	if sess.Signals.Empty() {
		seed, err := e.repo.LastAcceptedElsewhere(ctx, user.ID, sess.SessionID)
		if err != nil {
			return Result{}, fmt.Errorf("last accepted item: %w", err)
		}
		if seed == nil {
			return e.icebreaker(ctx, user, sess, pool)
		}
		isLastSessionGame = true
		q = Query{Gameplay: seed.GameplayEmbedding, Preference: seed.PreferenceEmbedding, Mood: sess.Signals.Mood}
		pool = without(pool, seed.ID)
	} else {
		if p := sess.Signals.LatestPlatform(); p != "" {
			pool = filter(pool, func(it *models.Item) bool { return it.AvailableOn(p) })
		}
		if g := sess.Signals.LatestGenre(); g != "" {
			pool = filter(pool, func(it *models.Item) bool { return it.HasGenre(g) })
			if len(pool) == 0 {
				return Result{}, nil
			}
		}
		q = e.query(ctx, sess.Signals)
	}

	if user.Age != nil {
		age := *user.Age
		pool = filter(pool, func(it *models.Item) bool { return it.AgeRating <= age })
	}
	if len(pool) == 0 {
		return Result{}, nil
	}

	ranked := Rank(pool, q, sess.LastRecommendedItemID)
	if len(ranked) == 0 {
		return Result{}, nil
	}
	pick := ranked[0].Item

	res := Result{
		Item:                 pick,
		NeedsAgeConfirmation: needsAgeConfirmation(user, pick),
		IsLastSessionGame:    isLastSessionGame,
	}
	if err := e.record(ctx, user, sess, res); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) icebreaker(ctx context.Context, user *models.User, sess *models.Session, pool []*models.Item) (Result, error) {
	if user.Age != nil {
		age := *user.Age
		pool = filter(pool, func(it *models.Item) bool { return it.AgeRating <= age })
	}
	if len(pool) == 0 {
		return Result{}, nil
	}
	e.mu.Lock()
	pick := pool[e.rng.IntN(len(pool))]
	e.mu.Unlock()

	res := Result{Item: pick, NeedsAgeConfirmation: needsAgeConfirmation(user, pick), Icebreaker: true}
	if err := e.record(ctx, user, sess, res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Similar recommends the closest item to an explicit seed among items sharing
// the seed's most specific genre. No dislike penalty applies.
func (e *Engine) Similar(ctx context.Context, user *models.User, sess *models.Session, seed *models.Item) (Result, error) {
	tag := seed.SpecificGenre()
	if tag == "" {
		return Result{}, nil
	}
	items, err := e.repo.ListItems(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list items: %w", err)
	}
	served, err := e.repo.RecommendedItemIDs(ctx, sess.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("served items: %w", err)
	}

	var (
		best      *models.Item
		bestScore float64
	)
	for _, it := range items {
		if it.ID == seed.ID || containsID(served, it.ID) || !it.HasGenre(tag) {
			continue
		}
		if s := seedScore(seed, it); best == nil || s > bestScore {
			best, bestScore = it, s
		}
	}
	if best == nil {
		return Result{}, nil
	}

	res := Result{Item: best, NeedsAgeConfirmation: needsAgeConfirmation(user, best)}
	if err := e.record(ctx, user, sess, res); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) record(ctx context.Context, user *models.User, sess *models.Session, res Result) error {
	rec := &models.Recommendation{
		SessionID:         sess.SessionID,
		ItemID:            res.Item.ID,
		UserID:            user.ID,
		Signals:           datatypes.NewJSONType(sess.Signals),
		IsLastSessionGame: res.IsLastSessionGame,
		Icebreaker:        res.Icebreaker,
	}
	inserted, err := e.repo.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	id := res.Item.ID
	sess.LastRecommendedItemID = &id
	if !inserted {
		e.log.Debug("recommendation already recorded, not counted again", "session_id", sess.SessionID, "item_id", id)
		return nil
	}
	sess.ServedCount++
	return nil
}

// query embeds the session signals. Embedding failures leave the vector nil.
func (e *Engine) query(ctx context.Context, s models.Signals) Query {
	gameplay := append(append(append([]string{}, s.GameplayKeywords...), s.Genres...), s.FavoriteGames...)
	pref := append([]string{}, s.PreferenceKeywords...)
	if s.Mood != "" {
		pref = append(pref, s.Mood)
	}
	if s.StoryPreference != nil {
		if *s.StoryPreference {
			pref = append(pref, "story-driven")
		} else {
			pref = append(pref, "light on story")
		}
	}
	return Query{
		Gameplay:   e.embed(ctx, gameplay),
		Preference: e.embed(ctx, pref),
		Dislike:    e.embed(ctx, s.DislikeKeywords),
		Mood:       s.Mood,
	}
}

func (e *Engine) embed(ctx context.Context, keywords []string) []float32 {
	ectx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()
	v, err := embedding.EmbedKeywords(ectx, e.embedder, keywords)
	if err != nil {
		e.log.Warn("embedding failed, scoring without it", "error", err)
		return nil
	}
	return v
}

func needsAgeConfirmation(user *models.User, it *models.Item) bool {
	if user.Age == nil {
		return it.AgeRating >= AdultRating
	}
	return it.AgeRating > *user.Age
}

func rejectsAnyGenre(user *models.User, it *models.Item) bool {
	for _, g := range it.Genres {
		if user.RejectsGenre(strings.TrimSpace(g)) {
			return true
		}
	}
	return false
}

func containsID(ids []uint64, id uint64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func filter(items []*models.Item, keep func(*models.Item) bool) []*models.Item {
	out := make([]*models.Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func without(items []*models.Item, id uint64) []*models.Item {
	return filter(items, func(it *models.Item) bool { return it.ID != id })
}
