package recommend

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/playmate/internal/db/dbtest"
	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
)

type fakeEmbedder map[string][]float32

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f[text], nil
}

// stallingEmbedder blocks until its context ends.
type stallingEmbedder struct {
	calls     atomic.Int32
	deadlines atomic.Int32
}

func (s *stallingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		s.deadlines.Add(1)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int { return &i }

type fixture struct {
	ctx    context.Context
	db     *gorm.DB
	repo   *Repo
	engine *Engine
	user   *models.User
	sess   *models.Session
	items  map[string]*models.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := NewRepo(gdb)
	emb := fakeEmbedder{
		"logic, puzzle":       {1, 0, 0},
		"chill, story-driven": {1, 0, 0},
	}
	f := &fixture{
		ctx:    ctx,
		db:     gdb,
		repo:   repo,
		engine: NewEngine(repo, emb, rand.New(rand.NewPCG(1, 2)), time.Second, nil),
		user:   dbtest.SeedUser(t, ctx, gdb, "+15551000"),
		items:  map[string]*models.Item{},
	}
	f.sess = dbtest.SeedSession(t, ctx, gdb, f.user.ID, "01HSESSIONAAAAAAAAAAAAAAAA", time.Now())

	for _, it := range []*models.Item{
		{Title: "Tetris Effect", Genres: []string{"puzzle"}, Platforms: []string{"PC", "PS5"}, AgeRating: 3,
			GameplayEmbedding: []float32{1, 0, 0}, PreferenceEmbedding: []float32{1, 0, 0}},
		{Title: "Portal 2", Genres: []string{"action", "puzzle"}, Platforms: []string{"PC"}, AgeRating: 10,
			GameplayEmbedding: []float32{0.8, 0.6, 0}, PreferenceEmbedding: []float32{0, 1, 0}},
		{Title: "Doom Eternal", Genres: []string{"shooter"}, Platforms: []string{"PC"}, AgeRating: 18,
			GameplayEmbedding: []float32{0, 0, 1}, PreferenceEmbedding: []float32{0, 0, 1}},
		{Title: "Baba Is You", Genres: []string{"puzzle"}, Platforms: []string{"Switch", "pc"}, AgeRating: 3,
			GameplayEmbedding: []float32{0.6, 0.8, 0}, PreferenceEmbedding: []float32{0.6, 0.8, 0}},
	} {
		f.items[it.Title] = dbtest.SeedItem(t, ctx, gdb, it)
	}
	return f
}

func (f *fixture) puzzleSignals() {
	f.sess.Signals = models.Signals{
		Mood:             "chill",
		Genres:           []string{"puzzle"},
		Platforms:        []string{"PC"},
		StoryPreference:  boolPtr(true),
		GameplayKeywords: []string{"logic"},
	}
}

func TestScore_DislikeHardExclusion(t *testing.T) {
	// dislikeSim = 0.62, gameplaySim = 0.95
	item := &models.Item{
		GameplayEmbedding:   []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95))},
		PreferenceEmbedding: []float32{0.62, float32(math.Sqrt(1 - 0.62*0.62))},
	}
	q := Query{Gameplay: []float32{1, 0}, Preference: []float32{1, 0}, Dislike: []float32{1, 0}}
	assert.Equal(t, 0.0, Score(item, q))
	assert.Empty(t, Rank([]*models.Item{item}, q, nil))
}

func TestScore_PenaltyDependsOnMood(t *testing.T) {
	item := &models.Item{
		GameplayEmbedding:   []float32{1, 0},
		PreferenceEmbedding: []float32{0.3, float32(math.Sqrt(1 - 0.09))},
	}
	q := Query{Gameplay: []float32{1, 0}, Dislike: []float32{1, 0}}

	q.Mood = "happy"
	calm := Score(item, q)
	q.Mood = "Stressed"
	stressed := Score(item, q)

	assert.InDelta(t, 0.6-0.5*0.3, calm, 1e-6)
	assert.InDelta(t, 0.6-0.8*0.3, stressed, 1e-6)
}

func TestScore_FloorAndAbsentEmbeddings(t *testing.T) {
	assert.Equal(t, scoreFloor, Score(&models.Item{}, Query{}))
}

func TestRank_StableTiesAndDropsLast(t *testing.T) {
	a := &models.Item{ID: 1}
	b := &models.Item{ID: 2}
	c := &models.Item{ID: 3}
	last := uint64(1)
	ranked := Rank([]*models.Item{a, b, c}, Query{}, &last)
	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(2), ranked[0].Item.ID)
	assert.Equal(t, uint64(3), ranked[1].Item.ID)
}

func TestRecommend_NeverRepeatsOrReturnsRejected(t *testing.T) {
	f := newFixture(t)
	f.puzzleSignals()

	res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "Tetris Effect", res.Item.Title)
	assert.Equal(t, 1, f.sess.ServedCount)
	require.NotNil(t, f.sess.LastRecommendedItemID)
	assert.Equal(t, res.Item.ID, *f.sess.LastRecommendedItemID)

	f.sess.Reject(f.items["Baba Is You"].ID)

	res, err = f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "Portal 2", res.Item.Title)

	res, err = f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	assert.Nil(t, res.Item, "pool exhausted must not relax the genre")

	recs, err := f.repo.ListForSession(f.ctx, f.sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	for _, r := range recs {
		assert.Nil(t, r.Accepted)
		assert.Equal(t, "chill", r.Signals.Data().Mood)
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.puzzleSignals()

	first, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)

	other := dbtest.SeedSession(t, f.ctx, f.db, f.user.ID, "01HSESSIONBBBBBBBBBBBBBBBB", time.Now())
	other.Signals = f.sess.Signals
	second, err := f.engine.Recommend(f.ctx, f.user, other)
	require.NoError(t, err)

	assert.Equal(t, first.Item.ID, second.Item.ID)
}

func TestRecommend_UnknownGenreIsNoMatch(t *testing.T) {
	f := newFixture(t)
	f.puzzleSignals()
	f.sess.Signals.Genres = []string{"puzzle", "racing"}

	res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	assert.Nil(t, res.Item)
	assert.False(t, res.NeedsAgeConfirmation)
	assert.Zero(t, f.sess.ServedCount)
}

func TestRecommend_RejectedGenresExcluded(t *testing.T) {
	f := newFixture(t)
	f.sess.Signals = models.Signals{Genres: []string{"puzzle"}}
	f.user.RejectedGenres = []string{"ACTION"}

	seen := map[string]bool{}
	for {
		res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
		require.NoError(t, err)
		if res.Item == nil {
			break
		}
		seen[res.Item.Title] = true
	}
	assert.False(t, seen["Portal 2"])
	assert.True(t, seen["Tetris Effect"])
	assert.True(t, seen["Baba Is You"])
}

func TestRecommend_AgeFilteringAndConfirmation(t *testing.T) {
	f := newFixture(t)
	f.sess.Signals = models.Signals{Genres: []string{"shooter"}}

	res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.True(t, res.NeedsAgeConfirmation)

	young := *f.user
	young.Age = intPtr(15)
	other := dbtest.SeedSession(t, f.ctx, f.db, f.user.ID, "01HSESSIONCCCCCCCCCCCCCCCC", time.Now())
	other.Signals = f.sess.Signals
	res, err = f.engine.Recommend(f.ctx, &young, other)
	require.NoError(t, err)
	assert.Nil(t, res.Item)
}

func TestRecommend_IcebreakerUsesSeededSource(t *testing.T) {
	pick := func() string {
		f := newFixture(t)
		res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
		require.NoError(t, err)
		require.NotNil(t, res.Item)
		assert.True(t, res.Icebreaker)
		return res.Item.Title
	}
	assert.Equal(t, pick(), pick())
}

func TestRecommend_SeedsFromLastSessionGame(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Insert(f.ctx, &models.Recommendation{
		SessionID: "01HOLDSESSIONAAAAAAAAAAAAA",
		ItemID:    f.items["Tetris Effect"].ID,
		UserID:    f.user.ID,
		Accepted:  boolPtr(true),
	})
	require.NoError(t, err)

	res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.True(t, res.IsLastSessionGame)
	assert.False(t, res.Icebreaker)
	assert.Equal(t, "Baba Is You", res.Item.Title)
}

func TestSimilar_SharesSpecificGenreAndSkipsSeed(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Similar(f.ctx, f.user, f.sess, f.items["Tetris Effect"])
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "Baba Is You", res.Item.Title)

	res, err = f.engine.Similar(f.ctx, f.user, f.sess, f.items["Tetris Effect"])
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "Portal 2", res.Item.Title)

	res, err = f.engine.Similar(f.ctx, f.user, f.sess, f.items["Doom Eternal"])
	require.NoError(t, err)
	assert.Nil(t, res.Item)
}

func TestInsert_DuplicateIsSuccess(t *testing.T) {
	f := newFixture(t)
	rec := func() *models.Recommendation {
		return &models.Recommendation{SessionID: f.sess.SessionID, ItemID: f.items["Portal 2"].ID, UserID: f.user.ID}
	}
	ok, err := f.repo.Insert(f.ctx, rec())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.repo.Insert(f.ctx, rec())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindItemByTitle_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	it, err := f.repo.FindItemByTitle(f.ctx, "  portal 2 ")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.True(t, strings.EqualFold(it.Title, "Portal 2"))

	it, err = f.repo.FindItemByTitle(f.ctx, "Halo")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestRecommend_SlowEmbedderFallsBackToUnscored(t *testing.T) {
	f := newFixture(t)
	emb := &stallingEmbedder{}
	f.engine = NewEngine(f.repo, emb, rand.New(rand.NewPCG(1, 2)), 20*time.Millisecond, nil)
	f.puzzleSignals()

	start := time.Now()
	res, err := f.engine.Recommend(f.ctx, f.user, f.sess)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.True(t, time.Since(start) < 5*time.Second)
	assert.EqualValues(t, 2, emb.calls.Load())
	assert.Equal(t, emb.calls.Load(), emb.deadlines.Load())
}

func TestRecord_DuplicateServeCountedOnce(t *testing.T) {
	f := newFixture(t)
	res := Result{Item: f.items["Portal 2"]}

	require.NoError(t, f.engine.record(f.ctx, f.user, f.sess, res))
	require.NoError(t, f.engine.record(f.ctx, f.user, f.sess, res))
	assert.Equal(t, 1, f.sess.ServedCount)
	require.NotNil(t, f.sess.LastRecommendedItemID)
	assert.Equal(t, f.items["Portal 2"].ID, *f.sess.LastRecommendedItemID)

	recs, err := f.repo.ListForSession(f.ctx, f.sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
