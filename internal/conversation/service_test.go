package conversation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/chat"
	"github.com/suPer8Hu/playmate/internal/db/dbtest"
	"github.com/suPer8Hu/playmate/internal/messaging"
	"github.com/suPer8Hu/playmate/internal/models"
	"github.com/suPer8Hu/playmate/internal/recommend"
	"github.com/suPer8Hu/playmate/internal/session"
	"gorm.io/gorm"
)

type scriptedClassifier struct {
	mu    sync.Mutex
	queue []ai.Classification
}

func (c *scriptedClassifier) Classify(ctx context.Context, history []ai.Message) ai.Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return ai.Classification{Intent: ai.IntentUnknown}
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	return next
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	down bool
}

func (s *recordingSender) Send(ctx context.Context, address, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("channel unavailable")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

type harness struct {
	ctx      context.Context
	db       *gorm.DB
	sessions *session.Repo
	recs     *recommend.Repo
	chat     *chat.Service
	class    *scriptedClassifier
	sender   *recordingSender
	now      time.Time
	svc      *Service
}

func newHarness(t *testing.T, machine func(*recommend.Engine, *recommend.Repo) *Machine) *harness {
	t.Helper()
	gdb := dbtest.Open(t)
	h := &harness{
		ctx:      context.Background(),
		db:       gdb,
		sessions: session.NewRepo(gdb),
		recs:     recommend.NewRepo(gdb),
		chat:     chat.NewService(chat.NewRepo(gdb), 20),
		class:    &scriptedClassifier{},
		sender:   &recordingSender{},
		now:      time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
	}
	engine := recommend.NewEngine(h.recs, nil, rand.New(rand.NewPCG(7, 7)), time.Second, nil)
	if machine == nil {
		machine = func(e *recommend.Engine, r *recommend.Repo) *Machine { return NewMachine(e, r, nil) }
	}
	h.svc = NewService(Deps{
		Sessions:   h.sessions,
		Tracker:    session.NewTracker(h.sessions, nil),
		Chat:       h.chat,
		Classifier: h.class,
		Responder:  ai.NewResponder(nil, 0, nil),
		Machine:    machine(engine, h.recs),
		Dispatcher: messaging.NewDispatcher(h.sender, h.chat, h.sessions, time.Second, nil),
		Now:        func() time.Time { return h.now },
	})
	return h
}

func (h *harness) say(t *testing.T, text string, c ai.Classification) Outcome {
	t.Helper()
	h.class.queue = append(h.class.queue, c)
	out, err := h.svc.HandleInbound(h.ctx, Inbound{Address: "+15557777", Text: text})
	require.NoError(t, err)
	return out
}

func TestHandleInbound_FirstMessageIsOnboardingIntro(t *testing.T) {
	h := newHarness(t, nil)

	out := h.say(t, "hey there", ai.Classification{Intent: ai.IntentGreeting})
	assert.Equal(t, models.PhaseIntro, out.Phase)
	require.Len(t, out.Replies, 1)
	assert.Equal(t, ai.Fallback(ai.Prompt{Kind: ai.ReplyWelcome}), out.Replies[0])

	sess, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.LifecycleOnboarding, sess.Lifecycle)
	assert.Zero(t, sess.DiscoveryQuestions)
	assert.Equal(t, 1, sess.UserReplies)
	assert.True(t, sess.AwaitingReply)

	log, err := h.chat.List(h.ctx, out.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestHandleInbound_DuplicateMessageIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.class.queue = []ai.Classification{{Intent: ai.IntentGreeting}, {Intent: ai.IntentGreeting}}

	_, err := h.svc.HandleInbound(h.ctx, Inbound{Address: "+1", Text: "hi", MessageID: "m-1"})
	require.NoError(t, err)
	out, err := h.svc.HandleInbound(h.ctx, Inbound{Address: "+1", Text: "hi", MessageID: "m-1"})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, h.sender.sent, 1)
}

func TestHandleInbound_EndToEndAccept(t *testing.T) {
	h := newHarness(t, nil)
	dbtest.SeedItem(t, h.ctx, h.db, &models.Item{Title: "Tetris Effect", Genres: []string{"puzzle"}, Platforms: []string{"PC"}, AgeRating: 3})
	dbtest.SeedItem(t, h.ctx, h.db, &models.Item{Title: "Forza", Genres: []string{"racing"}, Platforms: []string{"PC"}, AgeRating: 3})

	h.say(t, "hi", ai.Classification{Intent: ai.IntentGreeting})

	h.now = h.now.Add(30 * time.Second)
	out := h.say(t, "chill puzzle games on PC, love a good story", ai.Classification{
		Intent:          ai.IntentProvideInfo,
		Mood:            "chill",
		Genres:          []string{"puzzle"},
		Platforms:       []string{"PC"},
		StoryPreference: yes(),
	})
	assert.Equal(t, models.PhaseFollowup, out.Phase)
	require.Len(t, out.Replies, 2)
	assert.Contains(t, out.Replies[1], "Tetris Effect")

	h.now = h.now.Add(60 * time.Second)
	out = h.say(t, "sounds great, I'll try it", ai.Classification{Intent: ai.IntentAccepted})
	require.Len(t, out.Replies, 1)
	assert.Equal(t, "Great choice! Have fun with Tetris Effect.", out.Replies[0])

	sess, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.GameAcceptedAt)
	assert.WithinDuration(t, h.now, *sess.GameAcceptedAt, time.Second)
	assert.Equal(t, 1, sess.ServedCount)
	assert.Zero(t, sess.RejectedCount)
	assert.False(t, sess.AwaitingReply)

	recs, err := h.recs.ListForSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Accepted)
	assert.True(t, *recs[0].Accepted)

	user, err := h.sessions.GetOrCreateUser(h.ctx, "+15557777")
	require.NoError(t, err)
	require.NotNil(t, user.StoryPreference)
	obs, err := h.sessions.ListObservations(h.ctx, user.ID, models.ObservedGenre)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "puzzle", obs[0].Value)
}

func TestHandleInbound_FailedTransitionKeepsPhase(t *testing.T) {
	h := newHarness(t, func(*recommend.Engine, *recommend.Repo) *Machine {
		return NewMachine(&fakeRecommender{err: errors.New("catalog offline")}, newFakeCatalog(), nil)
	})
	h.say(t, "hi", ai.Classification{Intent: ai.IntentGreeting})

	h.now = h.now.Add(10 * time.Second)
	out := h.say(t, "puzzle, PC, chill, story yes", ai.Classification{
		Intent: ai.IntentProvideInfo, Mood: "chill", Genres: []string{"puzzle"}, Platforms: []string{"PC"}, StoryPreference: yes(),
	})
	assert.Equal(t, models.PhaseIntro, out.Phase)
	require.Len(t, out.Replies, 1)
	assert.Equal(t, ai.Fallback(ai.Prompt{Kind: ai.ReplyClarify}), out.Replies[0])

	sess, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseIntro, sess.Phase)
	assert.False(t, sess.Signals.Has(models.SignalGenre), "uncommitted signals are not persisted")
	assert.Equal(t, 2, sess.UserReplies)
}

func TestHandleInbound_OptOutClosesAndFlagsUser(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "hi", ai.Classification{Intent: ai.IntentGreeting})
	out := h.say(t, "stop messaging me", ai.Classification{Intent: ai.IntentOptOut})
	assert.Equal(t, models.PhaseEnding, out.Phase)

	user, err := h.sessions.GetOrCreateUser(h.ctx, "+15557777")
	require.NoError(t, err)
	assert.True(t, user.OptedOut)

	// writing again re-engages with a fresh session
	out2 := h.say(t, "hey again", ai.Classification{Intent: ai.IntentGreeting})
	assert.NotEqual(t, out.SessionID, out2.SessionID)
	user, err = h.sessions.GetOrCreateUser(h.ctx, "+15557777")
	require.NoError(t, err)
	assert.False(t, user.OptedOut)
}

func TestDeliverBestGuess(t *testing.T) {
	h := newHarness(t, nil)
	dbtest.SeedItem(t, h.ctx, h.db, &models.Item{Title: "Stardew Valley", Genres: []string{"sim"}, Platforms: []string{"PC"}})
	h.say(t, "hi", ai.Classification{Intent: ai.IntentGreeting})
	out := h.say(t, "umm", ai.Classification{Intent: ai.IntentUnclear})

	sess, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ClarificationWaiting, sess.ClarificationStatus)
	user, err := h.sessions.GetUser(h.ctx, sess.UserID)
	require.NoError(t, err)

	sent, err := h.svc.DeliverBestGuess(h.ctx, user, sess)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, models.PhaseFollowup, sess.Phase)
	assert.Contains(t, h.sender.sent[len(h.sender.sent)-1], "Stardew Valley")
}

func TestDeliverBestGuess_FailedSendCommitsNothing(t *testing.T) {
	h := newHarness(t, nil)
	dbtest.SeedItem(t, h.ctx, h.db, &models.Item{Title: "Stardew Valley", Genres: []string{"sim"}, Platforms: []string{"PC"}})
	h.say(t, "hi", ai.Classification{Intent: ai.IntentGreeting})
	out := h.say(t, "umm", ai.Classification{Intent: ai.IntentUnclear})

	sess, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	user, err := h.sessions.GetUser(h.ctx, sess.UserID)
	require.NoError(t, err)
	phase := sess.Phase
	before := len(h.sender.sent)

	h.sender.setDown(true)
	sent, err := h.svc.DeliverBestGuess(h.ctx, user, sess)
	require.ErrorIs(t, err, ErrNotDelivered)
	assert.False(t, sent)
	assert.Equal(t, phase, sess.Phase)
	assert.Nil(t, sess.LastRecommendedItemID)

	got, err := h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, phase, got.Phase)
	assert.Nil(t, got.LastRecommendedItemID)
	assert.Zero(t, got.ServedCount)
	recs, err := h.recs.ListForSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Empty(t, recs, "undelivered item stays eligible")

	h.sender.setDown(false)
	sent, err = h.svc.DeliverBestGuess(h.ctx, user, got)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, h.sender.sent, before+1)
	assert.Contains(t, h.sender.sent[before], "Stardew Valley")

	got, err = h.sessions.GetSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFollowup, got.Phase)
	assert.Equal(t, 1, got.ServedCount)
	recs, err = h.recs.ListForSession(h.ctx, out.SessionID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
