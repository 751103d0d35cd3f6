package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
	"github.com/suPer8Hu/playmate/internal/recommend"
)

const (
	firstRoundBudget = 3
	reentryBudget    = 2
	maxRejections    = 2
)

// Recommender is the slice of the recommendation engine the machine drives.
type Recommender interface {
	Recommend(ctx context.Context, user *models.User, sess *models.Session) (recommend.Result, error)
	Similar(ctx context.Context, user *models.User, sess *models.Session, seed *models.Item) (recommend.Result, error)
}

// Catalog resolves items and records feedback on served ones.
type Catalog interface {
	GetItem(ctx context.Context, id uint64) (*models.Item, error)
	FindItemByTitle(ctx context.Context, title string) (*models.Item, error)
	SetAccepted(ctx context.Context, sessionID string, itemID uint64, accepted bool) error
	Forget(ctx context.Context, sessionID string, itemID uint64) error
}

// Reply is one outbound message the turn produced, before text generation.
type Reply struct {
	Prompt        ai.Prompt
	ItemID        *uint64
	AwaitingReply bool
}

// Turn is the input to one Advance call. Session and User are working copies
// that Advance mutates; they are only persisted when Advance succeeds.
type Turn struct {
	User    *models.User
	Session *models.Session
	Class   ai.Classification
	Now     time.Time
}

// Step is what one Advance produced.
type Step struct {
	Replies []Reply
	Path    []models.Phase
}

type Machine struct {
	rec     Recommender
	catalog Catalog
	log     *logger.Logger
}

func NewMachine(rec Recommender, catalog Catalog, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{rec: rec, catalog: catalog, log: log.With("service", "PhaseMachine")}
}

type stepper struct {
	m    *Machine
	ctx  context.Context
	t    *Turn
	step Step
}

func (s *stepper) say(r Reply) { s.step.Replies = append(s.step.Replies, r) }

func (s *stepper) enter(p models.Phase) {
	s.t.Session.Phase = p
	s.step.Path = append(s.step.Path, p)
}

// Advance consumes one classified inbound message.
func (m *Machine) Advance(ctx context.Context, t *Turn) (Step, error) {
	sess := t.Session
	s := &stepper{m: m, ctx: ctx, t: t, step: Step{Path: []models.Phase{sess.Phase}}}

	if sess.IsTerminal() {
		return s.step, nil
	}

	switch t.Class.Intent {
	case ai.IntentOptOut:
		t.User.OptedOut = true
		s.end(ai.ReplyOptOut)
		return s.step, nil
	case ai.IntentDone:
		s.end(ai.ReplyFarewell)
		return s.step, nil
	}

	mergeSignals(&sess.Signals, t.Class)

	if t.Class.Intent == ai.IntentSimilarTo && t.Class.SeedTitle != "" {
		handled, err := s.similar()
		if err != nil || handled {
			return s.step, err
		}
	}

	var err error
	switch sess.Phase {
	case models.PhaseIntro:
		err = s.intro()
	case models.PhaseDiscovery, models.PhaseConfirmation:
		err = s.discovery()
	case models.PhaseDelivery:
		err = s.delivery()
	case models.PhaseFollowup:
		err = s.followup()
	default:
		err = fmt.Errorf("unknown phase %q", sess.Phase)
	}
	return s.step, err
}

func (s *stepper) end(kind ai.ReplyKind) {
	sess := s.t.Session
	s.enter(models.PhaseEnding)
	sess.Lifecycle = models.LifecycleClosed
	sess.SessionClosed = true
	sess.AwaitingReply = false
	s.say(Reply{Prompt: ai.Prompt{Kind: kind}})
}

func (s *stepper) intro() error {
	sess := s.t.Session
	if sess.ReturningUser {
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyWelcome, Returning: true}})
		s.enter(models.PhaseDiscovery)
		return s.discovery()
	}
	if s.t.Class.Intent == ai.IntentGreeting && !s.t.Class.HasSignals() {
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyWelcome}, AwaitingReply: true})
		return nil
	}
	s.enter(models.PhaseDiscovery)
	return s.discovery()
}

func budget(sess *models.Session) int {
	if sess.DiscoveryRound == 0 {
		return firstRoundBudget
	}
	return reentryBudget
}

// nextSignal is the first missing signal type not yet asked this session.
func nextSignal(sess *models.Session) (models.SignalType, bool) {
	for _, t := range models.DiscoveryOrder {
		if !sess.Signals.Has(t) && !sess.HasAsked(t) {
			return t, true
		}
	}
	return "", false
}

func (s *stepper) discovery() error {
	sess := s.t.Session
	if sess.Phase != models.PhaseDiscovery {
		s.enter(models.PhaseDiscovery)
	}

	if sess.IsComplete() {
		s.enter(models.PhaseConfirmation)
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyConfirm}})
		return s.delivery()
	}

	if s.t.Class.Intent == ai.IntentUnclear && !s.t.Class.HasSignals() {
		s.clarify()
		return nil
	}

	if sess.DiscoveryQuestions >= budget(sess) {
		return s.delivery()
	}

	next, ok := nextSignal(sess)
	if !ok {
		if sess.RefinementAsked {
			return s.delivery()
		}
		sess.RefinementAsked = true
		sess.DiscoveryQuestions++
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyRefine}, AwaitingReply: true})
		return nil
	}

	sess.MarkAsked(next)
	sess.DiscoveryQuestions++
	s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyAskSignal, Signal: string(next), Detail: hintFor(sess, next)}, AwaitingReply: true})
	return nil
}

func hintFor(sess *models.Session, t models.SignalType) string {
	switch t {
	case models.SignalGenre:
		if len(sess.HintGenres) > 0 {
			return sess.HintGenres[len(sess.HintGenres)-1]
		}
	case models.SignalPlatform:
		if len(sess.HintPlatforms) > 0 {
			return sess.HintPlatforms[len(sess.HintPlatforms)-1]
		}
	}
	return ""
}

func (s *stepper) clarify() {
	sess := s.t.Session
	now := s.t.Now
	sess.ClarificationStatus = models.ClarificationWaiting
	sess.ClarificationAskedAt = &now
	sess.ClarificationNudgedAt = nil
	s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyClarify}, AwaitingReply: true})
}

func (s *stepper) delivery() error {
	sess := s.t.Session
	if sess.Phase != models.PhaseDelivery {
		s.enter(models.PhaseDelivery)
	}
	res, err := s.m.rec.Recommend(s.ctx, s.t.User, sess)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}
	s.deliver(res, sess.Signals.LatestGenre())
	return nil
}

// deliver renders an engine result. A nil item holds the session in Delivery.
func (s *stepper) deliver(res recommend.Result, wanted string) {
	sess := s.t.Session
	if res.Item == nil {
		if sess.Phase != models.PhaseDelivery {
			s.enter(models.PhaseDelivery)
		}
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyNoMatch, Detail: wanted}, AwaitingReply: true})
		return
	}
	sess.AskConfirmation = true
	sess.GameAcceptedAt = nil
	sess.OpinionAskedAt = nil
	sess.DelayedFollowupSent = false
	id := res.Item.ID
	s.enter(models.PhaseFollowup)
	s.say(Reply{
		Prompt:        ai.Prompt{Kind: ai.ReplyRecommend, ItemTitle: res.Item.Title, AgeCheck: res.NeedsAgeConfirmation},
		ItemID:        &id,
		AwaitingReply: true,
	})
}

func (s *stepper) followup() error {
	sess := s.t.Session
	switch s.t.Class.Intent {
	case ai.IntentWantsAnother:
		return s.another(true)
	case ai.IntentAccepted:
		return s.accept()
	case ai.IntentUnclear:
		if !s.t.Class.HasSignals() {
			s.clarify()
			return nil
		}
	}

	if blocked, err := s.ageBlocked(); err != nil || blocked {
		return err
	}

	if sess.GameAcceptedAt != nil {
		s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplySmallTalk}})
		return nil
	}
	s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyFollowupOpen}, AwaitingReply: true})
	return nil
}

// another handles "wants another". A user rejection counts toward the
// re-probe threshold; an age mismatch does not.
func (s *stepper) another(userRejected bool) error {
	sess := s.t.Session
	if last := sess.LastRecommendedItemID; last != nil {
		sess.Reject(*last)
		if err := s.m.catalog.SetAccepted(s.ctx, sess.SessionID, *last, false); err != nil {
			return fmt.Errorf("record rejection: %w", err)
		}
	}
	sess.AskConfirmation = false
	sess.GameAcceptedAt = nil

	if userRejected {
		sess.RejectedCount++
	}
	s.enter(models.PhaseDiscovery)
	if sess.RejectedCount >= maxRejections {
		sess.DiscoveryRound++
		sess.DiscoveryQuestions = 0
		sess.RefinementAsked = false
		return s.discovery()
	}
	return s.delivery()
}

func (s *stepper) accept() error {
	sess := s.t.Session
	if sess.GameAcceptedAt == nil {
		now := s.t.Now
		sess.GameAcceptedAt = &now
	}
	sess.AskConfirmation = false

	title := ""
	if last := sess.LastRecommendedItemID; last != nil {
		if err := s.m.catalog.SetAccepted(s.ctx, sess.SessionID, *last, true); err != nil {
			return fmt.Errorf("record acceptance: %w", err)
		}
		it, err := s.m.catalog.GetItem(s.ctx, *last)
		if err != nil {
			return fmt.Errorf("load accepted item: %w", err)
		}
		title = it.Title
	}
	s.say(Reply{Prompt: ai.Prompt{Kind: ai.ReplyAcceptAck, ItemTitle: title}})
	return nil
}

// ageBlocked re-delivers when a newly stated age rules out the pending item.
func (s *stepper) ageBlocked() (bool, error) {
	sess := s.t.Session
	if s.t.Class.Age == nil || s.t.User.Age == nil || sess.LastRecommendedItemID == nil || sess.GameAcceptedAt != nil {
		return false, nil
	}
	it, err := s.m.catalog.GetItem(s.ctx, *sess.LastRecommendedItemID)
	if err != nil {
		return false, fmt.Errorf("load pending item: %w", err)
	}
	if it.AgeRating <= *s.t.User.Age {
		return false, nil
	}
	return true, s.another(false)
}

// similar handles "something like X". An unknown seed is kept as a favorite
// and the turn continues through the current phase.
func (s *stepper) similar() (bool, error) {
	sess := s.t.Session
	seed, err := s.m.catalog.FindItemByTitle(s.ctx, s.t.Class.SeedTitle)
	if err != nil {
		return false, fmt.Errorf("find seed: %w", err)
	}
	if seed == nil {
		sess.Signals.FavoriteGames = mergeList(sess.Signals.FavoriteGames, []string{s.t.Class.SeedTitle})
		return false, nil
	}
	if sess.Phase == models.PhaseFollowup && sess.LastRecommendedItemID != nil && sess.GameAcceptedAt == nil {
		sess.Reject(*sess.LastRecommendedItemID)
	}
	s.enter(models.PhaseDelivery)
	res, err := s.m.rec.Similar(s.ctx, s.t.User, sess, seed)
	if err != nil {
		return false, fmt.Errorf("similar: %w", err)
	}
	s.deliver(res, seed.SpecificGenre())
	return true, nil
}

// Retract undoes the recommendation record of an undelivered step.
func (m *Machine) Retract(ctx context.Context, sessionID string, itemID uint64) error {
	return m.catalog.Forget(ctx, sessionID, itemID)
}

// BestGuess forces a delivery on a session whose clarifying question went
// unanswered. It reports false when the session is past delivering.
func (m *Machine) BestGuess(ctx context.Context, t *Turn) (Step, bool, error) {
	sess := t.Session
	s := &stepper{m: m, ctx: ctx, t: t, step: Step{Path: []models.Phase{sess.Phase}}}
	if sess.IsTerminal() || sess.GameAcceptedAt != nil {
		return s.step, false, nil
	}
	if sess.Phase == models.PhaseFollowup && sess.LastRecommendedItemID != nil {
		return s.step, false, nil
	}
	if err := s.delivery(); err != nil {
		return s.step, false, err
	}
	return s.step, true, nil
}
