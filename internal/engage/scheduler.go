// Package engage runs the periodic sweep that re-engages quiet sessions:
// silence nudges, clarification escalation, delayed follow-ups, the name
// probe and the soft close.
package engage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/chat"
	"github.com/suPer8Hu/playmate/internal/config"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/messaging"
	"github.com/suPer8Hu/playmate/internal/models"
	"github.com/suPer8Hu/playmate/internal/session"
	"golang.org/x/sync/errgroup"
)

type Action string

const (
	ActionClarifyNudge Action = "clarify_nudge"
	ActionBestGuess    Action = "best_guess"
	ActionSilenceNudge Action = "silence_nudge"
	ActionOpinion      Action = "opinion"
	ActionCheckin      Action = "checkin"
	ActionNameProbe    Action = "name_probe"
	ActionSoftClose    Action = "soft_close"
)

// Converser forces a recommendation when a clarification goes unanswered.
type Converser interface {
	DeliverBestGuess(ctx context.Context, user *models.User, sess *models.Session) (bool, error)
}

type Responder interface {
	Generate(ctx context.Context, p ai.Prompt) string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, user *models.User, sess *models.Session, msg messaging.Outbound, now time.Time) error
}

type Catalog interface {
	GetItem(ctx context.Context, id uint64) (*models.Item, error)
}

// Report tallies one sweep.
type Report struct {
	Visited int
	Fired   map[Action]int
	Failed  int
}

type Deps struct {
	Guards     *Repo
	Sessions   *session.Repo
	Catalog    Catalog
	Converser  Converser
	Responder  Responder
	Dispatcher Dispatcher
	Config     config.SchedulerConfig
	BatchSize  int
	Log        *logger.Logger
	Now        func() time.Time
}

// Scheduler holds no per-session state between ticks; every decision is
// made from the persisted session and user rows.
type Scheduler struct {
	guards     *Repo
	sessions   *session.Repo
	catalog    Catalog
	converser  Converser
	responder  Responder
	dispatcher Dispatcher
	cfg        config.SchedulerConfig
	batch      int
	log        *logger.Logger
	now        func() time.Time
}

func NewScheduler(d Deps) *Scheduler {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Config.Concurrency <= 0 {
		d.Config.Concurrency = 1
	}
	return &Scheduler{
		guards:     d.Guards,
		sessions:   d.Sessions,
		catalog:    d.Catalog,
		converser:  d.Converser,
		responder:  d.Responder,
		dispatcher: d.Dispatcher,
		cfg:        d.Config,
		batch:      d.BatchSize,
		log:        d.Log.With("service", "EngagementScheduler"),
		now:        d.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "interval", s.cfg.Interval, "concurrency", s.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			rep, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("sweep failed", "error", err)
				}
				continue
			}
			if len(rep.Fired) > 0 || rep.Failed > 0 {
				s.log.Info("sweep done", "visited", rep.Visited, "fired", rep.Fired, "failed", rep.Failed)
			}
		}
	}
}

// Sweep inspects every open session once. A failing session is logged and
// counted; it never stops the others.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	now := s.now()
	open, err := s.sessions.ListOpen(ctx, s.batch)
	if err != nil {
		return Report{}, fmt.Errorf("list open sessions: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = Report{Visited: len(open), Fired: map[Action]int{}}
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i := range open {
		sess := &open[i]
		g.Go(func() error {
			action, fired, err := s.visit(ctx, sess, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				s.log.Error("engagement action failed",
					"session_id", sess.SessionID, "user_id", sess.UserID, "action", action, "error", err)
				return nil
			}
			if fired {
				rep.Fired[action]++
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep, nil
}

type check func(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error)

// visit runs the checks in priority order and stops at the first one that
// fires or fails.
func (s *Scheduler) visit(ctx context.Context, sess *models.Session, now time.Time) (Action, bool, error) {
	user, err := s.sessions.GetUser(ctx, sess.UserID)
	if err != nil {
		return "", false, fmt.Errorf("load user: %w", err)
	}
	if user.OptedOut {
		return "", false, nil
	}
	for _, c := range []check{s.clarification, s.silence, s.followup, s.nameProbe, s.softClose} {
		action, fired, err := c(ctx, user, sess, now)
		if err != nil || fired {
			return action, fired, err
		}
	}
	return "", false, nil
}

func (s *Scheduler) clarification(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error) {
	switch sess.ClarificationStatus {
	case models.ClarificationWaiting:
		if sess.ClarificationAskedAt == nil || now.Sub(*sess.ClarificationAskedAt) < s.cfg.ClarifyNudgeAfter {
			return ActionClarifyNudge, false, nil
		}
		ok, err := s.guards.ClaimClarifyNudge(ctx, sess.ID, now.Add(-s.cfg.ClarifyNudgeAfter), now)
		if err != nil || !ok {
			return ActionClarifyNudge, false, err
		}
		if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplyClarifyNudge}, true, nil, now); err != nil {
			s.releaseOnFailure(ctx, sess, ActionClarifyNudge, func(ctx context.Context) error {
				return s.guards.ReleaseClarifyNudge(ctx, sess.ID)
			})
			return ActionClarifyNudge, false, err
		}
		return ActionClarifyNudge, true, nil

	case models.ClarificationNudgeSent:
		if sess.ClarificationNudgedAt == nil || now.Sub(*sess.ClarificationNudgedAt) < s.cfg.ClarifyFallbackAfter {
			return ActionBestGuess, false, nil
		}
		ok, err := s.guards.ClaimClarifyFallback(ctx, sess.ID, now.Add(-s.cfg.ClarifyFallbackAfter))
		if err != nil || !ok {
			return ActionBestGuess, false, err
		}
		sess.ClarificationStatus = models.ClarificationFallbackSent
		sent, err := s.converser.DeliverBestGuess(ctx, user, sess)
		if err != nil {
			// a guess that reached the user is not sent twice
			if !sent {
				s.releaseOnFailure(ctx, sess, ActionBestGuess, func(ctx context.Context) error {
					return s.guards.ReleaseClarifyFallback(ctx, sess.ID)
				})
			}
			return ActionBestGuess, false, err
		}
		return ActionBestGuess, sent, nil
	}
	return "", false, nil
}

func (s *Scheduler) silence(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error) {
	if !sess.AwaitingReply || sess.LastOutboundAt == nil {
		return ActionSilenceNudge, false, nil
	}
	// an open clarification escalates on its own clock
	if sess.ClarificationStatus == models.ClarificationWaiting || sess.ClarificationStatus == models.ClarificationNudgeSent {
		return ActionSilenceNudge, false, nil
	}
	if now.Sub(*sess.LastOutboundAt) <= s.cfg.NudgeAfter {
		return ActionSilenceNudge, false, nil
	}
	ok, err := s.guards.ClaimSilenceNudge(ctx, sess.ID, now.Add(-s.cfg.NudgeAfter), now)
	if err != nil || !ok {
		return ActionSilenceNudge, false, err
	}
	if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplyNudge}, false, nil, now); err != nil {
		s.releaseOnFailure(ctx, sess, ActionSilenceNudge, func(ctx context.Context) error {
			return s.guards.ReleaseSilenceNudge(ctx, sess.ID)
		})
		return ActionSilenceNudge, false, err
	}
	sess.SilenceCount++
	sess.NudgeSentAt = &now
	return ActionSilenceNudge, true, nil
}

// followup asks about an accepted game. Under FollowupMin nothing happens;
// the acknowledgement was sent at acceptance.
func (s *Scheduler) followup(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error) {
	if sess.GameAcceptedAt == nil || sess.LastRecommendedItemID == nil {
		return "", false, nil
	}
	elapsed := now.Sub(*sess.GameAcceptedAt)
	switch {
	case elapsed < s.cfg.FollowupMin:
		return "", false, nil

	case elapsed <= s.cfg.FollowupLate:
		if sess.OpinionAskedAt != nil {
			return ActionOpinion, false, nil
		}
		item, err := s.catalog.GetItem(ctx, *sess.LastRecommendedItemID)
		if err != nil {
			return ActionOpinion, false, fmt.Errorf("load accepted item: %w", err)
		}
		ok, err := s.guards.ClaimOpinion(ctx, sess.ID, now.Add(-s.cfg.FollowupMin), now)
		if err != nil || !ok {
			return ActionOpinion, false, err
		}
		if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplyOpinion, ItemTitle: item.Title}, false, &item.ID, now); err != nil {
			s.releaseOnFailure(ctx, sess, ActionOpinion, func(ctx context.Context) error {
				return s.guards.ReleaseOpinion(ctx, sess.ID)
			})
			return ActionOpinion, false, err
		}
		sess.OpinionAskedAt = &now
		return ActionOpinion, true, nil

	default:
		if sess.DelayedFollowupSent {
			return ActionCheckin, false, nil
		}
		item, err := s.catalog.GetItem(ctx, *sess.LastRecommendedItemID)
		if err != nil {
			return ActionCheckin, false, fmt.Errorf("load accepted item: %w", err)
		}
		ok, err := s.guards.ClaimCheckin(ctx, sess.ID, now.Add(-s.cfg.FollowupLate))
		if err != nil || !ok {
			return ActionCheckin, false, err
		}
		if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplyCheckin, ItemTitle: item.Title}, false, &item.ID, now); err != nil {
			s.releaseOnFailure(ctx, sess, ActionCheckin, func(ctx context.Context) error {
				return s.guards.ReleaseCheckin(ctx, sess.ID)
			})
			return ActionCheckin, false, err
		}
		sess.DelayedFollowupSent = true
		return ActionCheckin, true, nil
	}
}

func (s *Scheduler) nameProbe(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error) {
	if user.HasName() || user.NameProbeSent || sess.LastOutboundAt == nil {
		return ActionNameProbe, false, nil
	}
	if now.Sub(*sess.LastOutboundAt) < s.cfg.NameProbeAfter {
		return ActionNameProbe, false, nil
	}
	ok, err := s.guards.ClaimNameProbe(ctx, user.ID)
	if err != nil || !ok {
		return ActionNameProbe, false, err
	}
	if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplyNameProbe}, true, nil, now); err != nil {
		s.releaseOnFailure(ctx, sess, ActionNameProbe, func(ctx context.Context) error {
			return s.guards.ReleaseNameProbe(ctx, user.ID)
		})
		return ActionNameProbe, false, err
	}
	user.NameProbeSent = true
	return ActionNameProbe, true, nil
}

// softClose says goodbye to an idle session. A player still inside the
// follow-up window is left open until the check-in has gone out.
func (s *Scheduler) softClose(ctx context.Context, user *models.User, sess *models.Session, now time.Time) (Action, bool, error) {
	cold := session.StateOf(sess, now) == models.LifecycleCold
	if !cold {
		if sess.GameAcceptedAt != nil && !sess.DelayedFollowupSent {
			return ActionSoftClose, false, nil
		}
		if now.Sub(sess.IdleSince()) <= s.idleLimit(sess) {
			return ActionSoftClose, false, nil
		}
	}
	before := *sess
	ok, err := s.guards.ClaimSoftClose(ctx, sess.ID)
	if err != nil || !ok {
		return ActionSoftClose, false, err
	}
	if err := s.send(ctx, user, sess, ai.Prompt{Kind: ai.ReplySoftClose}, false, nil, now); err != nil {
		s.releaseOnFailure(ctx, sess, ActionSoftClose, func(ctx context.Context) error {
			return s.guards.ReleaseSoftClose(ctx, &before)
		})
		return ActionSoftClose, false, err
	}
	sess.SessionClosed = true
	sess.Phase = models.PhaseEnding
	sess.Lifecycle = models.LifecycleClosed
	return ActionSoftClose, true, nil
}

// idleLimit is short for sessions that barely got going.
func (s *Scheduler) idleLimit(sess *models.Session) time.Duration {
	if sess.UserReplies <= 2 {
		return s.cfg.SoftCloseShort
	}
	return s.cfg.SoftCloseLong
}

func (s *Scheduler) send(ctx context.Context, user *models.User, sess *models.Session, p ai.Prompt, awaiting bool, itemID *uint64, now time.Time) error {
	p.UserName = user.Name
	text := s.responder.Generate(ctx, p)
	return s.dispatcher.Dispatch(ctx, user, sess, messaging.Outbound{
		Sender:        chat.SenderScheduler,
		Text:          text,
		ItemID:        itemID,
		AwaitingReply: awaiting,
	}, now)
}

// releaseOnFailure un-claims a guard whose message never went out so the
// next sweep retries it.
func (s *Scheduler) releaseOnFailure(ctx context.Context, sess *models.Session, action Action, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.log.Error("guard release failed", "session_id", sess.SessionID, "user_id", sess.UserID, "action", action, "error", err)
	}
}
