// Package conversation turns inbound messages into phase transitions and
// outbound replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/chat"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/messaging"
	"github.com/suPer8Hu/playmate/internal/models"
	"github.com/suPer8Hu/playmate/internal/session"
)

type Classifier interface {
	Classify(ctx context.Context, history []ai.Message) ai.Classification
}

type Responder interface {
	Generate(ctx context.Context, p ai.Prompt) string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, user *models.User, sess *models.Session, msg messaging.Outbound, now time.Time) error
}

// Inbound is one message received from the channel.
type Inbound struct {
	Address   string
	Text      string
	MessageID string
}

// Outcome summarizes a handled inbound message.
type Outcome struct {
	SessionID string
	Phase     models.Phase
	Replies   []string
	Duplicate bool
}

type Service struct {
	sessions   *session.Repo
	tracker    *session.Tracker
	chat       *chat.Service
	classifier Classifier
	responder  Responder
	machine    *Machine
	dispatcher Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

type Deps struct {
	Sessions   *session.Repo
	Tracker    *session.Tracker
	Chat       *chat.Service
	Classifier Classifier
	Responder  Responder
	Machine    *Machine
	Dispatcher Dispatcher
	Log        *logger.Logger
	Now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		sessions:   d.Sessions,
		tracker:    d.Tracker,
		chat:       d.Chat,
		classifier: d.Classifier,
		responder:  d.Responder,
		machine:    d.Machine,
		dispatcher: d.Dispatcher,
		log:        d.Log.With("service", "Conversation"),
		now:        d.Now,
	}
}

// HandleInbound resolves the session, classifies the message, advances the
// phase machine and dispatches the replies. A failed transition keeps the
// last committed phase and answers with a canned clarification.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (Outcome, error) {
	now := s.now()
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Outcome{}, errors.New("empty message")
	}

	user, err := s.sessions.GetOrCreateUser(ctx, in.Address)
	if err != nil {
		return Outcome{}, fmt.Errorf("user: %w", err)
	}
	sess, err := s.tracker.Resolve(ctx, user, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve session: %w", err)
	}

	if _, err := s.chat.RecordInbound(ctx, sess, text, in.MessageID, "", now); err != nil {
		if errors.Is(err, chat.ErrDuplicate) {
			return Outcome{SessionID: sess.SessionID, Phase: sess.Phase, Duplicate: true}, nil
		}
		return Outcome{}, fmt.Errorf("record inbound: %w", err)
	}

	// inbound bookkeeping is committed even if the transition fails
	sess.UserReplies++
	sess.AwaitingReply = false
	sess.ClarificationStatus = models.ClarificationNone
	sess.ClarificationAskedAt = nil
	sess.ClarificationNudgedAt = nil
	sess.LastActivityAt = now
	wasOptedOut := user.OptedOut
	user.OptedOut = false

	window, err := s.chat.Window(ctx, sess.SessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("context window: %w", err)
	}
	class := s.classifier.Classify(ctx, window)

	if mergeProfile(user, class) || wasOptedOut {
		if err := s.sessions.SaveProfile(ctx, user); err != nil {
			s.log.Error("save profile failed", "user_id", user.ID, "error", err)
		}
	}
	s.recordObservations(ctx, user, class, now)

	workSess := *sess
	workUser := *user
	step, err := s.machine.Advance(ctx, &Turn{User: &workUser, Session: &workSess, Class: class, Now: now})
	if err != nil {
		s.log.Error("phase transition failed", "session_id", sess.SessionID, "phase", sess.Phase, "intent", class.Intent, "error", err)
		if err := s.sessions.SaveConversation(ctx, sess); err != nil {
			return Outcome{}, fmt.Errorf("save session: %w", err)
		}
		step = Step{Replies: []Reply{{Prompt: ai.Prompt{Kind: ai.ReplyClarify}, AwaitingReply: true}}}
	} else {
		sess, user = &workSess, &workUser
		if err := s.sessions.SaveConversation(ctx, sess); err != nil {
			return Outcome{}, fmt.Errorf("save session: %w", err)
		}
		if user.OptedOut {
			if err := s.sessions.SaveProfile(ctx, user); err != nil {
				s.log.Error("save opt-out failed", "user_id", user.ID, "error", err)
			}
		}
		s.log.Info("turn advanced", "session_id", sess.SessionID, "user_id", user.ID, "intent", class.Intent, "path", step.Path)
	}

	texts := s.send(ctx, user, sess, step.Replies, window, chat.SenderAssistant, now)
	return Outcome{SessionID: sess.SessionID, Phase: sess.Phase, Replies: texts}, nil
}

// ErrNotDelivered reports a forced recommendation that never reached the user.
// Nothing was committed, so the caller may retry.
var ErrNotDelivered = errors.New("best guess not delivered")

// DeliverBestGuess forces a recommendation for a session whose clarifying
// question went unanswered. The session is only saved once the reply has gone
// out; a failed send retracts the recommendation record and returns
// ErrNotDelivered. It reports whether anything was sent.
func (s *Service) DeliverBestGuess(ctx context.Context, user *models.User, sess *models.Session) (bool, error) {
	now := s.now()
	workSess := *sess
	workUser := *user
	step, ok, err := s.machine.BestGuess(ctx, &Turn{User: &workUser, Session: &workSess, Now: now})
	if err != nil || !ok {
		return false, err
	}

	window, err := s.chat.Window(ctx, sess.SessionID)
	if err != nil {
		s.log.Warn("context window unavailable", "session_id", sess.SessionID, "error", err)
	}
	if sent := s.send(ctx, user, &workSess, step.Replies, window, chat.SenderScheduler, now); len(sent) == 0 {
		if id := workSess.LastRecommendedItemID; id != nil && !sameItem(id, sess.LastRecommendedItemID) {
			if err := s.machine.Retract(context.WithoutCancel(ctx), sess.SessionID, *id); err != nil {
				s.log.Error("retract recommendation failed", "session_id", sess.SessionID, "item_id", *id, "error", err)
			}
		}
		return false, ErrNotDelivered
	}

	if err := s.sessions.SaveConversation(ctx, &workSess); err != nil {
		return true, fmt.Errorf("save session: %w", err)
	}
	*sess = workSess
	return true, nil
}

func sameItem(a, b *uint64) bool {
	return a != nil && b != nil && *a == *b
}

func (s *Service) send(ctx context.Context, user *models.User, sess *models.Session, replies []Reply, window []ai.Message, sender string, now time.Time) []string {
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		p := r.Prompt
		p.History = window
		p.UserName = user.Name
		text := s.responder.Generate(ctx, p)

		msg := messaging.Outbound{Sender: sender, Text: text, ItemID: r.ItemID, AwaitingReply: r.AwaitingReply}
		if err := s.dispatcher.Dispatch(ctx, user, sess, msg, now); err != nil {
			s.log.Warn("reply not delivered", "session_id", sess.SessionID, "kind", p.Kind, "error", err)
			continue
		}
		out = append(out, text)
	}
	return out
}

type observation struct {
	kind   models.ObservationKind
	values []string
}

func (s *Service) recordObservations(ctx context.Context, user *models.User, c ai.Classification, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	obs := []observation{
		{models.ObservedGenre, c.Genres},
		{models.ObservedPlatform, c.Platforms},
	}
	if c.Mood != "" {
		obs = append(obs, observation{models.ObservedMood, []string{c.Mood}})
	}
	for _, o := range obs {
		if err := s.sessions.RecordObservations(ctx, user.ID, day, o.kind, o.values); err != nil {
			s.log.Warn("record observations failed", "user_id", user.ID, "kind", o.kind, "error", err)
		}
	}
}
