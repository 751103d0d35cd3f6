// Package session resolves which conversational episode an inbound message
// belongs to.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/playmate/internal/common"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
)

const (
	PassiveAfter = 11 * time.Hour
	ColdAfter    = 48 * time.Hour
)

// Classify maps idle time to a lifecycle state. Boundaries are inclusive on
// the lower state: exactly 11h is Active, exactly 48h is Passive.
func Classify(elapsed time.Duration, hasPrior bool) models.LifecycleState {
	switch {
	case !hasPrior:
		return models.LifecycleOnboarding
	case elapsed > ColdAfter:
		return models.LifecycleCold
	case elapsed > PassiveAfter:
		return models.LifecyclePassive
	default:
		return models.LifecycleActive
	}
}

// StateOf computes the lifecycle a stored session would have at now.
func StateOf(s *models.Session, now time.Time) models.LifecycleState {
	if s == nil {
		return Classify(0, false)
	}
	if s.IsTerminal() {
		return models.LifecycleClosed
	}
	return Classify(now.Sub(s.LastActivityAt), true)
}

type Tracker struct {
	repo  *Repo
	log   *logger.Logger
	newID func() (string, error)
}

func NewTracker(repo *Repo, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{repo: repo, log: log.With("service", "SessionTracker"), newID: common.NewULID}
}

// Resolve returns the current session for the user at now. A new session is
// opened on first contact, after Passive/Cold idling, or after the previous
// one closed; otherwise the latest is reused and marked Active.
func (t *Tracker) Resolve(ctx context.Context, user *models.User, now time.Time) (*models.Session, error) {
	prev, err := t.repo.LatestSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}

	state := StateOf(prev, now)
	if state == models.LifecycleActive {
		if err := t.repo.Touch(ctx, prev, now); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		prev.Lifecycle = models.LifecycleActive
		prev.LastActivityAt = now
		return prev, nil
	}

	sid, err := t.newID()
	if err != nil {
		return nil, err
	}
	s := &models.Session{
		SessionID:      sid,
		UserID:         user.ID,
		Lifecycle:      models.LifecycleOnboarding,
		Phase:          models.PhaseIntro,
		LastActivityAt: now,
	}
	if prev != nil {
		s.ReturningUser = true
		if g := prev.Signals.LatestGenre(); g != "" {
			s.HintGenres = []string{g}
		}
		if p := prev.Signals.LatestPlatform(); p != "" {
			s.HintPlatforms = []string{p}
		}
		if prev.Lifecycle != state && state != models.LifecycleClosed {
			// record what the old session decayed to
			if err := t.repo.SetLifecycle(ctx, prev.ID, state); err != nil {
				return nil, fmt.Errorf("retire session: %w", err)
			}
		}
	}
	if err := t.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	t.log.Info("session opened", "user_id", user.ID, "session_id", s.SessionID, "previous_state", state, "returning", s.ReturningUser)
	return s, nil
}
