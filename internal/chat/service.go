// Package chat keeps the per-session message log and builds the context
// window handed to the classifier and generator.
package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/models"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderScheduler = "scheduler"
)

type Service struct {
	repo              *Repo
	contextWindowSize int
}

func NewService(repo *Repo, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{repo: repo, contextWindowSize: contextWindowSize}
}

func (s *Service) Repo() *Repo { return s.repo }

// RecordInbound stores a user message. A repeated idempotency key (the
// channel's message id) returns ErrDuplicate so webhook retries are dropped.
func (s *Service) RecordInbound(ctx context.Context, sess *models.Session, content, idempotencyKey, tone string, at time.Time) (*models.Interaction, error) {
	m := &models.Interaction{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Direction: models.Inbound,
		Sender:    SenderUser,
		Content:   content,
		Tone:      tone,
		CreatedAt: at,
	}
	if idempotencyKey != "" {
		m.IdempotencyKey = &idempotencyKey
	}
	out, created, err := s.repo.InsertOrGetExisting(ctx, m)
	if err != nil {
		return nil, err
	}
	if !created {
		return out, ErrDuplicate
	}
	return out, nil
}

// RecordOutbound stores a message we sent.
func (s *Service) RecordOutbound(ctx context.Context, sess *models.Session, sender, content string, itemID *uint64, at time.Time) (*models.Interaction, error) {
	m := &models.Interaction{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Direction: models.Outbound,
		Sender:    sender,
		Content:   content,
		ItemID:    itemID,
		CreatedAt: at,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Window returns the recent conversation oldest -> newest as provider messages.
func (s *Service) Window(ctx context.Context, sessionID string) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentDesc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}

	// reverse to ASC (oldest -> newest)
	out := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		role := ai.RoleAssistant
		if m.Direction == models.Inbound {
			role = ai.RoleUser
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]models.Interaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListBySession(ctx, sessionID, limit, beforeID)
}
