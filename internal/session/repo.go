package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// GetOrCreateUser returns the user for a channel address, creating it on
// first contact. Concurrent first contacts collapse onto the unique address.
func (r *Repo) GetOrCreateUser(ctx context.Context, address string) (*models.User, error) {
	address = strings.TrimSpace(address)
	u := &models.User{Address: address}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
		Create(u).Error; err != nil {
		return nil, err
	}
	var out models.User
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// LatestSession returns the user's most recent session, or nil when there is none.
func (r *Repo) LatestSession(ctx context.Context, userID uint64) (*models.Session, error) {
	var s models.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateSession(ctx context.Context, s *models.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) SaveSession(ctx context.Context, s *models.Session) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// conversationColumns are the session columns owned by the inbound path.
// Scheduler guards are left alone so a concurrent sweep is not overwritten.
var conversationColumns = []string{
	"lifecycle", "phase",
	"mood", "genres", "platforms", "story_preference",
	"gameplay_keywords", "preference_keywords", "dislike_keywords", "favorite_games",
	"rejected_games", "last_recommended_item_id", "served_count", "rejected_count",
	"asked_signals", "discovery_round", "discovery_questions", "refinement_asked", "user_replies",
	"ask_confirmation", "game_accepted_at",
	"clarification_status", "clarification_asked_at", "clarification_nudged_at",
	"awaiting_reply", "session_closed", "last_activity_at",
}

// SaveConversation persists the phase machine's view of the session. While
// no game is accepted the follow-up guards are re-armed for the next
// acceptance.
func (r *Repo) SaveConversation(ctx context.Context, s *models.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(s).Select(conversationColumns).Updates(s).Error; err != nil {
			return err
		}
		if s.GameAcceptedAt != nil {
			return nil
		}
		s.OpinionAskedAt = nil
		s.DelayedFollowupSent = false
		return tx.Model(&models.Session{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{
				"opinion_asked_at":      nil,
				"delayed_followup_sent": false,
			}).Error
	})
}

// SaveProfile persists preference fields merged from classified messages.
func (r *Repo) SaveProfile(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Model(u).
		Select("name", "age", "story_preference", "playtime_preference", "favorite_games", "rejected_genres", "opted_out").
		Updates(u).Error
}

// Touch marks the session active at now.
func (r *Repo) Touch(ctx context.Context, s *models.Session, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"lifecycle":        models.LifecycleActive,
			"last_activity_at": now,
		}).Error
}

func (r *Repo) SetLifecycle(ctx context.Context, id uint64, state models.LifecycleState) error {
	return r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("lifecycle", state).Error
}

func (r *Repo) MarkOutbound(ctx context.Context, id uint64, at time.Time, awaitingReply bool) error {
	return r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_outbound_at": at,
			"awaiting_reply":   awaitingReply,
		}).Error
}

// ListOpen returns sessions the engagement sweep still cares about.
func (r *Repo) ListOpen(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []models.Session
	if err := r.db.WithContext(ctx).
		Where("session_closed = ? AND phase <> ? AND lifecycle <> ?", false, models.PhaseEnding, models.LifecycleClosed).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecordObservations appends per-day preference sightings; repeats on the
// same day are dropped by the unique index.
func (r *Repo) RecordObservations(ctx context.Context, userID uint64, day string, kind models.ObservationKind, values []string) error {
	rows := make([]models.UserObservation, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		rows = append(rows, models.UserObservation{UserID: userID, Day: day, Kind: kind, Value: v})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *Repo) ListObservations(ctx context.Context, userID uint64, kind models.ObservationKind) ([]models.UserObservation, error) {
	var out []models.UserObservation
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
