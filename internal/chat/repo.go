package chat

import (
	"context"
	"errors"

	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when an idempotency key was already recorded.
var ErrDuplicate = errors.New("chat: duplicate interaction")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Insert(ctx context.Context, m *models.Interaction) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// InsertOrGetExisting tries to insert, but if the idempotency key already
// exists it returns the stored interaction and created=false.
func (r *Repo) InsertOrGetExisting(ctx context.Context, m *models.Interaction) (*models.Interaction, bool, error) {
	if m.IdempotencyKey == nil || *m.IdempotencyKey == "" {
		m.IdempotencyKey = nil
		if err := r.Insert(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	}

	err := r.Insert(ctx, m)
	if err == nil {
		return m, true, nil
	}

	var existing models.Interaction
	getErr := r.db.WithContext(ctx).
		Where("idempotency_key = ?", *m.IdempotencyKey).
		First(&existing).Error
	if getErr == nil {
		return &existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// ListRecentDesc returns the most recent interactions in DESC id order (newest -> oldest).
func (r *Repo) ListRecentDesc(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.Interaction
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListBySession returns interactions in DESC id order, paged by beforeID.
func (r *Repo) ListBySession(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]models.Interaction, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var out []models.Interaction
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountInbound(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Interaction{}).
		Where("session_id = ? AND direction = ?", sessionID, models.Inbound).
		Count(&n).Error
	return n, err
}
