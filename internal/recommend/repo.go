package recommend

import (
	"context"
	"errors"
	"strings"

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

// ListItems returns the catalog in id order.
func (r *Repo) ListItems(ctx context.Context) ([]*models.Item, error) {
	var out []*models.Item
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetItem(ctx context.Context, id uint64) (*models.Item, error) {
	var it models.Item
	if err := r.db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// FindItemByTitle matches case-insensitively; nil when absent.
func (r *Repo) FindItemByTitle(ctx context.Context, title string) (*models.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}
	var it models.Item
	err := r.db.WithContext(ctx).Where("LOWER(title) = LOWER(?)", title).First(&it).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// RecommendedItemIDs lists every item already served in the session.
func (r *Repo) RecommendedItemIDs(ctx context.Context, sessionID string) ([]uint64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).Model(&models.Recommendation{}).
		Where("session_id = ?", sessionID).
		Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// LastAcceptedElsewhere returns the item most recently accepted by the user
// in any other session, or nil.
func (r *Repo) LastAcceptedElsewhere(ctx context.Context, userID uint64, sessionID string) (*models.Item, error) {
	var rec models.Recommendation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id <> ? AND accepted = ?", userID, sessionID, true).
		Order("updated_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetItem(ctx, rec.ItemID)
}

// Insert stores a recommendation record. A concurrent duplicate for the same
// (session, item) is treated as success; inserted reports which happened.
func (r *Repo) Insert(ctx context.Context, rec *models.Recommendation) (inserted bool, err error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetAccepted records feedback on the session's recommendation of itemID.
func (r *Repo) SetAccepted(ctx context.Context, sessionID string, itemID uint64, accepted bool) error {
	return r.db.WithContext(ctx).Model(&models.Recommendation{}).
		Where("session_id = ? AND item_id = ?", sessionID, itemID).
		Update("accepted", accepted).Error
}

// Forget removes a recommendation that never reached the user so the item
// stays eligible in the session. Answered records are kept.
func (r *Repo) Forget(ctx context.Context, sessionID string, itemID uint64) error {
	return r.db.WithContext(ctx).
		Where("session_id = ? AND item_id = ? AND accepted IS NULL", sessionID, itemID).
		Delete(&models.Recommendation{}).Error
}

func (r *Repo) ListForSession(ctx context.Context, sessionID string) ([]models.Recommendation, error) {
	var out []models.Recommendation
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
