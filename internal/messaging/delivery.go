package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/playmate/internal/common"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
)

type DeliveryRepo struct {
	db *gorm.DB
}

func NewDeliveryRepo(db *gorm.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

func (r *DeliveryRepo) Create(ctx context.Context, d *models.Delivery) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ClaimRunning moves a delivery from queued (or failed, on retry) to running.
// claimed is false when another worker holds it or it already succeeded.
func (r *DeliveryRepo) ClaimRunning(ctx context.Context, id string) (claimed bool, err error) {
	res := r.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status IN ?", id, []models.DeliveryStatus{models.DeliveryQueued, models.DeliveryFailed}).
		Update("status", models.DeliveryRunning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *DeliveryRepo) MarkSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": models.DeliverySucceeded,
			"error":  nil,
		}).Error
}

func (r *DeliveryRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": models.DeliveryFailed,
			"error":  errMsg,
		}).Error
}

// Publisher hands a delivery id to the queue.
type Publisher interface {
	PublishDelivery(ctx context.Context, deliveryID string) error
}

// QueuedSender persists each outbound message as a Delivery row and
// publishes its id; a worker performs the actual channel call.
type QueuedSender struct {
	repo      *DeliveryRepo
	publisher Publisher
	userIDs   func(ctx context.Context, address string) (uint64, error)
}

func NewQueuedSender(repo *DeliveryRepo, publisher Publisher, userIDs func(ctx context.Context, address string) (uint64, error)) *QueuedSender {
	return &QueuedSender{repo: repo, publisher: publisher, userIDs: userIDs}
}

func (s *QueuedSender) Send(ctx context.Context, address, text string) error {
	id, err := common.NewULID()
	if err != nil {
		return err
	}
	var userID uint64
	if s.userIDs != nil {
		if userID, err = s.userIDs(ctx, address); err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}
	}
	d := &models.Delivery{
		ID:      id,
		UserID:  userID,
		Address: address,
		Content: text,
		Status:  models.DeliveryQueued,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	if err := s.publisher.PublishDelivery(ctx, id); err != nil {
		_ = s.repo.MarkFailed(ctx, id, err.Error())
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

// Deliverer is the worker side: it sends one queued Delivery through the channel.
type Deliverer struct {
	repo    *DeliveryRepo
	channel Sender
	log     *logger.Logger
}

func NewDeliverer(repo *DeliveryRepo, channel Sender, log *logger.Logger) *Deliverer {
	if log == nil {
		log = logger.Nop()
	}
	return &Deliverer{repo: repo, channel: channel, log: log.With("service", "Deliverer")}
}

// Handle is safe to call more than once for the same id: a delivery that
// already succeeded or is being sent elsewhere is skipped.
func (d *Deliverer) Handle(ctx context.Context, id string) error {
	claimed, err := d.repo.ClaimRunning(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		d.log.Debug("delivery not claimable, skipping", "delivery_id", id)
		return nil
	}

	row, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := d.channel.Send(ctx, row.Address, row.Content); err != nil {
		_ = d.repo.MarkFailed(ctx, id, err.Error())
		return err
	}
	return d.repo.MarkSucceeded(ctx, id)
}
