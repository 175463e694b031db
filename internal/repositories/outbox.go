package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// OutboxRepository stores dispatch notifications written inside workflow
// transactions and drained by the worker after commit.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *models.OutboxMessage) error
	FindUnsent(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg *models.OutboxMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return errors.Wrap(err, "failed to enqueue outbox message")
	}
	return nil
}

func (r *outboxRepository) FindUnsent(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var msgs []models.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("sent = ?", false).
		Order("created_at").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find unsent outbox messages")
	}
	return msgs, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"sent": true, "sent_at": &now})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark outbox message sent")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	result := r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to record outbox failure")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
