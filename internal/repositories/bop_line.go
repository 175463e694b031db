package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// BOPLineRepository defines the persistence surface of BOP lines.
type BOPLineRepository interface {
	Create(ctx context.Context, line *models.BOPLine) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BOPLine, error)
	// FindByOrder returns every line of the order, oldest first.
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error)
	// FindActiveByOrder returns the non-cancelled, non-additional-cost
	// lines that participate in percentage and amount sums.
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error)
	UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error
	// Delete removes a line unless it has reached the final tier.
	Delete(ctx context.Context, id uuid.UUID) error
}

type bopLineRepository struct {
	db *gorm.DB
}

// NewBOPLineRepository creates a new BOP line repository.
func NewBOPLineRepository(db *gorm.DB) BOPLineRepository {
	return &bopLineRepository{db: db}
}

func (r *bopLineRepository) Create(ctx context.Context, line *models.BOPLine) error {
	if err := r.db.WithContext(ctx).Create(line).Error; err != nil {
		return errors.Wrap(err, "failed to create bop line")
	}

	// The human-readable number is derived from the generated sequence so
	// it is unique without a separate counter table.
	line.Number = fmt.Sprintf("BOP/%d/%05d", time.Now().Year(), line.Seq)
	err := r.db.WithContext(ctx).
		Model(&models.BOPLine{}).
		Where("id = ?", line.ID).
		Update("number", line.Number).Error
	if err != nil {
		return errors.Wrap(err, "failed to assign bop line number")
	}
	return nil
}

func (r *bopLineRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BOPLine, error) {
	var line models.BOPLine
	err := r.db.WithContext(ctx).First(&line, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get bop line")
	}
	return &line, nil
}

func (r *bopLineRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error) {
	var lines []models.BOPLine
	err := r.db.WithContext(ctx).
		Where("delivery_order_id = ?", orderID).
		Order("seq").
		Find(&lines).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find bop lines")
	}
	return lines, nil
}

func (r *bopLineRepository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error) {
	var lines []models.BOPLine
	err := r.db.WithContext(ctx).
		Where("delivery_order_id = ? AND state <> ? AND is_additional_cost = ?",
			orderID, models.BOPStateCancel, false).
		Order("seq").
		Find(&lines).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active bop lines")
	}
	return lines, nil
}

func (r *bopLineRepository) UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.BOPLine{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update bop line")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bopLineRepository) Delete(ctx context.Context, id uuid.UUID) error {
	line, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if line.Final() {
		return ErrLineImmutable
	}
	if err := r.db.WithContext(ctx).Delete(&models.BOPLine{}, "id = ?", id).Error; err != nil {
		return errors.Wrap(err, "failed to delete bop line")
	}
	return nil
}
