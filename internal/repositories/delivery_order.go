package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// DeliveryOrderRepository defines the persistence surface of delivery orders.
type DeliveryOrderRepository interface {
	Create(ctx context.Context, order *models.DeliveryOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, error)
	GetByName(ctx context.Context, name string) (*models.DeliveryOrder, error)
	// UpdateColumns writes the given columns, enforcing the frozen
	// allow-list: once an order is done or delivered only allow-listed
	// columns may change.
	UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error
	FindByState(ctx context.Context, state models.DOState) ([]models.DeliveryOrder, error)
}

type deliveryOrderRepository struct {
	db *gorm.DB
}

// NewDeliveryOrderRepository creates a new delivery order repository.
func NewDeliveryOrderRepository(db *gorm.DB) DeliveryOrderRepository {
	return &deliveryOrderRepository{db: db}
}

func (r *deliveryOrderRepository) Create(ctx context.Context, order *models.DeliveryOrder) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return errors.Wrap(err, "failed to create delivery order")
	}
	return nil
}

func (r *deliveryOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, error) {
	var order models.DeliveryOrder
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get delivery order")
	}
	return &order, nil
}

func (r *deliveryOrderRepository) GetByName(ctx context.Context, name string) (*models.DeliveryOrder, error) {
	var order models.DeliveryOrder
	err := r.db.WithContext(ctx).First(&order, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get delivery order by name")
	}
	return &order, nil
}

func (r *deliveryOrderRepository) UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	order, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if order.Frozen() {
		for col := range columns {
			if !models.FrozenWritable(col) {
				return errors.Wrapf(ErrFrozenMutation, "column %q", col)
			}
		}
	}

	result := r.db.WithContext(ctx).
		Model(&models.DeliveryOrder{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update delivery order")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *deliveryOrderRepository) FindByState(ctx context.Context, state models.DOState) ([]models.DeliveryOrder, error) {
	var orders []models.DeliveryOrder
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find delivery orders by state")
	}
	return orders, nil
}
