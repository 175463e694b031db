package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// VehicleRepository defines the persistence surface of vehicles.
type VehicleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.VehicleStatus) error
	SetUtilizationTarget(ctx context.Context, id uuid.UUID, target decimal.Decimal) error
}

type vehicleRepository struct {
	db *gorm.DB
}

// NewVehicleRepository creates a new vehicle repository.
func NewVehicleRepository(db *gorm.DB) VehicleRepository {
	return &vehicleRepository{db: db}
}

func (r *vehicleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	err := r.db.WithContext(ctx).First(&vehicle, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get vehicle")
	}
	return &vehicle, nil
}

func (r *vehicleRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.VehicleStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Vehicle{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to set vehicle status")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *vehicleRepository) SetUtilizationTarget(ctx context.Context, id uuid.UUID, target decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.Vehicle{}).
		Where("id = ?", id).
		Update("utilization_target", target)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to set vehicle utilization target")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DriverRepository defines the persistence surface of drivers.
type DriverRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.DriverStatus) error
}

type driverRepository struct {
	db *gorm.DB
}

// NewDriverRepository creates a new driver repository.
func NewDriverRepository(db *gorm.DB) DriverRepository {
	return &driverRepository{db: db}
}

func (r *driverRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	var driver models.Driver
	err := r.db.WithContext(ctx).First(&driver, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get driver")
	}
	return &driver, nil
}

func (r *driverRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.DriverStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Driver{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to set driver status")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaleLineRepository defines the persistence surface of grouped sale lines.
type SaleLineRepository interface {
	Create(ctx context.Context, line *models.SaleLine) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleLine, error)
	SetAnalyticAccount(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error
	MarkToInvoice(ctx context.Context, orderID uuid.UUID) error
}

type saleLineRepository struct {
	db *gorm.DB
}

// NewSaleLineRepository creates a new sale line repository.
func NewSaleLineRepository(db *gorm.DB) SaleLineRepository {
	return &saleLineRepository{db: db}
}

func (r *saleLineRepository) Create(ctx context.Context, line *models.SaleLine) error {
	if err := r.db.WithContext(ctx).Create(line).Error; err != nil {
		return errors.Wrap(err, "failed to create sale line")
	}
	return nil
}

func (r *saleLineRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleLine, error) {
	var lines []models.SaleLine
	err := r.db.WithContext(ctx).
		Where("delivery_order_id = ?", orderID).
		Order("created_at").
		Find(&lines).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find sale lines")
	}
	return lines, nil
}

func (r *saleLineRepository) SetAnalyticAccount(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.SaleLine{}).
		Where("id = ?", id).
		Update("analytic_account_id", accountID)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to set analytic account")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *saleLineRepository) MarkToInvoice(ctx context.Context, orderID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.SaleLine{}).
		Where("delivery_order_id = ?", orderID).
		Update("to_invoice", true).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark sale lines to invoice")
	}
	return nil
}

// AnalyticAccountRepository resolves cost-center tags by name.
type AnalyticAccountRepository interface {
	// GetOrCreateByName is idempotent: concurrent callers resolve to the
	// same account.
	GetOrCreateByName(ctx context.Context, name string) (*models.AnalyticAccount, error)
}

type analyticAccountRepository struct {
	db *gorm.DB
}

// NewAnalyticAccountRepository creates a new analytic account repository.
func NewAnalyticAccountRepository(db *gorm.DB) AnalyticAccountRepository {
	return &analyticAccountRepository{db: db}
}

func (r *analyticAccountRepository) GetOrCreateByName(ctx context.Context, name string) (*models.AnalyticAccount, error) {
	var account models.AnalyticAccount
	err := r.db.WithContext(ctx).
		Where(models.AnalyticAccount{Name: name}).
		Attrs(models.AnalyticAccount{ID: uuid.New()}).
		FirstOrCreate(&account).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get or create analytic account")
	}
	return &account, nil
}
