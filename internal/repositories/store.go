package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// Store bundles the repositories behind one persistence boundary. The
// workflow layer only ever talks to a Store, which lets tests swap in an
// in-memory fake.
type Store interface {
	DeliveryOrders() DeliveryOrderRepository
	BOPLines() BOPLineRepository
	SaleLines() SaleLineRepository
	Tiers() TierRepository
	Reviews() TierReviewRepository
	Vehicles() VehicleRepository
	Drivers() DriverRepository
	AnalyticAccounts() AnalyticAccountRepository
	Outbox() OutboxRepository

	// WithOrderLock runs fn inside one transaction while holding an
	// exclusive lock over the delivery order row and all of its BOP
	// lines. Allocation math reads across sibling lines, so they must be
	// locked together. The lock is released on every exit path: commit,
	// error and panic all unwind the transaction.
	WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(Store) error) error
}

// gormStore implements Store over a gorm connection or transaction.
type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database handle.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DeliveryOrders() DeliveryOrderRepository { return &deliveryOrderRepository{db: s.db} }
func (s *gormStore) BOPLines() BOPLineRepository             { return &bopLineRepository{db: s.db} }
func (s *gormStore) SaleLines() SaleLineRepository           { return &saleLineRepository{db: s.db} }
func (s *gormStore) Tiers() TierRepository                   { return &tierRepository{db: s.db} }
func (s *gormStore) Reviews() TierReviewRepository           { return &tierReviewRepository{db: s.db} }
func (s *gormStore) Vehicles() VehicleRepository             { return &vehicleRepository{db: s.db} }
func (s *gormStore) Drivers() DriverRepository               { return &driverRepository{db: s.db} }
func (s *gormStore) AnalyticAccounts() AnalyticAccountRepository {
	return &analyticAccountRepository{db: s.db}
}
func (s *gormStore) Outbox() OutboxRepository { return &outboxRepository{db: s.db} }

// WithOrderLock serializes every mutating allocation and transition for
// one delivery order. Two concurrent callers on the same order queue on
// the row lock; callers on different orders do not contend.
func (s *gormStore) WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.DeliveryOrder
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrap(ErrNotFound, "delivery order for lock")
			}
			return errors.Wrap(err, "failed to lock delivery order")
		}

		var lines []models.BOPLine
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("delivery_order_id = ?", orderID).
			Find(&lines).Error
		if err != nil {
			return errors.Wrap(err, "failed to lock bop lines")
		}

		return fn(&gormStore{db: tx})
	})
}
