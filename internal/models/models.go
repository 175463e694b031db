package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DocType identifies the document kind a tier definition or review applies to.
type DocType string

const (
	DocTypeDeliveryOrder DocType = "delivery.order"
	DocTypeBOPLine       DocType = "bop.line"
)

// DOState is the approval state of a delivery order.
type DOState string

const (
	DOStateDraft         DOState = "draft"
	DOStateToApprove     DOState = "to_approve"
	DOStateApprovedOpSpv DOState = "approved_operation_spv"
	DOStateApprovedCash  DOState = "approved_cashier"
	DOStateApprovedADH   DOState = "approved_adh"
	DOStateApprovedKacab DOState = "approved_by_kacab"
	DOStateDone          DOState = "done"
	DOStateCancel        DOState = "cancel"
)

// BOPState is the settlement state of a BOP line.
type BOPState string

const (
	BOPStateDraft         BOPState = "draft"
	BOPStateApprovedCash  BOPState = "approved_cashier"
	BOPStateApprovedADH   BOPState = "approved_adh"
	BOPStateApprovedKacab BOPState = "approved_by_kacab"
	BOPStateCancel        BOPState = "cancel"
)

// BopQuota controls how many non-additional-cost BOP lines a delivery
// order accepts.
type BopQuota string

const (
	BopQuotaFull    BopQuota = "full"    // single line for the whole budget
	BopQuotaPartial BopQuota = "partial" // at most two lines
	BopQuotaOpen    BopQuota = "open"    // unbounded
)

// ReviewStatus is the status of a tier review record.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// VehicleStatus tracks dispatch availability of a vehicle.
type VehicleStatus string

const (
	VehicleReady  VehicleStatus = "ready"
	VehicleBooked VehicleStatus = "booked"
)

// VehicleOwnership distinguishes company assets from vendor units. Only
// asset vehicles are announced to the external dispatch system.
type VehicleOwnership string

const (
	VehicleAsset  VehicleOwnership = "asset"
	VehicleVendor VehicleOwnership = "vendor"
)

// DriverStatus tracks dispatch availability of a driver.
type DriverStatus string

const (
	DriverReady  DriverStatus = "ready"
	DriverOnDuty DriverStatus = "on_duty"
)

// Vehicle represents a transport unit assignable to a delivery order.
type Vehicle struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt   `gorm:"index" json:"-"`
	LicensePlate      string           `gorm:"not null;uniqueIndex" json:"license_plate"`
	Status            VehicleStatus    `gorm:"not null;default:'ready'" json:"status"`
	Ownership         VehicleOwnership `gorm:"not null;default:'asset'" json:"ownership"`
	UtilizationTarget decimal.Decimal  `gorm:"type:numeric" json:"utilization_target"`
}

// Driver represents a driver assignable to a delivery order.
type Driver struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Status    DriverStatus   `gorm:"not null;default:'ready'" json:"status"`
}

// AnalyticAccount is a cost-center tag attached to sale lines when the
// operation supervisor approves a delivery order.
type AnalyticAccount struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
}

// DeliveryOrder is the dispatch record linking a vehicle and driver to a
// group of sale lines for one physical delivery.
type DeliveryOrder struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
	Name              string          `gorm:"not null;uniqueIndex" json:"name"`
	CompanyID         uuid.UUID       `gorm:"type:uuid;not null" json:"company_id"`
	State             DOState         `gorm:"not null;default:'draft';index" json:"state"`
	VehicleID         *uuid.UUID      `gorm:"type:uuid" json:"vehicle_id"`
	Vehicle           *Vehicle        `gorm:"foreignKey:VehicleID" json:"-"`
	DriverID          *uuid.UUID      `gorm:"type:uuid" json:"driver_id"`
	Driver            *Driver         `gorm:"foreignKey:DriverID" json:"-"`
	Nominal           decimal.Decimal `gorm:"type:numeric;not null" json:"nominal"`
	BopPaid           decimal.Decimal `gorm:"type:numeric;not null" json:"bop_paid"`
	BopPercentagePaid decimal.Decimal `gorm:"type:numeric;not null" json:"bop_percentage_paid"`
	BopQuota          BopQuota        `gorm:"column:bop_state;not null;default:'open'" json:"bop_state"`
	StatusDo          string          `gorm:"not null;default:'draft'" json:"status_do"`
	ReviewerID        *uuid.UUID      `gorm:"type:uuid" json:"reviewer_id"`
	LoadingLocation   string          `json:"loading_location"`
	UnloadingLocation string          `json:"unloading_location"`
	Delivered         bool            `gorm:"not null;default:false" json:"delivered"`
	SaleLines         []SaleLine      `gorm:"foreignKey:DeliveryOrderID" json:"-"`
	BOPLines          []BOPLine       `gorm:"foreignKey:DeliveryOrderID;constraint:OnDelete:CASCADE" json:"-"`
}

// BopUnpaid returns the remaining entitlement not yet allocated to lines.
func (d *DeliveryOrder) BopUnpaid() decimal.Decimal {
	return d.Nominal.Ceil().Sub(d.BopPaid)
}

// Frozen reports whether the order may only be mutated through the
// allow-list: done orders and delivered orders are sealed.
func (d *DeliveryOrder) Frozen() bool {
	return d.State == DOStateDone || d.Delivered
}

// frozenAllowList are the only columns writable once an order is frozen.
var frozenAllowList = map[string]struct{}{
	"bop_paid":            {},
	"bop_percentage_paid": {},
	"status_do":           {},
	"reviewer_id":         {},
	"delivered":           {},
	"updated_at":          {},
}

// FrozenWritable reports whether a column may be written on a frozen order.
func FrozenWritable(column string) bool {
	_, ok := frozenAllowList[column]
	return ok
}

// SaleLine is a sale order line grouped into a delivery order. It carries
// the cost-center tag stamped at operation-supervisor approval.
type SaleLine struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeliveryOrderID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"delivery_order_id"`
	SaleOrderRef      string           `gorm:"not null" json:"sale_order_ref"`
	ProductRef        string           `gorm:"not null" json:"product_ref"`
	Subtotal          decimal.Decimal  `gorm:"type:numeric;not null" json:"subtotal"`
	AnalyticAccountID *uuid.UUID       `gorm:"type:uuid" json:"analytic_account_id"`
	AnalyticAccount   *AnalyticAccount `gorm:"foreignKey:AnalyticAccountID" json:"-"`
	ToInvoice         bool             `gorm:"not null;default:false" json:"to_invoice"`
}

// BOPLine is one slice of the trip-cost budget allocated against a
// delivery order.
type BOPLine struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Seq              int64           `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	Number           string          `gorm:"uniqueIndex" json:"number"`
	DeliveryOrderID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"delivery_order_id"`
	DeliveryOrder    *DeliveryOrder  `gorm:"foreignKey:DeliveryOrderID" json:"-"`
	PercentagePaid   decimal.Decimal `gorm:"type:numeric;not null" json:"percentage_paid"`
	AmountPaid       decimal.Decimal `gorm:"type:numeric;not null" json:"amount_paid"`
	State            BOPState        `gorm:"not null;default:'draft';index" json:"state"`
	IsSettlement     bool            `gorm:"not null;default:false" json:"is_settlement"`
	IsAdditionalCost bool            `gorm:"not null;default:false" json:"is_additional_cost"`
	RequesterID      *uuid.UUID      `gorm:"type:uuid" json:"requester_id"`
}

// Active reports whether the line participates in percentage and amount
// sums: cancelled and additional-cost lines are excluded.
func (l *BOPLine) Active() bool {
	return l.State != BOPStateCancel && !l.IsAdditionalCost
}

// Final reports whether the line has reached the last settlement tier and
// is therefore immutable to deletion or detachment.
func (l *BOPLine) Final() bool {
	return l.State == BOPStateApprovedKacab
}

// TierDefinition maps a (document type, target state) pair to the reviewer
// required to sign that stage off. Read-mostly reference data.
type TierDefinition struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	DocType         DocType        `gorm:"not null;index:idx_tier_doc_state" json:"doc_type"`
	TargetState     string         `gorm:"not null;index:idx_tier_doc_state" json:"target_state"`
	ReviewerRole    string         `json:"reviewer_role"`
	ReviewerID      *uuid.UUID     `gorm:"type:uuid" json:"reviewer_id"`
	CommentRequired bool           `gorm:"not null;default:true" json:"comment_required"`
	Active          bool           `gorm:"not null;default:true" json:"active"`
}

// Restricted reports whether the tier is pinned to one specific reviewer
// rather than any holder of the role.
func (t *TierDefinition) Restricted() bool {
	return t.ReviewerID != nil
}

// TierReview is the append-only audit record of one approval or rejection
// decision at one tier. Rows are never physically removed.
type TierReview struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	DocType     DocType      `gorm:"not null;index:idx_review_doc" json:"doc_type"`
	DocID       uuid.UUID    `gorm:"type:uuid;not null;index:idx_review_doc" json:"doc_id"`
	TargetState string       `gorm:"not null" json:"target_state"`
	Status      ReviewStatus `gorm:"not null;default:'pending';index" json:"status"`
	RequesterID uuid.UUID    `gorm:"type:uuid;not null" json:"requester_id"`
	ReviewerID  uuid.UUID    `gorm:"type:uuid;not null" json:"reviewer_id"`
	Comment     string       `json:"comment"`
	DecidedAt   *time.Time   `json:"decided_at"`
}

// OutboxMessage is a dispatch-system notification persisted inside the
// approval transaction and published after commit. Keeps the external TMS
// call out of the financial transaction.
type OutboxMessage struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	Topic     string     `gorm:"not null" json:"topic"`
	DocRef    string     `gorm:"not null;index" json:"doc_ref"`
	Payload   []byte     `gorm:"type:jsonb;not null" json:"payload"`
	Sent      bool       `gorm:"not null;default:false;index" json:"sent"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError string     `json:"last_error"`
	SentAt    *time.Time `json:"sent_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Vehicle{},
		&Driver{},
		&AnalyticAccount{},
		&DeliveryOrder{},
		&SaleLine{},
		&BOPLine{},
		&TierDefinition{},
		&TierReview{},
		&OutboxMessage{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
