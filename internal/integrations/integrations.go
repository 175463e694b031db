package integrations

import (
	"context"

	"github.com/google/uuid"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// Actor is a user resolved from the external directory. The service never
// manages role-to-user mapping itself.
type Actor struct {
	ID   uuid.UUID
	Role string
	Name string
}

// ReviewerDirectory resolves the concrete reviewer for a tier whose
// definition names a role rather than a specific user.
type ReviewerDirectory interface {
	ReviewerFor(ctx context.Context, docType models.DocType, targetState, role string) (*Actor, error)
}

// TaskNotifier schedules and closes review tasks for approvers. It is
// best-effort: callers log failures and proceed, a lost task never aborts
// a transition.
type TaskNotifier interface {
	Schedule(ctx context.Context, reviewer Actor, docRef, summary string) error
	Close(ctx context.Context, reviewerID uuid.UUID, docRef string) error
	CloseAll(ctx context.Context, docRef string) error
}

// DispatchSystemClient posts delivery order status to the external TMS.
// Called only for asset vehicles at branch-head approval, always after
// the approval transaction has committed.
type DispatchSystemClient interface {
	PostStatus(ctx context.Context, doRef string, payload []byte) error
}

// PurchaseOrderGenerator asks the purchasing module to generate the trip
// purchase order when the operation supervisor signs off. Best-effort.
type PurchaseOrderGenerator interface {
	Generate(ctx context.Context, order *models.DeliveryOrder) error
}

// CostCenterResolver supplies the analytic (cost-center) account attached
// to order lines, created on first use by name.
type CostCenterResolver interface {
	Resolve(ctx context.Context, descriptor string) (*models.AnalyticAccount, error)
}
