package workflow

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

// OutboxTopicDispatchStatus is the outbox topic the worker drains to the
// external dispatch system.
const OutboxTopicDispatchStatus = "tms.delivery_order.status"

// OrderCache is the read-side cache for delivery orders. Optional and
// best-effort.
type OrderCache interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, bool)
	SetOrder(ctx context.Context, order *models.DeliveryOrder) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// OrderIndexer projects delivery orders and their approval trail into the
// search index. Optional and best-effort.
type OrderIndexer interface {
	IndexDeliveryOrder(ctx context.Context, order *models.DeliveryOrder, trail []models.TierReview) error
}

// DOWorkflow drives the delivery order approval chain: draft, request,
// operation supervisor, cashier, administration head, branch head, done.
// From cashier on, each order approval also advances the order's budget
// line one settlement step inside the same transaction.
type DOWorkflow struct {
	store       repositories.Store
	bop         *BOPWorkflow
	chain       approvalChain
	costCenters integrations.CostCenterResolver
	purchasing  integrations.PurchaseOrderGenerator
	cache       OrderCache
	indexer     OrderIndexer
}

// NewDOWorkflow creates the delivery order workflow. cache and indexer may
// be nil when the deployment runs without Redis or Elasticsearch.
func NewDOWorkflow(
	store repositories.Store,
	bop *BOPWorkflow,
	directory integrations.ReviewerDirectory,
	notifier integrations.TaskNotifier,
	costCenters integrations.CostCenterResolver,
	purchasing integrations.PurchaseOrderGenerator,
	cache OrderCache,
	indexer OrderIndexer,
) *DOWorkflow {
	return &DOWorkflow{
		store: store,
		bop:   bop,
		chain: approvalChain{
			docType:   models.DocTypeDeliveryOrder,
			directory: directory,
			notifier:  notifier,
		},
		costCenters: costCenters,
		purchasing:  purchasing,
		cache:       cache,
		indexer:     indexer,
	}
}

// SaleLineInput is one sale order line grouped into a new delivery order.
type SaleLineInput struct {
	SaleOrderRef string
	ProductRef   string
	Subtotal     decimal.Decimal
}

// CreateOrderRequest carries everything needed to open a delivery order in
// draft. When Nominal is zero the order's entitlement is derived from the
// sale line subtotals.
type CreateOrderRequest struct {
	Name              string
	CompanyID         uuid.UUID
	VehicleID         *uuid.UUID
	DriverID          *uuid.UUID
	Nominal           decimal.Decimal
	Quota             models.BopQuota
	LoadingLocation   string
	UnloadingLocation string
	SaleLines         []SaleLineInput
}

// CreateFromSaleLines opens a delivery order in draft with its grouped
// sale lines and the unallocated budget placeholder the first allocation
// will fill.
func (w *DOWorkflow) CreateFromSaleLines(ctx context.Context, req CreateOrderRequest, caller integrations.Actor) (*models.DeliveryOrder, error) {
	nominal := req.Nominal
	if nominal.LessThanOrEqual(decimal.Zero) {
		nominal = decimal.Zero
		for _, l := range req.SaleLines {
			nominal = nominal.Add(l.Subtotal)
		}
	}

	quota := req.Quota
	if quota == "" {
		quota = models.BopQuotaOpen
	}

	order := &models.DeliveryOrder{
		ID:                uuid.New(),
		Name:              req.Name,
		CompanyID:         req.CompanyID,
		State:             models.DOStateDraft,
		VehicleID:         req.VehicleID,
		DriverID:          req.DriverID,
		Nominal:           nominal,
		BopPaid:           decimal.Zero,
		BopPercentagePaid: decimal.Zero,
		BopQuota:          quota,
		StatusDo:          string(models.DOStateDraft),
		LoadingLocation:   req.LoadingLocation,
		UnloadingLocation: req.UnloadingLocation,
	}
	if err := w.store.DeliveryOrders().Create(ctx, order); err != nil {
		return nil, err
	}

	for _, input := range req.SaleLines {
		line := &models.SaleLine{
			ID:              uuid.New(),
			DeliveryOrderID: order.ID,
			SaleOrderRef:    input.SaleOrderRef,
			ProductRef:      input.ProductRef,
			Subtotal:        input.Subtotal,
		}
		if err := w.store.SaleLines().Create(ctx, line); err != nil {
			return nil, err
		}
	}

	// The placeholder bypasses the allocation engine: a zero allocation is
	// degenerate by the engine's rules, but the order must carry a budget
	// line from birth so cashier approval has a line to settle.
	placeholder := &models.BOPLine{
		ID:              uuid.New(),
		DeliveryOrderID: order.ID,
		PercentagePaid:  decimal.Zero,
		AmountPaid:      decimal.Zero,
		State:           models.BOPStateDraft,
		RequesterID:     &caller.ID,
	}
	if err := w.store.BOPLines().Create(ctx, placeholder); err != nil {
		return nil, err
	}

	log.Info().
		Str("delivery_order", order.Name).
		Str("nominal", order.Nominal.String()).
		Int("sale_lines", len(req.SaleLines)).
		Msg("Delivery order created")
	return order, nil
}

// RequestApproval moves a draft order into the approval chain. The vehicle
// and driver are reserved immediately so no second order can book them
// while approvals are pending.
func (w *DOWorkflow) RequestApproval(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := store.DeliveryOrders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.State != models.DOStateDraft {
			return errors.Wrapf(ErrInvalidTransition, "delivery order %s: %s -> %s", order.Name, order.State, models.DOStateToApprove)
		}
		if order.VehicleID == nil {
			return errors.Wrapf(ErrVehicleRequired, "delivery order %s", order.Name)
		}

		if err := store.Vehicles().SetStatus(ctx, *order.VehicleID, models.VehicleBooked); err != nil {
			return err
		}
		if order.DriverID != nil {
			if err := store.Drivers().SetStatus(ctx, *order.DriverID, models.DriverOnDuty); err != nil {
				return err
			}
		}

		reviewer, err := w.chain.scheduleNext(ctx, store, order.ID, order.Name, string(models.DOStateApprovedOpSpv), caller)
		if err != nil {
			return err
		}
		if reviewer == nil {
			return errors.Wrapf(ErrReviewerMissing, "delivery order %s", order.Name)
		}

		return store.DeliveryOrders().UpdateColumns(ctx, orderID, map[string]interface{}{
			"state":       models.DOStateToApprove,
			"status_do":   string(models.DOStateToApprove),
			"reviewer_id": reviewer.ID,
		})
	})
	if err != nil {
		return err
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// ApproveOperationSupervisor signs off the dispatch plan. The vehicle's
// cost center is stamped on every sale line and the trip purchase order is
// requested from purchasing after commit.
func (w *DOWorkflow) ApproveOperationSupervisor(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	var approved *models.DeliveryOrder
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := w.approveStep(ctx, store, orderID, models.DOStateApprovedOpSpv, caller)
		if err != nil {
			return err
		}
		approved = order

		vehicle, err := store.Vehicles().GetByID(ctx, *order.VehicleID)
		if err != nil {
			return err
		}
		account, err := w.costCenters.Resolve(ctx, vehicle.LicensePlate)
		if err != nil {
			return errors.Wrap(err, "failed to resolve cost center")
		}

		saleLines, err := store.SaleLines().FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range saleLines {
			if err := store.SaleLines().SetAnalyticAccount(ctx, saleLines[i].ID, account.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Purchase order generation is best-effort: a purchasing outage must
	// not roll back the approval.
	if w.purchasing != nil {
		if err := w.purchasing.Generate(ctx, approved); err != nil {
			log.Warn().Err(err).Str("delivery_order", approved.Name).Msg("Failed to generate purchase order")
		}
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// ApproveCashier releases the budget. The order must carry a budget line,
// which advances to its cashier stage in the same transaction.
func (w *DOWorkflow) ApproveCashier(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		if _, err := w.approveStep(ctx, store, orderID, models.DOStateApprovedCash, caller); err != nil {
			return err
		}
		line, err := w.earliestActiveLine(ctx, store, orderID)
		if err != nil {
			return err
		}
		return w.bop.approveIn(ctx, store, line, models.BOPStateApprovedCash, caller)
	})
	if err != nil {
		return err
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// ApproveAdministrationHead verifies the released budget. The budget line
// advances in lockstep.
func (w *DOWorkflow) ApproveAdministrationHead(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		if _, err := w.approveStep(ctx, store, orderID, models.DOStateApprovedADH, caller); err != nil {
			return err
		}
		line, err := w.earliestActiveLine(ctx, store, orderID)
		if err != nil {
			return err
		}
		return w.bop.approveIn(ctx, store, line, models.BOPStateApprovedADH, caller)
	})
	if err != nil {
		return err
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// ApproveBranchHead gives the final sign-off. Loading and unloading
// locations must be filled, the budget line settles, and for company asset
// vehicles a dispatch notification is queued for delivery after commit.
func (w *DOWorkflow) ApproveBranchHead(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := store.DeliveryOrders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.LoadingLocation == "" || order.UnloadingLocation == "" {
			return errors.Wrapf(ErrLocationRequired, "delivery order %s", order.Name)
		}

		order, err = w.approveStep(ctx, store, orderID, models.DOStateApprovedKacab, caller)
		if err != nil {
			return err
		}

		line, err := w.earliestActiveLine(ctx, store, orderID)
		if err != nil {
			return err
		}
		if err := w.bop.approveIn(ctx, store, line, models.BOPStateApprovedKacab, caller); err != nil {
			return err
		}

		vehicle, err := store.Vehicles().GetByID(ctx, *order.VehicleID)
		if err != nil {
			return err
		}
		if vehicle.Ownership != models.VehicleAsset {
			return nil
		}

		payload, err := json.Marshal(map[string]interface{}{
			"name":               order.Name,
			"state":              order.State,
			"license_plate":      vehicle.LicensePlate,
			"loading_location":   order.LoadingLocation,
			"unloading_location": order.UnloadingLocation,
		})
		if err != nil {
			return errors.Wrap(err, "failed to marshal dispatch payload")
		}
		return store.Outbox().Enqueue(ctx, &models.OutboxMessage{
			ID:      uuid.New(),
			Topic:   OutboxTopicDispatchStatus,
			DocRef:  order.Name,
			Payload: payload,
		})
	})
	if err != nil {
		return err
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// Reject cancels the order at its current stage and returns the vehicle
// and driver to the pool.
func (w *DOWorkflow) Reject(ctx context.Context, orderID uuid.UUID, reason string, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := store.DeliveryOrders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.State {
		case models.DOStateDraft, models.DOStateCancel, models.DOStateDone:
			return errors.Wrapf(ErrInvalidTransition, "delivery order %s: %s", order.Name, order.State)
		}

		expected, ok := NextDOState(order.State)
		if !ok {
			return errors.Wrapf(ErrInvalidTransition, "delivery order %s: %s", order.Name, order.State)
		}

		// The final stage (done) carries no tier definition, so rejecting
		// a fully approved order is unrestricted. Every earlier stage gates
		// on its tier.
		if _, err := w.chain.authorize(ctx, store, string(expected), caller); err != nil {
			if !errors.Is(err, ErrReviewerMissing) {
				return err
			}
		}
		required, err := w.chain.commentRequired(ctx, store, string(expected))
		if err != nil {
			return err
		}
		if required && reason == "" {
			return errors.Wrapf(ErrCommentRequired, "stage %s", expected)
		}

		err = w.chain.recordRejection(ctx, store, order.ID, order.Name, string(expected), caller, reason)
		if err != nil {
			return err
		}

		if order.VehicleID != nil {
			if err := store.Vehicles().SetStatus(ctx, *order.VehicleID, models.VehicleReady); err != nil {
				return err
			}
		}
		if order.DriverID != nil {
			if err := store.Drivers().SetStatus(ctx, *order.DriverID, models.DriverReady); err != nil {
				return err
			}
		}

		return store.DeliveryOrders().UpdateColumns(ctx, orderID, map[string]interface{}{
			"state":       models.DOStateCancel,
			"status_do":   string(models.DOStateCancel),
			"reviewer_id": nil,
		})
	})
	if err != nil {
		return err
	}

	w.afterCommit(ctx, orderID)
	return nil
}

// MarkDone closes the order after the trip completes: sale lines become
// invoiceable, the vehicle's utilization credits the trip nominal, and the
// vehicle and driver return to the pool. Done orders are frozen except for
// settlement bookkeeping.
func (w *DOWorkflow) MarkDone(ctx context.Context, orderID uuid.UUID, caller integrations.Actor) error {
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := store.DeliveryOrders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.State != models.DOStateApprovedKacab {
			return errors.Wrapf(ErrInvalidTransition, "delivery order %s: %s -> %s", order.Name, order.State, models.DOStateDone)
		}

		if err := store.SaleLines().MarkToInvoice(ctx, orderID); err != nil {
			return err
		}

		if order.VehicleID != nil {
			vehicle, err := store.Vehicles().GetByID(ctx, *order.VehicleID)
			if err != nil {
				return err
			}
			target := vehicle.UtilizationTarget.Add(order.Nominal)
			if err := store.Vehicles().SetUtilizationTarget(ctx, vehicle.ID, target); err != nil {
				return err
			}
			if err := store.Vehicles().SetStatus(ctx, vehicle.ID, models.VehicleReady); err != nil {
				return err
			}
		}
		if order.DriverID != nil {
			if err := store.Drivers().SetStatus(ctx, *order.DriverID, models.DriverReady); err != nil {
				return err
			}
		}

		return store.DeliveryOrders().UpdateColumns(ctx, orderID, map[string]interface{}{
			"state":     models.DOStateDone,
			"status_do": string(models.DOStateDone),
			"delivered": true,
		})
	})
	if err != nil {
		return err
	}

	log.Info().Str("delivery_order_id", orderID.String()).Msg("Delivery order done")
	w.afterCommit(ctx, orderID)
	return nil
}

// GetOrder reads an order through the cache.
func (w *DOWorkflow) GetOrder(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, error) {
	if w.cache != nil {
		if order, ok := w.cache.GetOrder(ctx, id); ok {
			return order, nil
		}
	}

	order, err := w.store.DeliveryOrders().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.cache != nil {
		if err := w.cache.SetOrder(ctx, order); err != nil {
			log.Warn().Err(err).Str("delivery_order_id", id.String()).Msg("Failed to cache delivery order")
		}
	}
	return order, nil
}

// Trail returns the order's full approval audit trail, oldest first.
func (w *DOWorkflow) Trail(ctx context.Context, orderID uuid.UUID) ([]models.TierReview, error) {
	return w.store.Reviews().ListByDoc(ctx, models.DocTypeDeliveryOrder, orderID)
}

/// approveStep performs one forward transition of the order chain: table
// check, tier authorization, audit settlement, state write and next-stage
// scheduling. Returns the order with its new state applied.
func (w *DOWorkflow) approveStep(ctx context.Context, store repositories.Store, orderID uuid.UUID, target models.DOState, caller integrations.Actor) (*models.DeliveryOrder, error) {
	order, err := store.DeliveryOrders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next, ok := NextDOState(order.State)
	if !ok || next != target {
		return nil, errors.Wrapf(ErrInvalidTransition, "delivery order %s: %s -> %s", order.Name, order.State, target)
	}

	if _, err := w.chain.authorize(ctx, store, string(target), caller); err != nil {
		return nil, err
	}

	w.chain.closeTask(ctx, caller.ID, order.Name)
	if err := w.chain.settle(ctx, store, order.ID, string(target), models.ReviewApproved, "", caller); err != nil {
		return nil, err
	}

	columns := map[string]interface{}{
		"state":       target,
		"status_do":   string(target),
		"reviewer_id": nil,
	}
	if upcoming, ok := NextDOState(target); ok && upcoming != models.DOStateDone {
		reviewer, err := w.chain.scheduleNext(ctx, store, order.ID, order.Name, string(upcoming), caller)
		if err != nil {
			return nil, err
		}
		if reviewer != nil {
			columns["reviewer_id"] = reviewer.ID
		}
	}

	if err := store.DeliveryOrders().UpdateColumns(ctx, orderID, columns); err != nil {
		return nil, err
	}
	order.State = target
	order.StatusDo = string(target)

	log.Info().
		Str("delivery_order", order.Name).
		Str("state", string(target)).
		Str("reviewer_id", caller.ID.String()).
		Msg("Delivery order approved")
	return order, nil
}

// earliestActiveLine returns the order's oldest active budget line, the
// one the order chain settles in lockstep.
func (w *DOWorkflow) earliestActiveLine(ctx context.Context, store repositories.Store, orderID uuid.UUID) (*models.BOPLine, error) {
	lines, err := store.BOPLines().FindActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.Wrap(ErrBOPLineRequired, "delivery order has no active bop line")
	}
	return &lines[0], nil
}

// afterCommit refreshes the read-side projections. Both are best-effort:
// the database is the source of truth.
func (w *DOWorkflow) afterCommit(ctx context.Context, orderID uuid.UUID) {
	if w.cache != nil {
		if err := w.cache.Invalidate(ctx, orderID); err != nil {
			log.Warn().Err(err).Str("delivery_order_id", orderID.String()).Msg("Failed to invalidate order cache")
		}
	}

	if w.indexer == nil {
		return
	}
	order, err := w.store.DeliveryOrders().GetByID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("delivery_order_id", orderID.String()).Msg("Failed to reload order for indexing")
		return
	}
	trail, err := w.store.Reviews().ListByDoc(ctx, models.DocTypeDeliveryOrder, orderID)
	if err != nil {
		log.Warn().Err(err).Str("delivery_order", order.Name).Msg("Failed to load approval trail for indexing")
		trail = nil
	}
	if err := w.indexer.IndexDeliveryOrder(ctx, order, trail); err != nil {
		log.Warn().Err(err).Str("delivery_order", order.Name).Msg("Failed to index delivery order")
	}
}
