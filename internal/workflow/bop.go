package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/allocation"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

// BOPWorkflow drives the trip-cost budget lines of a delivery order: line
// creation under the order quota, percentage edits while in draft, and the
// cashier / administration head / branch head settlement chain. Every
// mutating entry point runs under the order lock so sibling sums are
// consistent.
type BOPWorkflow struct {
	store repositories.Store
	chain approvalChain
}

// NewBOPWorkflow creates the BOP line workflow.
func NewBOPWorkflow(store repositories.Store, directory integrations.ReviewerDirectory, notifier integrations.TaskNotifier) *BOPWorkflow {
	return &BOPWorkflow{
		store: store,
		chain: approvalChain{
			docType:   models.DocTypeBOPLine,
			directory: directory,
			notifier:  notifier,
		},
	}
}

// CreateLineRequest carries the caller's allocation request. The persisted
// percentage and amount come from the allocation engine, which may clamp
// the request.
type CreateLineRequest struct {
	Percentage       decimal.Decimal
	IsAdditionalCost bool
}

// CreateLine allocates a new budget line against the order. The order's
// quota caps how many regular lines it accepts; additional-cost lines
// bypass both quota and the unpaid-balance cap and never count toward the
// order totals. The zero-percentage placeholder created with the order is
// filled in place by the first regular allocation.
func (w *BOPWorkflow) CreateLine(ctx context.Context, orderID uuid.UUID, req CreateLineRequest, caller integrations.Actor) (*models.BOPLine, error) {
	var created *models.BOPLine
	err := w.store.WithOrderLock(ctx, orderID, func(store repositories.Store) error {
		order, err := store.DeliveryOrders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		if req.IsAdditionalCost {
			line, err := w.createAdditionalCost(ctx, store, order, req, caller)
			if err != nil {
				return err
			}
			created = line
			return nil
		}

		lines, err := store.BOPLines().FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		placeholder := findPlaceholder(lines)
		if err := checkQuota(order, lines, placeholder); err != nil {
			return err
		}

		candidate := &models.BOPLine{DeliveryOrderID: orderID}
		if placeholder != nil {
			candidate = placeholder
		}

		siblings := withoutLine(lines, candidate.ID)
		alloc, err := allocation.Allocate(order, candidate, siblings, req.Percentage, false)
		if err != nil {
			return err
		}

		if placeholder != nil {
			err = store.BOPLines().UpdateColumns(ctx, placeholder.ID, map[string]interface{}{
				"percentage_paid": alloc.Percentage,
				"amount_paid":     alloc.Amount,
				"requester_id":    caller.ID,
			})
			if err != nil {
				return err
			}
			placeholder.PercentagePaid = alloc.Percentage
			placeholder.AmountPaid = alloc.Amount
			created = placeholder
		} else {
			line := &models.BOPLine{
				ID:              uuid.New(),
				DeliveryOrderID: orderID,
				PercentagePaid:  alloc.Percentage,
				AmountPaid:      alloc.Amount,
				State:           models.BOPStateDraft,
				IsSettlement:    order.State == models.DOStateDone,
				RequesterID:     &caller.ID,
			}
			if err := store.BOPLines().Create(ctx, line); err != nil {
				return err
			}
			created = line
		}

		return w.recomputeOrderTotals(ctx, store, order)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("delivery_order_id", orderID.String()).
		Str("bop_line", created.Number).
		Str("percentage", created.PercentagePaid.String()).
		Str("amount", created.AmountPaid.String()).
		Msg("BOP line allocated")
	return created, nil
}

// createAdditionalCost books an out-of-budget cost line. The amount is
// computed straight from the nominal with the general rounding policy and
// the line stays out of the order's percentage and amount sums.
func (w *BOPWorkflow) createAdditionalCost(ctx context.Context, store repositories.Store, order *models.DeliveryOrder, req CreateLineRequest, caller integrations.Actor) (*models.BOPLine, error) {
	amount := allocation.RoundMoney(req.Percentage.Div(decimal.NewFromInt(100)).Mul(order.Nominal))
	line := &models.BOPLine{
		ID:               uuid.New(),
		DeliveryOrderID:  order.ID,
		PercentagePaid:   req.Percentage,
		AmountPaid:       amount,
		State:            models.BOPStateDraft,
		IsSettlement:     order.State == models.DOStateDone,
		IsAdditionalCost: true,
		RequesterID:      &caller.ID,
	}
	if err := store.BOPLines().Create(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// UpdatePercentage re-allocates a draft line. Lines past draft carry
// approved figures and are immutable.
func (w *BOPWorkflow) UpdatePercentage(ctx context.Context, lineID uuid.UUID, requested decimal.Decimal, caller integrations.Actor) (*models.BOPLine, error) {
	var updated *models.BOPLine
	line, err := w.store.BOPLines().GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}

	err = w.store.WithOrderLock(ctx, line.DeliveryOrderID, func(store repositories.Store) error {
		line, err := store.BOPLines().GetByID(ctx, lineID)
		if err != nil {
			return err
		}
		if line.State != models.BOPStateDraft {
			return errors.Wrap(repositories.ErrLineImmutable, "only draft lines may be re-allocated")
		}

		order, err := store.DeliveryOrders().GetByID(ctx, line.DeliveryOrderID)
		if err != nil {
			return err
		}
		lines, err := store.BOPLines().FindByOrder(ctx, line.DeliveryOrderID)
		if err != nil {
			return err
		}

		if line.IsAdditionalCost {
			amount := allocation.RoundMoney(requested.Div(decimal.NewFromInt(100)).Mul(order.Nominal))
			err = store.BOPLines().UpdateColumns(ctx, lineID, map[string]interface{}{
				"percentage_paid": requested,
				"amount_paid":     amount,
			})
			if err != nil {
				return err
			}
			line.PercentagePaid = requested
			line.AmountPaid = amount
			updated = line
			return nil
		}

		alloc, err := allocation.Allocate(order, line, withoutLine(lines, lineID), requested, false)
		if err != nil {
			return err
		}

		err = store.BOPLines().UpdateColumns(ctx, lineID, map[string]interface{}{
			"percentage_paid": alloc.Percentage,
			"amount_paid":     alloc.Amount,
		})
		if err != nil {
			return err
		}
		line.PercentagePaid = alloc.Percentage
		line.AmountPaid = alloc.Amount
		updated = line

		return w.recomputeOrderTotals(ctx, store, order)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Approve moves a line one step along the settlement chain.
func (w *BOPWorkflow) Approve(ctx context.Context, lineID uuid.UUID, target models.BOPState, caller integrations.Actor) error {
	line, err := w.store.BOPLines().GetByID(ctx, lineID)
	if err != nil {
		return err
	}

	return w.store.WithOrderLock(ctx, line.DeliveryOrderID, func(store repositories.Store) error {
		line, err := store.BOPLines().GetByID(ctx, lineID)
		if err != nil {
			return err
		}
		return w.approveIn(ctx, store, line, target, caller)
	})
}

// approveIn performs one settlement transition inside an already-held
// order lock. The delivery order workflow delegates to it so the cashier,
// administration head and branch head approvals advance the order and its
// budget line in the same transaction.
func (w *BOPWorkflow) approveIn(ctx context.Context, store repositories.Store, line *models.BOPLine, target models.BOPState, caller integrations.Actor) error {
	next, ok := NextBOPState(line.State)
	if !ok || next != target {
		return errors.Wrapf(ErrInvalidTransition, "bop line %s: %s -> %s", line.Number, line.State, target)
	}

	if _, err := w.chain.authorize(ctx, store, string(target), caller); err != nil {
		return err
	}

	w.chain.closeTask(ctx, caller.ID, line.Number)
	if err := w.chain.settle(ctx, store, line.ID, string(target), models.ReviewApproved, "", caller); err != nil {
		return err
	}

	err := store.BOPLines().UpdateColumns(ctx, line.ID, map[string]interface{}{"state": target})
	if err != nil {
		return err
	}
	line.State = target

	if upcoming, ok := NextBOPState(target); ok {
		_, err = w.chain.scheduleNext(ctx, store, line.ID, line.Number, string(upcoming), caller)
		if err != nil {
			return err
		}
	}

	log.Info().
		Str("bop_line", line.Number).
		Str("state", string(target)).
		Str("reviewer_id", caller.ID.String()).
		Msg("BOP line approved")
	return nil
}

// Reject cancels a line at its current stage. The line keeps its figures
// as audit history, but the order totals are recomputed from the remaining
// active lines so future allocations reclaim its share.
func (w *BOPWorkflow) Reject(ctx context.Context, lineID uuid.UUID, reason string, caller integrations.Actor) error {
	line, err := w.store.BOPLines().GetByID(ctx, lineID)
	if err != nil {
		return err
	}

	return w.store.WithOrderLock(ctx, line.DeliveryOrderID, func(store repositories.Store) error {
		line, err := store.BOPLines().GetByID(ctx, lineID)
		if err != nil {
			return err
		}
		if line.Final() {
			return errors.Wrapf(ErrInvalidTransition, "bop line %s is settled", line.Number)
		}
		if line.State == models.BOPStateCancel {
			return errors.Wrapf(ErrInvalidTransition, "bop line %s is already cancelled", line.Number)
		}

		expected, ok := NextBOPState(line.State)
		if !ok {
			return errors.Wrapf(ErrInvalidTransition, "bop line %s: %s", line.Number, line.State)
		}

		if _, err := w.chain.authorize(ctx, store, string(expected), caller); err != nil {
			return err
		}
		required, err := w.chain.commentRequired(ctx, store, string(expected))
		if err != nil {
			return err
		}
		if required && reason == "" {
			return errors.Wrapf(ErrCommentRequired, "stage %s", expected)
		}

		err = w.chain.recordRejection(ctx, store, line.ID, line.Number, string(expected), caller, reason)
		if err != nil {
			return err
		}

		err = store.BOPLines().UpdateColumns(ctx, lineID, map[string]interface{}{"state": models.BOPStateCancel})
		if err != nil {
			return err
		}

		order, err := store.DeliveryOrders().GetByID(ctx, line.DeliveryOrderID)
		if err != nil {
			return err
		}
		return w.recomputeOrderTotals(ctx, store, order)
	})
}

// DeleteLine removes a draft or cancelled line and returns its share to
// the order. Settled lines are immutable.
func (w *BOPWorkflow) DeleteLine(ctx context.Context, lineID uuid.UUID, caller integrations.Actor) error {
	line, err := w.store.BOPLines().GetByID(ctx, lineID)
	if err != nil {
		return err
	}

	return w.store.WithOrderLock(ctx, line.DeliveryOrderID, func(store repositories.Store) error {
		if err := store.BOPLines().Delete(ctx, lineID); err != nil {
			return err
		}
		order, err := store.DeliveryOrders().GetByID(ctx, line.DeliveryOrderID)
		if err != nil {
			return err
		}
		return w.recomputeOrderTotals(ctx, store, order)
	})
}

// ListByOrder returns the order's budget lines, oldest first.
func (w *BOPWorkflow) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error) {
	return w.store.BOPLines().FindByOrder(ctx, orderID)
}

// Trail returns the full settlement audit trail of a line.
func (w *BOPWorkflow) Trail(ctx context.Context, lineID uuid.UUID) ([]models.TierReview, error) {
	return w.store.Reviews().ListByDoc(ctx, models.DocTypeBOPLine, lineID)
}

// recomputeOrderTotals re-derives the order's paid figures from its active
// lines. Deriving instead of incrementing keeps the totals correct across
// cancellations and deletions.
func (w *BOPWorkflow) recomputeOrderTotals(ctx context.Context, store repositories.Store, order *models.DeliveryOrder) error {
	active, err := store.BOPLines().FindActiveByOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	totalPct := decimal.Zero
	totalAmt := decimal.Zero
	for i := range active {
		totalPct = totalPct.Add(active[i].PercentagePaid)
		totalAmt = totalAmt.Add(active[i].AmountPaid)
	}

	return store.DeliveryOrders().UpdateColumns(ctx, order.ID, map[string]interface{}{
		"bop_paid":            totalAmt,
		"bop_percentage_paid": totalPct,
	})
}

// findPlaceholder returns the unallocated draft line created with the
// order, if it is still unfilled.
func findPlaceholder(lines []models.BOPLine) *models.BOPLine {
	for i := range lines {
		l := &lines[i]
		if l.State == models.BOPStateDraft && !l.IsAdditionalCost && l.PercentagePaid.IsZero() && l.AmountPaid.IsZero() {
			return l
		}
	}
	return nil
}

// checkQuota enforces the order's line cap. The unfilled placeholder does
// not consume quota; it is the slot the first allocation fills.
func checkQuota(order *models.DeliveryOrder, lines []models.BOPLine, placeholder *models.BOPLine) error {
	var limit int
	switch order.BopQuota {
	case models.BopQuotaFull:
		limit = 1
	case models.BopQuotaPartial:
		limit = 2
	default:
		return nil
	}

	used := 0
	for i := range lines {
		l := &lines[i]
		if !l.Active() {
			continue
		}
		if placeholder != nil && l.ID == placeholder.ID {
			continue
		}
		used++
	}
	if used >= limit {
		return errors.Wrapf(ErrQuotaExceeded, "quota %s allows %d line(s)", order.BopQuota, limit)
	}
	return nil
}

// withoutLine filters the candidate itself out of its sibling set.
func withoutLine(lines []models.BOPLine, id uuid.UUID) []models.BOPLine {
	siblings := make([]models.BOPLine, 0, len(lines))
	for i := range lines {
		if lines[i].ID == id {
			continue
		}
		siblings = append(siblings, lines[i])
	}
	return siblings
}
