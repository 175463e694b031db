package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

// doTransitions is the fixed forward table of the delivery order chain.
var doTransitions = map[models.DOState]models.DOState{
	models.DOStateDraft:         models.DOStateToApprove,
	models.DOStateToApprove:     models.DOStateApprovedOpSpv,
	models.DOStateApprovedOpSpv: models.DOStateApprovedCash,
	models.DOStateApprovedCash:  models.DOStateApprovedADH,
	models.DOStateApprovedADH:   models.DOStateApprovedKacab,
	models.DOStateApprovedKacab: models.DOStateDone,
}

// bopTransitions is the fixed forward table of the BOP settlement chain.
var bopTransitions = map[models.BOPState]models.BOPState{
	models.BOPStateDraft:        models.BOPStateApprovedCash,
	models.BOPStateApprovedCash: models.BOPStateApprovedADH,
	models.BOPStateApprovedADH:  models.BOPStateApprovedKacab,
}

// NextDOState returns the expected next state of a delivery order.
func NextDOState(state models.DOState) (models.DOState, bool) {
	next, ok := doTransitions[state]
	return next, ok
}

// NextBOPState returns the expected next state of a BOP line.
func NextBOPState(state models.BOPState) (models.BOPState, bool) {
	next, ok := bopTransitions[state]
	return next, ok
}

// approvalChain is the tier-gating mechanism shared by both workflows: it
// authorizes callers against tier definitions, settles pending reviews
// and schedules the next stage without ever duplicating an open task.
type approvalChain struct {
	docType   models.DocType
	directory integrations.ReviewerDirectory
	notifier  integrations.TaskNotifier
}

// authorize verifies that a tier definition exists for the target state
// and that the caller may sign it off. A tier pinned to a specific user
// admits only that user; a role-based tier admits any holder of the role;
// a tier with neither is unrestricted.
func (c *approvalChain) authorize(ctx context.Context, store repositories.Store, targetState string, caller integrations.Actor) (*models.TierDefinition, error) {
	tier, err := store.Tiers().Find(ctx, c.docType, targetState)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrapf(ErrReviewerMissing, "%s -> %s", c.docType, targetState)
		}
		return nil, err
	}

	if tier.Restricted() {
		if caller.ID != *tier.ReviewerID {
			return nil, errors.Wrapf(ErrNotAuthorizedReviewer, "stage %s", targetState)
		}
	} else if tier.ReviewerRole != "" && caller.Role != tier.ReviewerRole {
		return nil, errors.Wrapf(ErrNotAuthorizedReviewer, "stage %s requires role %s", targetState, tier.ReviewerRole)
	}

	return tier, nil
}

// settle records the decision for the target state: the pending review is
// marked decided, or, for stages entered without one (the first BOP stage
// has no scheduled predecessor), a decided audit row is written directly.
// Exactly one audit row per decision either way.
func (c *approvalChain) settle(ctx context.Context, store repositories.Store, docID uuid.UUID, targetState string, status models.ReviewStatus, comment string, caller integrations.Actor) error {
	review, err := store.Reviews().FindPending(ctx, c.docType, docID, targetState)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return store.Reviews().Create(ctx, &models.TierReview{
				ID:          uuid.New(),
				DocType:     c.docType,
				DocID:       docID,
				TargetState: targetState,
				Status:      status,
				RequesterID: caller.ID,
				ReviewerID:  caller.ID,
				Comment:     comment,
			})
		}
		return err
	}
	return store.Reviews().MarkDecided(ctx, review.ID, status, comment)
}

// scheduleNext creates the pending review for the next stage and hands it
// to the task notifier. It is idempotent: an already-open review for the
// same reviewer and state is reused, never duplicated. Returns the
// reviewer, or nil when the chain has no next stage configured.
func (c *approvalChain) scheduleNext(ctx context.Context, store repositories.Store, docID uuid.UUID, docRef, nextState string, requester integrations.Actor) (*integrations.Actor, error) {
	tier, err := store.Tiers().Find(ctx, c.docType, nextState)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	reviewer, err := c.resolveReviewer(ctx, tier, nextState)
	if err != nil {
		return nil, err
	}

	open, err := store.Reviews().HasPending(ctx, c.docType, docID, nextState, reviewer.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return reviewer, nil
	}

	review := &models.TierReview{
		ID:          uuid.New(),
		DocType:     c.docType,
		DocID:       docID,
		TargetState: nextState,
		Status:      models.ReviewPending,
		RequesterID: requester.ID,
		ReviewerID:  reviewer.ID,
	}
	if err := store.Reviews().Create(ctx, review); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Review %s for %s", nextState, docRef)
	if err := c.notifier.Schedule(ctx, *reviewer, docRef, summary); err != nil {
		// Task delivery is best-effort; the pending review row remains
		// the source of truth.
		log.Warn().Err(err).Str("doc_ref", docRef).Str("stage", nextState).Msg("Failed to schedule review task")
	}

	return reviewer, nil
}

// recordRejection writes the rejected audit row for the expected next
// state and closes every open task of the document.
func (c *approvalChain) recordRejection(ctx context.Context, store repositories.Store, docID uuid.UUID, docRef, expectedNext string, caller integrations.Actor, reason string) error {
	if err := c.settle(ctx, store, docID, expectedNext, models.ReviewRejected, reason, caller); err != nil {
		return err
	}

	if err := c.notifier.CloseAll(ctx, docRef); err != nil {
		log.Warn().Err(err).Str("doc_ref", docRef).Msg("Failed to close review tasks")
	}
	return nil
}

// commentRequired reports whether the tier for the expected next state
// mandates a rejection reason. Without a tier definition the comment
// stays mandatory.
func (c *approvalChain) commentRequired(ctx context.Context, store repositories.Store, expectedNext string) (bool, error) {
	tier, err := store.Tiers().Find(ctx, c.docType, expectedNext)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return tier.CommentRequired, nil
}

// closeTask closes the caller's task for the document, best-effort.
func (c *approvalChain) closeTask(ctx context.Context, reviewerID uuid.UUID, docRef string) {
	if err := c.notifier.Close(ctx, reviewerID, docRef); err != nil {
		log.Warn().Err(err).Str("doc_ref", docRef).Msg("Failed to close review task")
	}
}

func (c *approvalChain) resolveReviewer(ctx context.Context, tier *models.TierDefinition, targetState string) (*integrations.Actor, error) {
	if tier.Restricted() {
		return &integrations.Actor{ID: *tier.ReviewerID, Role: tier.ReviewerRole}, nil
	}

	reviewer, err := c.directory.ReviewerFor(ctx, c.docType, targetState, tier.ReviewerRole)
	if err != nil || reviewer == nil {
		return nil, errors.Wrapf(ErrReviewerMissing, "no reviewer for role %s", tier.ReviewerRole)
	}
	return reviewer, nil
}
