package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

const reminderBatchSize = 100

// ReviewReminder re-notifies reviewers whose tasks have been pending past
// the threshold. A lost task message otherwise leaves a document stuck
// until someone notices.
type ReviewReminder struct {
	store     repositories.Store
	notifier  integrations.TaskNotifier
	threshold time.Duration
}

// NewReviewReminder creates a new review reminder.
func NewReviewReminder(store repositories.Store, notifier integrations.TaskNotifier, threshold time.Duration) *ReviewReminder {
	return &ReviewReminder{store: store, notifier: notifier, threshold: threshold}
}

// Run re-sends the task for every stale pending review.
func (r *ReviewReminder) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-r.threshold)
	stale, err := r.store.Reviews().FindStalePending(ctx, cutoff, reminderBatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to load stale reviews")
	}

	for _, review := range stale {
		docRef, err := r.docRef(ctx, review)
		if err != nil {
			log.Warn().Err(err).Str("review_id", review.ID.String()).Msg("Failed to resolve document for reminder")
			continue
		}

		reviewer := integrations.Actor{ID: review.ReviewerID}
		summary := "Reminder: review " + review.TargetState + " for " + docRef
		if err := r.notifier.Schedule(ctx, reviewer, docRef, summary); err != nil {
			log.Warn().Err(err).Str("doc_ref", docRef).Msg("Failed to send review reminder")
		}
	}

	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("Review reminders sent")
	}
	return nil
}

func (r *ReviewReminder) docRef(ctx context.Context, review models.TierReview) (string, error) {
	switch review.DocType {
	case models.DocTypeDeliveryOrder:
		order, err := r.store.DeliveryOrders().GetByID(ctx, review.DocID)
		if err != nil {
			return "", err
		}
		return order.Name, nil
	case models.DocTypeBOPLine:
		line, err := r.store.BOPLines().GetByID(ctx, review.DocID)
		if err != nil {
			return "", err
		}
		return line.Number, nil
	default:
		return "", errors.Errorf("unknown document type %s", review.DocType)
	}
}
