package worker

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

const flushBatchSize = 50

// OutboxFlusher drains committed dispatch notifications to the external
// TMS. Failed messages stay queued with their attempt count and are
// retried on the next run.
type OutboxFlusher struct {
	outbox   repositories.OutboxRepository
	dispatch integrations.DispatchSystemClient
	metrics  *metrics.Metrics
}

// NewOutboxFlusher creates a new outbox flusher.
func NewOutboxFlusher(outbox repositories.OutboxRepository, dispatch integrations.DispatchSystemClient, collector *metrics.Metrics) *OutboxFlusher {
	return &OutboxFlusher{outbox: outbox, dispatch: dispatch, metrics: collector}
}

// Flush sends one batch of unsent messages. A single bad message never
// blocks the rest of the batch.
func (f *OutboxFlusher) Flush(ctx context.Context) error {
	msgs, err := f.outbox.FindUnsent(ctx, flushBatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to load outbox batch")
	}

	healthy := true
	for _, msg := range msgs {
		if err := f.dispatch.PostStatus(ctx, msg.DocRef, msg.Payload); err != nil {
			healthy = false
			log.Warn().Err(err).Str("doc_ref", msg.DocRef).Int("attempts", msg.Attempts+1).Msg("Dispatch notification failed")
			if markErr := f.outbox.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("doc_ref", msg.DocRef).Msg("Failed to record outbox failure")
			}
			f.metrics.IncrementCounter("outbox_failures")
			continue
		}
		if err := f.outbox.MarkSent(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("doc_ref", msg.DocRef).Msg("Failed to mark outbox message sent")
			continue
		}
		f.metrics.IncrementCounter("outbox_sent")
	}

	f.metrics.SetHealth("dispatch", healthy)
	return nil
}

// TripEvent is the message the TMS posts back when a trip's status
// changes.
type TripEvent struct {
	DocRef string `json:"do_ref"`
	Event  string `json:"event"`
}

// systemActor signs transitions driven by external events rather than a
// user.
var systemActor = integrations.Actor{ID: uuid.Nil, Role: "system", Name: "TMS bridge"}

// TripEventProcessor consumes trip events and closes delivered orders.
type TripEventProcessor struct {
	store  repositories.Store
	orders *workflow.DOWorkflow
}

// NewTripEventProcessor creates a new trip event processor.
func NewTripEventProcessor(store repositories.Store, orders *workflow.DOWorkflow) *TripEventProcessor {
	return &TripEventProcessor{store: store, orders: orders}
}

// Handle processes one received trip event. Unknown events complete
// without effect; failures abandon the message for redelivery.
func (p *TripEventProcessor) Handle(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var event TripEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		// A malformed message will never parse; dropping it beats an
		// endless redelivery loop.
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Discarding malformed trip event")
		return nil
	}

	if event.Event != "delivered" {
		log.Debug().Str("event", event.Event).Str("doc_ref", event.DocRef).Msg("Ignoring trip event")
		return nil
	}

	order, err := p.store.DeliveryOrders().GetByName(ctx, event.DocRef)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			log.Warn().Str("doc_ref", event.DocRef).Msg("Trip event references unknown delivery order")
			return nil
		}
		return err
	}

	if err := p.orders.MarkDone(ctx, order.ID, systemActor); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			// Redelivered event for an already closed order.
			log.Debug().Str("doc_ref", event.DocRef).Msg("Trip event for order not awaiting completion")
			return nil
		}
		return err
	}

	log.Info().Str("doc_ref", event.DocRef).Msg("Delivery order closed from trip event")
	return nil
}
