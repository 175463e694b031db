package integrations

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/messaging"
)

// serviceBusNotifier publishes review task events to the task queue. The
// approval front-end consumes the queue and maintains each reviewer's
// task list.
type serviceBusNotifier struct {
	bus messaging.ServiceBusClient
}

// NewServiceBusNotifier creates a TaskNotifier over the service bus.
func NewServiceBusNotifier(bus messaging.ServiceBusClient) TaskNotifier {
	return &serviceBusNotifier{bus: bus}
}

func (n *serviceBusNotifier) Schedule(ctx context.Context, reviewer Actor, docRef, summary string) error {
	msg := map[string]interface{}{
		"action":        "schedule",
		"reviewer_id":   reviewer.ID.String(),
		"reviewer_name": reviewer.Name,
		"doc_ref":       docRef,
		"summary":       summary,
	}
	if err := n.bus.SendMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to schedule task for %s", docRef)
	}
	return nil
}

func (n *serviceBusNotifier) Close(ctx context.Context, reviewerID uuid.UUID, docRef string) error {
	msg := map[string]interface{}{
		"action":      "close",
		"reviewer_id": reviewerID.String(),
		"doc_ref":     docRef,
	}
	if err := n.bus.SendMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to close task for %s", docRef)
	}
	return nil
}

func (n *serviceBusNotifier) CloseAll(ctx context.Context, docRef string) error {
	msg := map[string]interface{}{
		"action":  "close_all",
		"doc_ref": docRef,
	}
	if err := n.bus.SendMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to close tasks for %s", docRef)
	}
	return nil
}

// logNotifier is the fallback when the task queue is not configured. The
// pending review rows remain the source of truth, so deployments without
// the queue still function.
type logNotifier struct{}

// NewLogNotifier creates a TaskNotifier that only logs.
func NewLogNotifier() TaskNotifier {
	return &logNotifier{}
}

func (n *logNotifier) Schedule(ctx context.Context, reviewer Actor, docRef, summary string) error {
	log.Info().Str("doc_ref", docRef).Str("reviewer", reviewer.Name).Msg(summary)
	return nil
}

func (n *logNotifier) Close(ctx context.Context, reviewerID uuid.UUID, docRef string) error {
	return nil
}

func (n *logNotifier) CloseAll(ctx context.Context, docRef string) error {
	return nil
}
