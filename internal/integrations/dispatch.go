package integrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/messaging"
)

const dispatchSendAttempts = 3

// serviceBusDispatch publishes delivery status updates to the TMS bridge
// queue. The queue consumer on the TMS side owns delivery semantics; this
// side only guarantees the message left the outbox.
type serviceBusDispatch struct {
	bus messaging.ServiceBusClient
}

// NewServiceBusDispatch creates a DispatchSystemClient over the service bus.
func NewServiceBusDispatch(bus messaging.ServiceBusClient) DispatchSystemClient {
	return &serviceBusDispatch{bus: bus}
}

func (d *serviceBusDispatch) PostStatus(ctx context.Context, doRef string, payload []byte) error {
	msg := map[string]interface{}{
		"type":    "delivery_order.status",
		"do_ref":  doRef,
		"payload": string(payload),
	}

	// Transient bus errors retry here; anything that survives the retries
	// stays in the outbox for the next flush.
	err := messaging.RetryWithBackoff(ctx, func() error {
		return d.bus.SendMessage(ctx, msg)
	}, dispatchSendAttempts)
	if err != nil {
		return errors.Wrapf(err, "failed to post status for %s", doRef)
	}

	log.Debug().Str("do_ref", doRef).Msg("Dispatch status posted")
	return nil
}
