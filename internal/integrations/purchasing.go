package integrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/messaging"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// serviceBusPurchasing asks the purchasing module to raise the trip
// purchase order. Requests ride the dispatch queue with a type envelope so
// the ERP bridge can route them.
type serviceBusPurchasing struct {
	bus messaging.ServiceBusClient
}

// NewServiceBusPurchasing creates a PurchaseOrderGenerator over the
// service bus.
func NewServiceBusPurchasing(bus messaging.ServiceBusClient) PurchaseOrderGenerator {
	return &serviceBusPurchasing{bus: bus}
}

func (p *serviceBusPurchasing) Generate(ctx context.Context, order *models.DeliveryOrder) error {
	msg := map[string]interface{}{
		"type":       "purchase_order.generate",
		"do_ref":     order.Name,
		"company_id": order.CompanyID.String(),
		"nominal":    order.Nominal,
	}
	if err := p.bus.SendMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to request purchase order for %s", order.Name)
	}
	log.Debug().Str("delivery_order", order.Name).Msg("Purchase order requested")
	return nil
}
