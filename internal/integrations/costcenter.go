package integrations

import (
	"context"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

// storeCostCenterResolver resolves cost centers against the analytic
// account table, creating missing accounts by name.
type storeCostCenterResolver struct {
	accounts repositories.AnalyticAccountRepository
}

// NewCostCenterResolver creates a CostCenterResolver backed by the store.
func NewCostCenterResolver(accounts repositories.AnalyticAccountRepository) CostCenterResolver {
	return &storeCostCenterResolver{accounts: accounts}
}

func (r *storeCostCenterResolver) Resolve(ctx context.Context, descriptor string) (*models.AnalyticAccount, error) {
	return r.accounts.GetOrCreateByName(ctx, descriptor)
}
