package workflow

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/allocation"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

func TestCreateLineFillsPlaceholder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	before, err := env.bop.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.True(t, before[0].PercentagePaid.IsZero())

	line, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(60),
	}, env.requester)
	require.NoError(t, err)

	// The first allocation fills the placeholder instead of adding a row.
	require.Equal(t, before[0].ID, line.ID)
	require.True(t, line.PercentagePaid.Equal(decimal.NewFromInt(60)))
	require.True(t, line.AmountPaid.Equal(decimal.NewFromInt(600_000)))

	after, err := env.bop.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)

	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPercentagePaid.Equal(decimal.NewFromInt(60)))
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(600_000)))
}

func TestCreateLineQuotaFull(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaFull, nil, nil)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(100),
	}, env.requester)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(10),
	}, env.requester)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCreateLineQuotaPartial(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaPartial, nil, nil)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(50),
	}, env.requester)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(30),
	}, env.requester)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(10),
	}, env.requester)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCreateLineClampsToRemaining(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	first, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(70),
	}, env.requester)
	require.NoError(t, err)
	require.True(t, first.AmountPaid.Equal(decimal.NewFromInt(700_000)))

	second, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(70),
	}, env.requester)
	require.NoError(t, err)
	require.True(t, second.PercentagePaid.Equal(decimal.NewFromInt(30)))
	require.True(t, second.AmountPaid.Equal(decimal.NewFromInt(300_000)))

	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPaid.Equal(reloaded.Nominal.Ceil()))

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(5),
	}, env.requester)
	require.ErrorIs(t, err, allocation.ErrAllocationExhausted)
}

func TestCreateLineConcurrentRequestsShareTheQuota(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	// Two simultaneous 70% requests on the same order: the lock serializes
	// them, so one gets the full 70% and the other is clamped to 30%.
	var wg sync.WaitGroup
	results := make([]*models.BOPLine, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
				Percentage: decimal.NewFromInt(70),
			}, env.requester)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	percentages := []decimal.Decimal{results[0].PercentagePaid, results[1].PercentagePaid}
	sort.Slice(percentages, func(i, j int) bool { return percentages[i].LessThan(percentages[j]) })
	require.True(t, percentages[0].Equal(decimal.NewFromInt(30)))
	require.True(t, percentages[1].Equal(decimal.NewFromInt(70)))

	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPercentagePaid.Equal(decimal.NewFromInt(100)))
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(1_000_000)))
}

func TestCreateLineAdditionalCostBypassesQuotaAndTotals(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaFull, nil, nil)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(100),
	}, env.requester)
	require.NoError(t, err)

	extra, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage:       decimal.NewFromInt(10),
		IsAdditionalCost: true,
	}, env.requester)
	require.NoError(t, err)
	require.True(t, extra.IsAdditionalCost)
	require.True(t, extra.AmountPaid.Equal(decimal.NewFromInt(100_000)))

	// Out-of-budget costs never count toward the order totals.
	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPercentagePaid.Equal(decimal.NewFromInt(100)))
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(1_000_000)))
}

func TestUpdatePercentageDraftOnly(t *testing.T) {
	env := newTestEnv()
	env.seedTiers()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	line, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(60),
	}, env.requester)
	require.NoError(t, err)

	updated, err := env.bop.UpdatePercentage(ctx, line.ID, decimal.NewFromInt(40), env.requester)
	require.NoError(t, err)
	require.True(t, updated.AmountPaid.Equal(decimal.NewFromInt(400_000)))

	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(400_000)))

	err = env.bop.Approve(ctx, line.ID, models.BOPStateApprovedCash, env.cashier)
	require.NoError(t, err)

	_, err = env.bop.UpdatePercentage(ctx, line.ID, decimal.NewFromInt(50), env.requester)
	require.ErrorIs(t, err, repositories.ErrLineImmutable)
}

func TestApproveAdvancesSettlementChain(t *testing.T) {
	env := newTestEnv()
	env.seedTiers()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)
	line, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(100),
	}, env.requester)
	require.NoError(t, err)

	require.NoError(t, env.bop.Approve(ctx, line.ID, models.BOPStateApprovedCash, env.cashier))
	require.NoError(t, env.bop.Approve(ctx, line.ID, models.BOPStateApprovedADH, env.adh))
	require.NoError(t, env.bop.Approve(ctx, line.ID, models.BOPStateApprovedKacab, env.kacab))

	reloaded, err := env.store.BOPLines().GetByID(ctx, line.ID)
	require.NoError(t, err)
	require.Equal(t, models.BOPStateApprovedKacab, reloaded.State)
	require.True(t, reloaded.Final())

	// Every stage leaves exactly one approved audit row, the first one
	// included even though no task was scheduled ahead of it.
	trail, err := env.bop.Trail(ctx, line.ID)
	require.NoError(t, err)
	for _, stage := range []models.BOPState{
		models.BOPStateApprovedCash,
		models.BOPStateApprovedADH,
		models.BOPStateApprovedKacab,
	} {
		approved := 0
		for _, review := range trail {
			if review.TargetState == string(stage) && review.Status == models.ReviewApproved {
				approved++
			}
		}
		require.Equal(t, 1, approved, "stage %s", stage)
	}

	err = env.bop.DeleteLine(ctx, line.ID, env.requester)
	require.ErrorIs(t, err, repositories.ErrLineImmutable)
}

func TestApproveRejectsWrongCallerAndStage(t *testing.T) {
	env := newTestEnv()
	env.seedTiers()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)
	line, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(100),
	}, env.requester)
	require.NoError(t, err)

	// Skipping a stage fails before any authorization check.
	err = env.bop.Approve(ctx, line.ID, models.BOPStateApprovedADH, env.adh)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = env.bop.Approve(ctx, line.ID, models.BOPStateApprovedCash, env.requester)
	require.ErrorIs(t, err, ErrNotAuthorizedReviewer)

	require.NoError(t, env.bop.Approve(ctx, line.ID, models.BOPStateApprovedCash, env.cashier))

	// A second sign-off of the same stage must not land twice.
	err = env.bop.Approve(ctx, line.ID, models.BOPStateApprovedCash, env.cashier)
	require.ErrorIs(t, err, ErrInvalidTransition)

	trail, err := env.bop.Trail(ctx, line.ID)
	require.NoError(t, err)
	approved := 0
	for _, review := range trail {
		if review.TargetState == string(models.BOPStateApprovedCash) && review.Status == models.ReviewApproved {
			approved++
		}
	}
	require.Equal(t, 1, approved)
}

func TestRejectRequiresCommentAndReclaimsShare(t *testing.T) {
	env := newTestEnv()
	env.seedTiers()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(60),
	}, env.requester)
	require.NoError(t, err)
	second, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(40),
	}, env.requester)
	require.NoError(t, err)

	err = env.bop.Reject(ctx, second.ID, "", env.cashier)
	require.ErrorIs(t, err, ErrCommentRequired)

	require.NoError(t, env.bop.Reject(ctx, second.ID, "receipt missing", env.cashier))

	// The cancelled line keeps its figures as history.
	cancelled, err := env.store.BOPLines().GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, models.BOPStateCancel, cancelled.State)
	require.True(t, cancelled.AmountPaid.Equal(decimal.NewFromInt(400_000)))

	// The order totals drop it, so its share can be allocated again.
	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPercentagePaid.Equal(decimal.NewFromInt(60)))
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(600_000)))

	replacement, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(40),
	}, env.requester)
	require.NoError(t, err)
	require.True(t, replacement.AmountPaid.Equal(decimal.NewFromInt(400_000)))
}

func TestDeleteLineReturnsShare(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	order, err := env.createOrder(ctx, 1_000_000, models.BopQuotaOpen, nil, nil)
	require.NoError(t, err)

	_, err = env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(60),
	}, env.requester)
	require.NoError(t, err)
	second, err := env.bop.CreateLine(ctx, order.ID, CreateLineRequest{
		Percentage: decimal.NewFromInt(30),
	}, env.requester)
	require.NoError(t, err)

	require.NoError(t, env.bop.DeleteLine(ctx, second.ID, env.requester))

	reloaded, err := env.store.DeliveryOrders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.BopPercentagePaid.Equal(decimal.NewFromInt(60)))
	require.True(t, reloaded.BopPaid.Equal(decimal.NewFromInt(600_000)))
}
