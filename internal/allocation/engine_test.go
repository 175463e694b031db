package allocation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

func order(nominal int64, quota models.BopQuota) *models.DeliveryOrder {
	return &models.DeliveryOrder{
		ID:       uuid.New(),
		Nominal:  decimal.NewFromInt(nominal),
		BopQuota: quota,
	}
}

func line(seq int64, pct, amount int64, state models.BOPState) models.BOPLine {
	return models.BOPLine{
		ID:             uuid.New(),
		Seq:            seq,
		PercentagePaid: decimal.NewFromInt(pct),
		AmountPaid:     decimal.NewFromInt(amount),
		State:          state,
	}
}

func TestAllocateSixtyFortySplit(t *testing.T) {
	do := order(1_000_000, models.BopQuotaOpen)

	// First line at 60% rounds up.
	first := &models.BOPLine{}
	alloc, err := Allocate(do, first, nil, decimal.NewFromInt(60), false)
	require.NoError(t, err)
	require.True(t, alloc.Percentage.Equal(decimal.NewFromInt(60)))
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(600_000)), "got %s", alloc.Amount)
	require.True(t, alloc.NewTotalPaid.Equal(decimal.NewFromInt(600_000)))

	// Second line at 40% rounds down and reconciles to the nominal.
	second := &models.BOPLine{}
	siblings := []models.BOPLine{line(1, 60, 600_000, models.BOPStateDraft)}
	alloc, err = Allocate(do, second, siblings, decimal.NewFromInt(40), false)
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(400_000)))
	require.True(t, alloc.NewTotalPaid.Equal(decimal.NewFromInt(1_000_000)))

	// A third line finds nothing left.
	third := &models.BOPLine{}
	siblings = append(siblings, line(2, 40, 400_000, models.BOPStateDraft))
	_, err = Allocate(do, third, siblings, decimal.NewFromInt(1), false)
	require.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestAllocateRoundingReconciliation(t *testing.T) {
	// An odd nominal: 33% and 67% must reconcile to ceil(nominal) with no
	// residual gap because the first line rounds up and the rest down.
	do := order(0, models.BopQuotaOpen)
	do.Nominal = decimal.RequireFromString("1000001")

	first := &models.BOPLine{}
	a1, err := Allocate(do, first, nil, decimal.NewFromInt(33), false)
	require.NoError(t, err)
	// 330000.33 rounds up to 330001.
	require.True(t, a1.Amount.Equal(decimal.NewFromInt(330_001)), "got %s", a1.Amount)

	second := &models.BOPLine{}
	siblings := []models.BOPLine{{Seq: 1, PercentagePaid: decimal.NewFromInt(33), AmountPaid: a1.Amount}}
	a2, err := Allocate(do, second, siblings, decimal.NewFromInt(67), false)
	require.NoError(t, err)
	// 670000.67 rounds down to 670000, which exceeds the unpaid balance
	// (1000001 - 330001 = 670000), so the cap leaves it intact and the
	// ledger closes exactly.
	require.True(t, a1.Amount.Add(a2.Amount).Equal(do.Nominal.Ceil()))
}

func TestAllocateClampsSilently(t *testing.T) {
	do := order(1_000_000, models.BopQuotaOpen)
	siblings := []models.BOPLine{line(1, 70, 700_000, models.BOPStateDraft)}

	alloc, err := Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(70), false)
	require.NoError(t, err)
	require.True(t, alloc.Percentage.Equal(decimal.NewFromInt(30)), "got %s", alloc.Percentage)
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(300_000)))
}

func TestAllocateFullQuota(t *testing.T) {
	do := order(1_000_000, models.BopQuotaFull)

	// No other active line: the full budget is available.
	alloc, err := Allocate(do, &models.BOPLine{}, nil, decimal.NewFromInt(100), false)
	require.NoError(t, err)
	require.True(t, alloc.Percentage.Equal(decimal.NewFromInt(100)))
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(1_000_000)))

	// Any active sibling zeroes the remaining percentage outright.
	siblings := []models.BOPLine{line(1, 50, 500_000, models.BOPStateDraft)}
	_, err = Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(10), false)
	require.ErrorIs(t, err, ErrDegenerateAllocation)

	// A cancelled sibling does not count against the quota.
	siblings = []models.BOPLine{line(1, 50, 500_000, models.BOPStateCancel)}
	alloc, err = Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(100), false)
	require.NoError(t, err)
	require.True(t, alloc.Percentage.Equal(decimal.NewFromInt(100)))
}

func TestAllocateDegenerate(t *testing.T) {
	do := order(10, models.BopQuotaOpen)
	siblings := []models.BOPLine{line(1, 50, 5, models.BOPStateDraft)}

	// 1% of 10 floors to zero on a non-first line.
	_, err := Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(1), false)
	require.ErrorIs(t, err, ErrDegenerateAllocation)
}

func TestAllocateStrictMode(t *testing.T) {
	do := order(100, models.BopQuotaOpen)
	// The sibling amount overshoots its share, squeezing the unpaid
	// balance below what 60% computes to.
	siblings := []models.BOPLine{line(1, 40, 80, models.BOPStateDraft)}

	alloc, err := Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(60), false)
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(20)), "capped to unpaid, got %s", alloc.Amount)

	_, err = Allocate(do, &models.BOPLine{}, siblings, decimal.NewFromInt(60), true)
	require.ErrorIs(t, err, ErrAllocationExceedsUnpaid)
}

func TestAllocateEditKeepsFirstLineRule(t *testing.T) {
	do := order(1_000_001, models.BopQuotaOpen)

	// Editing the earliest active line still rounds up.
	edited := &models.BOPLine{Seq: 1}
	siblings := []models.BOPLine{line(2, 40, 400_000, models.BOPStateDraft)}
	alloc, err := Allocate(do, edited, siblings, decimal.NewFromInt(50), false)
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(decimal.RequireFromString("500000.5").Ceil()), "got %s", alloc.Amount)

	// Editing a later line rounds down even when an earlier sibling was
	// cancelled after it.
	edited = &models.BOPLine{Seq: 3}
	siblings = []models.BOPLine{line(1, 0, 0, models.BOPStateCancel), line(2, 40, 400_000, models.BOPStateDraft)}
	alloc, err = Allocate(do, edited, siblings, decimal.NewFromInt(50), false)
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(decimal.RequireFromString("500000.5").Floor()), "got %s", alloc.Amount)
}

func TestAllocateAdditionalCostExcluded(t *testing.T) {
	do := order(1_000_000, models.BopQuotaOpen)
	extra := line(1, 0, 150_000, models.BOPStateDraft)
	extra.IsAdditionalCost = true

	// Side-channel cost lines never shrink the 100% pool.
	alloc, err := Allocate(do, &models.BOPLine{}, []models.BOPLine{extra}, decimal.NewFromInt(100), false)
	require.NoError(t, err)
	require.True(t, alloc.Percentage.Equal(decimal.NewFromInt(100)))
	require.True(t, alloc.Amount.Equal(decimal.NewFromInt(1_000_000)))
}

func TestRoundMoneyHalfAwayFromZero(t *testing.T) {
	require.True(t, RoundMoney(decimal.RequireFromString("2.5")).Equal(decimal.NewFromInt(3)))
	require.True(t, RoundMoney(decimal.RequireFromString("-2.5")).Equal(decimal.NewFromInt(-3)))
	require.True(t, RoundMoney(decimal.RequireFromString("2.4")).Equal(decimal.NewFromInt(2)))
}
