package allocation

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// Allocation errors. The workflow layer maps these to user-facing kinds.
var (
	// ErrAllocationExhausted is returned when the order has no unpaid
	// balance left to allocate against.
	ErrAllocationExhausted = errors.New("allocation exhausted: no unpaid balance remains")
	// ErrDegenerateAllocation is returned when the requested percentage
	// rounds to a zero amount.
	ErrDegenerateAllocation = errors.New("degenerate allocation: amount rounds to zero")
	// ErrAllocationExceedsUnpaid is returned in strict mode when the
	// computed amount exceeds the unpaid balance.
	ErrAllocationExceedsUnpaid = errors.New("allocation exceeds unpaid balance")
)

var hundred = decimal.NewFromInt(100)

// Allocation is the authoritative result of an allocation request. The
// engine may have clamped the requested percentage; callers must persist
// these figures, never the request.
type Allocation struct {
	Percentage   decimal.Decimal
	Amount       decimal.Decimal
	NewTotalPaid decimal.Decimal
}

// Allocate computes the capped percentage and rounded amount for one BOP
// line against its delivery order. siblings are every other line of the
// same order; the candidate itself must not be included. The engine has no
// side effects: the caller persists the result under the order lock.
//
// Rounding is positional: the earliest-created active line rounds up,
// every later line rounds down. The asymmetry makes a full 100% split
// reconcile exactly to the rounded nominal.
func Allocate(order *models.DeliveryOrder, line *models.BOPLine, siblings []models.BOPLine, requested decimal.Decimal, strict bool) (Allocation, error) {
	otherPct := decimal.Zero
	otherAmt := decimal.Zero
	activeOthers := 0
	earliestActive := true
	for i := range siblings {
		s := &siblings[i]
		if !s.Active() {
			continue
		}
		activeOthers++
		otherPct = otherPct.Add(s.PercentagePaid)
		otherAmt = otherAmt.Add(s.AmountPaid)
		if line.Seq != 0 && s.Seq < line.Seq {
			earliestActive = false
		}
	}
	// A line without a sequence yet is being created now, so it can only
	// be the earliest when no other active line exists.
	if line.Seq == 0 && activeOthers > 0 {
		earliestActive = false
	}

	remaining := hundred.Sub(otherPct)
	if order.BopQuota == models.BopQuotaFull {
		if activeOthers == 0 {
			remaining = hundred
		} else {
			remaining = decimal.Zero
		}
	}

	pct := requested
	if pct.GreaterThan(remaining) {
		// Silent clamp: the returned percentage is authoritative.
		pct = remaining
	}
	if pct.IsNegative() {
		pct = decimal.Zero
	}

	unpaid := order.Nominal.Ceil().Sub(otherAmt.Floor())
	if unpaid.LessThanOrEqual(decimal.Zero) {
		return Allocation{}, ErrAllocationExhausted
	}

	amount := pct.Div(hundred).Mul(order.Nominal)
	if earliestActive {
		amount = amount.Ceil()
	} else {
		amount = amount.Floor()
	}
	if amount.IsZero() {
		return Allocation{}, ErrDegenerateAllocation
	}
	if amount.GreaterThan(unpaid) {
		if strict {
			return Allocation{}, ErrAllocationExceedsUnpaid
		}
		amount = unpaid
	}

	return Allocation{
		Percentage:   pct,
		Amount:       amount,
		NewTotalPaid: otherAmt.Add(amount),
	}, nil
}

// RoundMoney applies the general monetary policy: round half away from
// zero at zero decimal places. The positional rule in Allocate takes
// precedence for allocation amounts.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(0)
}
