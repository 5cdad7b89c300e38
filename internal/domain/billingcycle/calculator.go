// Package billingcycle computes billing cycle anchor dates for a subscription.
//
// All inputs and outputs are calendar dates (see types.NewDate). Boundaries are
// always derived from the first cycle date and re-anchored on the billing cycle
// day, so a cycle day of 31 gives Jan 31, Feb 29, Mar 31 instead of drifting.
package billingcycle

import (
	"time"

	"github.com/flexprice/invoicer/internal/types"
)

// Cycle holds the anchor dates of a recurring span up to a target date
type Cycle struct {
	FirstCycleDate   time.Time
	EffectiveEndDate time.Time
	LastCycleDate    time.Time
	BillCycleDay     int
	Period           types.BillingPeriod
}

// Compute returns the cycle dates of a span starting at start, optionally ending at end, invoiced up to target.
// bcd must be in [1, 31] and period must be recurring.
func Compute(start time.Time, end *time.Time, target time.Time, bcd int, period types.BillingPeriod) Cycle {
	first := FirstCycleDate(start, bcd)
	effectiveEnd := EffectiveEndDate(first, end, target, bcd, period)
	return Cycle{
		FirstCycleDate:   first,
		EffectiveEndDate: effectiveEnd,
		LastCycleDate:    LastCycleDate(first, effectiveEnd, bcd, period),
		BillCycleDay:     bcd,
		Period:           period,
	}
}

// Boundary returns the n-th cycle boundary after the first cycle date
func (c Cycle) Boundary(n int) time.Time {
	return Boundary(c.FirstCycleDate, n, c.BillCycleDay, c.Period)
}

// FirstCycleDate is the earliest date on the billing cycle day that is not before start
func FirstCycleDate(start time.Time, bcd int) time.Time {
	candidate := types.DateWithDay(start, bcd)
	for candidate.Before(start) {
		candidate = types.AddMonthsAnchored(candidate, 1, bcd)
	}
	return candidate
}

// EffectiveEndDate is the date up to which the span is billed when invoicing up to target
func EffectiveEndDate(first time.Time, end *time.Time, target time.Time, bcd int, period types.BillingPeriod) time.Time {
	if end != nil && !target.Before(*end) {
		return *end
	}
	if target.Before(first) || !period.IsRecurring() {
		return first
	}

	n := 1
	candidate := Boundary(first, n, bcd, period)
	for !candidate.After(target) {
		n++
		candidate = Boundary(first, n, bcd, period)
	}

	if end != nil && end.Before(candidate) {
		return *end
	}
	return candidate
}

// LastCycleDate is the latest cycle boundary strictly before effectiveEnd, never before first
func LastCycleDate(first, effectiveEnd time.Time, bcd int, period types.BillingPeriod) time.Time {
	if !period.IsRecurring() {
		return first
	}
	n := 0
	for Boundary(first, n+1, bcd, period).Before(effectiveEnd) {
		n++
	}
	return Boundary(first, n, bcd, period)
}

// Boundary returns first shifted by n whole periods on the billing cycle day
func Boundary(first time.Time, n int, bcd int, period types.BillingPeriod) time.Time {
	return types.AddMonthsAnchored(first, n*period.NumberOfMonths(), bcd)
}
