package types

import (
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BillingPeriod is the length of a recurring billing cycle
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
	BillingPeriodBiannual  BillingPeriod = "BIANNUAL"
	BillingPeriodAnnual    BillingPeriod = "ANNUAL"
	BillingPeriodBiennial  BillingPeriod = "BIENNIAL"
	// BillingPeriodNone marks a plan phase without recurring charges
	BillingPeriodNone BillingPeriod = "NO_BILLING_PERIOD"
)

func (p BillingPeriod) String() string {
	return string(p)
}

func (p BillingPeriod) Validate() error {
	allowed := []BillingPeriod{
		BillingPeriodMonthly,
		BillingPeriodQuarterly,
		BillingPeriodBiannual,
		BillingPeriodAnnual,
		BillingPeriodBiennial,
		BillingPeriodNone,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid billing period").
			WithHint("Please provide a valid billing period").
			WithReportableDetails(map[string]any{
				"allowed":        allowed,
				"provided_value": p,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NumberOfMonths returns the number of months in one cycle, 0 for BillingPeriodNone
func (p BillingPeriod) NumberOfMonths() int {
	switch p {
	case BillingPeriodMonthly:
		return 1
	case BillingPeriodQuarterly:
		return 3
	case BillingPeriodBiannual:
		return 6
	case BillingPeriodAnnual:
		return 12
	case BillingPeriodBiennial:
		return 24
	default:
		return 0
	}
}

// IsRecurring reports whether the period produces recurring charges
func (p BillingPeriod) IsRecurring() bool {
	return p.NumberOfMonths() > 0
}

// BillingMode decides when a recurring period is invoiced
// IN_ADVANCE: the period is invoiced at its start
// IN_ARREAR: the period is invoiced once it has elapsed
type BillingMode string

const (
	BillingModeInAdvance BillingMode = "IN_ADVANCE"
	BillingModeInArrear  BillingMode = "IN_ARREAR"
)

func (m BillingMode) String() string {
	return string(m)
}

func (m BillingMode) Validate() error {
	allowed := []BillingMode{
		BillingModeInAdvance,
		BillingModeInArrear,
	}
	if !lo.Contains(allowed, m) {
		return ierr.NewError("invalid billing mode").
			WithHint("Please provide a valid billing mode").
			WithReportableDetails(map[string]any{
				"allowed":        allowed,
				"provided_value": m,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RoundingMode is the rounding policy applied to prorated amounts
type RoundingMode string

const (
	// RoundingModeHalfUp rounds half away from zero
	RoundingModeHalfUp RoundingMode = "HALF_UP"
	// RoundingModeHalfEven is banker's rounding
	RoundingModeHalfEven RoundingMode = "HALF_EVEN"
	// RoundingModeUp rounds away from zero
	RoundingModeUp RoundingMode = "UP"
	// RoundingModeDown truncates toward zero
	RoundingModeDown    RoundingMode = "DOWN"
	RoundingModeCeiling RoundingMode = "CEILING"
	RoundingModeFloor   RoundingMode = "FLOOR"
)

func (m RoundingMode) String() string {
	return string(m)
}

func (m RoundingMode) Validate() error {
	allowed := []RoundingMode{
		RoundingModeHalfUp,
		RoundingModeHalfEven,
		RoundingModeUp,
		RoundingModeDown,
		RoundingModeCeiling,
		RoundingModeFloor,
	}
	if !lo.Contains(allowed, m) {
		return ierr.NewError("invalid rounding mode").
			WithHint("Please provide a valid rounding mode").
			WithReportableDetails(map[string]any{
				"allowed":        allowed,
				"provided_value": m,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Round rounds d to places decimal digits. Unknown modes fall back to HALF_UP.
func (m RoundingMode) Round(d decimal.Decimal, places int32) decimal.Decimal {
	switch m {
	case RoundingModeHalfEven:
		return d.RoundBank(places)
	case RoundingModeUp:
		return d.RoundUp(places)
	case RoundingModeDown:
		return d.RoundDown(places)
	case RoundingModeCeiling:
		return d.RoundCeil(places)
	case RoundingModeFloor:
		return d.RoundFloor(places)
	default:
		return d.Round(places)
	}
}
