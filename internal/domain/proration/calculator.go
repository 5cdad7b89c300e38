// Package proration computes day based fractions of a billing period.
package proration

import (
	"time"

	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/shopspring/decimal"
)

// Calculator prorates amounts with a fixed currency scale and rounding mode.
// Ratios are kept at twice the currency scale, amounts at the currency scale.
type Calculator struct {
	roundingMode types.RoundingMode
	scale        int32
}

// NewCalculator creates a calculator from the invoicing configuration
func NewCalculator(cfg config.InvoicingConfig) *Calculator {
	return &Calculator{
		roundingMode: cfg.RoundingMode,
		scale:        cfg.NumberOfDecimals,
	}
}

// Scale is the number of currency decimal digits
func (c *Calculator) Scale() int32 {
	return c.scale
}

// Prorate returns days(start, end) / cycleDays rounded to twice the scale.
// A non positive cycleDays yields zero.
func (c *Calculator) Prorate(start, end time.Time, cycleDays int) decimal.Decimal {
	if cycleDays <= 0 {
		return decimal.Zero
	}
	days := decimal.NewFromInt(int64(types.DaysBetween(start, end)))
	return c.roundingMode.Round(days.Div(decimal.NewFromInt(int64(cycleDays))), 2*c.scale)
}

// ProrateBeforeFirstPeriod prorates [start, nextAnchor) against the period ending at nextAnchor
func (c *Calculator) ProrateBeforeFirstPeriod(start, nextAnchor time.Time, period types.BillingPeriod) decimal.Decimal {
	previous := types.AddClampedDate(nextAnchor, 0, -period.NumberOfMonths(), 0)
	return c.Prorate(start, nextAnchor, types.DaysBetween(previous, nextAnchor))
}

// ProrateAfterLastPeriod prorates [previousAnchor, end) against the period starting at previousAnchor
func (c *Calculator) ProrateAfterLastPeriod(end, previousAnchor time.Time, period types.BillingPeriod) decimal.Decimal {
	next := types.AddClampedDate(previousAnchor, 0, period.NumberOfMonths(), 0)
	return c.Prorate(previousAnchor, end, types.DaysBetween(previousAnchor, next))
}

// ProrateAmount reprices the [newStart, newEnd) slice of an amount billed for [start, end)
func (c *Calculator) ProrateAmount(amount decimal.Decimal, start, end, newStart, newEnd time.Time) decimal.Decimal {
	ratio := c.Prorate(newStart, newEnd, types.DaysBetween(start, end))
	return c.Round(ratio.Mul(amount))
}

// Round rounds an amount to the currency scale
func (c *Calculator) Round(amount decimal.Decimal) decimal.Decimal {
	return c.roundingMode.Round(amount, c.scale)
}
