package generator

import (
	"time"

	"github.com/flexprice/invoicer/internal/domain/billingcycle"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/shopspring/decimal"
)

// RecurringPeriod is one billable slice of a recurring span
type RecurringPeriod struct {
	Start          time.Time
	End            time.Time
	NumberOfCycles decimal.Decimal
}

// BillingModeStrategy splits a recurring span into billable periods up to a target date
type BillingModeStrategy interface {
	Periods(start time.Time, end *time.Time, target time.Time, bcd int, period types.BillingPeriod) ([]RecurringPeriod, error)
}

// strategyFor returns the strategy of a billing mode
func strategyFor(mode types.BillingMode, calc *proration.Calculator) (BillingModeStrategy, error) {
	switch mode {
	case types.BillingModeInAdvance:
		return &inAdvanceStrategy{calc: calc}, nil
	default:
		return nil, ierr.NewError("unsupported billing mode").
			WithHintf("Billing mode %s is not supported", mode).
			WithReportableDetails(map[string]any{
				"billing_mode": mode,
			}).
			Mark(ierr.ErrUnsupportedBillingMode)
	}
}

// inAdvanceStrategy bills each period at its start: a prorated leading slice up to the
// first cycle date, whole periods up to the last cycle date and a prorated trailing slice
// up to the effective end date.
type inAdvanceStrategy struct {
	calc *proration.Calculator
}

func (s *inAdvanceStrategy) Periods(start time.Time, end *time.Time, target time.Time, bcd int, period types.BillingPeriod) ([]RecurringPeriod, error) {
	if end != nil && end.Before(start) {
		return nil, invalidDateSequence("end date before start date", start, end, target)
	}
	if target.Before(start) {
		return nil, invalidDateSequence("target date before start date", start, end, target)
	}
	if end != nil && end.Equal(start) {
		return nil, nil
	}

	cycle := billingcycle.Compute(start, end, target, bcd, period)

	// the whole span ends before the first cycle date
	if end != nil && !end.After(cycle.FirstCycleDate) {
		previous := types.AddClampedDate(cycle.FirstCycleDate, 0, -period.NumberOfMonths(), 0)
		ratio := s.calc.Prorate(start, *end, types.DaysBetween(previous, cycle.FirstCycleDate))
		return []RecurringPeriod{{Start: start, End: *end, NumberOfCycles: ratio}}, nil
	}

	periods := make([]RecurringPeriod, 0)
	if cycle.FirstCycleDate.After(start) {
		periods = append(periods, RecurringPeriod{
			Start:          start,
			End:            cycle.FirstCycleDate,
			NumberOfCycles: s.calc.ProrateBeforeFirstPeriod(start, cycle.FirstCycleDate, period),
		})
	}

	n := 0
	for cycle.Boundary(n).Before(cycle.LastCycleDate) {
		periods = append(periods, RecurringPeriod{
			Start:          cycle.Boundary(n),
			End:            cycle.Boundary(n + 1),
			NumberOfCycles: decimal.NewFromInt(1),
		})
		n++
	}

	if cycle.EffectiveEndDate.After(cycle.LastCycleDate) {
		cycles := decimal.NewFromInt(1)
		if !cycle.Boundary(n + 1).Equal(cycle.EffectiveEndDate) {
			cycles = s.calc.ProrateAfterLastPeriod(cycle.EffectiveEndDate, cycle.LastCycleDate, period)
		}
		periods = append(periods, RecurringPeriod{
			Start:          cycle.LastCycleDate,
			End:            cycle.EffectiveEndDate,
			NumberOfCycles: cycles,
		})
	}

	return periods, nil
}

func invalidDateSequence(msg string, start time.Time, end *time.Time, target time.Time) error {
	details := map[string]any{
		"start_date":  types.FormatDate(start),
		"target_date": types.FormatDate(target),
	}
	if end != nil {
		details["end_date"] = types.FormatDate(*end)
	}
	return ierr.NewError(msg).
		WithHint("Billing dates are out of order").
		WithReportableDetails(details).
		Mark(ierr.ErrInvalidDateSequence)
}
