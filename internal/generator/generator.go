// Package generator turns the billing history of an account into raw, unreconciled
// FIXED and RECURRING invoice items.
package generator

import (
	"time"

	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/idempotency"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
)

// Clock returns the current instant
type Clock func() time.Time

// Generator produces the proposed items of an invoice
type Generator struct {
	cfg    config.InvoicingConfig
	calc   *proration.Calculator
	idGen  *idempotency.Generator
	clock  Clock
	logger *logger.Logger
}

func NewGenerator(cfg config.InvoicingConfig, clock Clock, log *logger.Logger) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		cfg:    cfg,
		calc:   proration.NewCalculator(cfg),
		idGen:  idempotency.NewGenerator(),
		clock:  clock,
		logger: log,
	}
}

// GenerateParams identifies the invoice the generated items belong to
type GenerateParams struct {
	AccountID  string
	InvoiceID  string
	Events     *billing.BillingEventSet
	TargetDate time.Time
	Currency   string
}

// Generate returns the FIXED and RECURRING items of the whole billing history up to the target date.
// Items of one subscription keep the order in which its events were consumed.
func (g *Generator) Generate(params GenerateParams) ([]*invoice.InvoiceItem, error) {
	if err := g.ValidateTargetDate(params.TargetDate); err != nil {
		return nil, err
	}

	items := make([]*invoice.InvoiceItem, 0)
	subscriptionIDs, grouped := params.Events.BySubscription()
	for _, subscriptionID := range subscriptionIDs {
		if params.Events.IsSubscriptionAutoInvoiceOff(subscriptionID) {
			continue
		}

		events := grouped[subscriptionID]
		if err := validateEventOrder(events); err != nil {
			return nil, err
		}

		for i, current := range events {
			var next *billing.BillingEvent
			if i+1 < len(events) {
				next = events[i+1]
			}

			generated, err := g.processEvents(params, current, next)
			if err != nil {
				return nil, err
			}
			items = append(items, generated...)
		}
	}

	g.logger.Debugw("generated proposed invoice items",
		"account_id", params.AccountID,
		"invoice_id", params.InvoiceID,
		"target_date", types.FormatDate(params.TargetDate),
		"events", len(params.Events.Events),
		"items", len(items))

	return items, nil
}

// ValidateTargetDate rejects target dates beyond the configured horizon
func (g *Generator) ValidateTargetDate(targetDate time.Time) error {
	today := types.ToDate(g.clock(), time.UTC)
	months := types.MonthsBetween(today, targetDate)
	if months > g.cfg.MaxMonthsInFuture {
		return ierr.NewError("target date too far in the future").
			WithHintf("Target date must be within %d months from today", g.cfg.MaxMonthsInFuture).
			WithReportableDetails(map[string]any{
				"target_date":          types.FormatDate(targetDate),
				"today":                types.FormatDate(today),
				"max_months_in_future": g.cfg.MaxMonthsInFuture,
			}).
			Mark(ierr.ErrTargetDateTooFarInFuture)
	}
	return nil
}

func (g *Generator) processEvents(params GenerateParams, current, next *billing.BillingEvent) ([]*invoice.InvoiceItem, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}

	start, err := current.EffectiveLocalDate()
	if err != nil {
		return nil, err
	}

	items := make([]*invoice.InvoiceItem, 0)
	if current.FixedPrice != nil && !start.After(params.TargetDate) {
		items = append(items, g.newFixedItem(params, current, start))
	}

	if !current.BillingPeriod.IsRecurring() || start.After(params.TargetDate) {
		return items, nil
	}

	var end *time.Time
	if next != nil {
		nextStart, err := next.EffectiveLocalDate()
		if err != nil {
			return nil, err
		}
		end = &nextStart
	}

	strategy, err := strategyFor(current.BillingMode, g.calc)
	if err != nil {
		return nil, err
	}

	periods, err := strategy.Periods(start, end, params.TargetDate, current.BillCycleDayLocal, current.BillingPeriod)
	if err != nil {
		return nil, err
	}

	if current.RecurringPrice == nil {
		return items, nil
	}
	for _, p := range periods {
		items = append(items, g.newRecurringItem(params, current, p))
	}
	return items, nil
}

func (g *Generator) newFixedItem(params GenerateParams, event *billing.BillingEvent, date time.Time) *invoice.InvoiceItem {
	item := &invoice.InvoiceItem{
		InvoiceID:      params.InvoiceID,
		AccountID:      params.AccountID,
		BundleID:       event.BundleID,
		SubscriptionID: event.SubscriptionID,
		PlanName:       event.PlanName,
		PhaseName:      event.PhaseName,
		Type:           types.InvoiceItemTypeFixed,
		StartDate:      date,
		Amount:         *event.FixedPrice,
		Currency:       params.Currency,
		CreatedAt:      g.clock(),
	}
	item.ID = g.idGen.GenerateKey(idempotency.ScopeFixedItem, itemKeyParams(item))
	return item
}

func (g *Generator) newRecurringItem(params GenerateParams, event *billing.BillingEvent, p RecurringPeriod) *invoice.InvoiceItem {
	rate := *event.RecurringPrice
	item := &invoice.InvoiceItem{
		InvoiceID:      params.InvoiceID,
		AccountID:      params.AccountID,
		BundleID:       event.BundleID,
		SubscriptionID: event.SubscriptionID,
		PlanName:       event.PlanName,
		PhaseName:      event.PhaseName,
		Type:           types.InvoiceItemTypeRecurring,
		StartDate:      p.Start,
		EndDate:        lo.ToPtr(p.End),
		Amount:         g.calc.Round(p.NumberOfCycles.Mul(rate)),
		Rate:           lo.ToPtr(rate),
		Currency:       params.Currency,
		CreatedAt:      g.clock(),
	}
	item.ID = g.idGen.GenerateKey(idempotency.ScopeRecurringItem, itemKeyParams(item))
	return item
}

func itemKeyParams(item *invoice.InvoiceItem) map[string]interface{} {
	params := map[string]interface{}{
		"invoice_id":      item.InvoiceID,
		"subscription_id": item.SubscriptionID,
		"type":            item.Type,
		"plan":            item.PlanName,
		"phase":           item.PhaseName,
		"start":           types.FormatDate(item.StartDate),
		"amount":          item.Amount.String(),
	}
	if item.EndDate != nil {
		params["end"] = types.FormatDate(*item.EndDate)
	}
	if item.Rate != nil {
		params["rate"] = item.Rate.String()
	}
	return params
}

func validateEventOrder(events []*billing.BillingEvent) error {
	for i := 1; i < len(events); i++ {
		if !events[i].EffectiveDate.After(events[i-1].EffectiveDate) {
			return ierr.NewError("billing events out of order").
				WithHint("Billing events of a subscription must have strictly increasing effective dates").
				WithReportableDetails(map[string]any{
					"subscription_id": events[i].SubscriptionID,
					"previous":        events[i-1].EffectiveDate,
					"current":         events[i].EffectiveDate,
				}).
				Mark(ierr.ErrInvalidDateSequence)
		}
	}
	return nil
}

