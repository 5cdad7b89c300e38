package testutil

import (
	"time"

	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	DefaultAccountID = "acct_test"
	DefaultCurrency  = "USD"
)

// Date is a shorthand for a calendar date
func Date(y int, m time.Month, d int) time.Time {
	return types.NewDate(y, m, d)
}

// Dec parses a decimal literal and panics on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func DecPtr(s string) *decimal.Decimal {
	return lo.ToPtr(Dec(s))
}

// FixedClock always returns now
func FixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// BillingEventParams describes a billing event; zero values get sensible defaults
type BillingEventParams struct {
	SubscriptionID string
	BundleID       string
	PlanName       string
	PhaseName      string
	Period         types.BillingPeriod
	FixedPrice     string
	RecurringPrice string
	BCD            int
	EffectiveDate  time.Time
	TimeZone       string
	BillingMode    types.BillingMode
}

// NewBillingEvent builds a monthly in advance event unless told otherwise
func NewBillingEvent(p BillingEventParams) *billing.BillingEvent {
	e := &billing.BillingEvent{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_EVENT),
		SubscriptionID:    lo.Ternary(p.SubscriptionID == "", "subs_1", p.SubscriptionID),
		BundleID:          lo.Ternary(p.BundleID == "", "bndl_1", p.BundleID),
		PlanName:          lo.Ternary(p.PlanName == "", "gold-monthly", p.PlanName),
		PhaseName:         lo.Ternary(p.PhaseName == "", "gold-monthly-evergreen", p.PhaseName),
		BillingPeriod:     lo.Ternary(p.Period == "", types.BillingPeriodMonthly, p.Period),
		BillCycleDayLocal: lo.Ternary(p.BCD == 0, 1, p.BCD),
		EffectiveDate:     p.EffectiveDate,
		TimeZone:          p.TimeZone,
		BillingMode:       lo.Ternary(p.BillingMode == "", types.BillingModeInAdvance, p.BillingMode),
	}
	if p.FixedPrice != "" {
		e.FixedPrice = DecPtr(p.FixedPrice)
	}
	if p.RecurringPrice != "" {
		e.RecurringPrice = DecPtr(p.RecurringPrice)
	}
	return e
}

// NewEventSet wraps events into the billing history of the default account
func NewEventSet(events ...*billing.BillingEvent) *billing.BillingEventSet {
	return &billing.BillingEventSet{
		AccountID: DefaultAccountID,
		Events:    events,
	}
}

// ItemParams describes an invoice item; zero values get sensible defaults
type ItemParams struct {
	ID             string
	InvoiceID      string
	SubscriptionID string
	PlanName       string
	PhaseName      string
	Start          time.Time
	End            time.Time
	Amount         string
	Rate           string
	LinkedItemID   string
}

func newItem(t types.InvoiceItemType, p ItemParams) *invoice.InvoiceItem {
	item := &invoice.InvoiceItem{
		ID:             lo.Ternary(p.ID == "", types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM), p.ID),
		InvoiceID:      lo.Ternary(p.InvoiceID == "", "inv_existing", p.InvoiceID),
		AccountID:      DefaultAccountID,
		BundleID:       "bndl_1",
		SubscriptionID: p.SubscriptionID,
		PlanName:       p.PlanName,
		PhaseName:      p.PhaseName,
		Type:           t,
		StartDate:      p.Start,
		Amount:         Dec(p.Amount),
		Currency:       DefaultCurrency,
		LinkedItemID:   p.LinkedItemID,
	}
	if !p.End.IsZero() {
		item.EndDate = lo.ToPtr(p.End)
	}
	if p.Rate != "" {
		item.Rate = DecPtr(p.Rate)
	}
	return item
}

func defaults(p ItemParams) ItemParams {
	p.SubscriptionID = lo.Ternary(p.SubscriptionID == "", "subs_1", p.SubscriptionID)
	p.PlanName = lo.Ternary(p.PlanName == "", "gold-monthly", p.PlanName)
	p.PhaseName = lo.Ternary(p.PhaseName == "", "gold-monthly-evergreen", p.PhaseName)
	return p
}

// NewRecurringItem builds a RECURRING item; the rate defaults to the amount
func NewRecurringItem(p ItemParams) *invoice.InvoiceItem {
	p = defaults(p)
	p.Rate = lo.Ternary(p.Rate == "", p.Amount, p.Rate)
	return newItem(types.InvoiceItemTypeRecurring, p)
}

func NewFixedItem(p ItemParams) *invoice.InvoiceItem {
	p = defaults(p)
	p.End = time.Time{}
	return newItem(types.InvoiceItemTypeFixed, p)
}

// NewRepairItem builds a REPAIR_ADJUSTMENT; pass the amount negative
func NewRepairItem(p ItemParams) *invoice.InvoiceItem {
	p = defaults(p)
	return newItem(types.InvoiceItemTypeRepairAdjustment, p)
}

// NewItemAdjustment builds an ITEM_ADJUSTMENT; pass the amount negative
func NewItemAdjustment(p ItemParams) *invoice.InvoiceItem {
	p = defaults(p)
	return newItem(types.InvoiceItemTypeItemAdjustment, p)
}

// NewAccountItem builds an item that belongs to no subscription
func NewAccountItem(t types.InvoiceItemType, p ItemParams) *invoice.InvoiceItem {
	return newItem(t, p)
}

// NewExistingInvoice wraps items into a persisted invoice and stamps their invoice id
func NewExistingInvoice(id string, target time.Time, items ...*invoice.InvoiceItem) *invoice.Invoice {
	inv := invoice.NewInvoice(id, DefaultAccountID, target, target, DefaultCurrency)
	for _, item := range items {
		item.InvoiceID = id
	}
	inv.AddItems(items...)
	return inv
}
