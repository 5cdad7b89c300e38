package invoice

import (
	"time"

	"github.com/flexprice/invoicer/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceItem is a single line of an invoice. Charges carry positive amounts,
// repairs and credits negative ones.
type InvoiceItem struct {
	ID             string                `json:"id"`
	InvoiceID      string                `json:"invoice_id"`
	AccountID      string                `json:"account_id"`
	BundleID       string                `json:"bundle_id,omitempty"`
	SubscriptionID string                `json:"subscription_id,omitempty"`
	PlanName       string                `json:"plan_name,omitempty"`
	PhaseName      string                `json:"phase_name,omitempty"`
	Type           types.InvoiceItemType `json:"type"`
	StartDate      time.Time             `json:"start_date"`
	// EndDate is nil for point in time items
	EndDate      *time.Time       `json:"end_date,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
	Currency     string           `json:"currency"`
	LinkedItemID string           `json:"linked_item_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// HasSubscription reports whether the item belongs to a subscription
func (i *InvoiceItem) HasSubscription() bool {
	return i.SubscriptionID != ""
}

// End returns the end date or the zero time for point in time items
func (i *InvoiceItem) End() time.Time {
	if i.EndDate == nil {
		return time.Time{}
	}
	return *i.EndDate
}

// RateOrZero returns the rate, zero when unset
func (i *InvoiceItem) RateOrZero() decimal.Decimal {
	if i.Rate == nil {
		return decimal.Zero
	}
	return *i.Rate
}

// Matches compares the billing content of two items, ignoring ids and invoice ownership
func (i *InvoiceItem) Matches(o *InvoiceItem) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.Type == o.Type &&
		i.SubscriptionID == o.SubscriptionID &&
		i.PlanName == o.PlanName &&
		i.PhaseName == o.PhaseName &&
		i.StartDate.Equal(o.StartDate) &&
		sameDate(i.EndDate, o.EndDate) &&
		i.Amount.Equal(o.Amount) &&
		i.RateOrZero().Equal(o.RateOrZero()) &&
		i.Currency == o.Currency
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
