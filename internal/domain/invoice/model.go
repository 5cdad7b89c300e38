package invoice

import (
	"time"

	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Invoice groups the items generated for an account in one run
type Invoice struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	InvoiceDate time.Time      `json:"invoice_date"`
	TargetDate  time.Time      `json:"target_date"`
	Currency    string         `json:"currency"`
	Items       []*InvoiceItem `json:"items"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewInvoice creates an empty invoice
func NewInvoice(id, accountID string, invoiceDate, targetDate time.Time, currency string) *Invoice {
	return &Invoice{
		ID:          id,
		AccountID:   accountID,
		InvoiceDate: invoiceDate,
		TargetDate:  targetDate,
		Currency:    currency,
		Items:       make([]*InvoiceItem, 0),
		CreatedAt:   invoiceDate,
	}
}

func (inv *Invoice) AddItems(items ...*InvoiceItem) {
	inv.Items = append(inv.Items, items...)
}

// Total is the signed sum of all item amounts
func (inv *Invoice) Total() decimal.Decimal {
	return lo.Reduce(inv.Items, func(acc decimal.Decimal, item *InvoiceItem, _ int) decimal.Decimal {
		return acc.Add(item.Amount)
	}, decimal.Zero)
}

// ItemsOfType returns the items of the given kind in invoice order
func (inv *Invoice) ItemsOfType(t types.InvoiceItemType) []*InvoiceItem {
	return lo.Filter(inv.Items, func(item *InvoiceItem, _ int) bool {
		return item.Type == t
	})
}

// CreditBalance is the amount this invoice moved into the account credit balance
func (inv *Invoice) CreditBalance() decimal.Decimal {
	return lo.Reduce(inv.ItemsOfType(types.InvoiceItemTypeCreditBalanceAdjustment), func(acc decimal.Decimal, item *InvoiceItem, _ int) decimal.Decimal {
		return acc.Add(item.Amount)
	}, decimal.Zero)
}
