package memory

import (
	"context"

	"github.com/flexprice/invoicer/internal/domain/invoice"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/samber/lo"
)

// InvoiceStore implements invoice.Repository
type InvoiceStore struct {
	*Store[*invoice.Invoice]
}

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{
		Store: NewStore[*invoice.Invoice](),
	}
}

// copyInvoice copies the invoice and its items so callers cannot mutate stored state
func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	out.Items = lo.Map(inv.Items, func(item *invoice.InvoiceItem, _ int) *invoice.InvoiceItem {
		cp := *item
		return &cp
	})
	return &out
}

func (s *InvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").Mark(ierr.ErrValidation)
	}
	return s.Store.Create(ctx, inv.ID, copyInvoice(inv))
}

func (s *InvoiceStore) ListByAccount(ctx context.Context, accountID string) ([]*invoice.Invoice, error) {
	invoices, err := s.Store.List(ctx, accountID, invoiceAccountFilterFn, invoiceSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return copyInvoice(inv)
	}), nil
}

func invoiceAccountFilterFn(ctx context.Context, inv *invoice.Invoice, filter interface{}) bool {
	accountID, ok := filter.(string)
	return ok && inv.AccountID == accountID
}

// invoiceSortFn orders invoices oldest first, ids break ties
func invoiceSortFn(i, j *invoice.Invoice) bool {
	if !i.CreatedAt.Equal(j.CreatedAt) {
		return i.CreatedAt.Before(j.CreatedAt)
	}
	return i.ID < j.ID
}
