package testutil

import (
	"github.com/flexprice/invoicer/internal/repository/memory"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*memory.InvoiceStore
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InvoiceStore: memory.NewInvoiceStore(),
	}
}
