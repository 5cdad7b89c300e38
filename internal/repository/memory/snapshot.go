package memory

import (
	"context"
	"os"

	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	ierr "github.com/flexprice/invoicer/internal/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the JSON document the stores can be seeded from
type Snapshot struct {
	Accounts []*billing.BillingEventSet `json:"accounts"`
	Invoices []*invoice.Invoice         `json:"invoices"`
}

// LoadSnapshot reads a snapshot file
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Cannot read snapshot %s", path).
			Mark(ierr.ErrNotFound)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Snapshot %s is not valid JSON", path).
			Mark(ierr.ErrValidation)
	}
	return &snapshot, nil
}

// Seed loads the snapshot into the stores. Invoices already present are rejected.
func (s *Snapshot) Seed(ctx context.Context, events *BillingEventStore, invoices *InvoiceStore) error {
	for _, set := range s.Accounts {
		if set.AccountID == "" {
			return ierr.NewError("snapshot account without account_id").Mark(ierr.ErrValidation)
		}
		events.Put(set)
	}
	for _, inv := range s.Invoices {
		if err := invoices.Create(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}
