// Package reconciler merges the items of previously generated invoices with the
// items proposed for a new run, one subscription at a time.
package reconciler

import (
	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/tree"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
)

// AccountReconciler is stateless; every call builds its own trees
type AccountReconciler struct {
	calc   *proration.Calculator
	logger *logger.Logger
}

func NewAccountReconciler(cfg config.InvoicingConfig, log *logger.Logger) *AccountReconciler {
	return &AccountReconciler{
		calc:   proration.NewCalculator(cfg),
		logger: log,
	}
}

// ReconcileParams is the input of one reconciliation
type ReconcileParams struct {
	AccountID string
	// InvoiceID is the invoice that receives the resulting items, repairs included
	InvoiceID        string
	ExistingInvoices []*invoice.Invoice
	ProposedItems    []*invoice.InvoiceItem
	// ExcludedSubscriptionIDs are subscriptions flagged auto-invoice-off
	ExcludedSubscriptionIDs []string
}

// Reconcile returns the items the new invoice must carry: new charges not billed yet,
// plus repairs for what was billed and is no longer due
func (r *AccountReconciler) Reconcile(params ReconcileParams) ([]*invoice.InvoiceItem, error) {
	accountTree := tree.NewAccountTree(params.AccountID, params.InvoiceID, r.calc)

	existing := 0
	for _, inv := range params.ExistingInvoices {
		for _, ii := range inv.Items {
			if ii.HasSubscription() && lo.Contains(params.ExcludedSubscriptionIDs, ii.SubscriptionID) {
				continue
			}
			if err := accountTree.AddExistingItem(ii); err != nil {
				return nil, err
			}
			existing++
		}
	}

	if err := accountTree.MergeWithProposedItems(params.ProposedItems); err != nil {
		return nil, err
	}

	result, err := accountTree.ResultingItemList()
	if err != nil {
		return nil, err
	}

	r.logger.Debugw("reconciled account items",
		"account_id", params.AccountID,
		"invoice_id", params.InvoiceID,
		"existing_items", existing,
		"proposed_items", len(params.ProposedItems),
		"resulting_items", len(result),
		"repairs", countOfType(result, types.InvoiceItemTypeRepairAdjustment))

	return result, nil
}

func countOfType(items []*invoice.InvoiceItem, t types.InvoiceItemType) int {
	return lo.CountBy(items, func(item *invoice.InvoiceItem) bool {
		return item.Type == t
	})
}
