package tree

import (
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/types"
)

// AccountTree dispatches the items of an account to one SubscriptionTree per subscription.
// Subscriptions keep the order in which they were first seen.
type AccountTree struct {
	accountID       string
	targetInvoiceID string
	calc            *proration.Calculator

	subscriptionIDs []string
	trees           map[string]*SubscriptionTree
	// subscription of every existing billed item, to route item adjustments
	itemSubscriptions map[string]string
	pendingItemAdj    []*invoice.InvoiceItem
	accountItems      []*invoice.InvoiceItem

	merged   bool
	consumed bool
	result   []*invoice.InvoiceItem
}

func NewAccountTree(accountID, targetInvoiceID string, calc *proration.Calculator) *AccountTree {
	return &AccountTree{
		accountID:         accountID,
		targetInvoiceID:   targetInvoiceID,
		calc:              calc,
		subscriptionIDs:   make([]string, 0),
		trees:             make(map[string]*SubscriptionTree),
		itemSubscriptions: make(map[string]string),
	}
}

func (a *AccountTree) tree(subscriptionID string) *SubscriptionTree {
	t, ok := a.trees[subscriptionID]
	if !ok {
		t = NewSubscriptionTree(subscriptionID, a.targetInvoiceID, a.calc)
		a.trees[subscriptionID] = t
		a.subscriptionIDs = append(a.subscriptionIDs, subscriptionID)
	}
	return t
}

// AddExistingItem adds an item of a previously generated invoice. Items without
// subscription are kept aside; they are never reconciled.
func (a *AccountTree) AddExistingItem(ii *invoice.InvoiceItem) error {
	if a.merged {
		return a.alreadyMerged("add existing item")
	}

	if ii.Type == types.InvoiceItemTypeItemAdjustment {
		a.pendingItemAdj = append(a.pendingItemAdj, ii)
		return nil
	}
	if !ii.HasSubscription() {
		a.accountItems = append(a.accountItems, ii)
		return nil
	}

	a.itemSubscriptions[ii.ID] = ii.SubscriptionID
	return a.tree(ii.SubscriptionID).AddItem(ii)
}

// MergeWithProposedItems builds every existing subscription view, then merges
// the proposed items into it. Proposed items without subscription pass through.
func (a *AccountTree) MergeWithProposedItems(proposed []*invoice.InvoiceItem) error {
	if a.merged {
		return a.alreadyMerged("merge proposed items")
	}
	a.merged = true

	// adjustments of items that are not reconciled, fixed ones included, do not affect the trees
	for _, adj := range a.pendingItemAdj {
		if subscriptionID, ok := a.itemSubscriptions[adj.LinkedItemID]; ok {
			if err := a.trees[subscriptionID].AddItem(adj); err != nil {
				return err
			}
		}
	}
	a.pendingItemAdj = nil

	for _, subscriptionID := range a.subscriptionIDs {
		if err := a.trees[subscriptionID].Flatten(true); err != nil {
			return err
		}
	}

	passThrough := make([]*invoice.InvoiceItem, 0)
	for _, ii := range proposed {
		if !ii.HasSubscription() {
			passThrough = append(passThrough, ii)
			continue
		}
		t, existed := a.trees[ii.SubscriptionID]
		if !existed {
			t = a.tree(ii.SubscriptionID)
			if err := t.Flatten(true); err != nil {
				return err
			}
		}
		if err := t.MergeProposedItem(ii); err != nil {
			return err
		}
	}

	result := make([]*invoice.InvoiceItem, 0)
	for _, subscriptionID := range a.subscriptionIDs {
		t := a.trees[subscriptionID]
		if err := t.BuildForMerge(); err != nil {
			return err
		}
		view, err := t.View()
		if err != nil {
			return err
		}
		result = append(result, view...)
	}
	a.result = append(result, passThrough...)
	return nil
}

// ResultingItemList returns the reconciled items; it may be called once, after the merge
func (a *AccountTree) ResultingItemList() ([]*invoice.InvoiceItem, error) {
	if !a.merged || a.consumed {
		return nil, ierr.NewError("resulting items unavailable").
			WithHint("Resulting items are available once, after merging the proposed items").
			WithReportableDetails(map[string]any{
				"account_id": a.accountID,
				"merged":     a.merged,
				"consumed":   a.consumed,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	a.consumed = true
	return a.result, nil
}

// AccountItems returns the existing items that belong to no subscription
func (a *AccountTree) AccountItems() []*invoice.InvoiceItem {
	return a.accountItems
}

func (a *AccountTree) alreadyMerged(op string) error {
	return ierr.NewError("account tree already merged").
		WithHint("Existing items must be added before merging proposed items").
		WithReportableDetails(map[string]any{
			"account_id": a.accountID,
			"operation":  op,
		}).
		Mark(ierr.ErrInvalidOperation)
}
