// Package tree reconciles the billed history of a subscription with freshly
// proposed items using an interval tree keyed by [start, end) periods.
package tree

import (
	"io"
	"sort"
	"time"

	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/idempotency"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
)

// SubscriptionTree holds the items of one subscription.
//
// Existing items are added with AddItem and Build gives the currently billed view.
// Flatten(true) then reverses that view so MergeProposedItem and BuildForMerge
// leave the items to write on the new invoice: new RECURRING and FIXED items and
// the repairs of whatever the proposed items no longer bill.
type SubscriptionTree struct {
	subscriptionID  string
	targetInvoiceID string
	slicer          *slicer
	ledger          *Ledger

	root     *itemTree
	isBuilt  bool
	isMerged bool

	items                 []*Item
	existingFullyAdjusted []*Item
	existingIgnored       []*invoice.InvoiceItem
	remainingIgnored      []*invoice.InvoiceItem
	pendingItemAdj        []*invoice.InvoiceItem
}

// NewSubscriptionTree creates the tree of subscriptionID for the invoice being generated
func NewSubscriptionTree(subscriptionID, targetInvoiceID string, calc *proration.Calculator) *SubscriptionTree {
	ledger := NewLedger()
	return &SubscriptionTree{
		subscriptionID:  subscriptionID,
		targetInvoiceID: targetInvoiceID,
		ledger:          ledger,
		slicer: &slicer{
			calc:   calc,
			idGen:  idempotency.NewGenerator(),
			ledger: ledger,
		},
		root: newItemTree(),
	}
}

func (s *SubscriptionTree) SubscriptionID() string {
	return s.subscriptionID
}

// Ledger exposes the adjustments and repairs accumulated so far
func (s *SubscriptionTree) Ledger() *Ledger {
	return s.ledger
}

// AddItem adds an existing item. Zero amount RECURRING and FIXED items are never
// repaired and only remembered so identical proposed items are not billed twice.
func (s *SubscriptionTree) AddItem(ii *invoice.InvoiceItem) error {
	if s.isBuilt {
		return s.alreadyBuilt("add item", ii)
	}

	switch ii.Type {
	case types.InvoiceItemTypeRecurring:
		if ii.Amount.IsZero() {
			s.existingIgnored = append(s.existingIgnored, ii)
			return nil
		}
		s.ledger.Register(ii.ID, ii.Amount)
		s.root.addExistingItem(newItem(ii, s.targetInvoiceID, ActionAdd))
	case types.InvoiceItemTypeRepairAdjustment:
		s.ledger.Repair(ii.LinkedItemID, ii.Amount)
		s.root.addExistingItem(newItem(ii, s.targetInvoiceID, ActionCancel))
	case types.InvoiceItemTypeFixed:
		s.existingIgnored = append(s.existingIgnored, ii)
	case types.InvoiceItemTypeItemAdjustment:
		s.pendingItemAdj = append(s.pendingItemAdj, ii)
	}
	return nil
}

// Build applies pending item adjustments and computes the billed view of the existing items
func (s *SubscriptionTree) Build() error {
	if s.isBuilt {
		return s.alreadyBuilt("build", nil)
	}

	for _, adj := range s.pendingItemAdj {
		if adjusted := s.root.addAdjustment(adj.LinkedItemID, adj.Amount, s.ledger); adjusted != nil {
			s.existingFullyAdjusted = append(s.existingFullyAdjusted, adjusted)
		}
	}
	s.pendingItemAdj = nil

	items, err := s.root.buildExisting(s.slicer)
	if err != nil {
		return ierr.WithError(err).
			WithReportableDetails(map[string]any{"subscription_id": s.subscriptionID}).
			Mark(ierr.ErrInconsistentItems)
	}
	s.items = items
	s.isBuilt = true
	return nil
}

// Flatten rebuilds the tree one level deep from the billed view, building it first
// if needed. With reverse the billed items come back as CANCEL items.
func (s *SubscriptionTree) Flatten(reverse bool) error {
	if !s.isBuilt {
		if err := s.Build(); err != nil {
			return err
		}
	}

	s.root = newItemTree()
	for _, item := range s.items {
		s.root.addExistingItem(item.withAction(lo.Ternary(reverse, ActionCancel, ActionAdd)))
	}
	s.items = nil
	s.isBuilt = false
	return nil
}

// MergeProposedItem merges a proposed RECURRING or FIXED item into the flattened tree
func (s *SubscriptionTree) MergeProposedItem(ii *invoice.InvoiceItem) error {
	if s.isBuilt {
		return s.alreadyBuilt("merge proposed item", ii)
	}

	if _, ok := lo.Find(s.existingIgnored, func(existing *invoice.InvoiceItem) bool { return existing.Matches(ii) }); ok {
		return nil
	}

	switch ii.Type {
	case types.InvoiceItemTypeRecurring:
		item := newItem(ii, s.targetInvoiceID, ActionAdd)
		if !s.root.addProposedItem(item) {
			s.items = append(s.items, newItem(ii, s.targetInvoiceID, ActionAdd))
		}
	case types.InvoiceItemTypeFixed:
		s.remainingIgnored = append(s.remainingIgnored, ii)
	default:
		return ierr.NewError("unexpected proposed item").
			WithHintf("Proposed items must be RECURRING or FIXED, got %s", ii.Type).
			WithReportableDetails(map[string]any{
				"subscription_id": s.subscriptionID,
				"item_id":         ii.ID,
				"type":            ii.Type,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

// BuildForMerge computes the repairs left once every proposed item is merged
func (s *SubscriptionTree) BuildForMerge() error {
	if s.isBuilt {
		return s.alreadyBuilt("build for merge", nil)
	}
	s.items = append(s.items, s.root.buildMerged(s.slicer)...)
	s.isBuilt = true
	s.isMerged = true
	return nil
}

// View returns the items of the tree ordered by start date then kind.
// Before a merge it is the billed view of the existing items; after it, the
// items the new invoice must carry for this subscription.
func (s *SubscriptionTree) View() ([]*invoice.InvoiceItem, error) {
	result := make([]*invoice.InvoiceItem, 0, len(s.remainingIgnored)+len(s.items))
	result = append(result, s.remainingIgnored...)
	for _, item := range s.items {
		candidate := item.toInvoiceItem()
		// a proposed item identical to a fully adjusted one stays unbilled
		if s.isMerged && lo.ContainsBy(s.existingFullyAdjusted, func(adjusted *Item) bool {
			return candidate.Matches(adjusted.toInvoiceItem())
		}) {
			continue
		}
		result = append(result, candidate)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].Type.Ordinal() < result[j].Type.Ordinal()
	})

	if err := s.checkItemsListState(result); err != nil {
		return nil, err
	}
	return result, nil
}

// checkItemsListState rejects double billing and double repair in an ordered view
func (s *SubscriptionTree) checkItemsListState(ordered []*invoice.InvoiceItem) error {
	var prevRecurringEnd, prevRepairEnd *time.Time
	for i, cur := range ordered {
		if i > 0 && cur.Type != types.InvoiceItemTypeFixed &&
			cur.Type == ordered[i-1].Type && cur.StartDate.Equal(ordered[i-1].StartDate) {
			return s.inconsistentView("two items of the same kind start on the same day", cur)
		}

		switch cur.Type {
		case types.InvoiceItemTypeFixed:
		case types.InvoiceItemTypeRecurring:
			if prevRecurringEnd != nil && prevRecurringEnd.After(cur.StartDate) {
				return s.inconsistentView("overlapping recurring items", cur)
			}
			prevRecurringEnd = cur.EndDate
		case types.InvoiceItemTypeRepairAdjustment:
			if prevRepairEnd != nil && prevRepairEnd.After(cur.StartDate) {
				return s.inconsistentView("overlapping repair items", cur)
			}
			prevRepairEnd = cur.EndDate
		default:
			return s.inconsistentView("unexpected item type", cur)
		}
	}
	return nil
}

func (s *SubscriptionTree) inconsistentView(msg string, item *invoice.InvoiceItem) error {
	return ierr.NewError(msg).
		WithHint("Reconciled items of the subscription bill or repair a period twice").
		WithReportableDetails(map[string]any{
			"subscription_id": s.subscriptionID,
			"item_id":         item.ID,
			"type":            item.Type,
			"start_date":      types.FormatDate(item.StartDate),
		}).
		Mark(ierr.ErrInconsistentItems)
}

func (s *SubscriptionTree) alreadyBuilt(op string, ii *invoice.InvoiceItem) error {
	details := map[string]any{
		"subscription_id": s.subscriptionID,
		"operation":       op,
	}
	if ii != nil {
		details["item_id"] = ii.ID
	}
	return ierr.NewError("subscription tree already built").
		WithHint("Items can only be added before the tree is built").
		WithReportableDetails(details).
		Mark(ierr.ErrInvalidOperation)
}

// JSONSerializeTree writes the current tree as nested JSON for debugging
func (s *SubscriptionTree) JSONSerializeTree(w io.Writer) error {
	return s.root.writeJSON(w)
}
